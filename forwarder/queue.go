package forwarder

import (
	"context"
	"errors"
	"sync"

	"webhook-gateway/webhook"

	"go.uber.org/zap"
)

var (
	ErrQueueFull   = errors.New("forward queue full")
	ErrQueueClosed = errors.New("forward queue closed")
)

// Sender é o que a Queue usa para entregar; *Client implementa.
type Sender interface {
	Forward(ctx context.Context, msg webhook.Message, processingCount int) (Result, error)
}

type Job struct {
	Message         webhook.Message
	ProcessingCount int
	RequestID       string
}

// Queue entrega em segundo plano com N workers e buffer limitado. Só em
// memória: mensagens no buffer se perdem se o processo morrer.
type Queue struct {
	sender  Sender
	jobs    chan Job
	workers int
	log     *zap.Logger
	done    func(Job, Result, error)

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type QueueOption func(*Queue)

func WithQueueLogger(l *zap.Logger) QueueOption {
	return func(q *Queue) { q.log = l }
}

// WithOnDone é chamado ao fim de cada job (sucesso ou falha).
func WithOnDone(fn func(Job, Result, error)) QueueOption {
	return func(q *Queue) { q.done = fn }
}

func NewQueue(sender Sender, size, workers int, opts ...QueueOption) *Queue {
	if size <= 0 {
		size = 1
	}
	if workers <= 0 {
		workers = 1
	}
	q := &Queue{
		sender:  sender,
		jobs:    make(chan Job, size),
		workers: workers,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start sobe os workers. Cancelar ctx aborta as entregas em andamento
// (inclusive o backoff).
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work(ctx, i)
	}
}

func (q *Queue) work(ctx context.Context, id int) {
	defer q.wg.Done()
	for job := range q.jobs {
		res, err := q.sender.Forward(ctx, job.Message, job.ProcessingCount)
		if err != nil {
			q.log.Warn("queued forward failed",
				zap.Int("worker", id),
				zap.String("request_id", job.RequestID),
				zap.String("message_id", job.Message.MessageID),
				zap.Error(err))
		}
		if q.done != nil {
			q.done(job, res, err)
		}
	}
}

// Enqueue não bloqueia: buffer cheio devolve ErrQueueFull.
func (q *Queue) Enqueue(job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *Queue) Len() int { return len(q.jobs) }
func (q *Queue) Cap() int { return cap(q.jobs) }

// Close para de aceitar jobs e espera os workers esvaziarem o buffer, ou ctx
// terminar.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
