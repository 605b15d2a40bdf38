package gateway

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"webhook-gateway/antiloop/application"
	"webhook-gateway/antiloop/domain"
	"webhook-gateway/apierr"
	"webhook-gateway/config"
	"webhook-gateway/forwarder"
	"webhook-gateway/metrics"
	"webhook-gateway/middleware/requestid"
	"webhook-gateway/webhook"

	"go.uber.org/zap"
)

// Enqueuer é a fila do modo async; *forwarder.Queue implementa.
type Enqueuer interface {
	Enqueue(job forwarder.Job) error
}

type HandlerOptions struct {
	Filter  *webhook.Filter
	Engine  *application.Engine
	Sender  forwarder.Sender
	Policy  string
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Version string
	Now     func() time.Time

	// Queue não nula liga o modo async.
	Queue Enqueuer
}

// Handler atende o path do webhook: GET é liveness, POST é o evento.
type Handler struct {
	opts HandlerOptions
}

func NewHandler(opts HandlerOptions) *Handler {
	if opts.Filter == nil {
		opts.Filter = webhook.NewFilter()
	}
	if opts.Policy == "" {
		opts.Policy = config.PolicyEveryAdmitted
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{opts: opts}
}

type livenessBody struct {
	Status    string    `json:"status"`
	Webhook   string    `json:"webhook"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

type processedData struct {
	From     string `json:"from"`
	Name     string `json:"name"`
	Message  string `json:"message"`
	Instance string `json:"instance"`
}

type responseBody struct {
	Success         bool           `json:"success"`
	Message         string         `json:"message"`
	Reason          string         `json:"reason,omitempty"`
	MessageID       string         `json:"messageId,omitempty"`
	ProcessingCount int            `json:"processingCount,omitempty"`
	DuplicateOf     string         `json:"duplicateOf,omitempty"`
	Forwarded       bool           `json:"forwarded"`
	Attempts        int            `json:"attempts,omitempty"`
	Duration        string         `json:"duration,omitempty"`
	ProcessedData   *processedData `json:"processedData,omitempty"`
}

// previewLen limita o texto ecoado em processedData.
const previewLen = 100

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		apierr.WriteJSON(w, http.StatusOK, livenessBody{
			Status:    "ok",
			Webhook:   "webhook-principal",
			Timestamp: h.opts.Now().UTC(),
			Version:   h.opts.Version,
		})
	case http.MethodPost:
		h.receive(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, OPTIONS")
		apierr.WriteJSON(w, http.StatusMethodNotAllowed, apierr.Body{Success: false, Error: "method not allowed"})
	}
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	start := h.opts.Now()
	ctx := r.Context()
	log := requestid.Logger(ctx, h.opts.Logger)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		apierr.Write(w, apierr.Wrap(apierr.KindValidation, "unreadable body", err))
		return
	}

	ev, err := webhook.ParseEvent(body)
	if err != nil {
		log.Info("malformed webhook event", zap.Error(err))
		apierr.Write(w, err)
		return
	}

	res := h.opts.Filter.Apply(ev, start)
	if res.Ignored {
		if h.opts.Metrics != nil {
			h.opts.Metrics.Ignored.WithLabelValues(string(res.Reason)).Inc()
		}
		log.Debug("webhook event ignored",
			zap.String("event", ev.Event),
			zap.String("instance", ev.Instance),
			zap.String("reason", string(res.Reason)))
		apierr.WriteJSON(w, http.StatusOK, responseBody{
			Success: true,
			Message: "ignored",
			Reason:  string(res.Reason),
		})
		return
	}

	msg := res.Message
	log = log.With(zap.String("message_id", msg.MessageID), zap.String("instance", msg.InstanceName))
	w.Header().Set("X-Message-ID", msg.MessageID)
	w.Header().Set("X-Anti-Loop-Enabled", strconv.FormatBool(h.opts.Engine.Enabled()))

	check, err := h.opts.Engine.CheckAndRecord(ctx, domain.Sighting{
		MessageID:    msg.MessageID,
		InstanceName: msg.InstanceName,
		RemoteJid:    msg.RemoteJid,
		ContentHash:  msg.ContentHash(),
	})
	if err != nil {
		log.Warn("anti-loop tracker failed, allowing message", zap.Error(err))
	}
	w.Header().Set("X-Processing-Count", strconv.Itoa(check.ProcessingCount))

	out := responseBody{
		Success:         true,
		MessageID:       msg.MessageID,
		ProcessingCount: check.ProcessingCount,
	}

	if !check.CanProcess {
		h.decision(check.Reason)
		out.Reason = check.Reason
		if check.IsLoopDetected {
			log.Warn("message loop detected",
				zap.Int("processing_count", check.ProcessingCount),
				zap.Int("threshold", h.opts.Engine.Config().LoopThreshold),
				zap.Duration("since_last", check.TimeSinceLastProcessed))
			out.Message = "loop detected"
			apierr.WriteJSON(w, apierr.KindLoopDetected.Status(), out)
			return
		}
		log.Info("duplicate content under a new message id",
			zap.String("duplicate_of", check.DuplicateOf),
			zap.String("remote_jid", msg.RemoteJid))
		out.Message = "duplicate content"
		out.DuplicateOf = check.DuplicateOf
		apierr.WriteJSON(w, http.StatusOK, out)
		return
	}
	h.decision("admitted")

	if check.ProcessingCount > 1 {
		log.Info("repeated delivery under threshold",
			zap.Int("processing_count", check.ProcessingCount),
			zap.Duration("since_last", check.TimeSinceLastProcessed))
	}

	if h.opts.Policy == config.PolicyFirstOnly && check.ProcessingCount > 1 {
		h.outcome("skipped")
		out.Message = "already forwarded"
		apierr.WriteJSON(w, http.StatusOK, out)
		return
	}

	if h.opts.Queue != nil {
		h.enqueue(w, r, log, msg, out)
		return
	}

	fres, err := h.opts.Sender.Forward(ctx, msg, check.ProcessingCount)
	if err != nil {
		h.outcome("failed")
		log.Error("forward to engine failed", zap.Error(err))
		apierr.Write(w, err)
		return
	}
	h.outcome("success")
	if h.opts.Metrics != nil {
		h.opts.Metrics.ForwardDuration.Observe(fres.Duration.Seconds())
	}

	elapsed := h.opts.Now().Sub(start)
	log.Info("message forwarded",
		zap.Int("processing_count", check.ProcessingCount),
		zap.Int("attempts", fres.Attempts),
		zap.Int("status", fres.StatusCode),
		zap.Duration("duration", elapsed))

	out.Message = "processed and forwarded"
	out.Forwarded = true
	out.Attempts = fres.Attempts
	out.Duration = elapsed.String()
	out.ProcessedData = &processedData{
		From:     msg.SenderPhone,
		Name:     msg.SenderName,
		Message:  preview(msg.Text),
		Instance: msg.InstanceName,
	}
	apierr.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, log *zap.Logger, msg webhook.Message, out responseBody) {
	err := h.opts.Queue.Enqueue(forwarder.Job{
		Message:         msg,
		ProcessingCount: out.ProcessingCount,
		RequestID:       requestid.FromContext(r.Context()),
	})
	switch {
	case errors.Is(err, forwarder.ErrQueueFull), errors.Is(err, forwarder.ErrQueueClosed):
		h.outcome("queue_full")
		log.Warn("forward queue rejected message", zap.Error(err))
		apierr.Write(w, apierr.Wrap(apierr.KindUnavailable, "server busy", err))
		return
	case err != nil:
		log.Error("enqueue failed", zap.Error(err))
		apierr.Write(w, err)
		return
	}

	h.outcome("queued")
	out.Message = "queued for forwarding"
	apierr.WriteJSON(w, http.StatusAccepted, out)
}

func (h *Handler) decision(d string) {
	if h.opts.Metrics != nil {
		h.opts.Metrics.AntiLoopDecision.WithLabelValues(d).Inc()
	}
}

func (h *Handler) outcome(o string) {
	if h.opts.Metrics != nil {
		h.opts.Metrics.ForwardOutcome.WithLabelValues(o).Inc()
	}
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= previewLen {
		return s
	}
	return string(r[:previewLen])
}
