package forwarder

import (
	"context"
	"math"
	"time"
)

// Backoff devolve a espera antes do retry n (a partir de 0). Sem teto
// (max <= 0) o valor satura em math.MaxInt64 em vez de estourar.
func Backoff(initial, max time.Duration, n int) time.Duration {
	if initial <= 0 {
		return 0
	}
	d := initial
	for i := 0; i < n; i++ {
		if d > math.MaxInt64/2 {
			d = math.MaxInt64
			break
		}
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

// SleepFunc espera d ou até ctx terminar.
type SleepFunc func(ctx context.Context, d time.Duration) error

// sleepCtx para o timer quando o contexto termina, sem vazar a goroutine do
// runtime nem o próprio timer.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
