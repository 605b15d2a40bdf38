package gateway

import (
	"net/http"
	"runtime/debug"
	"time"

	"webhook-gateway/apierr"
	"webhook-gateway/metrics"
	"webhook-gateway/middleware/requestid"

	"go.uber.org/zap"
)

// recoverer transforma panic em 500 sem derrubar o processo.
func recoverer(log *zap.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					m.PanicsRecovered.Inc()
					requestid.Logger(r.Context(), log).Error("panic recovered in HTTP handler",
						zap.Any("error", rec),
						zap.String("path", r.URL.Path),
						zap.String("method", r.Method),
						zap.String("stack", string(debug.Stack())))
					apierr.Write(w, apierr.New(apierr.KindInternal, "internal error"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func accessLog(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Int("bytes", rec.bytes),
				zap.Duration("latency", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			}
			l := requestid.Logger(r.Context(), log)
			switch {
			case rec.status >= http.StatusInternalServerError:
				l.Error("http request", fields...)
			case rec.status >= http.StatusBadRequest:
				l.Warn("http request", fields...)
			default:
				l.Info("http request", fields...)
			}
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }
