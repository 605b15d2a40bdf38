package signature

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"webhook-gateway/apierr"
	"webhook-gateway/middleware/requestid"

	"go.uber.org/zap"
)

// DefaultMaxBodyBytes limita o corpo bufferizado para assinar.
const DefaultMaxBodyBytes int64 = 1 << 20

type Options struct {
	MaxBodyBytes int64
	Logger       *zap.Logger
}

// Middleware verifica POSTs com o Validator. O corpo é lido (até MaxBodyBytes)
// e recolocado em r.Body para o próximo handler.
//
// Validator sem segredo só aplica o limite de tamanho.
func Middleware(v *Validator, opts Options) func(next http.Handler) http.Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			log := requestid.Logger(r.Context(), opts.Logger)

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, opts.MaxBodyBytes))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					log.Warn("webhook body too large", zap.Int64("limit", tooLarge.Limit))
					apierr.Write(w, apierr.Wrap(apierr.KindTooLarge, "payload too large", err))
					return
				}
				log.Warn("webhook body read failed", zap.Error(err))
				apierr.Write(w, apierr.Wrap(apierr.KindValidation, "invalid request body", err))
				return
			}
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			if v != nil && v.Enabled() {
				err := v.Verify(body, r.Header.Get(HeaderSignature), r.Header.Get(HeaderTimestamp))
				if err != nil {
					log.Warn("webhook signature rejected",
						zap.String("reason", err.Error()),
						zap.String("remote_addr", r.RemoteAddr))
					apierr.Write(w, apierr.Wrap(apierr.KindAuthentication, "invalid signature", err))
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}
