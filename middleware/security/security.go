// Package security aplica CORS por allow-list e os headers de hardening em
// todas as respostas.
//
// Origem fora da lista não recebe nenhum header CORS: o navegador bloqueia a
// resposta, e essa ausência é a recusa. OPTIONS sempre termina em 204.
package security

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	DefaultAllowedMethods = []string{http.MethodPost, http.MethodGet, http.MethodOptions}
	DefaultAllowedHeaders = []string{
		"Content-Type",
		"Authorization",
		"X-Client-ID",
		"X-Webhook-Signature",
		"X-Webhook-Timestamp",
		"X-Request-ID",
	}
)

const DefaultMaxAge = 24 * time.Hour

type CORSOptions struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         time.Duration
}

// CORS responde preflight com 204 e ecoa a origem apenas quando permitida.
func CORS(opts CORSOptions) func(next http.Handler) http.Handler {
	if len(opts.AllowedMethods) == 0 {
		opts.AllowedMethods = DefaultAllowedMethods
	}
	if len(opts.AllowedHeaders) == 0 {
		opts.AllowedHeaders = DefaultAllowedHeaders
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}

	allowed := make(map[string]struct{}, len(opts.AllowedOrigins))
	wildcard := false
	for _, o := range opts.AllowedOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "" {
			continue
		}
		if o == "*" {
			wildcard = true
			continue
		}
		allowed[o] = struct{}{}
	}

	methods := strings.Join(opts.AllowedMethods, ", ")
	headers := strings.Join(opts.AllowedHeaders, ", ")
	maxAge := strconv.Itoa(int(opts.MaxAge / time.Second))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")

			if origin := r.Header.Get("Origin"); origin != "" {
				_, ok := allowed[origin]
				if ok || wildcard {
					h.Set("Access-Control-Allow-Origin", origin)
					h.Set("Access-Control-Allow-Methods", methods)
					h.Set("Access-Control-Allow-Headers", headers)
					h.Set("Access-Control-Max-Age", maxAge)
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

var hardening = map[string]string{
	"X-Content-Type-Options":  "nosniff",
	"X-Frame-Options":         "DENY",
	"Referrer-Policy":         "no-referrer",
	"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
	"X-XSS-Protection":        "0",
}

// identificação do servidor que nunca deve sair na resposta.
var leaky = []string{"Server", "X-Powered-By"}

// Headers aplica os headers de hardening e remove Server/X-Powered-By, mesmo
// que um handler (ou proxy reverso embutido) os tenha definido.
func Headers(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for k, v := range hardening {
			h.Set(k, v)
		}
		next.ServeHTTP(&stripWriter{ResponseWriter: w}, r)
	})
}

type stripWriter struct {
	http.ResponseWriter
	wrote bool
}

func (s *stripWriter) strip() {
	if s.wrote {
		return
	}
	s.wrote = true
	for _, k := range leaky {
		s.ResponseWriter.Header().Del(k)
	}
}

func (s *stripWriter) WriteHeader(code int) {
	s.strip()
	s.ResponseWriter.WriteHeader(code)
}

func (s *stripWriter) Write(b []byte) (int, error) {
	s.strip()
	return s.ResponseWriter.Write(b)
}

func (s *stripWriter) Flush() {
	s.strip()
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *stripWriter) Unwrap() http.ResponseWriter { return s.ResponseWriter }
