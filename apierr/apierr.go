// Package apierr define a taxonomia de erros do gateway e como cada tipo vira
// resposta HTTP.
package apierr

import (
	"encoding/json"
	"errors"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindAuthentication
	KindRateLimited
	KindValidation
	KindLoopDetected
	KindForwarding
	KindTooLarge
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindRateLimited:
		return "rate_limited"
	case KindValidation:
		return "validation"
	case KindLoopDetected:
		return "loop_detected"
	case KindForwarding:
		return "forwarding"
	case KindTooLarge:
		return "too_large"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Status é o código HTTP devolvido ao provedor para cada tipo.
//
// LoopDetected responde 200 para o provedor parar de reenviar.
func (k Kind) Status() int {
	switch k {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindValidation:
		return http.StatusBadRequest
	case KindLoopDetected:
		return http.StatusOK
	case KindForwarding:
		return http.StatusBadGateway
	case KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error carrega o tipo, uma mensagem pública e a causa interna.
// Message vai para o cliente; Err só aparece em logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String() + ": " + e.Message
	}
	return e.Kind.String() + ": " + e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is compara apenas o Kind, permitindo errors.Is(err, apierr.New(KindX, "")).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf devolve o Kind do primeiro *Error na cadeia, ou KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Body é o envelope JSON padrão das respostas do webhook.
type Body struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Write responde o erro em JSON. Erros sem *Error viram 500 genérico, sem
// vazar a causa.
func Write(w http.ResponseWriter, err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = New(KindInternal, "internal error")
	}
	WriteJSON(w, e.Kind.Status(), Body{Success: false, Error: e.Message})
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
