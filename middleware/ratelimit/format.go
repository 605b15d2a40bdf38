// utilitário pequeno para formatação consistente de valores numéricos em headers.

package ratelimit

import (
	"strconv"
	"time"
)

func formatInt(v int) string { return strconv.Itoa(v) }

// formatUnix devolve o instante em segundos Unix (convenção de X-RateLimit-Reset).
func formatUnix(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.Unix(), 10)
}

// formatRetryAfter arredonda para cima: Retry-After=0 faria o cliente voltar
// antes da janela abrir.
func formatRetryAfter(d time.Duration) string {
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}
