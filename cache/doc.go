// Package cache fornece o store TTL genérico usado pelo rate limiter e pelo
// rastreador anti-loop.
//
// Regras:
//
//   - Set grava com expiração absoluta (agora + ttl)
//   - Get/Has checam a expiração e removem a entrada vencida (sem renovar)
//   - no limite de tamanho, a entrada com expiração mais próxima sai primeiro
//   - Sweep/StartJanitor removem vencidas em segundo plano
//
// O relógio é injetável (WithClock) para simular tempo nos testes.
package cache
