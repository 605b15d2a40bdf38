// Package infra implementa o domain.Tracker do anti-loop.
//
//   - MemoryTracker: dois cache.Store (mensagens e conteúdo) com janitor.
//     Estado por processo; reiniciar limpa tudo.
//   - RedisTracker: hash por mensagem e índice de conteúdo com SET NX PX,
//     compartilhado entre instâncias.
package infra
