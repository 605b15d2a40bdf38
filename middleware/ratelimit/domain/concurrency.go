package domain

import (
	"context"
	"errors"
)

// ErrNoSlot indica que o pool ficou cheio durante todo o tempo de espera.
var ErrNoSlot = errors.New("no concurrency slot available")

// SlotPool representa um recurso com capacidade finita (ex: webhooks sendo
// encaminhados ao mesmo tempo).
//
// A semântica é: Acquire bloqueia até conseguir uma vaga ou até o ctx encerrar.
// Ao adquirir, retorna uma função de release que deve ser chamada exatamente uma vez.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
	InUse() int
	Cap() int
}
