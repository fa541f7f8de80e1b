package domain

import "context"

// SlotPool representa um recurso com capacidade finita.
//
// Usado para limitar quantas requisições podem ficar segurando um atraso de
// slow down ao mesmo tempo.
//
// Acquire bloqueia até conseguir uma vaga ou até o ctx encerrar.
// TryAcquire não bloqueia.
// Ao adquirir, retorna uma função de release que deve ser chamada exatamente uma vez.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
	TryAcquire() (release func(), ok bool)
}
