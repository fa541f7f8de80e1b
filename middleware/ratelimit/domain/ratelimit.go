package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"time"
)

type Key string

// StorageKey é a chave efetiva no CounterStore: "policy:key".
// O mesmo cliente tem contadores independentes em cada política.
func StorageKey(policy string, key Key) string {
	return policy + ":" + string(key)
}

// CounterEntry é o estado de uma janela fixa para um par (política, chave).
type CounterEntry struct {
	Key         string
	WindowStart time.Time
	Count       int64
}

// Expired indica se a janela já terminou em `now`.
func (e CounterEntry) Expired(now time.Time, window time.Duration) bool {
	return now.Sub(e.WindowStart) >= window
}

// CounterStore guarda contadores de janela fixa por chave.
//
// IncrementAndGet deve ser atômico para chamadas concorrentes na mesma chave:
// abre uma nova janela (count=1) quando now-windowStart >= window.
// Get retorna (entry, false, nil) quando a chave não existe ou expirou.
// Release devolve uma unidade reservada por IncrementAndGet, apenas se a
// janela que começou em windowStart ainda for a atual (senão é no-op).
//
// Falhas de infraestrutura devem ser retornadas como ErrStoreUnavailable,
// nunca como contagem zero.
type CounterStore interface {
	IncrementAndGet(ctx context.Context, storageKey string, window time.Duration) (CounterEntry, error)
	Get(ctx context.Context, storageKey string, window time.Duration) (CounterEntry, bool, error)
	Release(ctx context.Context, storageKey string, windowStart time.Time) error
	Delete(ctx context.Context, storageKey string) error
}

// Verdict é o resultado do WindowLimiter para uma avaliação.
type Verdict struct {
	Allowed     bool
	Count       int64
	Remaining   int
	WindowStart time.Time
	ResetAt     time.Time
	// Degraded indica que o store estava indisponível e a decisão foi fail-open.
	Degraded bool
}

type Reason string

const (
	ReasonAllowed       Reason = "allowed"
	ReasonSlowed        Reason = "slowed"
	ReasonRateLimited   Reason = "rate_limited"
	ReasonBanned        Reason = "banned"
	ReasonDegraded      Reason = "store_unavailable"
	ReasonUnknownPolicy Reason = "unknown_policy"
)

// Decision é a resposta única do controle de admissão para a camada HTTP.
type Decision struct {
	Admit  bool
	Reason Reason
	Policy string

	// Limit é o teto efetivo usado nesta avaliação (após o ajuste por carga).
	Limit     int
	Remaining int
	ResetAt   time.Time

	// RetryAfter: quando bloqueado, quanto esperar antes de tentar de novo.
	// Quando admitido, é o atraso sugerido pelo slow down (0 = sem atraso).
	RetryAfter time.Duration

	// Reserved indica que a requisição ocupa uma unidade da janela iniciada
	// em WindowStart até o resultado ser informado (políticas countOnlyOn).
	Reserved    bool
	WindowStart time.Time
}

// Outcome é o resultado da requisição já processada, usado por políticas
// que contam apenas sucesso ou apenas falha.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
)
