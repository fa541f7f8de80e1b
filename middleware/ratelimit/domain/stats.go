package domain

import (
	"context"
	"time"
)

// StatsEvent representa uma decisão do controle de admissão.
//
// Observação: cuidado com cardinalidade (ex.: salvar Key sem controle pode
// explodir o número de séries/chaves em uma base como Redis/Prometheus).
type StatsEvent struct {
	Policy string
	Key    Key
	Reason Reason
	Admit  bool
	// Delay é o atraso de slow down sugerido (0 quando não houve).
	Delay time.Duration
	Limit int

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas de decisão.
//
// Implementações podem armazenar em Redis, Prometheus, memória, etc.
// O chamador trata erro como best-effort (não derruba a request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
