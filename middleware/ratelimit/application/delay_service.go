package application

import (
	"context"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// DelayService segura a resposta pelo atraso de slow down, sem saber nada sobre HTTP.
//
// O número de esperas simultâneas é limitado pelo Pool; sem vaga, a
// requisição segue sem esperar (o atraso é consultivo).
type DelayService struct {
	Pool domain.SlotPool
}

// Hold espera d, ou até o ctx encerrar. Retorna true se esperou o tempo todo.
// Com d <= 0 retorna true imediatamente.
func (s DelayService) Hold(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	if s.Pool != nil {
		release, ok := s.Pool.TryAcquire()
		if !ok {
			return false
		}
		defer release()
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
