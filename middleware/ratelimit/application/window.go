package application

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"admission-gateway/middleware/ratelimit/domain"
)

// WindowLimiter conta requisições em janela fixa por (política, chave).
//
// Janela fixa aceita rajadas de até 2x na virada da janela em troca de
// estado O(1) por chave.
//
// Se o store falhar, a avaliação é fail-open: admite e registra um warning
// (no máximo um a cada WarnEvery).
type WindowLimiter struct {
	store domain.CounterStore
	now   func() time.Time
	log   *zap.Logger
	warn  *rate.Sometimes
}

func NewWindowLimiter(store domain.CounterStore, log *zap.Logger, now func() time.Time) *WindowLimiter {
	if log == nil {
		log = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &WindowLimiter{
		store: store,
		now:   now,
		log:   log.Named("window"),
		warn:  &rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

// Evaluate incrementa o contador e decide contra effectiveMax.
func (l *WindowLimiter) Evaluate(ctx context.Context, cfg domain.PolicyConfig, key domain.Key, effectiveMax int) domain.Verdict {
	if l.store == nil {
		return l.failOpen(cfg, effectiveMax, nil)
	}

	ent, err := l.store.IncrementAndGet(ctx, domain.StorageKey(cfg.Name, key), cfg.WindowDuration)
	if err != nil {
		return l.failOpen(cfg, effectiveMax, err)
	}
	return verdictFor(ent.Count, ent.WindowStart, cfg, effectiveMax)
}

// Release devolve a unidade reservada por Evaluate na janela windowStart.
// Usado por políticas que contam apenas sucesso ou falha.
func (l *WindowLimiter) Release(ctx context.Context, cfg domain.PolicyConfig, key domain.Key, windowStart time.Time) {
	if l.store == nil {
		return
	}
	if err := l.store.Release(ctx, domain.StorageKey(cfg.Name, key), windowStart); err != nil {
		l.warnStore(cfg, err)
	}
}

func verdictFor(count int64, windowStart time.Time, cfg domain.PolicyConfig, effectiveMax int) domain.Verdict {
	remaining := int64(effectiveMax) - count
	if remaining < 0 {
		remaining = 0
	}
	return domain.Verdict{
		Allowed:     count <= int64(effectiveMax),
		Count:       count,
		Remaining:   int(remaining),
		WindowStart: windowStart,
		ResetAt:     windowStart.Add(cfg.WindowDuration),
	}
}

func (l *WindowLimiter) failOpen(cfg domain.PolicyConfig, effectiveMax int, err error) domain.Verdict {
	if err != nil {
		l.warnStore(cfg, err)
	}
	return domain.Verdict{
		Allowed:   true,
		Remaining: effectiveMax,
		ResetAt:   l.now().Add(cfg.WindowDuration),
		Degraded:  true,
	}
}

func (l *WindowLimiter) warnStore(cfg domain.PolicyConfig, err error) {
	l.warn.Do(func() {
		if domain.IsStoreUnavailable(err) {
			l.log.Warn("counter store unavailable, failing open",
				zap.String("policy", cfg.Name), zap.Error(err))
			return
		}
		l.log.Error("unexpected counter store error, failing open",
			zap.String("policy", cfg.Name), zap.Error(err))
	})
}
