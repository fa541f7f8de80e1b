package infra

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"admission-gateway/middleware/ratelimit/domain"
)

// ViolationTracker acumula negações por chave, independente da política,
// e bloqueia temporariamente quem passa do limiar.
//
// Estados: limpo -> sinalizado (violations < threshold) -> bloqueado -> limpo
// (o registro é apagado quando o bloqueio expira).
//
// Registros que nunca chegaram ao bloqueio são descartados pelo sweep quando
// now - FirstViolationAt passa da retenção.
type ViolationTracker struct {
	mu      sync.Mutex
	entries map[domain.Key]*domain.Violation

	retention time.Duration
	now       func() time.Time
	log       *zap.Logger

	janitor *janitor
}

var _ domain.ReputationGuard = (*ViolationTracker)(nil)

type ViolationOption func(*ViolationTracker)

// WithRetention define por quanto tempo uma chave sinalizada (não bloqueada)
// é mantida.
func WithRetention(d time.Duration) ViolationOption {
	return func(t *ViolationTracker) { t.retention = d }
}

func WithViolationClock(now func() time.Time) ViolationOption {
	return func(t *ViolationTracker) { t.now = now }
}

func WithViolationLogger(log *zap.Logger) ViolationOption {
	return func(t *ViolationTracker) {
		if log != nil {
			t.log = log
		}
	}
}

// NewViolationTracker cria o tracker. sweepEvery <= 0 desliga o sweep periódico.
func NewViolationTracker(sweepEvery time.Duration, opts ...ViolationOption) *ViolationTracker {
	t := &ViolationTracker{
		entries:   make(map[domain.Key]*domain.Violation),
		retention: time.Hour,
		now:       time.Now,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.Named("violations")
	t.janitor = newJanitor(sweepEvery, func() { t.Sweep() })
	return t
}

func (t *ViolationTracker) IsBanned(key domain.Key) (bool, time.Time) {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.entries[key]
	if !ok || v.BlockedUntil.IsZero() {
		return false, time.Time{}
	}
	if !v.Banned(now) {
		// bloqueio expirou: reset completo, a contagem recomeça do zero
		delete(t.entries, key)
		return false, time.Time{}
	}
	return true, v.BlockedUntil
}

func (t *ViolationTracker) RecordDenial(key domain.Key, threshold int, banDuration time.Duration) domain.Violation {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.entries[key]
	if ok && !v.BlockedUntil.IsZero() && !v.Banned(now) {
		delete(t.entries, key)
		ok = false
	}
	if !ok {
		v = &domain.Violation{Key: key, FirstViolationAt: now}
		t.entries[key] = v
	}

	v.Violations++
	if v.BlockedUntil.IsZero() && threshold > 0 && v.Violations >= threshold {
		v.BlockedUntil = now.Add(banDuration)
		t.log.Warn("key banned",
			zap.String("key", string(key)),
			zap.Int("violations", v.Violations),
			zap.Time("blocked_until", v.BlockedUntil))
	}
	return *v
}

// Get retorna uma cópia do registro da chave, se existir.
func (t *ViolationTracker) Get(key domain.Key) (domain.Violation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.entries[key]
	if !ok {
		return domain.Violation{}, false
	}
	return *v, true
}

// Sweep remove bloqueios expirados e sinalizações mais antigas que a retenção.
// Retorna quantos registros foram removidos.
func (t *ViolationTracker) Sweep() int {
	now := t.now()
	cutoff := now.Add(-t.retention)

	t.mu.Lock()
	removed := 0
	for k, v := range t.entries {
		switch {
		case !v.BlockedUntil.IsZero():
			if !v.Banned(now) {
				delete(t.entries, k)
				removed++
			}
		case v.FirstViolationAt.Before(cutoff):
			delete(t.entries, k)
			removed++
		}
	}
	t.mu.Unlock()

	if removed > 0 {
		t.log.Debug("swept violation records", zap.Int("removed", removed))
	}
	return removed
}

func (t *ViolationTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Start inicia o sweep periódico. Pare com Close ou cancelando o contexto.
func (t *ViolationTracker) Start(ctx context.Context) { t.janitor.start(ctx) }

func (t *ViolationTracker) Close() error {
	t.janitor.stop()
	return nil
}
