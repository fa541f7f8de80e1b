package application

import (
	"context"
	"sync"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeStore é um CounterStore em mapa; err != nil simula indisponibilidade.
type fakeStore struct {
	mu       sync.Mutex
	now      func() time.Time
	entries  map[string]domain.CounterEntry
	err      error
	incs     int
	releases int
}

func newFakeStore(now func() time.Time) *fakeStore {
	return &fakeStore{now: now, entries: map[string]domain.CounterEntry{}}
}

func (s *fakeStore) IncrementAndGet(_ context.Context, key string, window time.Duration) (domain.CounterEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.CounterEntry{}, s.err
	}
	s.incs++
	now := s.now()
	ent, ok := s.entries[key]
	if !ok || ent.Expired(now, window) {
		ent = domain.CounterEntry{Key: key, WindowStart: now}
	}
	ent.Count++
	s.entries[key] = ent
	return ent, nil
}

func (s *fakeStore) Get(_ context.Context, key string, window time.Duration) (domain.CounterEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.CounterEntry{}, false, s.err
	}
	ent, ok := s.entries[key]
	if !ok || ent.Expired(s.now(), window) {
		return domain.CounterEntry{}, false, nil
	}
	return ent, true, nil
}

func (s *fakeStore) Release(_ context.Context, key string, windowStart time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.releases++
	ent, ok := s.entries[key]
	if ok && ent.WindowStart.Equal(windowStart) && ent.Count > 0 {
		ent.Count--
		s.entries[key] = ent
	}
	return nil
}

func (s *fakeStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *fakeStore) count(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[key].Count
}

// fakeGuard registra chamadas e bane ao atingir o limiar.
type fakeGuard struct {
	mu      sync.Mutex
	now     func() time.Time
	records map[domain.Key]*domain.Violation
}

func newFakeGuard(now func() time.Time) *fakeGuard {
	return &fakeGuard{now: now, records: map[domain.Key]*domain.Violation{}}
}

func (g *fakeGuard) IsBanned(key domain.Key) (bool, time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.records[key]
	if !ok || !v.Banned(g.now()) {
		return false, time.Time{}
	}
	return true, v.BlockedUntil
}

func (g *fakeGuard) RecordDenial(key domain.Key, threshold int, ban time.Duration) domain.Violation {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.records[key]
	if !ok {
		v = &domain.Violation{Key: key, FirstViolationAt: g.now()}
		g.records[key] = v
	}
	v.Violations++
	if v.BlockedUntil.IsZero() && v.Violations >= threshold {
		v.BlockedUntil = g.now().Add(ban)
	}
	return *v
}

func (g *fakeGuard) violations(key domain.Key) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if v, ok := g.records[key]; ok {
		return v.Violations
	}
	return 0
}

type fixedSampler struct {
	p   float64
	err error
}

func (s fixedSampler) Pressure() (float64, error) { return s.p, s.err }

type recordingStats struct {
	mu     sync.Mutex
	events []domain.StatsEvent
}

func (r *recordingStats) Record(_ context.Context, ev domain.StatsEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

type oneSlotPool struct{ busy bool }

func (p *oneSlotPool) Acquire(context.Context) (func(), bool) { return p.TryAcquire() }

func (p *oneSlotPool) TryAcquire() (func(), bool) {
	if p.busy {
		return nil, false
	}
	p.busy = true
	return func() { p.busy = false }, true
}
