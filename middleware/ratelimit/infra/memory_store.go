package infra

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"

	"admission-gateway/middleware/ratelimit/domain"
)

// MemoryStore é o CounterStore local (um processo só).
//
// Todas as mutações passam pelo mesmo mutex, inclusive a limpeza periódica.
// O número de chaves é limitado, mas só saem entradas cuja janela já acabou:
// com o store cheio de janelas ativas, chaves novas recebem ErrStoreUnavailable
// (fail-open) em vez de apagar o contador de outro cliente. Chaves inativas
// por mais de uma janela são removidas pelo janitor.
type MemoryStore struct {
	mu      sync.Mutex
	entries *lru.LRU[string, *memoryEntry]
	maxKeys int
	now     func() time.Time

	janitor *janitor
}

type memoryEntry struct {
	windowStart time.Time
	count       int64
	window      time.Duration
	lastSeen    time.Time
}

var _ domain.CounterStore = (*MemoryStore)(nil)

type MemoryStoreOption func(*memoryStoreOptions)

type memoryStoreOptions struct {
	maxKeys      int
	cleanupEvery time.Duration
	now          func() time.Time
}

func WithMaxKeys(n int) MemoryStoreOption {
	return func(o *memoryStoreOptions) { o.maxKeys = n }
}

func WithCleanupEvery(d time.Duration) MemoryStoreOption {
	return func(o *memoryStoreOptions) { o.cleanupEvery = d }
}

// WithClock troca o relógio (testes).
func WithClock(now func() time.Time) MemoryStoreOption {
	return func(o *memoryStoreOptions) { o.now = now }
}

func NewMemoryStore(opts ...MemoryStoreOption) (*MemoryStore, error) {
	o := memoryStoreOptions{
		maxKeys:      100000,
		cleanupEvery: time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxKeys <= 0 {
		return nil, domain.ErrConfiguration.New("memory store max keys must be > 0, got %d", o.maxKeys)
	}

	entries, err := lru.NewLRU[string, *memoryEntry](o.maxKeys, nil)
	if err != nil {
		return nil, domain.ErrConfiguration.Wrap(err)
	}

	s := &MemoryStore{entries: entries, maxKeys: o.maxKeys, now: o.now}
	s.janitor = newJanitor(o.cleanupEvery, s.Cleanup)
	return s, nil
}

func (s *MemoryStore) IncrementAndGet(_ context.Context, storageKey string, window time.Duration) (domain.CounterEntry, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries.Get(storageKey)
	switch {
	case !ok:
		if s.entries.Len() >= s.maxKeys && !s.makeRoom(now) {
			return domain.CounterEntry{}, domain.ErrStoreUnavailable.New("memory store full: %d keys with active windows", s.maxKeys)
		}
		ent = &memoryEntry{windowStart: now}
		s.entries.Add(storageKey, ent)
	case now.Sub(ent.windowStart) >= window:
		ent.windowStart = now
		ent.count = 0
	}
	ent.count++
	ent.window = window
	ent.lastSeen = now

	return domain.CounterEntry{Key: storageKey, WindowStart: ent.windowStart, Count: ent.count}, nil
}

func (s *MemoryStore) Get(_ context.Context, storageKey string, window time.Duration) (domain.CounterEntry, bool, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries.Peek(storageKey)
	if !ok || now.Sub(ent.windowStart) >= window {
		return domain.CounterEntry{}, false, nil
	}
	return domain.CounterEntry{Key: storageKey, WindowStart: ent.windowStart, Count: ent.count}, true, nil
}

func (s *MemoryStore) Release(_ context.Context, storageKey string, windowStart time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries.Peek(storageKey)
	if ok && ent.windowStart.Equal(windowStart) && ent.count > 0 {
		ent.count--
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, storageKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries.Remove(storageKey)
	return nil
}

// Len retorna o número de chaves rastreadas.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Len()
}

// Cleanup remove entradas inativas há pelo menos uma janela (TTL por inatividade).
func (s *MemoryStore) Cleanup() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range s.entries.Keys() {
		ent, ok := s.entries.Peek(k)
		if ok && now.Sub(ent.lastSeen) >= ent.window {
			s.entries.Remove(k)
		}
	}
}

// makeRoom libera espaço removendo entradas com janela encerrada, começando
// pela menos usada. Deve ser chamado com s.mu travado.
func (s *MemoryStore) makeRoom(now time.Time) bool {
	if _, ent, ok := s.entries.GetOldest(); ok && ent.windowEnded(now) {
		s.entries.RemoveOldest()
		return true
	}
	for _, k := range s.entries.Keys() {
		if ent, ok := s.entries.Peek(k); ok && ent.windowEnded(now) {
			s.entries.Remove(k)
		}
	}
	return s.entries.Len() < s.maxKeys
}

func (e *memoryEntry) windowEnded(now time.Time) bool {
	return now.Sub(e.windowStart) >= e.window
}

// Start inicia o janitor. Pare com Close ou cancelando o contexto.
func (s *MemoryStore) Start(ctx context.Context) { s.janitor.start(ctx) }

func (s *MemoryStore) Close() error {
	s.janitor.stop()
	return nil
}
