package infra

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"admission-gateway/middleware/ratelimit/domain"
)

// fixedWindowScript incrementa o contador de forma atômica no Redis.
//
// KEYS[1] = hash {count, start}; ARGV[1] = now (ms); ARGV[2] = janela (ms).
// Abre nova janela quando now - start >= janela. O TTL é renovado a cada
// incremento, então a chave some depois de uma janela sem requisições.
var fixedWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local cur = redis.call('HMGET', KEYS[1], 'count', 'start')
local count = tonumber(cur[1])
local start = tonumber(cur[2])
if count == nil or start == nil or now - start >= window then
  count = 0
  start = now
end
count = count + 1
redis.call('HSET', KEYS[1], 'count', count, 'start', start)
redis.call('PEXPIRE', KEYS[1], window)
return {count, start}
`)

// releaseScript devolve uma unidade reservada, só se a janela ainda for a
// mesma (ARGV[1] = start em ms). Nunca deixa o contador negativo.
var releaseScript = redis.NewScript(`
local start = redis.call('HGET', KEYS[1], 'start')
if not start or tonumber(start) ~= tonumber(ARGV[1]) then
  return 0
end
local count = tonumber(redis.call('HGET', KEYS[1], 'count'))
if count == nil or count <= 0 then
  return 0
end
redis.call('HINCRBY', KEYS[1], 'count', -1)
return 1
`)

// RedisStore é o CounterStore distribuído.
//
// Toda chamada tem timeout próprio e não é abortada se a request do cliente
// for cancelada (um incremento "perdido" é aceitável; estado parcial não).
// Qualquer falha do Redis vira domain.ErrStoreUnavailable.
type RedisStore struct {
	rdb     redis.UniversalClient
	prefix  string
	timeout time.Duration
	now     func() time.Time
	log     *zap.Logger
}

var _ domain.CounterStore = (*RedisStore)(nil)

type RedisStoreOption func(*RedisStore)

func WithRedisPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) { s.prefix = strings.Trim(prefix, ":") }
}

// WithRedisTimeout define o tempo máximo de cada operação (recomendado 50-100ms).
func WithRedisTimeout(d time.Duration) RedisStoreOption {
	return func(s *RedisStore) { s.timeout = d }
}

func WithRedisClock(now func() time.Time) RedisStoreOption {
	return func(s *RedisStore) { s.now = now }
}

func WithRedisLogger(log *zap.Logger) RedisStoreOption {
	return func(s *RedisStore) {
		if log != nil {
			s.log = log
		}
	}
}

func NewRedisStore(rdb redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		rdb:     rdb,
		prefix:  "ratelimit:window",
		timeout: 75 * time.Millisecond,
		now:     time.Now,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("redis-store")
	return s
}

func (s *RedisStore) key(storageKey string) string {
	return s.prefix + ":" + storageKey
}

// opContext desacopla do cancelamento do chamador e aplica o timeout da store.
func (s *RedisStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithoutCancel(ctx)
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *RedisStore) IncrementAndGet(ctx context.Context, storageKey string, window time.Duration) (domain.CounterEntry, error) {
	if s == nil || s.rdb == nil {
		return domain.CounterEntry{}, domain.ErrStoreUnavailable.New("redis client not configured")
	}
	if window <= 0 {
		return domain.CounterEntry{}, domain.ErrConfiguration.New("window must be > 0")
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	nowMs := s.now().UnixMilli()
	res, err := fixedWindowScript.Run(opCtx, s.rdb, []string{s.key(storageKey)}, nowMs, window.Milliseconds()).Int64Slice()
	if err != nil {
		s.log.Debug("increment failed", zap.String("key", storageKey), zap.Error(err))
		return domain.CounterEntry{}, domain.ErrStoreUnavailable.Wrap(err)
	}
	if len(res) != 2 {
		return domain.CounterEntry{}, domain.ErrStoreUnavailable.New("unexpected script reply length %d", len(res))
	}

	return domain.CounterEntry{
		Key:         storageKey,
		Count:       res[0],
		WindowStart: time.UnixMilli(res[1]),
	}, nil
}

func (s *RedisStore) Get(ctx context.Context, storageKey string, window time.Duration) (domain.CounterEntry, bool, error) {
	if s == nil || s.rdb == nil {
		return domain.CounterEntry{}, false, domain.ErrStoreUnavailable.New("redis client not configured")
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	vals, err := s.rdb.HMGet(opCtx, s.key(storageKey), "count", "start").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.CounterEntry{}, false, nil
		}
		return domain.CounterEntry{}, false, domain.ErrStoreUnavailable.Wrap(err)
	}

	count, ok1 := parseRedisInt(vals, 0)
	start, ok2 := parseRedisInt(vals, 1)
	if !ok1 || !ok2 {
		return domain.CounterEntry{}, false, nil
	}

	ent := domain.CounterEntry{Key: storageKey, Count: count, WindowStart: time.UnixMilli(start)}
	if ent.Expired(s.now(), window) {
		return domain.CounterEntry{}, false, nil
	}
	return ent, true, nil
}

func (s *RedisStore) Release(ctx context.Context, storageKey string, windowStart time.Time) error {
	if s == nil || s.rdb == nil {
		return domain.ErrStoreUnavailable.New("redis client not configured")
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	if err := releaseScript.Run(opCtx, s.rdb, []string{s.key(storageKey)}, windowStart.UnixMilli()).Err(); err != nil {
		s.log.Debug("release failed", zap.String("key", storageKey), zap.Error(err))
		return domain.ErrStoreUnavailable.Wrap(err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, storageKey string) error {
	if s == nil || s.rdb == nil {
		return domain.ErrStoreUnavailable.New("redis client not configured")
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.rdb.Del(opCtx, s.key(storageKey)).Err(); err != nil {
		return domain.ErrStoreUnavailable.Wrap(err)
	}
	return nil
}

// Ping verifica a conectividade (usado no startup).
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return domain.ErrStoreUnavailable.Wrap(err)
	}
	return nil
}

func parseRedisInt(vals []interface{}, i int) (int64, bool) {
	if i >= len(vals) || vals[i] == nil {
		return 0, false
	}
	str, ok := vals[i].(string)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
