package infra

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"admission-gateway/middleware/ratelimit/domain"
)

// delayField acumula o atraso sugerido (ms) das admissões com slow down.
const delayField = "delay_ms"

// RedisStatsStore agrega decisões em hashes do Redis, compartilhados entre
// réplicas do gateway. Os campos do hash são os Reason da decisão.
//
//	<prefix>:total                 cumulativo, sem TTL
//	<prefix>:minute:YYYYMMDDhhmm   série por minuto (UTC), com TTL
//	<prefix>:policy:<name>         cumulativo por política
//	<prefix>:key:<key>             opcional (trackKeys), com TTL
type RedisStatsStore struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
	bucket string // "minute" (padrão) ou "none"

	trackKeys bool
}

var _ domain.StatsStore = (*RedisStatsStore)(nil)

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.prefix = strings.Trim(prefix, ":") }
}

// WithStatsTTL vale para a série por minuto e para as chaves de cliente.
func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(rdb redis.UniversalClient, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "ratelimit:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	reason := string(ev.Reason)
	if reason == "" {
		reason = "unknown"
	}
	delayMs := int64(0)
	if ev.Admit && ev.Delay > 0 {
		delayMs = ev.Delay.Milliseconds()
	}

	pipe := s.rdb.Pipeline()
	incr := func(key string, ttl time.Duration) {
		pipe.HIncrBy(ctx, key, reason, 1)
		if delayMs > 0 {
			pipe.HIncrBy(ctx, key, delayField, delayMs)
		}
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
	}

	incr(s.prefix+":total", 0)
	if s.bucket == "minute" {
		incr(s.prefix+":minute:"+at.UTC().Format("200601021504"), s.ttl)
	}
	if p := strings.TrimSpace(ev.Policy); p != "" {
		incr(s.prefix+":policy:"+p, 0)
	}
	if s.trackKeys {
		if k := strings.TrimSpace(string(ev.Key)); k != "" {
			incr(s.prefix+":key:"+k, s.ttl)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return domain.ErrStoreUnavailable.Wrap(err)
	}
	return nil
}

// Totals lê os contadores cumulativos de todas as políticas.
func (s *RedisStatsStore) Totals(ctx context.Context) (map[string]int64, error) {
	return s.readHash(ctx, s.prefix+":total")
}

// PolicyTotals lê os contadores cumulativos de uma política.
func (s *RedisStatsStore) PolicyTotals(ctx context.Context, policy string) (map[string]int64, error) {
	return s.readHash(ctx, s.prefix+":policy:"+strings.TrimSpace(policy))
}

func (s *RedisStatsStore) readHash(ctx context.Context, key string) (map[string]int64, error) {
	raw, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, domain.ErrStoreUnavailable.Wrap(err)
	}
	out := make(map[string]int64, len(raw))
	for field, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[field] = n
	}
	return out, nil
}
