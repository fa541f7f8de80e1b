package application

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"admission-gateway/middleware/ratelimit/domain"
)

// Service é a política de admissão: compõe reputação, limite adaptativo,
// janela fixa e slow down em uma única Decision.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
// Depois do startup, Decide nunca retorna erro.
type Service struct {
	policies map[string]domain.PolicyConfig
	window   *WindowLimiter
	load     LoadController
	guard    domain.ReputationGuard
	stats    domain.StatsStore
	now      func() time.Time
	log      *zap.Logger
}

// Deps são as dependências (já construídas) do Service.
type Deps struct {
	Store   domain.CounterStore
	Guard   domain.ReputationGuard
	Sampler domain.PressureSampler
	Stats   domain.StatsStore
	Logger  *zap.Logger
	Now     func() time.Time
}

// NewService valida todas as políticas e falha rápido com ErrConfiguration.
func NewService(policies map[string]domain.PolicyConfig, deps Deps) (*Service, error) {
	if len(policies) == 0 {
		return nil, domain.ErrConfiguration.New("at least one policy is required")
	}
	if deps.Store == nil {
		return nil, domain.ErrConfiguration.New("counter store is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	cloned := make(map[string]domain.PolicyConfig, len(policies))
	for name, cfg := range policies {
		if cfg.Name == "" {
			cfg.Name = name
		}
		if cfg.Name != name {
			return nil, domain.ErrConfiguration.New("policy registered as %q is named %q", name, cfg.Name)
		}
		if cfg.CountOnlyOn == "" {
			cfg.CountOnlyOn = domain.CountAll
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		cloned[name] = cfg
	}

	return &Service{
		policies: cloned,
		window:   NewWindowLimiter(deps.Store, deps.Logger, deps.Now),
		load:     LoadController{Sampler: deps.Sampler},
		guard:    deps.Guard,
		stats:    deps.Stats,
		now:      deps.Now,
		log:      deps.Logger.Named("admission"),
	}, nil
}

// Policy retorna a configuração da política ou ErrInvalidPolicy.
// Deve ser usado no wiring (startup) para validar nomes.
func (s *Service) Policy(name string) (domain.PolicyConfig, error) {
	cfg, ok := s.policies[name]
	if !ok {
		return domain.PolicyConfig{}, domain.ErrInvalidPolicy.New("unknown policy %q", name)
	}
	return cfg, nil
}

// Policies retorna os nomes configurados, ordenados.
func (s *Service) Policies() []string {
	out := make([]string, 0, len(s.policies))
	for name := range s.policies {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Decide avalia, nesta ordem e com curto-circuito:
//
//  1. bloqueio por reputação (não gasta incremento de janela)
//  2. teto efetivo pelo LoadController
//  3. janela fixa (incremento atômico)
//  4. negação -> registra violação
//  5. admissão -> atraso de slow down
//
// Em políticas que contam só sucesso ou só falha, o incremento é uma reserva:
// negada, a unidade volta na hora; admitida, fica reservada até Observe.
// Assim requisições concorrentes não passam todas pelo mesmo contador.
func (s *Service) Decide(ctx context.Context, policy string, key domain.Key) domain.Decision {
	cfg, ok := s.policies[policy]
	if !ok {
		s.log.Error("unknown policy at request time, failing open", zap.String("policy", policy))
		dec := domain.Decision{Admit: true, Reason: domain.ReasonUnknownPolicy, Policy: policy}
		s.record(ctx, key, dec)
		return dec
	}

	now := s.now()

	if s.guard != nil {
		if banned, until := s.guard.IsBanned(key); banned {
			dec := domain.Decision{
				Admit:      false,
				Reason:     domain.ReasonBanned,
				Policy:     policy,
				Limit:      cfg.MaxRequests,
				ResetAt:    until,
				RetryAfter: until.Sub(now),
			}
			s.record(ctx, key, dec)
			return dec
		}
	}

	effectiveMax := s.load.EffectiveLimit(cfg)

	verdict := s.window.Evaluate(ctx, cfg, key, effectiveMax)
	reserve := cfg.CountOnlyOn != domain.CountAll && !verdict.Degraded

	dec := domain.Decision{
		Policy:    policy,
		Limit:     effectiveMax,
		Remaining: verdict.Remaining,
		ResetAt:   verdict.ResetAt,
	}

	switch {
	case verdict.Degraded:
		dec.Admit = true
		dec.Reason = domain.ReasonDegraded
	case !verdict.Allowed:
		if reserve {
			s.window.Release(ctx, cfg, key, verdict.WindowStart)
		}
		if s.guard != nil {
			s.guard.RecordDenial(key, cfg.ViolationThreshold, cfg.BanDuration)
		}
		dec.Admit = false
		dec.Reason = domain.ReasonRateLimited
		dec.RetryAfter = verdict.ResetAt.Sub(now)
		if dec.RetryAfter < 0 {
			dec.RetryAfter = 0
		}
	default:
		dec.Admit = true
		dec.Reason = domain.ReasonAllowed
		dec.Reserved = reserve
		if reserve {
			dec.WindowStart = verdict.WindowStart
		}
		if d := DelayFor(verdict.Count, effectiveMax, cfg); d > 0 {
			dec.Reason = domain.ReasonSlowed
			dec.RetryAfter = d
		}
	}

	s.record(ctx, key, dec)
	return dec
}

// Observe informa o resultado de uma requisição admitida. Só tem efeito em
// decisões com reserva (CountOnlyOn success/failure): se o resultado não
// conta para a política, a unidade reservada é devolvida.
func (s *Service) Observe(ctx context.Context, key domain.Key, dec domain.Decision, outcome domain.Outcome) {
	if !dec.Reserved {
		return
	}
	cfg, ok := s.policies[dec.Policy]
	if !ok || cfg.CountOnlyOn.Counts(outcome) {
		return
	}
	s.window.Release(ctx, cfg, key, dec.WindowStart)
}

func (s *Service) record(ctx context.Context, key domain.Key, dec domain.Decision) {
	if s.stats == nil {
		return
	}
	ev := domain.StatsEvent{
		Policy: dec.Policy,
		Key:    key,
		Reason: dec.Reason,
		Admit:  dec.Admit,
		Limit:  dec.Limit,
		At:     s.now(),
	}
	if dec.Admit {
		ev.Delay = dec.RetryAfter
	}
	if err := s.stats.Record(ctx, ev); err != nil {
		s.log.Debug("stats record failed", zap.String("policy", dec.Policy), zap.Error(err))
	}
}
