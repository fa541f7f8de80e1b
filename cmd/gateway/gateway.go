package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"admission-gateway/config"
	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"
)

// routes mapeia prefixos do backend agrícola para políticas. O chi
// resolve pela árvore de rotas e escolhe o padrão mais específico, então a
// posição na lista não altera qual política vale.
var routes = []struct {
	prefix string
	policy string
}{
	{"/api/auth/forgot-password", domain.PolicyPasswordReset},
	{"/api/auth/reset-password", domain.PolicyPasswordReset},
	{"/api/auth", domain.PolicyAuth},
	{"/api/diagnosis/upload", domain.PolicyUpload},
	{"/api/upload", domain.PolicyUpload},
	{"/api", domain.PolicyAPI},
}

// admission agrupa os componentes com ciclo de vida (init/teardown).
type admission struct {
	service *application.Service
	local   *infra.MemoryStatsStore
	cluster *infra.RedisStatsStore // nil sem RATE_STATS_REDIS
	closers []func() error
}

func (a *admission) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildAdmission(ctx context.Context, cfg config.Config, reg prometheus.Registerer, log *zap.Logger) (*admission, error) {
	a := &admission{}

	var store domain.CounterStore
	var rdb *redis.Client
	if cfg.Store.UseRedis() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		a.closers = append(a.closers, rdb.Close)

		rs := infra.NewRedisStore(rdb,
			infra.WithRedisPrefix(cfg.Store.Prefix),
			infra.WithRedisTimeout(cfg.Store.Timeout),
			infra.WithRedisLogger(log),
		)
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := rs.Ping(pingCtx)
		cancel()
		if err != nil {
			// o gateway sobe mesmo assim: com o Redis fora, as decisões são fail-open
			log.Warn("redis ping failed at startup", zap.String("addr", cfg.Store.RedisAddr), zap.Error(err))
		}
		store = rs
	} else {
		ms, err := infra.NewMemoryStore(
			infra.WithMaxKeys(cfg.Store.MaxKeys),
			infra.WithCleanupEvery(cfg.Store.CleanupEvery),
		)
		if err != nil {
			return nil, err
		}
		ms.Start(ctx)
		a.closers = append(a.closers, ms.Close)
		store = ms
	}

	tracker := infra.NewViolationTracker(cfg.Violation.SweepEvery,
		infra.WithRetention(cfg.Violation.Retention),
		infra.WithViolationLogger(log),
	)
	tracker.Start(ctx)
	a.closers = append(a.closers, tracker.Close)

	var sampler domain.PressureSampler
	switch cfg.Pressure {
	case "heap":
		sampler = infra.HeapSampler{}
	case "system":
		sampler = infra.SystemSampler{}
	}

	promStats, err := infra.NewPrometheusStats(reg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.local = infra.NewMemoryStatsStore()
	stats := infra.MultiStats{promStats, a.local}
	if cfg.Stats.Redis && rdb != nil {
		a.cluster = infra.NewRedisStatsStore(rdb,
			infra.WithStatsPrefix(cfg.Stats.Prefix),
			infra.WithStatsTTL(cfg.Stats.TTL),
			infra.WithStatsBucket(cfg.Stats.Bucket),
			infra.WithStatsTrackKeys(cfg.Stats.TrackKeys),
		)
		stats = append(stats, a.cluster)
	}

	a.service, err = application.NewService(cfg.Policies, application.Deps{
		Store:   store,
		Guard:   tracker,
		Sampler: sampler,
		Stats:   stats,
		Logger:  log,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// newRouter monta o proxy com uma política por grupo de rotas.
// A política por API key (quando configurada) roda antes, só para requests com a chave.
func newRouter(cfg config.Config, svc *application.Service, proxy http.Handler, log *zap.Logger) (http.Handler, error) {
	var delay *application.DelayService
	if cfg.Delay.Enabled {
		delay = &application.DelayService{Pool: infra.NewChanPool(cfg.Delay.MaxHolding)}
	}

	mw := func(policy string) (func(http.Handler) http.Handler, error) {
		return ratelimit.Middleware(ratelimit.Options{
			Decider:             svc,
			Policy:              policy,
			UserHeader:          cfg.UserHeader,
			TrustForwardedFor:   cfg.TrustForwarded,
			AddRateLimitHeaders: cfg.AddHeaders,
			Delay:               delay,
			Logger:              log,
		})
	}

	r := chi.NewRouter()

	if _, err := svc.Policy(domain.PolicyAPIKey); err == nil {
		apiKeyMW, err := ratelimit.Middleware(ratelimit.Options{
			Decider:             svc,
			Policy:              domain.PolicyAPIKey,
			KeyFn:               ratelimit.HeaderKeyFunc(cfg.APIKeyHeader),
			Skip:                func(r *http.Request) bool { return strings.TrimSpace(r.Header.Get(cfg.APIKeyHeader)) == "" },
			AddRateLimitHeaders: false,
			Logger:              log,
		})
		if err != nil {
			return nil, err
		}
		r.Use(apiKeyMW)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	for _, rt := range routes {
		m, err := mw(rt.policy)
		if err != nil {
			return nil, err
		}
		r.With(m).Handle(rt.prefix, proxy)
		r.With(m).Handle(rt.prefix+"/*", proxy)
	}

	// o resto (frontend, estáticos) passa sem controle de admissão
	r.NotFound(proxy.ServeHTTP)
	return r, nil
}

type statsResponse struct {
	Local struct {
		Total    infra.Counters            `json:"total"`
		ByPolicy map[string]infra.Counters `json:"byPolicy"`
		ByReason map[domain.Reason]int64   `json:"byReason"`
	} `json:"local"`
	Cluster map[string]int64 `json:"cluster,omitempty"`
}

// statsHandler expõe os contadores desta réplica e, com stats no Redis, o
// total agregado de todas as réplicas.
func statsHandler(adm *admission, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var resp statsResponse
		resp.Local.Total = adm.local.Total()
		resp.Local.ByPolicy = adm.local.ByPolicy()
		resp.Local.ByReason = adm.local.ByReason()

		if adm.cluster != nil {
			totals, err := adm.cluster.Totals(r.Context())
			if err != nil {
				log.Warn("cluster stats unavailable", zap.Error(err))
			} else {
				resp.Cluster = totals
			}
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	target, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return domain.ErrConfiguration.New("invalid UPSTREAM_URL: %v", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Warn("proxy error", zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	adm, err := buildAdmission(ctx, cfg, reg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := adm.Close(); err != nil {
			log.Warn("admission teardown", zap.Error(err))
		}
	}()

	h, err := newRouter(cfg, adm.service, proxy, log)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsMux.Handle("/admission/stats", statsHandler(adm, log))
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info("gateway listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("upstream", target.String()),
		zap.String("metrics", cfg.MetricsAddr))
	if cfg.UserHeader != "" {
		log.Warn("user header trusted for rate limit keys; it must be set by an upstream auth layer",
			zap.String("header", cfg.UserHeader))
	}
	log.Info("admission control",
		zap.Bool("redis", cfg.Store.UseRedis()),
		zap.String("pressure", cfg.Pressure),
		zap.Strings("policies", adm.service.Policies()),
		zap.Bool("slowdown", cfg.Delay.Enabled))

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range []*http.Server{srv, metricsSrv} {
		s := s
		g.Go(func() error {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return errors.Join(srv.Shutdown(shutdownCtx), metricsSrv.Shutdown(shutdownCtx))
	})
	return g.Wait()
}
