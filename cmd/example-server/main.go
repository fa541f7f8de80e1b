package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"
)

func main() {
	// Exemplo: injetando o controle de admissão direto no seu webserver (sem proxy)
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := infra.NewMemoryStore()
	if err != nil {
		logger.Fatal("store error", zap.Error(err))
	}
	store.Start(ctx)
	defer func() { _ = store.Close() }()

	tracker := infra.NewViolationTracker(time.Minute, infra.WithViolationLogger(logger))
	tracker.Start(ctx)
	defer func() { _ = tracker.Close() }()

	svc, err := application.NewService(domain.DefaultPolicies(), application.Deps{
		Store:   store,
		Guard:   tracker,
		Sampler: infra.HeapSampler{},
		Stats:   infra.NewMemoryStatsStore(),
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal("admission error", zap.Error(err))
	}

	delay := &application.DelayService{Pool: infra.NewChanPool(64)}
	withPolicy := func(policy string, h http.Handler) http.Handler {
		mw, err := ratelimit.Middleware(ratelimit.Options{
			Decider:             svc,
			Policy:              policy,
			TrustForwardedFor:   true,
			AddRateLimitHeaders: true,
			Delay:               delay,
			Logger:              logger,
		})
		if err != nil {
			logger.Fatal("middleware error", zap.String("policy", policy), zap.Error(err))
		}
		return mw(h)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/auth/login", withPolicy(domain.PolicyAuth, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("welcome\n"))
	})))
	mux.Handle("/api/", withPolicy(domain.PolicyAPI, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})))

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("example server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
}
