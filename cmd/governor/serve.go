package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/vnmchuo/usage-governor/config"
	"github.com/vnmchuo/usage-governor/internal/api"
	"github.com/vnmchuo/usage-governor/internal/auth"
	"github.com/vnmchuo/usage-governor/internal/billing"
	"github.com/vnmchuo/usage-governor/internal/cache"
	"github.com/vnmchuo/usage-governor/internal/governance"
	"github.com/vnmchuo/usage-governor/internal/metrics"
	"github.com/vnmchuo/usage-governor/internal/provider"
	"github.com/vnmchuo/usage-governor/internal/provider/claude"
	"github.com/vnmchuo/usage-governor/internal/provider/gemini"
	"github.com/vnmchuo/usage-governor/internal/provider/openai"
	"github.com/vnmchuo/usage-governor/internal/quota"
	"github.com/vnmchuo/usage-governor/internal/router"
	"github.com/vnmchuo/usage-governor/internal/subscription"
	"github.com/vnmchuo/usage-governor/internal/telemetry"
	"github.com/vnmchuo/usage-governor/internal/worker"
	"github.com/vnmchuo/usage-governor/pkg/ratelimit"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()
		return serve(cmd.Context(), cfg, log)
	},
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	shutdownTracer, err := telemetry.InitTracer("usage-governor", cfg, log)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdownTracer()
	tracer := otel.GetTracerProvider().Tracer("usage-governor")

	pool, err := connectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer pool.Close()
	log.Info("postgres connected")

	rdb, err := connectRedis(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()
	log.Info("redis connected")

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}
	log.Info("providers registered", zap.Strings("providers", registry.Names()))

	var cacheStore cache.Store = cache.NewRedisStore(rdb)
	if cfg.CacheBackend == "memory" {
		cacheStore = cache.NewMemoryStore()
	}
	responses := cache.New(cacheStore, nil)

	billingStore := billing.NewPostgresStore(pool)
	engine := governance.NewEngine(governance.Deps{
		Gate:     subscription.NewGate(subscription.NewPostgresStore(pool), nil),
		Ledger:   quota.NewLedger(quota.NewPostgresStore(pool), log, nil),
		Cache:    responses,
		Router:   router.NewRouter(registry, log, tracer),
		Planner:  governance.NewChainPlanner(cfg.GenerationChain, cfg.AttemptTimeout),
		Registry: registry,
		Billing:  billingStore,
		Log:      log,
		Tracer:   tracer,
	})
	defer engine.Wait()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	if cfg.CacheBackend == "memory" {
		go worker.NewSweeper(responses, cfg.CacheSweepInterval, log).Run(sweepCtx)
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	limiter := ratelimit.NewLimiter(rdb, "generate", cfg.GenerateRPM)
	handler := api.NewHandler(engine, billingStore, limiter, log, tracer)
	authMiddleware := auth.NewMiddleware(auth.NewPostgresStore(pool), rdb, log)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(handler, authMiddleware, promhttp.Handler()),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("usage governor starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down gracefully")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

// buildRegistry registers every provider with a configured key and checks
// the generation chain only names registered providers.
func buildRegistry(cfg *config.Config) (*provider.Registry, error) {
	var providers []provider.Provider
	if cfg.OpenAIAPIKey != "" {
		providers = append(providers, openai.New(cfg.OpenAIAPIKey))
	}
	if cfg.GeminiAPIKey != "" {
		providers = append(providers, gemini.New(cfg.GeminiAPIKey))
	}
	if cfg.AnthropicAPIKey != "" {
		providers = append(providers, claude.New(cfg.AnthropicAPIKey))
	}

	registry, err := provider.NewRegistry(providers...)
	if err != nil {
		return nil, err
	}
	for _, link := range cfg.GenerationChain {
		if _, ok := registry.Get(link.Provider); !ok {
			return nil, fmt.Errorf("GENERATION_CHAIN names %q but no API key is configured for it", link.Provider)
		}
	}
	return registry, nil
}
