// Command server starts the writing-orchestrator HTTP server: request
// routing, worker dispatch, budget admission, and the admin surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-writing-orchestrator/internal/adapter/ai"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/adapter/ai/stub"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/adapter/ai/tokencount"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/adapter/cache/rediscache"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/adapter/search"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/app"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/config"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/domain"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/service/breaker"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/service/contextstore"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/service/dispatch"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/service/ledger"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/service/pricing"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/service/ratelimiter"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/service/router"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/usecase"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/worker"
	"github.com/fairyhunter13/ai-writing-orchestrator/internal/worker/factcheck"
)

// redisPinger adapts *redis.Client to app.RedisClient: go-redis returns the
// concrete *redis.StatusCmd, which does not satisfy the interface's result
// type on its own.
type redisPinger struct{ rdb *redis.Client }

func (r redisPinger) Ping(ctx context.Context) app.RedisPingResult { return r.rdb.Ping(ctx) }

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()

	shutdownTracing, err := observability.SetupTracing(context.Background(), cfg)
	if err != nil {
		slog.Error("tracing setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			slog.Warn("tracing shutdown", slog.Any("error", err))
		}
	}()

	// rootCtx owns every background task: the routing-file watcher and the
	// maintenance sweeps. Cancelled on shutdown before the HTTP drain.
	rootCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	pool, err := postgres.NewPool(rootCtx, cfg.DBURL)
	if err != nil {
		slog.Error("postgres connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	ledgerRepo := postgres.NewLedgerRepo(pool)
	contextRepo := postgres.NewContextRepo(pool)
	messageRepo := postgres.NewMessageRepo(pool)
	projectRepo := postgres.NewProjectRepo(pool)

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("redis url invalid", slog.Any("error", err))
		os.Exit(1)
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()

	respCache := rediscache.NewResponseCache(rdb)
	factCache := rediscache.NewFactCache(rdb, cfg.FactCacheTTL)

	producer, err := redpanda.NewProducer(cfg.KafkaBrokers, cfg.MessageTopic)
	if err != nil {
		slog.Error("redpanda producer failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer producer.Close()

	var llm domain.LLMClient
	if cfg.LLMAPIKey == "" {
		if cfg.IsProd() {
			slog.Error("LLM_API_KEY is required in production")
			os.Exit(1)
		}
		slog.Warn("no LLM API key configured, using the stub client")
		llm = stub.New()
	} else {
		llm = ai.New(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMHTTPTimeout)
	}

	counter := tokencount.NewCounter()
	catalog := pricing.New(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.ModelPricing, cfg.DefaultUSDPerToken, cfg.PricingRefresh)
	ledgerSvc := ledger.New(ledgerRepo, cfg.MonthlyBudgetUSD)
	limiter := ratelimiter.New(ledgerSvc, cfg.MaxRequestsPerMinute, cfg.RateLimitWindow, cfg.MaxDailyCostUSD)

	upstream := breaker.New("llm", cfg.CBFailureThreshold, cfg.CBRecoveryTimeout, cfg.CBMonitoringWindow)
	searchBreakers := breaker.NewRegistry(cfg.CBFailureThreshold, cfg.CBRecoveryTimeout, cfg.CBMonitoringWindow)

	// The routing file also carries the trusted-domain table, so it loads
	// before the fact-check worker is constructed. A missing path means
	// built-in rules and the built-in credibility table.
	var routingFile *config.RoutingFile
	if cfg.RoutingConfigPath != "" {
		routingFile, err = config.LoadRoutingFile(cfg.RoutingConfigPath)
		if err != nil {
			slog.Error("routing config load failed",
				slog.String("path", cfg.RoutingConfigPath), slog.Any("error", err))
			os.Exit(1)
		}
	}

	fcCfg := factcheck.Config{
		MaxContent:         cfg.MaxContentLength,
		MaxClaimsLLM:       cfg.MaxClaimsLLM,
		MaxClaimsHeuristic: cfg.MaxClaimsHeuristic,
		MinSearchResults:   cfg.MinSearchResults,
		MaxSearchResults:   cfg.MaxSearchResults,
		ClaimSearchDelay:   cfg.ClaimSearchDelay,
	}
	if routingFile != nil {
		fcCfg.TrustedDomains = routingFile.TrustedDomains
	}

	ddg := search.NewDuckDuckGo(cfg.DuckDuckGoBaseURL, cfg.SearchHTTPTimeout)
	var topUp domain.SearchProvider
	if cfg.SerpAPIKey != "" {
		topUp = search.NewSERP(cfg.SerpBaseURL, cfg.SerpAPIKey, cfg.SearchHTTPTimeout)
	}

	registry := worker.NewRegistry(upstream, cfg.WorkerHealthTTL,
		worker.NewIdeation(llm, cfg.MaxContentLength),
		worker.NewRefiner(llm, cfg.MaxContentLength),
		worker.NewMedia(llm, cfg.MaxContentLength),
		factcheck.New(llm, factCache, ddg, topUp, searchBreakers, fcCfg),
	)

	rt := router.New(registry, domain.WorkerKind(cfg.FallbackWorker))
	if routingFile != nil {
		if err := rt.ApplyFile(routingFile); err != nil {
			slog.Error("routing rules apply failed", slog.Any("error", err))
			os.Exit(1)
		}
		go func() {
			err := config.WatchRoutingFile(rootCtx, cfg.RoutingConfigPath, func(rf *config.RoutingFile) {
				if err := rt.ApplyFile(rf); err != nil {
					slog.Error("routing reload rejected", slog.Any("error", err))
					return
				}
				slog.Info("routing rules reloaded", slog.Int("rules", len(rf.Rules)))
			})
			if err != nil {
				slog.Warn("routing file watcher stopped", slog.Any("error", err))
			}
		}()
	}

	store := contextstore.New(contextRepo, projectRepo, messageRepo, cfg.ContextCacheSize, cfg.ContextTTL)
	store.SetSweepInterval(cfg.ContextSweepInterval)
	defer store.Close()
	go store.Sweep(rootCtx)

	maxRetries, baseDelay, maxDelay, multiplier := cfg.GetRetryPolicy()
	disp := dispatch.New(respCache, upstream, ledgerSvc, catalog, dispatch.Config{
		RequestTimeout: cfg.RequestTimeout,
		MaxRetries:     maxRetries,
		BaseDelay:      baseDelay,
		MaxDelay:       maxDelay,
		Multiplier:     multiplier,
		Model:          cfg.ChatModel,
		Temperature:    cfg.ChatTemperature,
		MaxTokens:      cfg.ChatMaxTokens,
		CacheTTL:       cfg.CacheTTLFor,
	})

	orch := usecase.New(usecase.Deps{
		Router:   rt,
		Workers:  registry,
		Dispatch: disp,
		Limiter:  limiter,
		Store:    store,
		Projects: projectRepo,
		Messages: messageRepo,
		Queue:    producer,
		Budget:   ledgerSvc,
		Counter:  counter,
		Pricer:   catalog,
	}, usecase.Config{
		MaxConcurrent:  cfg.MaxConcurrentRequests,
		RequestTimeout: cfg.RequestTimeout,
		ChatModel:      cfg.ChatModel,
		ChatMaxTokens:  cfg.ChatMaxTokens,
		HistoryLimit:   cfg.ConversationHistoryLimit,
	})

	go app.RunPeriodic(rootCtx, app.MaintenanceTask{
		Name:     "ratelimiter-gc",
		Interval: cfg.RateLimitWindow,
		Run:      func(context.Context) { limiter.Sweep() },
	})
	go app.RunPeriodic(rootCtx, app.MaintenanceTask{
		Name:     "pricing-refresh",
		Interval: cfg.PricingRefresh,
		Run: func(ctx context.Context) {
			if err := catalog.ForceRefresh(ctx); err != nil {
				slog.WarnContext(ctx, "pricing refresh failed", slog.Any("error", err))
			}
		},
	})

	dbCheck, redisCheck, kafkaCheck := app.BuildReadinessChecks(pool, redisPinger{rdb: rdb}, producer)
	srv := httpserver.NewServer(cfg, orch, dbCheck, redisCheck, kafkaCheck)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           app.BuildRouter(cfg, srv),
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", slog.Int("port", cfg.Port), slog.String("env", cfg.AppEnv))
		errCh <- httpSrv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	case sig := <-quit:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
		stopBackground()
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			slog.Error("graceful shutdown failed", slog.Any("error", err))
			os.Exit(1)
		}
		slog.Info("server stopped")
	}
}
