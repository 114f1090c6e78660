package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"ledger/internal/cli"
	"ledger/internal/gateway"
	apphttp "ledger/internal/http"
	"ledger/internal/log"
	"ledger/internal/metrics"
	"ledger/internal/reconcile"
	"ledger/internal/services"
	"ledger/internal/session"
)

type pinger interface {
	Ping(ctx context.Context) error
}

func main() {
	cli.LoadEnvFile()
	boot := cli.SetupLogger("info", "text", log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(boot)
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat, log.ComponentApp)

	logger.Info("Starting ledger web server",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"api", cfg.APIBaseURL,
		"store", cfg.StoreBackend)

	be := cli.InitBackend(context.Background(), logger, cfg)

	client, err := gateway.New(cfg.APIBaseURL,
		gateway.WithTimeout(cfg.APITimeout),
		gateway.WithLogger(logger),
		gateway.WithObserver(metrics.GatewayObserver{}))
	if err != nil {
		logger.Error("Failed to create API client", log.FieldError, err)
		os.Exit(1)
	}

	settlementCfg := services.DefaultSettlementConfig()
	settlementCfg.MaxAttempts = cfg.RepairMaxAttempts
	settlements := services.NewSettlementService(be.Store, client, be.RepairPublisher(), settlementCfg, logger)

	executor := reconcile.NewExecutor(client,
		reconcile.WithRepairQueue(settlements),
		reconcile.WithRetryPolicy(reconcile.RetryPolicy{
			Attempts: cfg.SettlementRetryAttempts,
			Backoff:  cfg.SettlementRetryBackoff,
		}),
		reconcile.WithLogger(logger))

	sessions := session.NewManager(be.Store, cfg.SessionTTL, cfg.CookieSecure || cfg.IsProduction())

	var checks []apphttp.ReadinessCheck
	if p, ok := be.Store.(pinger); ok {
		checks = append(checks, apphttp.ReadinessCheck{Name: "store", Check: p.Ping})
	}

	srv, err := apphttp.NewServer(apphttp.Options{
		Addr:            ":" + cfg.Port,
		TrustedProxies:  cfg.TrustedProxies,
		RateLimitRPS:    cfg.RateLimitRPS,
		RateLimitBurst:  cfg.RateLimitBurst,
		CacheTTL:        cfg.CacheTTL,
		CacheMaxEntries: cfg.CacheMaxEntries,
		MetricsEnabled:  cfg.MetricsEnabled,
		Checks:          checks,
	}, apphttp.Deps{
		Ledger:   client,
		Auth:     services.NewAuthService(client, logger),
		Sessions: sessions,
		Executor: executor,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("Failed to create HTTP server", log.FieldError, err)
		os.Exit(1)
	}

	// Without a broker there is no dedicated worker, so the server sweeps
	// the outbox itself.
	var processor *services.SettlementProcessor
	if be.Publisher == nil {
		pcfg := services.DefaultSettlementProcessorConfig()
		pcfg.PollInterval = cfg.RepairInterval
		pcfg.BatchSize = cfg.RepairBatchSize
		processor = services.NewSettlementProcessor(settlements, pcfg, logger)
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if processor != nil {
			if err := processor.Stop(ctx); err != nil {
				logger.Error("Settlement processor shutdown error", log.FieldError, err)
			}
		}
		if err := be.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	})

	if processor != nil {
		if err := processor.Start(ctx); err != nil {
			logger.Error("Failed to start settlement processor", log.FieldError, err)
			os.Exit(1)
		}
	}
	go purgeSessions(ctx, logger, sessions, time.Hour)

	logger.Info("Listening", "addr", srv.Addr, log.FieldOperation, log.OpStartup)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}

func purgeSessions(ctx context.Context, logger *log.Logger, sessions *session.Manager, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.Purge(ctx)
			if err != nil {
				logger.WarnContext(ctx, "Failed to purge expired sessions", log.FieldError, err)
				continue
			}
			if n > 0 {
				logger.InfoContext(ctx, "Expired sessions purged", "count", n)
			}
		}
	}
}
