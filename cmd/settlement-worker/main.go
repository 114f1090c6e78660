package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"ledger/internal/cli"
	"ledger/internal/config"
	"ledger/internal/gateway"
	"ledger/internal/log"
	"ledger/internal/metrics"
	"ledger/internal/services"
	"ledger/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	boot := cli.SetupLogger("info", "text", log.ComponentWorker)
	cfg, err := cli.LoadConfig((*config.Config).ValidateWorker)
	if err != nil {
		boot.Error("Invalid worker configuration", log.FieldError, err)
		os.Exit(1)
	}
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat, log.ComponentWorker)

	logger.Info("Starting settlement-worker", "store", cfg.StoreBackend, "queue", cfg.AMQPQueue)

	be := cli.InitBackend(context.Background(), logger, cfg)
	if be.Publisher == nil {
		logger.Error("AMQP broker unreachable")
		os.Exit(1)
	}

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
	// The worker only consumes, so the service never publishes.
	settlements := services.NewSettlementService(be.Store, client, nil, settlementCfg, logger)

	pcfg := services.DefaultSettlementProcessorConfig()
	pcfg.PollInterval = cfg.RepairInterval
	pcfg.BatchSize = cfg.RepairBatchSize
	processor := services.NewSettlementProcessor(settlements, pcfg, logger)

	repairs := worker.NewRepairWorker(settlements, processor, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := processor.Stop(ctx); err != nil {
			logger.Error("Settlement processor shutdown error", log.FieldError, err)
		}
		if err := be.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	})

	repairs.StartupCheck(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return be.Publisher.ConsumeSettlementRepairs(gctx, repairs.HandleRepairMessage)
	})
	g.Go(func() error {
		if err := processor.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		return gctx.Err()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", log.FieldError, err)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker shutdown complete")
}
