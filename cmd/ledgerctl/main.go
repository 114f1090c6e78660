package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"ledger/internal/cli"
	"ledger/internal/config"
	"ledger/internal/gateway"
	"ledger/internal/log"
	"ledger/internal/reconcile"
	"ledger/internal/services"
	"ledger/internal/session"
	"ledger/internal/sheets"
	gsheet "ledger/internal/sheets/google"
)

func main() {
	cli.LoadEnvFile()

	cfg, err := cli.LoadConfig((*config.Config).ValidateClient)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	// Logs go to stderr so command output stays pipeable.
	logCfg := log.DefaultConfig()
	logCfg.Level = log.ParseLevel(getenv("LEDGERCTL_LOG_LEVEL", "warn"))
	logCfg.Component = log.ComponentCLI
	logCfg.Output = os.Stderr
	logger := log.New(logCfg)

	client, err := gateway.New(cfg.APIBaseURL, gateway.WithTimeout(cfg.APITimeout), gateway.WithLogger(logger))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	app := &cli.App{
		API:      client,
		Auth:     services.NewAuthService(client, logger),
		Sessions: session.NewFileStore(cfg.CLISessionFile),
		Executor: reconcile.NewExecutor(client,
			reconcile.WithRetryPolicy(reconcile.RetryPolicy{
				Attempts: cfg.SettlementRetryAttempts,
				Backoff:  cfg.SettlementRetryBackoff,
			}),
			reconcile.WithLogger(logger)),
		NewExporter: func(ctx context.Context) (sheets.Exporter, error) {
			if err := cfg.ValidateExport(); err != nil {
				return nil, err
			}
			return gsheet.New(ctx, gsheet.Config{
				SpreadsheetID:   cfg.GoogleSpreadsheetID,
				TabPrefix:       cfg.GoogleSheetName,
				CredentialsFile: cfg.GoogleCredentialsFile,
				OAuthClientFile: cfg.GoogleOAuthClientFile,
				OAuthTokenFile:  cfg.GoogleOAuthTokenFile,
			}, logger)
		},
		In:  os.Stdin,
		Out: os.Stdout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := app.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
