// Command ledger-worker mirrors every user's statement into Google Sheets.
// It consumes ledger events from AMQP and runs a full resync on startup and
// every RESYNC_INTERVAL.
package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/bakir004/expense-tracker-sub001/internal/cli"
	"github.com/bakir004/expense-tracker-sub001/internal/log"
	"github.com/bakir004/expense-tracker-sub001/internal/sheets"
	gsheet "github.com/bakir004/expense-tracker-sub001/internal/sheets/google"
	sheetsmem "github.com/bakir004/expense-tracker-sub001/internal/sheets/memory"
	"github.com/bakir004/expense-tracker-sub001/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), log.ComponentWorker)
	logger.Info("Starting ledger-worker")

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}

	app, err := cli.NewApp(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize ledger", log.FieldError, err)
		os.Exit(1)
	}
	defer app.Close()
	app.Caches.StartCleanup(time.Minute)

	var writer sheets.StatementWriter
	if cfg.GoogleSpreadsheetID != "" {
		client, err := gsheet.New(context.Background(), gsheet.Config{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			SheetPrefix:     cfg.GoogleSheetPrefix,
			CredentialsFile: cfg.GoogleCredentialsFile,
			CredentialsJSON: cfg.GoogleCredentialsJSON,
		})
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", log.FieldError, err)
			os.Exit(1)
		}
		writer = client
		logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		writer = sheetsmem.New(cfg.GoogleSheetPrefix)
		logger.Warn("GOOGLE_SPREADSHEET_ID not set, statements are mirrored in memory only")
	}

	statements := worker.NewStatementWorker(app.Balances, app.Backend.Store, writer, cfg.ResyncConcurrency)
	resyncer := worker.NewResyncer(statements, cfg.ResyncInterval)

	ctx, done := cli.GracefulShutdown(logger.Logger, shutdownTimeout, func(ctx context.Context) {
		if err := resyncer.Stop(ctx); err != nil {
			logger.Warn("Resyncer did not stop cleanly", log.FieldError, err)
		}
	})

	if err := resyncer.Start(ctx); err != nil {
		logger.Error("Failed to start resyncer", log.FieldError, err)
		os.Exit(1)
	}

	if consumer := app.Backend.Publisher; consumer != nil {
		go func() {
			ctx := log.WithContext(ctx, logger.WithComponent(log.ComponentWorker))
			err := consumer.ConsumeLedgerEvents(ctx, statements.HandleLedgerEvent)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Ledger event consumption failed", log.FieldError, err)
			}
		}()
	} else {
		logger.Info("AMQP not configured, relying on periodic resync only")
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("ledger-worker stopped")
}
