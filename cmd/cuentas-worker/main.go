package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"time"

	"cuentas/internal/amqp"
	"cuentas/internal/cli"
	"cuentas/internal/core"
	"cuentas/internal/log"
	"cuentas/internal/metrics"
	gsheet "cuentas/internal/sheets/google"
	"cuentas/internal/worker"
)

func main() {
	backfillCompany := flag.String("backfill-company", "", "mirror every completed transaction of this company and exit")
	backfillMonth := flag.String("backfill-month", "", "month to backfill as YYYY-MM (default: current month)")
	metricsAddr := flag.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9091")
	flag.Parse()

	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger, false)
	loc, _ := cfg.Location()
	metrics.Init()
	if *metricsAddr != "" {
		go serveMetrics(logger, *metricsAddr)
	}

	logger.Info("Starting cuentas-worker")

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()
	backend, err := cli.OpenStore(startCtx, cfg, logger)
	if err != nil {
		logger.Error("Failed to open ledger", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer backend.Close()

	var mirror worker.Mirror
	if cfg.SheetsEnabled() {
		client, err := gsheet.New(context.Background(), gsheet.Config{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			SheetName:       cfg.GoogleSheetName,
			CredentialsJSON: cfg.GoogleServiceAccountJSON,
			CredentialsFile: cfg.GoogleServiceAccountFile,
		}, logger)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", log.FieldError, err)
			os.Exit(1)
		}
		mirror = client
		logger.Info("Google Sheets mirror enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Google Sheets mirror disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	hw := worker.NewHistoryWorker(backend, mirror, logger)

	if *backfillCompany != "" {
		period := core.MonthOf(time.Now().In(loc))
		if *backfillMonth != "" {
			t, err := time.ParseInLocation("2006-01", *backfillMonth, loc)
			if err != nil {
				logger.Error("Invalid backfill month", "month", *backfillMonth, log.FieldError, err)
				os.Exit(2)
			}
			period = core.MonthOf(t)
		}
		n, err := hw.Backfill(context.Background(), *backfillCompany, period)
		if err != nil {
			logger.Error("Backfill failed", log.FieldError, err, "synced", n)
			os.Exit(1)
		}
		logger.Info("Backfill done", log.FieldCompanyID, *backfillCompany, log.FieldPeriod, period.Label(), "synced", n)
		return
	}

	if !cfg.AMQPEnabled() {
		logger.Error("AMQP_URL is required to consume transaction events")
		os.Exit(1)
	}
	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}

	consumed := make(chan struct{})
	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		select {
		case <-consumed:
		case <-shutdownCtx.Done():
		}
		if err := amqpClient.Close(); err != nil {
			logger.Warn("AMQP close error", log.FieldError, err)
		}
	})

	go func() {
		defer close(consumed)
		err := amqpClient.ConsumeTransactionChanged(ctx, hw.HandleTransactionChanged)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Message consumption failed", log.FieldError, err)
		}
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped")
}

func serveMetrics(logger *log.Logger, addr string) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Metrics listener failed", log.FieldError, err, "addr", addr)
	}
}
