package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"cuentas/internal/accounting"
	"cuentas/internal/amqp"
	"cuentas/internal/cache"
	"cuentas/internal/cli"
	"cuentas/internal/fx"
	apphttp "cuentas/internal/http"
	"cuentas/internal/log"
	"cuentas/internal/metrics"
	"cuentas/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger, true)

	policy, _ := cfg.TaxPolicy()
	loc, _ := cfg.Location()
	metrics.Init()

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	backend, err := cli.OpenStore(startCtx, cfg, logger)
	cancelStart()
	if err != nil {
		logger.Error("Failed to open ledger", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	// Events are optional: without a broker, history is written in-process.
	var publisher services.Publisher
	var amqpClient *amqp.Client
	if cfg.AMQPEnabled() {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err)
			os.Exit(1)
		}
		publisher = amqpClient
		logger.Info("AMQP publishing enabled", "exchange", cfg.AMQPExchange)
	} else {
		logger.Info("AMQP disabled, history is written synchronously")
	}

	rates := fx.New(cfg.FXURL, cfg.FXCacheTTL, fx.WithLogger(logger))
	janitor := cache.NewJanitor(logger.WithComponent(log.ComponentFX))
	if c, ok := rates.Cache().(cache.Cleaner); ok {
		janitor.Register(c)
	}

	reports := accounting.New(backend,
		accounting.WithLocation(loc),
		accounting.WithLogger(logger))
	txService := services.NewTransactionService(backend, publisher, rates, policy, logger)

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Reports:        reports,
		Transactions:   txService,
		Companies:      backend,
		Rates:          rates,
		Ready:          backend.Ping,
		JWTSecret:      []byte(cfg.JWTSecret),
		RateLimitRPM:   cfg.RateLimitRPM,
		RequestTimeout: cfg.RequestTimeout,
		Location:       loc,
	}, logger)
	srv.MaxHeaderBytes = 1 << 16

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		janitor.Wait()
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("AMQP close error", log.FieldError, err)
			}
		}
		if err := backend.Close(); err != nil {
			logger.Warn("Ledger close error", log.FieldError, err)
		}
	})
	janitor.Run(ctx, 10*time.Minute)

	logger.Info("Starting cuentas server",
		"port", cfg.Port,
		"backend", backend.Name,
		"timezone", cfg.Timezone,
		"vat_rate", policy.Rate.String())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
