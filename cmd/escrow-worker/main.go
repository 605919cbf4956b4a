package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/patungan-backend/internal/escrow"
	"github.com/angelmondragon/patungan-backend/pkg/config"
	"github.com/angelmondragon/patungan-backend/pkg/db"
	"github.com/angelmondragon/patungan-backend/pkg/fulfillment"
	"github.com/angelmondragon/patungan-backend/pkg/instance"
	"github.com/angelmondragon/patungan-backend/pkg/logger"
	"github.com/angelmondragon/patungan-backend/pkg/metrics"
	"github.com/angelmondragon/patungan-backend/pkg/migrate"
	"github.com/angelmondragon/patungan-backend/pkg/payment"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "escrow-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "escrow-worker"

	logg = logger.New(logger.Options{
		ServiceName: "escrow-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	paymentClient, err := payment.NewClient(cfg.Escrow, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create payment client", err)
		os.Exit(1)
	}
	fulfillmentClient, err := fulfillment.NewClient(cfg.Escrow, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create fulfillment client", err)
		os.Exit(1)
	}

	dispatcher, err := escrow.NewDispatcher(escrow.DispatcherParams{
		Config:      cfg.Escrow,
		Logger:      logg,
		Repo:        escrow.NewRepository(dbClient.DB()),
		Payment:     paymentClient,
		Fulfillment: fulfillmentClient,
		Metrics:     metrics.NewJobMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create escrow dispatcher", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})
	logg.Info(ctx, "starting escrow worker")

	if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "escrow worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "escrow worker shutting down gracefully")
}
