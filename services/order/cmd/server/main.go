// Command server runs the order service: the HTTP API and the sagas that
// place and cancel orders across inventory and payments.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/utafrali/ordersaga/pkg/logger"
	"github.com/utafrali/ordersaga/services/order/internal/app"
	"github.com/utafrali/ordersaga/services/order/internal/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error("order service exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New("order-service", cfg.LogLevel)
	slog.SetDefault(log)
	log.Info("starting order service",
		slog.String("environment", cfg.Environment),
		slog.Int("http_port", cfg.HTTPPort),
		slog.String("order_number_backend", cfg.OrderNumberBackend),
		slog.Bool("kafka_enabled", cfg.KafkaEnabled),
		slog.Int64("tax_rate_basis_points", cfg.TaxRateBasisPoints),
	)

	application, err := app.NewApp(cfg, log)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Run returns after shutdown, which waits for running sagas.
	if err := application.Run(ctx); err != nil {
		return err
	}
	log.Info("order service stopped")
	return nil
}
