// Command sweeper runs only the hold expiry loop, for deployments that keep
// the API replicas free of background work.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/diagnosis/pawstay-bookings/pkg/config"
	"github.com/diagnosis/pawstay-bookings/pkg/logger"
	"github.com/diagnosis/pawstay-bookings/pkg/telemetry"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/app"
)

func main() {
	cfg := config.Load()
	if cfg.Telemetry.ServiceName == "pawstay-bookings" {
		cfg.Telemetry.ServiceName = "pawstay-sweeper"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Telemetry)
	if err != nil {
		logger.Error("Failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	a, err := app.New(ctx, cfg, "sweeper")
	if err != nil {
		logger.Error("Failed to start sweeper", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	a.Sweeper().Start(ctx)
}
