// Command migrate applies or reports the database migrations.
//
//	migrate up      apply pending migrations (default)
//	migrate status  print applied and pending migrations
package main

import (
	"context"
	"os"
	"time"

	"github.com/diagnosis/pawstay-bookings/pkg/config"
	"github.com/diagnosis/pawstay-bookings/pkg/database"
	"github.com/diagnosis/pawstay-bookings/pkg/logger"
)

func main() {
	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	cfg := config.Load()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	switch cmd {
	case "up":
		err = database.Migrate(ctx, pool)
	case "status":
		err = database.MigrationStatus(ctx, pool)
	default:
		logger.Error("Unknown command, want up or status", "command", cmd)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("Migration failed", "command", cmd, "error", err)
		os.Exit(1)
	}
	logger.Info("Migrations done", "command", cmd)
}
