// Package app wires the booking core to its infrastructure. Both the API
// process and the standalone sweeper build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/diagnosis/pawstay-bookings/pkg/clock"
	"github.com/diagnosis/pawstay-bookings/pkg/config"
	"github.com/diagnosis/pawstay-bookings/pkg/database"
	"github.com/diagnosis/pawstay-bookings/pkg/events"
	"github.com/diagnosis/pawstay-bookings/pkg/lock"
	"github.com/diagnosis/pawstay-bookings/pkg/logger"
	"github.com/diagnosis/pawstay-bookings/pkg/telemetry"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/payments"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/pricing"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/repository"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/service"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/sweeper"
)

type App struct {
	Config   *config.Config
	Pool     *pgxpool.Pool
	Bus      events.EventBus
	Registry *prometheus.Registry
	Metrics  *telemetry.Metrics
	Clock    clock.Clock
	Location *time.Location

	Capacity service.CapacityService
	Holds    service.HoldService
	Bookings service.BookingService
	Dogs     service.DogService
	Engine   *pricing.Engine
	// Gateway is nil when Stripe is not configured.
	Gateway payments.Gateway

	locker  sweeper.Locker
	closers []func()
}

// New connects to PostgreSQL and, when reachable, NATS and Redis. Only the
// database is mandatory; the others degrade to no-ops with a warning.
func New(ctx context.Context, cfg *config.Config, name string) (*App, error) {
	a := &App{
		Config:   cfg,
		Clock:    clock.NewSystem(),
		Location: cfg.Booking.Location(),
		Registry: prometheus.NewRegistry(),
	}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = telemetry.NewMetrics(a.Registry)

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.Pool = pool
	a.closers = append(a.closers, pool.Close)

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, pool); err != nil {
			a.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	a.Bus = events.NopBus{}
	if cfg.NATS.URL != "" {
		bus, err := events.NewNATSEventBus(cfg.NATS.URL, name)
		if err != nil {
			logger.Warn("NATS unavailable, events disabled", "error", err)
		} else {
			a.Bus = bus
			a.closers = append(a.closers, func() { bus.Close() })
		}
	}

	if cfg.Redis.URL != "" {
		client, err := lock.NewClient(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("Invalid REDIS_URL, sweep lock disabled", "error", err)
		} else if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis unavailable, sweep lock disabled", "error", err)
			client.Close()
		} else {
			a.locker = lock.NewLocker(client)
			a.closers = append(a.closers, func() { client.Close() })
		}
	}

	v2, err := pricing.RatesFromConfig(cfg.Pricing)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("pricing config: %w", err)
	}
	if v2 == nil {
		logger.Info("calendar_v2 rates not configured; only hours_v1 is available")
	}
	a.Engine = pricing.NewEngine(a.Location, v2)

	gw, err := payments.NewStripeGateway(cfg.Stripe)
	switch {
	case errors.Is(err, payments.ErrNotConfigured):
		logger.Warn("Stripe not configured, checkout disabled")
	case err != nil:
		a.Close()
		return nil, fmt.Errorf("stripe: %w", err)
	default:
		a.Gateway = gw
	}

	capRepo := repository.NewCapacityRepository(pool)
	holdRepo := repository.NewHoldRepository(pool)
	dogRepo := repository.NewDogRepository(pool)

	a.Capacity = service.NewCapacityService(capRepo, holdRepo,
		service.WithFallbackDefaults(cfg.Booking.DefaultCapacity),
		service.WithCapacityEvents(a.Bus),
		service.WithCapacityMetrics(a.Metrics),
		service.WithCapacityClock(a.Clock),
	)
	a.Holds = service.NewHoldService(holdRepo, a.Capacity, a.Clock,
		service.WithHoldTTL(cfg.Booking.HoldTTL),
		service.WithTrialGate(dogRepo, a.Location),
		service.WithHoldEvents(a.Bus),
		service.WithHoldMetrics(a.Metrics),
		service.WithSweepBatchSize(cfg.Booking.SweepBatchSize),
	)
	a.Bookings = service.NewBookingService(repository.NewBookingRepository(pool), a.Holds,
		a.Engine, a.Gateway, a.Bus, a.Clock, a.Location)
	a.Dogs = service.NewDogService(dogRepo, a.Clock, a.Location)

	return a, nil
}

func (a *App) Sweeper() *sweeper.Sweeper {
	return sweeper.New(a.Holds, a.locker, a.Clock, a.Metrics,
		a.Config.Booking.SweepInterval, a.Config.Booking.SweepLockTTL)
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
