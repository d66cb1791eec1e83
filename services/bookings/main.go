package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/diagnosis/pawstay-bookings/pkg/config"
	"github.com/diagnosis/pawstay-bookings/pkg/logger"
	mw "github.com/diagnosis/pawstay-bookings/pkg/middleware"
	"github.com/diagnosis/pawstay-bookings/pkg/telemetry"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/app"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/handlers"
	"github.com/diagnosis/pawstay-bookings/services/bookings/internal/pricing"
)

const serviceName = "bookings"

func main() {
	if err := run(); err != nil {
		logger.Error("Bookings service error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	a, err := app.New(ctx, cfg, serviceName)
	if err != nil {
		return err
	}
	defer a.Close()

	defaultModel, err := pricing.ParseModel(cfg.Booking.PricingModel)
	if err != nil {
		return err
	}
	h := handlers.New(handlers.Deps{
		Capacity:     a.Capacity,
		Holds:        a.Holds,
		Bookings:     a.Bookings,
		Dogs:         a.Dogs,
		Engine:       a.Engine,
		Gateway:      a.Gateway,
		Location:     a.Location,
		DefaultModel: defaultModel,
	})

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName(serviceName))
	r.Use(mw.Logging)
	r.Use(chimw.Recoverer)
	r.Use(mw.CORS(cfg.Server.AllowedOrigins))
	r.Use(mw.Health)
	r.Use(mw.Metrics(a.Registry))
	h.Routes(r, cfg.Auth.JWTSecret, mw.NewRateLimiter(cfg.Server.ReservationRPS, cfg.Server.ReservationBurst))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting bookings service", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		a.Sweeper().Start(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down bookings service...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
