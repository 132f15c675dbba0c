package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shiva/rentwheels/config"
	"github.com/shiva/rentwheels/internal/auth"
	"github.com/shiva/rentwheels/internal/handler"
	"github.com/shiva/rentwheels/internal/middleware"
	"github.com/shiva/rentwheels/internal/model"
	"github.com/shiva/rentwheels/internal/repository"
	"github.com/shiva/rentwheels/internal/service"
	"github.com/shiva/rentwheels/migrations"
	"github.com/shiva/rentwheels/pkg/cache"
	"github.com/shiva/rentwheels/pkg/db"
	"github.com/shiva/rentwheels/pkg/fare"
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	inMemory bool
	migrate  bool
}

func newServeCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.inMemory, "in-memory", false, "keep bookings in process memory instead of PostgreSQL")
	cmd.Flags().BoolVar(&opts.migrate, "migrate", false, "apply pending migrations before serving")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger, opts serveOptions) error {
	checks := make(map[string]handler.HealthCheck)

	// ── Connect to Redis ────────────────────────────────
	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect to Redis: %w", err)
	}
	defer redisClient.Close()
	checks["redis"] = func(ctx context.Context) error { return cache.HealthCheck(ctx, redisClient) }
	log.Info("redis connected", zap.String("addr", cfg.Redis.Addr()))

	// ── Booking store ───────────────────────────────────
	var store service.BookingStore
	if opts.inMemory {
		store = repository.NewMemoryBookingRepository()
		log.Warn("bookings are kept in memory and lost on exit")
	} else {
		pgPool, err := db.NewPostgresPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("connect to PostgreSQL: %w", err)
		}
		defer pgPool.Close()
		log.Info("postgres connected", zap.String("host", cfg.Postgres.Host), zap.String("db", cfg.Postgres.DBName))

		if opts.migrate {
			if err := migrations.Apply(ctx, pgPool, log); err != nil {
				return err
			}
		}
		store = repository.NewBookingRepository(pgPool)
		checks["postgres"] = func(ctx context.Context) error { return db.HealthCheck(ctx, pgPool) }
	}

	// ── Initialize layers ───────────────────────────────
	calc, err := fare.NewCalculator(cfg.Tariff.Rates())
	if err != nil {
		return err
	}
	tokens, err := auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	pricingSvc := service.NewPricingService(calc, repository.NewQuoteRepository(redisClient), cfg.Tariff.QuoteTTL, log)
	bookingSvc := service.NewBookingService(store, pricingSvc, cfg.Handover.Policy(), log)
	handoverSvc := service.NewHandoverService(store, repository.NewAttemptRepository(redisClient), service.HandoverOptions{
		Policy:          cfg.Handover.Policy(),
		Zone:            cfg.Display.Zone(),
		RecheckInterval: cfg.Handover.RecheckInterval,
		MaxAttempts:     cfg.Handover.MaxAttempts,
		LockoutWindow:   cfg.Handover.LockoutWindow,
		InFlightTTL:     cfg.Handover.InFlightTTL,
	}, log)

	events := log.Named("events")
	handoverSvc.OnVerified = func(_ context.Context, res model.VerifiedResult) {
		events.Info("handover completed",
			zap.Int64("booking_id", res.BookingID),
			zap.String("kind", string(res.Kind)),
			zap.String("status", string(res.NewStatus)),
			zap.Time("verified_at", res.VerifiedAt),
		)
	}

	router := handler.NewRouter(handler.Handlers{
		Pricing:  handler.NewPricingHandler(pricingSvc, log),
		Booking:  handler.NewBookingHandler(bookingSvc, log),
		Handover: handler.NewHandoverHandler(handoverSvc, log),
	}, middleware.Authenticate(tokens), checks)

	// Recover outermost so panics in logging or CORS are caught too.
	h := middleware.Recoverer(log)(
		middleware.RequestID(
			middleware.RequestLogger(log)(
				middleware.CORS(cfg.Server.CORSOrigins...)(router))))

	// ── Start HTTP server ───────────────────────────────
	srv := &http.Server{
		Addr:         cfg.Server.ServerAddr(),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// ── Graceful shutdown ───────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		log.Info("server gracefully stopped")
		return nil
	})

	return g.Wait()
}
