package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jensholdgaard/auction-house/internal/api"
	"github.com/jensholdgaard/auction-house/internal/auction"
	"github.com/jensholdgaard/auction-house/internal/clock"
	"github.com/jensholdgaard/auction-house/internal/config"
	"github.com/jensholdgaard/auction-house/internal/health"
	"github.com/jensholdgaard/auction-house/internal/leader"
	"github.com/jensholdgaard/auction-house/internal/notify"
	"github.com/jensholdgaard/auction-house/internal/store"
	"github.com/jensholdgaard/auction-house/internal/telemetry"

	// Register store drivers so they are available via store.Open.
	_ "github.com/jensholdgaard/auction-house/internal/store/memory"
	_ "github.com/jensholdgaard/auction-house/internal/store/postgres"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Load configuration.
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup telemetry.
	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger
	clk := clock.Real{}

	// Open store using the configured driver (postgres or memory).
	repos, err := store.Open(ctx, cfg.Database, clk)
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer repos.Closer.Close()

	logger.InfoContext(ctx, "connected to store", slog.String("driver", cfg.Database.Driver))

	// Assemble the notifier fan-out. Backends without configuration are
	// simply skipped.
	notifier, closeNotifiers, err := buildNotifier(ctx, cfg.Notify, logger)
	if err != nil {
		return fmt.Errorf("building notifier: %w", err)
	}
	defer closeNotifiers()

	engine := auction.NewEngine(repos, notifier, logger, tp.TracerProvider, clk, auction.Options{
		CloseOnAcceptedOffer: cfg.Auctions.CloseOnAcceptedOffer,
		AdminIDs:             cfg.Auctions.AdminIDs,
	})

	scheduler := auction.NewScheduler(repos, notifier, logger, tp.TracerProvider, clk,
		cfg.Auctions.TickInterval, cfg.Auctions.Retention)

	// Setup health checks.
	healthHandler := health.NewHandler(clk,
		health.Checker{
			Name:  "database",
			Check: repos.Ping,
		},
	)

	// Start the HTTP server (runs on all replicas; only the scheduler is
	// leader-gated).
	apiServer := api.NewServer(engine, healthHandler, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.InfoContext(ctx, "starting http server", slog.Int("port", cfg.Server.Port))
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && listenErr != http.ErrServerClosed {
			logger.ErrorContext(ctx, "http server error", slog.Any("error", listenErr))
		}
	}()

	// runScheduler is the core work that only the leader should run.
	runScheduler := func(ctx context.Context) {
		scheduler.Start(ctx)

		healthHandler.SetReady(true)
		logger.InfoContext(ctx, "auction scheduler is running (leader)", slog.String("version", version))

		// Block until leadership is lost or process is shutting down.
		<-ctx.Done()

		healthHandler.SetReady(false)
		scheduler.Stop()
	}

	if cfg.LeaderElection.Enabled {
		logger.InfoContext(ctx, "leader election enabled, waiting for leadership...")

		if leaderErr := leader.Run(ctx, cfg.LeaderElection, logger, runScheduler, func() {
			logger.Info("lost leadership, shutting down...")
			cancel()
		}); leaderErr != nil {
			return fmt.Errorf("leader election: %w", leaderErr)
		}
	} else {
		// No leader election, run the scheduler directly.
		scheduler.Start(ctx)

		healthHandler.SetReady(true)
		logger.InfoContext(ctx, "auction house is running", slog.String("version", version))

		// Wait for shutdown signal.
		<-ctx.Done()
		logger.Info("shutting down...")

		healthHandler.SetReady(false)
		scheduler.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.Any("error", err))
	}

	logger.Info("shutdown complete")
	return nil
}

// buildNotifier assembles the fan-out of configured notification backends.
// The log backend is always present so every event leaves a trace.
func buildNotifier(ctx context.Context, cfg config.NotifyConfig, logger *slog.Logger) (notify.Notifier, func(), error) {
	backends := notify.Multi{notify.Log{Logger: logger}}
	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.Redis.Addr != "" {
		r, err := notify.NewRedis(ctx, cfg.Redis, logger)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("redis notifier: %w", err)
		}
		backends = append(backends, r)
		closers = append(closers, func() {
			if closeErr := r.Close(); closeErr != nil {
				logger.Error("redis notifier close error", slog.Any("error", closeErr))
			}
		})
	}

	if cfg.Discord.Token != "" {
		d, err := notify.NewDiscord(cfg.Discord, logger)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("discord notifier: %w", err)
		}
		backends = append(backends, d)
		closers = append(closers, func() {
			if closeErr := d.Close(); closeErr != nil {
				logger.Error("discord notifier close error", slog.Any("error", closeErr))
			}
		})
	}

	return backends, closeAll, nil
}
