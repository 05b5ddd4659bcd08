package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"listing-wizard/internal/api"
	"listing-wizard/internal/config"
	"listing-wizard/internal/listing"
	"listing-wizard/internal/notify"
	"listing-wizard/internal/seller"
	"listing-wizard/internal/storage"
	"listing-wizard/internal/wizard"
	"listing-wizard/pkg/geocode"
	"listing-wizard/pkg/logger"
	"listing-wizard/pkg/redis"
)

func main() {
	migrate := flag.String("migrate", "", "run a migration command (up, down, status) and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	zapLogger, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer zapLogger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *migrate, zapLogger); err != nil {
		zapLogger.Fatal("Service stopped with error", zap.Error(err))
	}
	zapLogger.Info("Service shutdown gracefully")
}

func run(ctx context.Context, cfg *config.Config, migrate string, log *zap.Logger) error {
	redisClient := redis.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()

	if err := redisClient.Ping(ctx); err != nil {
		log.Warn("Redis is not reachable yet, wizard snapshots will be retried per request", zap.Error(err))
	}

	pgStorage, err := storage.NewPostgresStorage(ctx, cfg, redisClient, log)
	if err != nil {
		return fmt.Errorf("init PostgreSQL storage: %w", err)
	}
	defer pgStorage.Close()

	if migrate != "" {
		return runMigrate(ctx, pgStorage, migrate, log)
	}

	if cfg.RunMigrations {
		if err := storage.RunMigrations(ctx, pgStorage.DB().DB, log); err != nil {
			return err
		}
	}

	notifier, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChannelID, log)
	if err != nil {
		return fmt.Errorf("init notifier: %w", err)
	}

	svc := seller.NewService(seller.Deps{
		Bridge:    wizard.NewBridge(redisClient, cfg.WizardTTL, log),
		Assembler: listing.NewAssembler(),
		Inserter:  pgStorage,
		Limiter:   pgStorage,
		Notifier:  notifier,
		Geocoder:  geocode.NewClient(cfg.GeocoderURL, cfg.GeocoderUserAgent, cfg.HTTPRequestTimeout, log),
	}, seller.Options{
		PublishLimit:  cfg.PublishLimit,
		PublishWindow: cfg.PublishWindow,
		IdleTimeout:   cfg.SessionIdleTimeout,
	}, log)
	go svc.Run(ctx, time.Minute)

	router := api.NewRouter(
		api.NewWizardHandler(svc, log),
		api.NewDealerHandler(pgStorage, log),
		map[string]api.HealthCheck{
			"redis":    redisClient.Ping,
			"postgres": pgStorage.DB().PingContext,
		},
		log,
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}

	if n := svc.Flush(shutdownCtx); n > 0 {
		log.Info("Flushed wizard sessions", zap.Int("count", n))
	}
	return nil
}

func runMigrate(ctx context.Context, pg *storage.PostgresStorage, command string, log *zap.Logger) error {
	db := pg.DB().DB
	switch command {
	case "up":
		return storage.RunMigrations(ctx, db, log)
	case "down":
		return storage.RollbackMigration(ctx, db, log)
	case "status":
		return storage.Status(ctx, db, log)
	default:
		return fmt.Errorf("unknown migrate command %q", command)
	}
}
