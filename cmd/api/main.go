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

	"storefront/internal/config"
	"storefront/internal/database"
	"storefront/internal/events"
	"storefront/internal/logger"
	"storefront/internal/server"
	"storefront/internal/service"
	"storefront/internal/sweeper"
	"storefront/internal/telemetry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

// gracefulShutdown waits for ctx to end and gives in-flight requests
// shutdownTimeout to finish.
func gracefulShutdown(ctx context.Context, apiServer *server.Server, log *zap.Logger) error {
	<-ctx.Done()

	log.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
		return err
	}
	return nil
}

func newPublisher(cfg config.RabbitMQConfig, log *zap.Logger) (service.OrderPublisher, func()) {
	if cfg.URL == "" {
		log.Info("RABBITMQ_URL not set, order events go to the log")
		return events.NewLogPublisher(log), func() {}
	}

	pub, err := events.NewRabbitPublisher(cfg.URL, cfg.Exchange, log)
	if err != nil {
		// Events are best effort; checkout must keep working without a broker.
		log.Error("Could not connect to RabbitMQ, order events go to the log", zap.Error(err))
		return events.NewLogPublisher(log), func() {}
	}
	return pub, func() {
		if err := pub.Close(); err != nil {
			log.Warn("Failed to close RabbitMQ publisher", zap.Error(err))
		}
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry, log)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			log.Warn("Failed to flush telemetry", zap.Error(err))
		}
	}()

	dbService, err := database.New(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbService.Close()

	if err := database.RunMigrations(dbService.DB(), "migrations", log); err != nil {
		return err
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn("Redis unavailable, rate limiting fails open", zap.Error(err))
	}

	publisher, closePublisher := newPublisher(cfg.RabbitMQ, log)
	defer closePublisher()

	services := server.NewServices(cfg, log, dbService.DB(), publisher)
	srv := server.NewServer(cfg, log, services, redisClient, dbService.Health)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return gracefulShutdown(gctx, srv, log)
	})

	if cfg.Reservation.SweepEnabled {
		hostname, _ := os.Hostname()
		lease := sweeper.NewRedisLease(redisClient, "storefront:sweeper:lease", hostname, cfg.Reservation.SweepInterval/2)
		sw := sweeper.New(services.Stock, cfg.Reservation.SweepInterval, lease, log.Named("sweeper"))
		g.Go(func() error {
			return sw.Run(gctx)
		})
	}

	return g.Wait()
}

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.Server.Env, cfg.Server.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	log.Info("Starting storefront API",
		zap.String("env", cfg.Server.Env),
		zap.String("port", cfg.Server.Port),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("Storefront API stopped with error", zap.Error(err))
	}

	log.Info("Graceful shutdown complete")
}
