package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"

	"storefront/internal/config"
	"storefront/internal/database"
	"storefront/internal/logger"
	"storefront/internal/repository"
	"storefront/internal/service"
	"storefront/internal/sweeper"

	"go.uber.org/zap"
)

func main() {
	once := flag.Bool("once", false, "delete expired reservations once and exit")
	flag.Parse()

	cfg := config.Load()

	log, err := logger.New(cfg.Server.Env, cfg.Server.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbService, err := database.New(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer dbService.Close()

	store := repository.NewStore(dbService.DB(), log, cfg.Checkout.MaxRetries)
	stock := service.NewStockService(store, log,
		service.WithReservationPolicy(cfg.Reservation.TTL, cfg.Reservation.ExtendWindow))

	// A standalone sweeper is the only one running, so no lease.
	sw := sweeper.New(stock, cfg.Reservation.SweepInterval, nil, log)

	if *once {
		deleted, err := sw.SweepOnce(ctx)
		if err != nil {
			log.Fatal("Reservation sweep failed", zap.Error(err))
		}
		log.Info("Reservation sweep finished", zap.Int64("deleted_count", deleted))
		return
	}

	if err := sw.Run(ctx); err != nil {
		log.Fatal("Reservation sweeper stopped with error", zap.Error(err))
	}
}
