package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"storefront/internal/config"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

// Service owns the connection pool and the database/sql handle built on top of it.
type Service struct {
	pool   *pgxpool.Pool
	db     *sql.DB
	logger *zap.Logger
}

// New opens a pgx pool for cfg and waits for the database to accept connections.
func New(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*Service, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	const attempts = 30
	for i := 0; i < attempts; i++ {
		if err = pool.Ping(ctx); err == nil {
			logger.Info("Connected to database",
				zap.String("host", cfg.Host),
				zap.String("database", cfg.Database),
				zap.Int32("max_conns", poolCfg.MaxConns),
			)
			return &Service{pool: pool, db: stdlib.OpenDBFromPool(pool), logger: logger}, nil
		}
		logger.Warn("Waiting for database", zap.Int("attempt", i+1), zap.Error(err))

		select {
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}

	pool.Close()
	return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", attempts, err)
}

// DB returns the database/sql handle used by repositories and migrations.
func (s *Service) DB() *sql.DB {
	return s.db
}

// Health reports pool statistics and whether the database answers a ping.
func (s *Service) Health(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	stats := make(map[string]string)
	if err := s.pool.Ping(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = err.Error()
		return stats
	}

	ps := s.pool.Stat()
	stats["status"] = "up"
	stats["total_conns"] = strconv.Itoa(int(ps.TotalConns()))
	stats["idle_conns"] = strconv.Itoa(int(ps.IdleConns()))
	stats["acquired_conns"] = strconv.Itoa(int(ps.AcquiredConns()))
	stats["max_conns"] = strconv.Itoa(int(ps.MaxConns()))
	return stats
}

func (s *Service) Close() error {
	s.logger.Info("Closing database pool")
	err := s.db.Close()
	s.pool.Close()
	return err
}
