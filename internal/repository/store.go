package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// ErrConcurrencyConflict is returned once a unit of work has lost every retry
// against competing writers.
var ErrConcurrencyConflict = errors.New("concurrency conflict")

// Postgres error codes that mean "try the whole unit again".
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgUniqueViolation      = "23505"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repositories groups the repositories bound to one connection or transaction.
type Repositories struct {
	Products     ProductRepository
	Reservations ReservationRepository
	Carts        CartRepository
	Orders       OrderRepository
}

// Store gives access to repositories outside a transaction and runs atomic
// units of work inside one.
type Store interface {
	Repos() Repositories
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

type sqlStore struct {
	db         *sql.DB
	logger     *zap.Logger
	maxRetries uint64
}

// NewStore creates a Store backed by db. Transactions that fail with a
// serialization failure, deadlock or lock timeout are retried up to maxRetries times.
func NewStore(db *sql.DB, logger *zap.Logger, maxRetries int) Store {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &sqlStore{db: db, logger: logger, maxRetries: uint64(maxRetries)}
}

func newRepositories(q DBTX) Repositories {
	return Repositories{
		Products:     NewProductRepository(q),
		Reservations: NewReservationRepository(q),
		Carts:        NewCartRepository(q),
		Orders:       NewOrderRepository(q),
	}
}

func (s *sqlStore) Repos() Repositories {
	return newRepositories(s.db)
}

// WithinTx runs fn in a READ COMMITTED transaction. Callers take row locks
// (SELECT ... FOR UPDATE) on the cart first and then on the products they
// read-then-write, in ascending id order.
func (s *sqlStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	attempt := 0
	op := func() error {
		attempt++
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if IsRetryable(err) {
			s.logger.Warn("Transaction conflict, retrying",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxInterval = 250 * time.Millisecond

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, s.maxRetries), ctx))
	if err != nil && IsRetryable(err) {
		return fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
	}
	return err
}

func (s *sqlStore) runTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(ctx, newRepositories(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Error("Failed to roll back transaction", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IsRetryable reports whether err is a transient conflict with another writer.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
		return true
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
