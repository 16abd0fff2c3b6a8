package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Cleaner deletes expired reservations and reports how many were removed.
type Cleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// Lease decides whether this process may sweep for the current tick. It lets
// several api replicas share one schedule.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
}

type alwaysLease struct{}

func (alwaysLease) Acquire(context.Context) (bool, error) { return true, nil }

// Sweeper periodically removes expired reservations. Expired holds are already
// ignored by every availability query, so a missed sweep only delays storage
// reclamation.
type Sweeper struct {
	cleaner  Cleaner
	interval time.Duration
	lease    Lease
	logger   *zap.Logger
}

// New builds a sweeper. A nil lease means every tick sweeps.
func New(cleaner Cleaner, interval time.Duration, lease Lease, logger *zap.Logger) *Sweeper {
	if lease == nil {
		lease = alwaysLease{}
	}
	return &Sweeper{
		cleaner:  cleaner,
		interval: interval,
		lease:    lease,
		logger:   logger,
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("Reservation sweeper started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("Reservation sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			s.logger.Info("Reservation sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// SweepOnce runs a single cleanup if the lease is held. It returns the number
// of reservations removed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	ok, err := s.lease.Acquire(ctx)
	if err != nil {
		// Losing the lease backend must not stop reclamation.
		s.logger.Warn("Sweep lease unavailable, sweeping anyway", zap.Error(err))
	} else if !ok {
		s.logger.Debug("Sweep lease held elsewhere, skipping")
		return 0, nil
	}

	return s.cleaner.CleanupExpired(ctx)
}
