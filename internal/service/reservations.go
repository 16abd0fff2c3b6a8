package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront/internal/domain"
	"storefront/internal/repository"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Option tunes the reservation policy and clock shared by the services.
type Option func(*settings)

type settings struct {
	now          func() time.Time
	ttl          time.Duration
	extendWindow time.Duration
}

func defaultSettings() settings {
	return settings{
		now:          time.Now,
		ttl:          domain.ReservationTTL,
		extendWindow: domain.ReservationExtendWindow,
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		s.now = now
	}
}

// WithReservationPolicy overrides the hold TTL and the extension age window.
// Non-positive values keep the defaults.
func WithReservationPolicy(ttl, extendWindow time.Duration) Option {
	return func(s *settings) {
		if ttl > 0 {
			s.ttl = ttl
		}
		if extendWindow > 0 {
			s.extendWindow = extendWindow
		}
	}
}

// reservationEngine holds the rules every hold goes through, whichever
// service triggers it.
type reservationEngine struct {
	settings
	logger *zap.Logger
	inst   *instruments
}

func newReservationEngine(logger *zap.Logger, opts []Option) *reservationEngine {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	return &reservationEngine{settings: s, logger: logger, inst: newInstruments()}
}

// clamp turns a raw availability into the externally visible value. A negative
// input is a bug in the ledger or the reservation set and is reported loudly.
func (e *reservationEngine) clamp(ctx context.Context, productID uuid.UUID, totalStock, reserved int) int {
	raw := domain.ComputeAvailable(totalStock, reserved)
	if raw >= 0 {
		return raw
	}

	e.logger.Error("inconsistent state: negative availability",
		zap.String("product_id", productID.String()),
		zap.Int("total_stock", totalStock),
		zap.Int("reserved", reserved),
		zap.Int("available", raw),
	)
	e.inst.inconsistentState.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", "negative_availability"),
	))
	return 0
}

// cartLockAttempts bounds how often lockCart replaces a cart that a concurrent
// checkout deleted while we waited for its lock.
const cartLockAttempts = 3

// lockCart takes the row lock on the user's cart. It must run before any
// product lock. With create set a missing cart is created, including one that
// a checkout deleted while this transaction waited on it.
func (e *reservationEngine) lockCart(ctx context.Context, repos repository.Repositories, userID uuid.UUID, create bool) (*domain.Cart, error) {
	for attempt := 0; attempt < cartLockAttempts; attempt++ {
		if create {
			if _, err := repos.Carts.GetOrCreate(ctx, userID, e.now()); err != nil {
				return nil, err
			}
		}

		cart, err := repos.Carts.LockByUserID(ctx, userID)
		if err == nil {
			return cart, nil
		}
		if !create || !errors.Is(err, repository.ErrCartNotFound) {
			return nil, notFound(err)
		}

		e.logger.Debug("Cart deleted while waiting for its lock, recreating",
			zap.String("user_id", userID.String()),
			zap.Int("attempt", attempt+1),
		)
	}
	return nil, fmt.Errorf("%w: cart of user %s kept disappearing", ErrConcurrencyConflict, userID)
}

// lockSellable takes the product row lock and rejects inactive products.
func (e *reservationEngine) lockSellable(ctx context.Context, repos repository.Repositories, productID uuid.UUID) (*domain.Product, error) {
	product, err := repos.Products.LockForUpdate(ctx, productID)
	if err != nil {
		return nil, notFound(err)
	}
	if !product.IsActive {
		return nil, fmt.Errorf("%w: product %s is not active", ErrNotFound, productID)
	}
	return product, nil
}

// hold replaces whatever the cart holds on product with a fresh reservation of
// quantity units. The caller must hold the product row lock. The old hold is
// deleted before the availability check, so it counts toward the new request;
// if the check fails the surrounding transaction rolls the delete back.
func (e *reservationEngine) hold(ctx context.Context, repos repository.Repositories, cartID uuid.UUID, product *domain.Product, quantity int, now time.Time) (*domain.Reservation, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	if _, err := repos.Reservations.DeleteByCartProduct(ctx, cartID, product.ID); err != nil {
		return nil, err
	}

	reserved, err := repos.Reservations.SumActiveByProduct(ctx, product.ID, now)
	if err != nil {
		return nil, err
	}

	available := e.clamp(ctx, product.ID, product.Stock, reserved)
	if quantity > available {
		return nil, &InsufficientStockError{
			ProductID: product.ID,
			Requested: quantity,
			Available: available,
		}
	}

	reservation := domain.NewReservation(cartID, product.ID, quantity, now, e.ttl)
	if err := repos.Reservations.Create(ctx, reservation); err != nil {
		return nil, err
	}

	return reservation, nil
}

// extend renews the cart's active hold on product if it is young enough.
func (e *reservationEngine) extend(ctx context.Context, repos repository.Repositories, cartID, productID uuid.UUID, now time.Time) (bool, error) {
	reservation, err := repos.Reservations.FindActive(ctx, cartID, productID, now)
	if err != nil {
		if errors.Is(err, repository.ErrReservationNotFound) {
			return false, nil
		}
		return false, err
	}

	if !reservation.CanExtend(now, e.extendWindow) {
		e.logger.Debug("Reservation too old to extend",
			zap.String("reservation_id", reservation.ID.String()),
			zap.Time("created_at", reservation.CreatedAt),
		)
		return false, nil
	}

	return repos.Reservations.UpdateExpiry(ctx, reservation.ID, now.Add(e.ttl), now)
}

// recordHold updates the reservation counters once a unit of work has finished.
func (e *reservationEngine) recordHold(ctx context.Context, err error) {
	switch {
	case err == nil:
		e.inst.reservationsCreated.Add(ctx, 1)
	case errors.Is(err, ErrInsufficientStock):
		e.inst.reservationsRejected.Add(ctx, 1)
	}
}
