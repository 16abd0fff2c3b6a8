package service

import (
	"context"
	"fmt"
	"time"

	"storefront/internal/domain"
	"storefront/internal/repository"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// StockService is the single authority for sellable quantity. It never
// changes a product's total stock; only checkout does that.
type StockService interface {
	Available(ctx context.Context, productID uuid.UUID) (int, error)
	CheckAvailable(ctx context.Context, productID uuid.UUID, quantity int) (bool, error)
	PublicView(ctx context.Context, productID uuid.UUID) (*domain.PublicProductView, error)
	AdminView(ctx context.Context, productID uuid.UUID) (*domain.AdminStockView, error)

	Reserve(ctx context.Context, cartID, productID uuid.UUID, quantity int) (*domain.Reservation, error)
	ReleaseForCartProduct(ctx context.Context, cartID, productID uuid.UUID) error
	ReleaseForCart(ctx context.Context, cartID uuid.UUID) (int64, error)
	Extend(ctx context.Context, cartID, productID uuid.UUID) (bool, error)
	CleanupExpired(ctx context.Context) (int64, error)
}

type stockService struct {
	store  repository.Store
	engine *reservationEngine
	logger *zap.Logger
	views  singleflight.Group
}

// NewStockService creates a new instance of StockService
func NewStockService(store repository.Store, logger *zap.Logger, opts ...Option) StockService {
	return &stockService{
		store:  store,
		engine: newReservationEngine(logger, opts),
		logger: logger,
	}
}

// level reads total stock and active holds from one snapshot.
func (s *stockService) level(ctx context.Context, productID uuid.UUID) (*domain.StockLevel, error) {
	level, err := s.store.Repos().Products.StockLevel(ctx, productID, s.engine.now())
	if err != nil {
		return nil, notFound(err)
	}
	return level, nil
}

// Available returns the clamped sellable quantity. Inactive products have none.
func (s *stockService) Available(ctx context.Context, productID uuid.UUID) (int, error) {
	level, err := s.level(ctx, productID)
	if err != nil {
		return 0, err
	}

	available := s.engine.clamp(ctx, productID, level.TotalStock, level.Reserved)
	if !level.IsActive {
		return 0, nil
	}
	return available, nil
}

// CheckAvailable reports whether quantity units could be held right now.
func (s *stockService) CheckAvailable(ctx context.Context, productID uuid.UUID, quantity int) (bool, error) {
	if quantity <= 0 {
		return false, ErrInvalidQuantity
	}

	available, err := s.Available(ctx, productID)
	if err != nil {
		return false, err
	}
	return quantity <= available, nil
}

// publicViewTimeout bounds a shared availability lookup, which no longer
// follows any single caller's context.
const publicViewTimeout = 5 * time.Second

// PublicView hides total stock and inactive products. Concurrent requests for
// the same product share one database round trip; each caller still returns
// as soon as its own context ends.
func (s *stockService) PublicView(ctx context.Context, productID uuid.UUID) (*domain.PublicProductView, error) {
	ch := s.views.DoChan(productID.String(), func() (interface{}, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publicViewTimeout)
		defer cancel()
		return s.lookupPublicView(lookupCtx, productID)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		view := *res.Val.(*domain.PublicProductView)
		return &view, nil
	}
}

func (s *stockService) lookupPublicView(ctx context.Context, productID uuid.UUID) (*domain.PublicProductView, error) {
	product, err := s.store.Repos().Products.FindByID(ctx, productID)
	if err != nil {
		return nil, notFound(err)
	}
	if !product.IsActive {
		return nil, fmt.Errorf("%w: product %s is not active", ErrNotFound, productID)
	}

	available, err := s.Available(ctx, productID)
	if err != nil {
		return nil, err
	}

	return &domain.PublicProductView{
		ID:        product.ID,
		Name:      product.Name,
		Price:     product.Price,
		ImageURL:  product.ImageURL,
		Available: available,
		InStock:   available > 0,
	}, nil
}

// AdminView exposes the ledger and the held quantity side by side.
func (s *stockService) AdminView(ctx context.Context, productID uuid.UUID) (*domain.AdminStockView, error) {
	product, err := s.store.Repos().Products.FindByID(ctx, productID)
	if err != nil {
		return nil, notFound(err)
	}

	level, err := s.level(ctx, productID)
	if err != nil {
		return nil, err
	}

	return &domain.AdminStockView{
		ID:         product.ID,
		Name:       product.Name,
		SKU:        product.SKU,
		IsActive:   level.IsActive,
		TotalStock: level.TotalStock,
		Reserved:   level.Reserved,
		Available:  s.engine.clamp(ctx, productID, level.TotalStock, level.Reserved),
	}, nil
}

// Reserve places a hold for cartID, replacing any hold it already has on the
// product. It does not touch cart items; shopper-facing holds go through
// CartService so the item and its hold change together.
func (s *stockService) Reserve(ctx context.Context, cartID, productID uuid.UUID, quantity int) (reservation *domain.Reservation, err error) {
	ctx, span := s.engine.inst.start(ctx, "StockService.Reserve",
		attribute.String("cart.id", cartID.String()),
		attribute.String("product.id", productID.String()),
		attribute.Int("quantity", quantity),
	)
	defer func() { end(span, err) }()

	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if _, err := repos.Carts.LockForUpdate(ctx, cartID); err != nil {
			return notFound(err)
		}

		product, err := s.engine.lockSellable(ctx, repos, productID)
		if err != nil {
			return err
		}

		reservation, err = s.engine.hold(ctx, repos, cartID, product, quantity, s.engine.now())
		return err
	})
	s.engine.recordHold(ctx, err)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Stock reserved",
		zap.String("cart_id", cartID.String()),
		zap.String("product_id", productID.String()),
		zap.Int("quantity", quantity),
		zap.Time("expires_at", reservation.ExpiresAt),
	)
	return reservation, nil
}

// ReleaseForCartProduct is idempotent: releasing nothing is not an error.
func (s *stockService) ReleaseForCartProduct(ctx context.Context, cartID, productID uuid.UUID) error {
	if _, err := s.store.Repos().Reservations.DeleteByCartProduct(ctx, cartID, productID); err != nil {
		return err
	}
	return nil
}

func (s *stockService) ReleaseForCart(ctx context.Context, cartID uuid.UUID) (int64, error) {
	return s.store.Repos().Reservations.DeleteByCart(ctx, cartID)
}

// Extend pushes the hold's expiry to now+TTL if it was created within the
// extension window. It returns false when there is no active hold or it is too old.
func (s *stockService) Extend(ctx context.Context, cartID, productID uuid.UUID) (bool, error) {
	return s.engine.extend(ctx, s.store.Repos(), cartID, productID, s.engine.now())
}

// CleanupExpired deletes every reservation whose expiry has passed.
func (s *stockService) CleanupExpired(ctx context.Context) (deleted int64, err error) {
	ctx, span := s.engine.inst.start(ctx, "StockService.CleanupExpired")
	defer func() { end(span, err) }()

	deleted, err = s.store.Repos().Reservations.DeleteExpired(ctx, s.engine.now())
	if err != nil {
		return 0, err
	}

	span.SetAttributes(attribute.Int64("reservations.deleted", deleted))
	if deleted > 0 {
		s.engine.inst.reservationsSwept.Add(ctx, deleted)
		s.logger.Info("Expired reservations cleaned up", zap.Int64("deleted", deleted))
	}
	return deleted, nil
}
