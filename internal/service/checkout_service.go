package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront/internal/domain"
	"storefront/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// OrderPublisher hands committed orders to the order/payment layer.
type OrderPublisher interface {
	PublishOrderCommitted(ctx context.Context, order *domain.Order) error
}

// CheckoutService turns a cart into an order. Validation and commit lock the
// cart row and then its product rows in ascending id order for the whole
// unit of work, so no cart mutation can interleave with them.
type CheckoutService interface {
	Validate(ctx context.Context, userID uuid.UUID) (*domain.CheckoutReport, error)
	Commit(ctx context.Context, userID uuid.UUID, shipping domain.ShippingDetails) (*domain.Order, error)
	GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*domain.Order, error)
}

type checkoutService struct {
	store     repository.Store
	engine    *reservationEngine
	publisher OrderPublisher
	taxRate   decimal.Decimal
	currency  string
	logger    *zap.Logger
}

// NewCheckoutService creates a new instance of CheckoutService
func NewCheckoutService(
	store repository.Store,
	publisher OrderPublisher,
	taxRate decimal.Decimal,
	currency string,
	logger *zap.Logger,
	opts ...Option,
) CheckoutService {
	return &checkoutService{
		store:     store,
		engine:    newReservationEngine(logger, opts),
		publisher: publisher,
		taxRate:   taxRate,
		currency:  currency,
		logger:    logger,
	}
}

// Validate reports, per cart line, whether it can be fulfilled right now.
// It never changes state.
func (s *checkoutService) Validate(ctx context.Context, userID uuid.UUID) (report *domain.CheckoutReport, err error) {
	ctx, span := s.engine.inst.start(ctx, "CheckoutService.Validate",
		attribute.String("user.id", userID.String()),
	)
	defer func() { end(span, err) }()

	if userID == uuid.Nil {
		return nil, ErrNotAuthorized
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		cart, err := s.engine.lockCart(ctx, repos, userID, false)
		if err != nil {
			return err
		}

		report, _, err = s.evaluate(ctx, repos, cart.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return report, nil
}

type checkoutLine struct {
	item    *domain.CartItem
	product *domain.Product
}

// evaluate locks every product in the cart and applies the checkout rule to
// each line. The decision uses the raw availability; the report shows it clamped.
func (s *checkoutService) evaluate(ctx context.Context, repos repository.Repositories, cartID uuid.UUID) (*domain.CheckoutReport, []checkoutLine, error) {
	now := s.engine.now()

	items, err := repos.Carts.ListItems(ctx, cartID)
	if err != nil {
		return nil, nil, err
	}
	if len(items) == 0 {
		return nil, nil, ErrEmptyCart
	}

	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}

	products, err := repos.Products.LockManyForUpdate(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	report := &domain.CheckoutReport{CartID: cartID, Valid: true, Items: make([]domain.CheckoutItemReport, 0, len(items))}
	lines := make([]checkoutLine, 0, len(items))

	for _, item := range items {
		entry := domain.CheckoutItemReport{
			ProductID: item.ProductID,
			Requested: item.Quantity,
		}

		held, err := s.heldBy(ctx, repos, cartID, item.ProductID, now)
		if err != nil {
			return nil, nil, err
		}
		entry.Reserved = held

		product, ok := products[item.ProductID]
		if ok {
			entry.ProductName = product.Name

			reserved, err := repos.Reservations.SumActiveByProduct(ctx, product.ID, now)
			if err != nil {
				return nil, nil, err
			}

			raw := domain.ComputeAvailable(product.Stock, reserved)
			entry.Available = s.engine.clamp(ctx, product.ID, product.Stock, reserved)
			entry.Valid = product.IsActive && domain.EvaluateItem(item.Quantity, raw, held)
			if !product.IsActive {
				entry.Available = 0
			}
		}

		if !entry.Valid {
			report.Valid = false
		}
		report.Items = append(report.Items, entry)
		lines = append(lines, checkoutLine{item: item, product: product})
	}

	return report, lines, nil
}

// heldBy returns the quantity the cart itself holds on a product.
func (s *checkoutService) heldBy(ctx context.Context, repos repository.Repositories, cartID, productID uuid.UUID, now time.Time) (int, error) {
	reservation, err := repos.Reservations.FindActive(ctx, cartID, productID, now)
	if err != nil {
		if errors.Is(err, repository.ErrReservationNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return reservation.Quantity, nil
}

// Commit validates the cart and, if every line can be fulfilled, decrements
// the ledger, writes the order, releases the holds and deletes the cart as
// one unit. A rejected checkout changes nothing.
func (s *checkoutService) Commit(ctx context.Context, userID uuid.UUID, shipping domain.ShippingDetails) (order *domain.Order, err error) {
	ctx, span := s.engine.inst.start(ctx, "CheckoutService.Commit",
		attribute.String("user.id", userID.String()),
	)
	defer func() { end(span, err) }()

	if userID == uuid.Nil {
		return nil, ErrNotAuthorized
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		cart, err := s.engine.lockCart(ctx, repos, userID, false)
		if err != nil {
			return err
		}

		report, lines, err := s.evaluate(ctx, repos, cart.ID)
		if err != nil {
			return err
		}
		if !report.Valid {
			return &CheckoutRejectedError{Report: report}
		}

		for _, line := range lines {
			if err := repos.Products.DecrementStock(ctx, line.product.ID, line.item.Quantity); err != nil {
				return fmt.Errorf("failed to commit stock for product %s: %w", line.product.ID, err)
			}
		}

		order = s.buildOrder(userID, lines, shipping)
		if err := repos.Orders.Create(ctx, order); err != nil {
			return err
		}

		if _, err := repos.Reservations.DeleteByCart(ctx, cart.ID); err != nil {
			return err
		}
		if _, err := repos.Carts.DeleteItems(ctx, cart.ID); err != nil {
			return err
		}
		return repos.Carts.Delete(ctx, cart.ID)
	})
	if err != nil {
		var rejected *CheckoutRejectedError
		if errors.As(err, &rejected) {
			s.engine.inst.checkoutsRejected.Add(ctx, 1)
		}
		return nil, err
	}

	s.engine.inst.checkoutsCommitted.Add(ctx, 1)
	span.SetAttributes(attribute.String("order.id", order.ID.String()))
	s.logger.Info("Checkout committed",
		zap.String("order_id", order.ID.String()),
		zap.String("user_id", userID.String()),
		zap.Int("items", len(order.Items)),
		zap.String("total", order.Total.StringFixed(2)),
	)

	// TODO: write the event to an outbox table inside the checkout transaction so a
	// broker outage cannot drop it.
	if s.publisher != nil {
		if err := s.publisher.PublishOrderCommitted(ctx, order); err != nil {
			s.logger.Error("Failed to publish order committed event",
				zap.String("order_id", order.ID.String()),
				zap.Error(err),
			)
		}
	}

	return order, nil
}

func (s *checkoutService) buildOrder(userID uuid.UUID, lines []checkoutLine, shipping domain.ShippingDetails) *domain.Order {
	now := s.engine.now()
	order := &domain.Order{
		ID:                uuid.New(),
		UserID:            userID,
		Status:            domain.OrderStatusPending,
		Currency:          s.currency,
		ShippingCost:      shipping.Cost.Round(2),
		ShippingAddressID: shipping.AddressID,
		ShippingCarrier:   shipping.Carrier,
		Notes:             shipping.Notes,
		Items:             make([]domain.OrderItem, 0, len(lines)),
		CreatedAt:         now,
	}

	subtotal := decimal.Zero
	for _, line := range lines {
		item := domain.OrderItem{
			ID:          uuid.New(),
			OrderID:     order.ID,
			ProductID:   line.product.ID,
			ProductName: line.product.Name,
			Quantity:    line.item.Quantity,
			UnitPrice:   line.product.Price,
		}
		subtotal = subtotal.Add(item.LineTotal())
		order.Items = append(order.Items, item)
	}

	order.Subtotal = subtotal.Round(2)
	order.Tax = subtotal.Mul(s.taxRate).Round(2)
	order.Total = order.Subtotal.Add(order.Tax).Add(order.ShippingCost)
	return order
}

// GetOrder returns an order owned by userID. Orders of other users are
// reported as not found.
func (s *checkoutService) GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*domain.Order, error) {
	if userID == uuid.Nil {
		return nil, ErrNotAuthorized
	}

	order, err := s.store.Repos().Orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, notFound(err)
	}
	if order.UserID != userID {
		return nil, notFound(repository.ErrOrderNotFound)
	}
	return order, nil
}
