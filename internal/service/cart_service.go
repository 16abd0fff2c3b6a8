package service

import (
	"context"
	"errors"

	"storefront/internal/domain"
	"storefront/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// CartService manages the single active cart of each user. Every item change
// rewrites the matching stock hold in the same transaction, after taking the
// cart row lock.
type CartService interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*domain.Cart, error)
	AddItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*domain.CartView, error)
	SetItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*domain.CartView, error)
	UpdateItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*domain.CartView, error)
	RemoveItem(ctx context.Context, userID, productID uuid.UUID) (*domain.CartView, error)
	Clear(ctx context.Context, userID uuid.UUID) (*domain.CartView, error)
	Details(ctx context.Context, userID uuid.UUID) (*domain.CartView, error)
	ExtendAll(ctx context.Context, userID uuid.UUID) (bool, error)
}

type cartService struct {
	store   repository.Store
	engine  *reservationEngine
	taxRate decimal.Decimal
	logger  *zap.Logger
}

// NewCartService creates a new instance of CartService
func NewCartService(store repository.Store, taxRate decimal.Decimal, logger *zap.Logger, opts ...Option) CartService {
	return &cartService{
		store:   store,
		engine:  newReservationEngine(logger, opts),
		taxRate: taxRate,
		logger:  logger,
	}
}

// GetOrCreate returns the user's cart, creating it on first use
func (s *cartService) GetOrCreate(ctx context.Context, userID uuid.UUID) (*domain.Cart, error) {
	if userID == uuid.Nil {
		return nil, ErrNotAuthorized
	}
	return s.store.Repos().Carts.GetOrCreate(ctx, userID, s.engine.now())
}

// AddItem adds quantity units of a product, merging into an existing line.
// On insufficient stock the cart is left exactly as it was.
func (s *cartService) AddItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*domain.CartView, error) {
	return s.putItem(ctx, "CartService.AddItem", userID, productID, quantity, true)
}

// SetItem makes the cart hold exactly quantity units of a product, creating
// the line when it does not exist yet. The hold always follows the line.
func (s *cartService) SetItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*domain.CartView, error) {
	return s.putItem(ctx, "CartService.SetItem", userID, productID, quantity, false)
}

func (s *cartService) putItem(ctx context.Context, spanName string, userID, productID uuid.UUID, quantity int, merge bool) (view *domain.CartView, err error) {
	ctx, span := s.engine.inst.start(ctx, spanName,
		attribute.String("user.id", userID.String()),
		attribute.String("product.id", productID.String()),
		attribute.Int("quantity", quantity),
	)
	defer func() { end(span, err) }()

	if userID == uuid.Nil {
		return nil, ErrNotAuthorized
	}
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		cart, err := s.engine.lockCart(ctx, repos, userID, true)
		if err != nil {
			return err
		}

		product, err := s.engine.lockSellable(ctx, repos, productID)
		if err != nil {
			return err
		}

		now := s.engine.now()

		item, err := repos.Carts.FindItem(ctx, cart.ID, productID)
		if err != nil && !errors.Is(err, repository.ErrCartItemNotFound) {
			return err
		}

		newQuantity := quantity
		if item != nil && merge {
			newQuantity += item.Quantity
		}

		if _, err := s.engine.hold(ctx, repos, cart.ID, product, newQuantity, now); err != nil {
			return err
		}

		if item != nil {
			if err := repos.Carts.UpdateItemQuantity(ctx, item.ID, newQuantity, now); err != nil {
				return err
			}
		} else {
			err := repos.Carts.CreateItem(ctx, &domain.CartItem{
				ID:        uuid.New(),
				CartID:    cart.ID,
				ProductID: productID,
				Quantity:  newQuantity,
				CreatedAt: now,
				UpdatedAt: now,
			})
			if err != nil {
				return err
			}
		}

		return repos.Carts.Touch(ctx, cart.ID, now)
	})
	s.engine.recordHold(ctx, err)
	if err != nil {
		return nil, err
	}

	return s.Details(ctx, userID)
}

// UpdateItem sets the absolute quantity of a line. A quantity of zero or less
// removes the line.
func (s *cartService) UpdateItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (view *domain.CartView, err error) {
	if quantity <= 0 {
		return s.RemoveItem(ctx, userID, productID)
	}

	ctx, span := s.engine.inst.start(ctx, "CartService.UpdateItem",
		attribute.String("user.id", userID.String()),
		attribute.String("product.id", productID.String()),
		attribute.Int("quantity", quantity),
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

		product, err := s.engine.lockSellable(ctx, repos, productID)
		if err != nil {
			return err
		}

		now := s.engine.now()

		item, err := repos.Carts.FindItem(ctx, cart.ID, productID)
		if err != nil {
			return notFound(err)
		}

		if _, err := s.engine.hold(ctx, repos, cart.ID, product, quantity, now); err != nil {
			return err
		}

		if err := repos.Carts.UpdateItemQuantity(ctx, item.ID, quantity, now); err != nil {
			return err
		}

		return repos.Carts.Touch(ctx, cart.ID, now)
	})
	s.engine.recordHold(ctx, err)
	if err != nil {
		return nil, err
	}

	return s.Details(ctx, userID)
}

// RemoveItem deletes a line and releases its hold
func (s *cartService) RemoveItem(ctx context.Context, userID, productID uuid.UUID) (*domain.CartView, error) {
	if userID == uuid.Nil {
		return nil, ErrNotAuthorized
	}

	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		cart, err := s.engine.lockCart(ctx, repos, userID, false)
		if err != nil {
			return err
		}

		now := s.engine.now()

		deleted, err := repos.Carts.DeleteItem(ctx, cart.ID, productID)
		if err != nil {
			return err
		}
		if deleted == 0 {
			return notFound(repository.ErrCartItemNotFound)
		}

		if _, err := repos.Reservations.DeleteByCartProduct(ctx, cart.ID, productID); err != nil {
			return err
		}

		return repos.Carts.Touch(ctx, cart.ID, now)
	})
	if err != nil {
		return nil, err
	}

	return s.Details(ctx, userID)
}

// Clear empties the cart and releases every hold tied to it
func (s *cartService) Clear(ctx context.Context, userID uuid.UUID) (*domain.CartView, error) {
	if userID == uuid.Nil {
		return nil, ErrNotAuthorized
	}

	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		cart, err := s.engine.lockCart(ctx, repos, userID, true)
		if err != nil {
			return err
		}

		now := s.engine.now()

		if _, err := repos.Carts.DeleteItems(ctx, cart.ID); err != nil {
			return err
		}

		released, err := repos.Reservations.DeleteByCart(ctx, cart.ID)
		if err != nil {
			return err
		}

		s.logger.Debug("Cart cleared",
			zap.String("cart_id", cart.ID.String()),
			zap.Int64("reservations_released", released),
		)

		return repos.Carts.Touch(ctx, cart.ID, now)
	})
	if err != nil {
		return nil, err
	}

	return s.Details(ctx, userID)
}

// Details joins the cart's items with their products and active holds.
// Expired holds are filtered out at read time.
func (s *cartService) Details(ctx context.Context, userID uuid.UUID) (*domain.CartView, error) {
	if userID == uuid.Nil {
		return nil, ErrNotAuthorized
	}

	repos := s.store.Repos()
	now := s.engine.now()

	cart, err := repos.Carts.GetOrCreate(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	items, err := repos.Carts.ListItems(ctx, cart.ID)
	if err != nil {
		return nil, err
	}

	reservations, err := repos.Reservations.ListActiveByCart(ctx, cart.ID, now)
	if err != nil {
		return nil, err
	}

	productIDs := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		productIDs = append(productIDs, item.ProductID)
	}

	products, err := repos.Products.FindByIDs(ctx, productIDs)
	if err != nil {
		return nil, err
	}

	holds := make(map[uuid.UUID]*domain.Reservation, len(reservations))
	view := &domain.CartView{
		ID:           cart.ID,
		UserID:       cart.UserID,
		Items:        []domain.CartLine{},
		Reservations: []domain.ReservationView{},
		UpdatedAt:    cart.UpdatedAt,
	}
	for _, r := range reservations {
		holds[r.ProductID] = r
		view.Reservations = append(view.Reservations, domain.ReservationView{
			ID:        r.ID,
			ProductID: r.ProductID,
			Quantity:  r.Quantity,
			ExpiresAt: r.ExpiresAt,
		})
	}

	for _, item := range items {
		product, ok := products[item.ProductID]
		if !ok {
			s.reportDrift(ctx, "cart item references a missing product", cart.ID, item.ProductID)
			continue
		}

		line := domain.CartLine{
			ItemID:    item.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			LineTotal: product.Price.Mul(decimal.NewFromInt(int64(item.Quantity))),
			Product:   product.CartView(),
		}
		if hold, ok := holds[item.ProductID]; ok {
			if hold.Quantity != item.Quantity {
				s.reportDrift(ctx, "reservation quantity differs from cart item", cart.ID, item.ProductID)
			}
			line.Reserved = hold.Quantity
			expiresAt := hold.ExpiresAt
			line.ExpiresAt = &expiresAt
		}
		view.Items = append(view.Items, line)
	}

	lined := make(map[uuid.UUID]struct{}, len(items))
	for _, item := range items {
		lined[item.ProductID] = struct{}{}
	}
	for _, r := range reservations {
		if _, ok := lined[r.ProductID]; !ok {
			s.reportDrift(ctx, "reservation without a cart item", cart.ID, r.ProductID)
		}
	}

	view.Totals = domain.ComputeTotals(view.Items, s.taxRate)
	return view, nil
}

// ExtendAll renews every active hold of the cart and reports whether all of
// them were renewed. A cart with no active holds reports true.
func (s *cartService) ExtendAll(ctx context.Context, userID uuid.UUID) (bool, error) {
	if userID == uuid.Nil {
		return false, ErrNotAuthorized
	}

	repos := s.store.Repos()
	now := s.engine.now()

	cart, err := repos.Carts.FindByUserID(ctx, userID)
	if err != nil {
		return false, notFound(err)
	}

	reservations, err := repos.Reservations.ListActiveByCart(ctx, cart.ID, now)
	if err != nil {
		return false, err
	}

	all := true
	for _, r := range reservations {
		extended, err := s.engine.extend(ctx, repos, cart.ID, r.ProductID, now)
		if err != nil {
			return false, err
		}
		if !extended {
			all = false
		}
	}

	return all, nil
}

func (s *cartService) reportDrift(ctx context.Context, msg string, cartID, productID uuid.UUID) {
	s.logger.Error("inconsistent state: "+msg,
		zap.String("cart_id", cartID.String()),
		zap.String("product_id", productID.String()),
	)
	s.engine.inst.inconsistentState.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", "cart_drift"),
	))
}

