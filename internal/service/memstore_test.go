package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"storefront/internal/domain"
	"storefront/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// memState is one copy of every table. Transactions work on a clone and
// replace the live copy on commit, so a failed unit of work leaves no trace.
type memState struct {
	products     map[uuid.UUID]domain.Product
	reservations map[uuid.UUID]domain.Reservation
	carts        map[uuid.UUID]domain.Cart
	items        map[uuid.UUID]domain.CartItem
	orders       map[uuid.UUID]domain.Order
}

func newMemState() *memState {
	return &memState{
		products:     map[uuid.UUID]domain.Product{},
		reservations: map[uuid.UUID]domain.Reservation{},
		carts:        map[uuid.UUID]domain.Cart{},
		items:        map[uuid.UUID]domain.CartItem{},
		orders:       map[uuid.UUID]domain.Order{},
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.reservations {
		c.reservations[k] = v
	}
	for k, v := range s.carts {
		c.carts[k] = v
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.orders {
		v.Items = append([]domain.OrderItem(nil), v.Items...)
		c.orders[k] = v
	}
	return c
}

// memStore serialises every unit of work behind one mutex, which is a
// stricter version of the per-product row locks Postgres gives us.
type memStore struct {
	mu        sync.Mutex
	state     *memState
	conflicts int
}

func newMemStore() *memStore {
	return &memStore{state: newMemState()}
}

type memHandle struct {
	store *memStore
	tx    *memState
}

func (h *memHandle) do(fn func(st *memState) error) error {
	if h.tx != nil {
		return fn(h.tx)
	}
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	return fn(h.store.state)
}

func (m *memStore) repos(h *memHandle) repository.Repositories {
	return repository.Repositories{
		Products:     &memProducts{h},
		Reservations: &memReservations{h},
		Carts:        &memCarts{h},
		Orders:       &memOrders{h},
	}
}

func (m *memStore) Repos() repository.Repositories {
	return m.repos(&memHandle{store: m})
}

func (m *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conflicts > 0 {
		m.conflicts--
		return repository.ErrConcurrencyConflict
	}

	work := m.state.clone()
	if err := fn(ctx, m.repos(&memHandle{store: m, tx: work})); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *memStore) snapshot() *memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

func (m *memStore) addProduct(stock int, price string, active bool) domain.Product {
	p := domain.Product{
		ID:        uuid.New(),
		Name:      "Product " + uuid.NewString()[:8],
		Price:     decimal.RequireFromString(price),
		Stock:     stock,
		IsActive:  active,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	m.mu.Lock()
	m.state.products[p.ID] = p
	m.mu.Unlock()
	return p
}

// addHold inserts a reservation directly, bypassing availability checks.
func (m *memStore) addHold(cartID, productID uuid.UUID, quantity int, createdAt time.Time, ttl time.Duration) domain.Reservation {
	r := *domain.NewReservation(cartID, productID, quantity, createdAt, ttl)
	m.mu.Lock()
	m.state.reservations[r.ID] = r
	m.mu.Unlock()
	return r
}

func (m *memStore) stock(productID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.products[productID].Stock
}

func (m *memStore) activeHeld(productID uuid.UUID, now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sumActive(m.state, productID, now)
}

func sumActive(st *memState, productID uuid.UUID, now time.Time) int {
	total := 0
	for _, r := range st.reservations {
		if r.ProductID == productID && r.IsActive(now) {
			total += r.Quantity
		}
	}
	return total
}

type memProducts struct{ h *memHandle }

func (r *memProducts) Create(ctx context.Context, product *domain.Product) error {
	return r.h.do(func(st *memState) error {
		st.products[product.ID] = *product
		return nil
	})
}

func (r *memProducts) FindByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	var out *domain.Product
	err := r.h.do(func(st *memState) error {
		p, ok := st.products[id]
		if !ok {
			return repository.ErrProductNotFound
		}
		out = &p
		return nil
	})
	return out, err
}

func (r *memProducts) FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Product, error) {
	out := map[uuid.UUID]*domain.Product{}
	err := r.h.do(func(st *memState) error {
		for _, id := range ids {
			if p, ok := st.products[id]; ok {
				p := p
				out[id] = &p
			}
		}
		return nil
	})
	return out, err
}

func (r *memProducts) LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	return r.FindByID(ctx, id)
}

func (r *memProducts) LockManyForUpdate(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Product, error) {
	return r.FindByIDs(ctx, ids)
}

func (r *memProducts) StockLevel(ctx context.Context, id uuid.UUID, now time.Time) (*domain.StockLevel, error) {
	var out *domain.StockLevel
	err := r.h.do(func(st *memState) error {
		p, ok := st.products[id]
		if !ok {
			return repository.ErrProductNotFound
		}
		out = &domain.StockLevel{
			ProductID:  id,
			TotalStock: p.Stock,
			Reserved:   sumActive(st, id, now),
			IsActive:   p.IsActive,
		}
		return nil
	})
	return out, err
}

func (r *memProducts) DecrementStock(ctx context.Context, id uuid.UUID, quantity int) error {
	return r.h.do(func(st *memState) error {
		p, ok := st.products[id]
		if !ok || p.Stock < quantity {
			return repository.ErrInsufficientLedgerStock
		}
		p.Stock -= quantity
		st.products[id] = p
		return nil
	})
}

type memReservations struct{ h *memHandle }

func (r *memReservations) Create(ctx context.Context, reservation *domain.Reservation) error {
	return r.h.do(func(st *memState) error {
		for _, existing := range st.reservations {
			if existing.CartID == reservation.CartID && existing.ProductID == reservation.ProductID {
				return repository.ErrReservationExists
			}
		}
		st.reservations[reservation.ID] = *reservation
		return nil
	})
}

func (r *memReservations) SumActiveByProduct(ctx context.Context, productID uuid.UUID, now time.Time) (int, error) {
	total := 0
	err := r.h.do(func(st *memState) error {
		total = sumActive(st, productID, now)
		return nil
	})
	return total, err
}

func (r *memReservations) FindActive(ctx context.Context, cartID, productID uuid.UUID, now time.Time) (*domain.Reservation, error) {
	var out *domain.Reservation
	err := r.h.do(func(st *memState) error {
		for _, res := range st.reservations {
			if res.CartID == cartID && res.ProductID == productID && res.IsActive(now) {
				res := res
				out = &res
				return nil
			}
		}
		return repository.ErrReservationNotFound
	})
	return out, err
}

func (r *memReservations) ListActiveByCart(ctx context.Context, cartID uuid.UUID, now time.Time) ([]*domain.Reservation, error) {
	out := []*domain.Reservation{}
	err := r.h.do(func(st *memState) error {
		for _, res := range st.reservations {
			if res.CartID == cartID && res.IsActive(now) {
				res := res
				out = append(out, &res)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

func (r *memReservations) UpdateExpiry(ctx context.Context, id uuid.UUID, expiresAt, now time.Time) (bool, error) {
	updated := false
	err := r.h.do(func(st *memState) error {
		res, ok := st.reservations[id]
		if !ok || !res.IsActive(now) {
			return nil
		}
		res.ExpiresAt = expiresAt
		st.reservations[id] = res
		updated = true
		return nil
	})
	return updated, err
}

func (r *memReservations) deleteWhere(match func(domain.Reservation) bool) (int64, error) {
	var n int64
	err := r.h.do(func(st *memState) error {
		for id, res := range st.reservations {
			if match(res) {
				delete(st.reservations, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *memReservations) DeleteByCartProduct(ctx context.Context, cartID, productID uuid.UUID) (int64, error) {
	return r.deleteWhere(func(res domain.Reservation) bool {
		return res.CartID == cartID && res.ProductID == productID
	})
}

func (r *memReservations) DeleteByCart(ctx context.Context, cartID uuid.UUID) (int64, error) {
	return r.deleteWhere(func(res domain.Reservation) bool { return res.CartID == cartID })
}

func (r *memReservations) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.deleteWhere(func(res domain.Reservation) bool { return !res.ExpiresAt.After(now) })
}

type memCarts struct{ h *memHandle }

func (r *memCarts) GetOrCreate(ctx context.Context, userID uuid.UUID, now time.Time) (*domain.Cart, error) {
	var out *domain.Cart
	err := r.h.do(func(st *memState) error {
		for _, c := range st.carts {
			if c.UserID == userID {
				c := c
				out = &c
				return nil
			}
		}
		c := domain.Cart{ID: uuid.New(), UserID: userID, CreatedAt: now, UpdatedAt: now}
		st.carts[c.ID] = c
		out = &c
		return nil
	})
	return out, err
}

func (r *memCarts) FindByID(ctx context.Context, id uuid.UUID) (*domain.Cart, error) {
	var out *domain.Cart
	err := r.h.do(func(st *memState) error {
		c, ok := st.carts[id]
		if !ok {
			return repository.ErrCartNotFound
		}
		out = &c
		return nil
	})
	return out, err
}

func (r *memCarts) FindByUserID(ctx context.Context, userID uuid.UUID) (*domain.Cart, error) {
	var out *domain.Cart
	err := r.h.do(func(st *memState) error {
		for _, c := range st.carts {
			if c.UserID == userID {
				c := c
				out = &c
				return nil
			}
		}
		return repository.ErrCartNotFound
	})
	return out, err
}

func (r *memCarts) LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.Cart, error) {
	return r.FindByID(ctx, id)
}

func (r *memCarts) LockByUserID(ctx context.Context, userID uuid.UUID) (*domain.Cart, error) {
	return r.FindByUserID(ctx, userID)
}

func (r *memCarts) Touch(ctx context.Context, cartID uuid.UUID, now time.Time) error {
	return r.h.do(func(st *memState) error {
		c, ok := st.carts[cartID]
		if !ok {
			return repository.ErrCartNotFound
		}
		c.UpdatedAt = now
		st.carts[cartID] = c
		return nil
	})
}

func (r *memCarts) Delete(ctx context.Context, cartID uuid.UUID) error {
	return r.h.do(func(st *memState) error {
		if _, ok := st.carts[cartID]; !ok {
			return repository.ErrCartNotFound
		}
		delete(st.carts, cartID)
		return nil
	})
}

func (r *memCarts) FindItem(ctx context.Context, cartID, productID uuid.UUID) (*domain.CartItem, error) {
	var out *domain.CartItem
	err := r.h.do(func(st *memState) error {
		for _, it := range st.items {
			if it.CartID == cartID && it.ProductID == productID {
				it := it
				out = &it
				return nil
			}
		}
		return repository.ErrCartItemNotFound
	})
	return out, err
}

func (r *memCarts) ListItems(ctx context.Context, cartID uuid.UUID) ([]*domain.CartItem, error) {
	out := []*domain.CartItem{}
	err := r.h.do(func(st *memState) error {
		for _, it := range st.items {
			if it.CartID == cartID {
				it := it
				out = append(out, &it)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

func (r *memCarts) CreateItem(ctx context.Context, item *domain.CartItem) error {
	return r.h.do(func(st *memState) error {
		st.items[item.ID] = *item
		return nil
	})
}

func (r *memCarts) UpdateItemQuantity(ctx context.Context, itemID uuid.UUID, quantity int, now time.Time) error {
	return r.h.do(func(st *memState) error {
		it, ok := st.items[itemID]
		if !ok {
			return repository.ErrCartItemNotFound
		}
		it.Quantity = quantity
		it.UpdatedAt = now
		st.items[itemID] = it
		return nil
	})
}

func (r *memCarts) deleteItemsWhere(match func(domain.CartItem) bool) (int64, error) {
	var n int64
	err := r.h.do(func(st *memState) error {
		for id, it := range st.items {
			if match(it) {
				delete(st.items, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *memCarts) DeleteItem(ctx context.Context, cartID, productID uuid.UUID) (int64, error) {
	return r.deleteItemsWhere(func(it domain.CartItem) bool {
		return it.CartID == cartID && it.ProductID == productID
	})
}

func (r *memCarts) DeleteItems(ctx context.Context, cartID uuid.UUID) (int64, error) {
	return r.deleteItemsWhere(func(it domain.CartItem) bool { return it.CartID == cartID })
}

type memOrders struct{ h *memHandle }

func (r *memOrders) Create(ctx context.Context, order *domain.Order) error {
	return r.h.do(func(st *memState) error {
		o := *order
		o.Items = append([]domain.OrderItem(nil), order.Items...)
		st.orders[o.ID] = o
		return nil
	})
}

func (r *memOrders) FindByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	var out *domain.Order
	err := r.h.do(func(st *memState) error {
		o, ok := st.orders[id]
		if !ok {
			return repository.ErrOrderNotFound
		}
		out = &o
		return nil
	})
	return out, err
}

// fakeClock is a settable time source shared by a test and the services under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingPublisher captures published orders.
type recordingPublisher struct {
	mu     sync.Mutex
	orders []*domain.Order
	err    error
}

func (p *recordingPublisher) PublishOrderCommitted(ctx context.Context, order *domain.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, order)
	return p.err
}

type fixture struct {
	store     *memStore
	clock     *fakeClock
	stock     StockService
	carts     CartService
	checkout  CheckoutService
	publisher *recordingPublisher
}

func newFixture() *fixture {
	store := newMemStore()
	clock := newFakeClock()
	publisher := &recordingPublisher{}
	logger := zap.NewNop()
	taxRate := decimal.RequireFromString("0.21")

	return &fixture{
		store:     store,
		clock:     clock,
		stock:     NewStockService(store, logger, WithClock(clock.Now)),
		carts:     NewCartService(store, taxRate, logger, WithClock(clock.Now)),
		checkout:  NewCheckoutService(store, publisher, taxRate, "ARS", logger, WithClock(clock.Now)),
		publisher: publisher,
	}
}
