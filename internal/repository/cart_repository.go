package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront/internal/domain"

	"github.com/google/uuid"
)

var (
	ErrCartNotFound     = errors.New("cart not found")
	ErrCartItemNotFound = errors.New("cart item not found")
)

// CartRepository defines the interface for cart and cart item data access
type CartRepository interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID, now time.Time) (*domain.Cart, error)
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Cart, error)
	FindByUserID(ctx context.Context, userID uuid.UUID) (*domain.Cart, error)
	LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.Cart, error)
	LockByUserID(ctx context.Context, userID uuid.UUID) (*domain.Cart, error)
	Touch(ctx context.Context, cartID uuid.UUID, now time.Time) error
	Delete(ctx context.Context, cartID uuid.UUID) error

	FindItem(ctx context.Context, cartID, productID uuid.UUID) (*domain.CartItem, error)
	ListItems(ctx context.Context, cartID uuid.UUID) ([]*domain.CartItem, error)
	CreateItem(ctx context.Context, item *domain.CartItem) error
	UpdateItemQuantity(ctx context.Context, itemID uuid.UUID, quantity int, now time.Time) error
	DeleteItem(ctx context.Context, cartID, productID uuid.UUID) (int64, error)
	DeleteItems(ctx context.Context, cartID uuid.UUID) (int64, error)
}

type cartRepository struct {
	db DBTX
}

// NewCartRepository creates a new instance of CartRepository
func NewCartRepository(db DBTX) CartRepository {
	return &cartRepository{db: db}
}

// GetOrCreate returns the user's cart, creating it on first use. The unique
// constraint on user_id makes concurrent first calls converge on one row.
func (r *cartRepository) GetOrCreate(ctx context.Context, userID uuid.UUID, now time.Time) (*domain.Cart, error) {
	query := `
		INSERT INTO carts (id, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (user_id) DO NOTHING
	`

	if _, err := r.db.ExecContext(ctx, query, uuid.New(), userID, now); err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}

	return r.FindByUserID(ctx, userID)
}

// FindByID retrieves a cart by ID
func (r *cartRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Cart, error) {
	query := `SELECT id, user_id, created_at, updated_at FROM carts WHERE id = $1`
	return r.findOne(ctx, query, id)
}

// FindByUserID retrieves the cart owned by a user
func (r *cartRepository) FindByUserID(ctx context.Context, userID uuid.UUID) (*domain.Cart, error) {
	query := `SELECT id, user_id, created_at, updated_at FROM carts WHERE user_id = $1`
	return r.findOne(ctx, query, userID)
}

// LockForUpdate reads a cart and holds its row lock until the transaction
// ends. Cart locks are always taken before product locks.
func (r *cartRepository) LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.Cart, error) {
	query := `SELECT id, user_id, created_at, updated_at FROM carts WHERE id = $1 FOR UPDATE`
	return r.findOne(ctx, query, id)
}

// LockByUserID is LockForUpdate keyed on the owner. A cart deleted by a
// transaction we waited on is reported as ErrCartNotFound.
func (r *cartRepository) LockByUserID(ctx context.Context, userID uuid.UUID) (*domain.Cart, error) {
	query := `SELECT id, user_id, created_at, updated_at FROM carts WHERE user_id = $1 FOR UPDATE`
	return r.findOne(ctx, query, userID)
}

func (r *cartRepository) findOne(ctx context.Context, query string, arg any) (*domain.Cart, error) {
	cart := &domain.Cart{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&cart.ID,
		&cart.UserID,
		&cart.CreatedAt,
		&cart.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to find cart: %w", err)
	}

	return cart, nil
}

// Touch records activity on the cart
func (r *cartRepository) Touch(ctx context.Context, cartID uuid.UUID, now time.Time) error {
	query := `UPDATE carts SET updated_at = $2 WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, cartID, now)
	if err != nil {
		return fmt.Errorf("failed to touch cart: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrCartNotFound
	}

	return nil
}

// Delete removes a cart
func (r *cartRepository) Delete(ctx context.Context, cartID uuid.UUID) error {
	query := `DELETE FROM carts WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, cartID)
	if err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrCartNotFound
	}

	return nil
}

// FindItem retrieves the line for a product in a cart
func (r *cartRepository) FindItem(ctx context.Context, cartID, productID uuid.UUID) (*domain.CartItem, error) {
	query := `
		SELECT id, cart_id, product_id, quantity, created_at, updated_at
		FROM cart_items
		WHERE cart_id = $1 AND product_id = $2
	`

	item := &domain.CartItem{}
	err := r.db.QueryRowContext(ctx, query, cartID, productID).Scan(
		&item.ID,
		&item.CartID,
		&item.ProductID,
		&item.Quantity,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCartItemNotFound
		}
		return nil, fmt.Errorf("failed to find cart item: %w", err)
	}

	return item, nil
}

// ListItems retrieves every line of a cart
func (r *cartRepository) ListItems(ctx context.Context, cartID uuid.UUID) ([]*domain.CartItem, error) {
	query := `
		SELECT id, cart_id, product_id, quantity, created_at, updated_at
		FROM cart_items
		WHERE cart_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, cartID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cart items: %w", err)
	}
	defer rows.Close()

	items := []*domain.CartItem{}
	for rows.Next() {
		item := &domain.CartItem{}
		err := rows.Scan(
			&item.ID,
			&item.CartID,
			&item.ProductID,
			&item.Quantity,
			&item.CreatedAt,
			&item.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cart item: %w", err)
		}
		items = append(items, item)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cart items: %w", err)
	}

	return items, nil
}

// CreateItem inserts a new cart line
func (r *cartRepository) CreateItem(ctx context.Context, item *domain.CartItem) error {
	query := `
		INSERT INTO cart_items (id, cart_id, product_id, quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		item.ID,
		item.CartID,
		item.ProductID,
		item.Quantity,
		item.CreatedAt,
		item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create cart item: %w", err)
	}

	return nil
}

// UpdateItemQuantity sets the absolute quantity of a cart line
func (r *cartRepository) UpdateItemQuantity(ctx context.Context, itemID uuid.UUID, quantity int, now time.Time) error {
	query := `UPDATE cart_items SET quantity = $2, updated_at = $3 WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, itemID, quantity, now)
	if err != nil {
		return fmt.Errorf("failed to update cart item: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrCartItemNotFound
	}

	return nil
}

// DeleteItem removes the line for a product
func (r *cartRepository) DeleteItem(ctx context.Context, cartID, productID uuid.UUID) (int64, error) {
	query := `DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2`

	result, err := r.db.ExecContext(ctx, query, cartID, productID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete cart item: %w", err)
	}

	return result.RowsAffected()
}

// DeleteItems removes every line of a cart
func (r *cartRepository) DeleteItems(ctx context.Context, cartID uuid.UUID) (int64, error) {
	query := `DELETE FROM cart_items WHERE cart_id = $1`

	result, err := r.db.ExecContext(ctx, query, cartID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear cart items: %w", err)
	}

	return result.RowsAffected()
}
