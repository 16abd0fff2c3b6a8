package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"storefront/internal/domain"

	"github.com/google/uuid"
)

var (
	ErrProductNotFound = errors.New("product not found")

	// ErrInsufficientLedgerStock means a decrement would drive total stock below zero.
	ErrInsufficientLedgerStock = errors.New("insufficient stock in ledger")
)

// ProductRepository is the stock ledger: it owns the per-product total stock count.
type ProductRepository interface {
	Create(ctx context.Context, product *domain.Product) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Product, error)
	LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	LockManyForUpdate(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Product, error)
	StockLevel(ctx context.Context, id uuid.UUID, now time.Time) (*domain.StockLevel, error)
	DecrementStock(ctx context.Context, id uuid.UUID, quantity int) error
}

type productRepository struct {
	db DBTX
}

// NewProductRepository creates a new instance of ProductRepository
func NewProductRepository(db DBTX) ProductRepository {
	return &productRepository{db: db}
}

const productColumns = `id, name, description, price, COALESCE(sku, ''), image_url, stock, is_active, created_at, updated_at`

func scanProduct(row interface{ Scan(dest ...any) error }) (*domain.Product, error) {
	product := &domain.Product{}
	err := row.Scan(
		&product.ID,
		&product.Name,
		&product.Description,
		&product.Price,
		&product.SKU,
		&product.ImageURL,
		&product.Stock,
		&product.IsActive,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
	return product, err
}

// Create inserts a new product into the catalog table
func (r *productRepository) Create(ctx context.Context, product *domain.Product) error {
	query := `
		INSERT INTO products (id, name, description, price, sku, image_url, stock, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		product.ID,
		product.Name,
		product.Description,
		product.Price,
		product.SKU,
		product.ImageURL,
		product.Stock,
		product.IsActive,
		product.CreatedAt,
		product.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}

	return nil
}

// FindByID retrieves a product by ID without locking it
func (r *productRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	product, err := scanProduct(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to find product by ID: %w", err)
	}

	return product, nil
}

// FindByIDs retrieves several products keyed by ID. Missing IDs are absent from the map.
func (r *productRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1::uuid[])`
	return r.queryMany(ctx, query, ids)
}

// LockForUpdate reads a product and holds its row lock until the surrounding
// transaction ends. Every read-then-write of a product's availability goes through here.
func (r *productRepository) LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1 FOR UPDATE`

	product, err := scanProduct(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to get product with lock: %w", err)
	}

	return product, nil
}

// LockManyForUpdate locks several product rows in ascending ID order so that
// concurrent multi-product transactions cannot deadlock on each other.
func (r *productRepository) LockManyForUpdate(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Product, error) {
	sorted := make([]uuid.UUID, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })

	query := `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE`
	return r.queryMany(ctx, query, sorted)
}

func (r *productRepository) queryMany(ctx context.Context, query string, ids []uuid.UUID) (map[uuid.UUID]*domain.Product, error) {
	products := make(map[uuid.UUID]*domain.Product, len(ids))
	if len(ids) == 0 {
		return products, nil
	}

	rows, err := r.db.QueryContext(ctx, query, uuidStrings(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products[product.ID] = product
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating products: %w", err)
	}

	return products, nil
}

// StockLevel reads total stock and the active reserved quantity in a single
// statement so both values come from the same snapshot.
func (r *productRepository) StockLevel(ctx context.Context, id uuid.UUID, now time.Time) (*domain.StockLevel, error) {
	query := `
		SELECT p.id, p.stock, p.is_active,
		       COALESCE((
		           SELECT SUM(r.quantity)
		           FROM stock_reservations r
		           WHERE r.product_id = p.id AND r.expires_at > $2
		       ), 0)
		FROM products p
		WHERE p.id = $1
	`

	level := &domain.StockLevel{}
	err := r.db.QueryRowContext(ctx, query, id, now).Scan(
		&level.ProductID,
		&level.TotalStock,
		&level.IsActive,
		&level.Reserved,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to read stock level: %w", err)
	}

	return level, nil
}

// DecrementStock permanently removes quantity units from the ledger. The
// guard in the WHERE clause keeps stock from going negative.
func (r *productRepository) DecrementStock(ctx context.Context, id uuid.UUID, quantity int) error {
	query := `
		UPDATE products
		SET stock = stock - $2
		WHERE id = $1 AND stock >= $2
	`

	result, err := r.db.ExecContext(ctx, query, id, quantity)
	if err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrInsufficientLedgerStock
	}

	return nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
