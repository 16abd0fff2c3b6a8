package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product represents a product in the catalog. Stock is the physical baseline
// capacity; the sellable quantity is derived by subtracting active reservations.
type Product struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	Description string          `json:"description" db:"description"`
	Price       decimal.Decimal `json:"price" db:"price"`
	SKU         string          `json:"sku" db:"sku"`
	ImageURL    string          `json:"image_url" db:"image_url"`
	Stock       int             `json:"stock" db:"stock"`
	IsActive    bool            `json:"is_active" db:"is_active"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// StockLevel is a snapshot of a product's total stock and the quantity held by
// active reservations, read at the same logical instant.
type StockLevel struct {
	ProductID  uuid.UUID
	TotalStock int
	Reserved   int
	IsActive   bool
}

// RawAvailable returns TotalStock - Reserved without clamping. A negative value
// means the ledger and the reservation set disagree.
func (s StockLevel) RawAvailable() int {
	return ComputeAvailable(s.TotalStock, s.Reserved)
}

// ComputeAvailable is the single formula for sellable quantity.
func ComputeAvailable(totalStock, reserved int) int {
	return totalStock - reserved
}

// PublicProductView is what anonymous shoppers may see about stock.
type PublicProductView struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	ImageURL  string          `json:"image_url,omitempty"`
	Available int             `json:"available"`
	InStock   bool            `json:"in_stock"`
}

// AdminStockView exposes the full ledger picture for operators.
type AdminStockView struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	SKU        string    `json:"sku,omitempty"`
	IsActive   bool      `json:"is_active"`
	TotalStock int       `json:"total_stock"`
	Reserved   int       `json:"reserved"`
	Available  int       `json:"available"`
}

// CartProductView is the product snapshot joined into cart lines.
type CartProductView struct {
	ID       uuid.UUID       `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	ImageURL string          `json:"image_url,omitempty"`
	IsActive bool            `json:"is_active"`
}

func (p *Product) CartView() CartProductView {
	return CartProductView{
		ID:       p.ID,
		Name:     p.Name,
		Price:    p.Price,
		ImageURL: p.ImageURL,
		IsActive: p.IsActive,
	}
}
