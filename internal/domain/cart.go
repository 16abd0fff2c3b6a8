package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Cart is the single active cart of a user.
type Cart struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CartItem is one product line in a cart.
type CartItem struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CartID    uuid.UUID `json:"cart_id" db:"cart_id"`
	ProductID uuid.UUID `json:"product_id" db:"product_id"`
	Quantity  int       `json:"quantity" db:"quantity"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CartLine is a cart item joined with its product snapshot and active hold.
type CartLine struct {
	ItemID    uuid.UUID       `json:"id"`
	ProductID uuid.UUID       `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Reserved  int             `json:"reserved"`
	ExpiresAt *time.Time      `json:"expires_at"`
	LineTotal decimal.Decimal `json:"line_total"`
	Product   CartProductView `json:"product"`
}

// ReservationView is an active hold as shown to the cart owner.
type ReservationView struct {
	ID        uuid.UUID `json:"id"`
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
	ExpiresAt time.Time `json:"expires_at"`
}

type CartTotals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

// CartView is the read model returned by every cart operation.
type CartView struct {
	ID           uuid.UUID         `json:"id"`
	UserID       uuid.UUID         `json:"user_id"`
	Items        []CartLine        `json:"items"`
	Reservations []ReservationView `json:"stock_reservations"`
	Totals       CartTotals        `json:"totals"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// ComputeTotals sums line totals and applies the tax rate, rounding to cents.
func ComputeTotals(lines []CartLine, taxRate decimal.Decimal) CartTotals {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.LineTotal)
	}
	tax := subtotal.Mul(taxRate).Round(2)
	return CartTotals{
		Subtotal: subtotal.Round(2),
		Tax:      tax,
		Total:    subtotal.Add(tax).Round(2),
	}
}
