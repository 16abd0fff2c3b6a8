package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is the durable record produced by a checkout commit.
type Order struct {
	ID                uuid.UUID       `json:"id" db:"id"`
	UserID            uuid.UUID       `json:"user_id" db:"user_id"`
	Status            OrderStatus     `json:"status" db:"status"`
	Currency          string          `json:"currency" db:"currency"`
	Subtotal          decimal.Decimal `json:"subtotal" db:"subtotal"`
	Tax               decimal.Decimal `json:"tax" db:"tax"`
	ShippingCost      decimal.Decimal `json:"shipping_cost" db:"shipping_cost"`
	Total             decimal.Decimal `json:"total" db:"total"`
	ShippingAddressID string          `json:"shipping_address_id" db:"shipping_address_id"`
	ShippingCarrier   string          `json:"shipping_carrier" db:"shipping_carrier"`
	Notes             string          `json:"notes,omitempty" db:"notes"`
	Items             []OrderItem     `json:"items"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}

// OrderItem keeps the price the customer saw at commit time.
type OrderItem struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	OrderID     uuid.UUID       `json:"order_id" db:"order_id"`
	ProductID   uuid.UUID       `json:"product_id" db:"product_id"`
	ProductName string          `json:"product_name" db:"product_name"`
	Quantity    int             `json:"quantity" db:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price" db:"unit_price"`
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ShippingDetails is supplied by the caller at checkout.
type ShippingDetails struct {
	AddressID string
	Carrier   string
	Cost      decimal.Decimal
	Notes     string
}

// CheckoutItemReport describes whether one cart line can be fulfilled.
type CheckoutItemReport struct {
	ProductID   uuid.UUID `json:"product_id"`
	ProductName string    `json:"product_name"`
	Requested   int       `json:"requested"`
	Available   int       `json:"available"`
	Reserved    int       `json:"reserved"`
	Valid       bool      `json:"valid"`
}

// CheckoutReport is the outcome of validating a cart for checkout.
type CheckoutReport struct {
	CartID uuid.UUID            `json:"cart_id"`
	Valid  bool                 `json:"valid"`
	Items  []CheckoutItemReport `json:"items"`
}

// EvaluateItem applies the checkout rule: the cart's own hold counts toward its
// own request, so requested <= available + heldByCart.
func EvaluateItem(requested, available, heldByCart int) bool {
	return requested <= available+heldByCart
}
