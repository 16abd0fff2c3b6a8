package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	// ReservationTTL is how long a hold lives before it stops counting against stock.
	ReservationTTL = 15 * time.Minute

	// ReservationExtendWindow bounds how old a reservation may be and still be extended.
	ReservationExtendWindow = 10 * time.Minute
)

// Reservation is a time-bounded hold on a product quantity, tied to a cart.
type Reservation struct {
	ID        uuid.UUID `json:"id" db:"id"`
	ProductID uuid.UUID `json:"product_id" db:"product_id"`
	CartID    uuid.UUID `json:"cart_id" db:"cart_id"`
	Quantity  int       `json:"quantity" db:"quantity"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
}

// NewReservation builds a hold that expires ttl after now.
func NewReservation(cartID, productID uuid.UUID, quantity int, now time.Time, ttl time.Duration) *Reservation {
	return &Reservation{
		ID:        uuid.New(),
		ProductID: productID,
		CartID:    cartID,
		Quantity:  quantity,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// IsActive reports whether the hold still counts against available stock.
// Expiry is strict: a reservation whose ExpiresAt equals now is already gone.
func (r *Reservation) IsActive(now time.Time) bool {
	return r.ExpiresAt.After(now)
}

// CanExtend reports whether the reservation is young enough to be renewed.
func (r *Reservation) CanExtend(now time.Time, window time.Duration) bool {
	return !r.CreatedAt.Before(now.Add(-window))
}
