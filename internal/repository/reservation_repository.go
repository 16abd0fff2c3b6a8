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
	ErrReservationNotFound = errors.New("reservation not found")
	ErrReservationExists   = errors.New("reservation for this cart and product already exists")
)

// ReservationRepository owns stock reservation rows. Callers that insert must
// hold the product row lock (ProductRepository.LockForUpdate) in the same transaction.
type ReservationRepository interface {
	Create(ctx context.Context, reservation *domain.Reservation) error
	SumActiveByProduct(ctx context.Context, productID uuid.UUID, now time.Time) (int, error)
	FindActive(ctx context.Context, cartID, productID uuid.UUID, now time.Time) (*domain.Reservation, error)
	ListActiveByCart(ctx context.Context, cartID uuid.UUID, now time.Time) ([]*domain.Reservation, error)
	UpdateExpiry(ctx context.Context, id uuid.UUID, expiresAt, now time.Time) (bool, error)
	DeleteByCartProduct(ctx context.Context, cartID, productID uuid.UUID) (int64, error)
	DeleteByCart(ctx context.Context, cartID uuid.UUID) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type reservationRepository struct {
	db DBTX
}

// NewReservationRepository creates a new instance of ReservationRepository
func NewReservationRepository(db DBTX) ReservationRepository {
	return &reservationRepository{db: db}
}

// Create inserts a reservation
func (r *reservationRepository) Create(ctx context.Context, reservation *domain.Reservation) error {
	query := `
		INSERT INTO stock_reservations (id, product_id, cart_id, quantity, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		reservation.ID,
		reservation.ProductID,
		reservation.CartID,
		reservation.Quantity,
		reservation.CreatedAt,
		reservation.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrReservationExists
		}
		return fmt.Errorf("failed to create reservation: %w", err)
	}

	return nil
}

// SumActiveByProduct returns the quantity currently held against a product
func (r *reservationRepository) SumActiveByProduct(ctx context.Context, productID uuid.UUID, now time.Time) (int, error) {
	query := `
		SELECT COALESCE(SUM(quantity), 0)
		FROM stock_reservations
		WHERE product_id = $1 AND expires_at > $2
	`

	var reserved int
	if err := r.db.QueryRowContext(ctx, query, productID, now).Scan(&reserved); err != nil {
		return 0, fmt.Errorf("failed to sum active reservations: %w", err)
	}

	return reserved, nil
}

// FindActive retrieves the active reservation of a cart for a product
func (r *reservationRepository) FindActive(ctx context.Context, cartID, productID uuid.UUID, now time.Time) (*domain.Reservation, error) {
	query := `
		SELECT id, product_id, cart_id, quantity, created_at, expires_at
		FROM stock_reservations
		WHERE cart_id = $1 AND product_id = $2 AND expires_at > $3
	`

	reservation := &domain.Reservation{}
	err := r.db.QueryRowContext(ctx, query, cartID, productID, now).Scan(
		&reservation.ID,
		&reservation.ProductID,
		&reservation.CartID,
		&reservation.Quantity,
		&reservation.CreatedAt,
		&reservation.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, fmt.Errorf("failed to find reservation: %w", err)
	}

	return reservation, nil
}

// ListActiveByCart retrieves every active reservation tied to a cart
func (r *reservationRepository) ListActiveByCart(ctx context.Context, cartID uuid.UUID, now time.Time) ([]*domain.Reservation, error) {
	query := `
		SELECT id, product_id, cart_id, quantity, created_at, expires_at
		FROM stock_reservations
		WHERE cart_id = $1 AND expires_at > $2
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, cartID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	defer rows.Close()

	reservations := []*domain.Reservation{}
	for rows.Next() {
		reservation := &domain.Reservation{}
		err := rows.Scan(
			&reservation.ID,
			&reservation.ProductID,
			&reservation.CartID,
			&reservation.Quantity,
			&reservation.CreatedAt,
			&reservation.ExpiresAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		reservations = append(reservations, reservation)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reservations: %w", err)
	}

	return reservations, nil
}

// UpdateExpiry moves expires_at forward. It only touches a reservation that is
// still active at now, so a row the sweeper is about to delete is never revived.
func (r *reservationRepository) UpdateExpiry(ctx context.Context, id uuid.UUID, expiresAt, now time.Time) (bool, error) {
	query := `
		UPDATE stock_reservations
		SET expires_at = $2
		WHERE id = $1 AND expires_at > $3
	`

	result, err := r.db.ExecContext(ctx, query, id, expiresAt, now)
	if err != nil {
		return false, fmt.Errorf("failed to extend reservation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}

// DeleteByCartProduct releases whatever hold a cart has on a product
func (r *reservationRepository) DeleteByCartProduct(ctx context.Context, cartID, productID uuid.UUID) (int64, error) {
	query := `DELETE FROM stock_reservations WHERE cart_id = $1 AND product_id = $2`
	return r.exec(ctx, "release reservation", query, cartID, productID)
}

// DeleteByCart releases every hold a cart has
func (r *reservationRepository) DeleteByCart(ctx context.Context, cartID uuid.UUID) (int64, error) {
	query := `DELETE FROM stock_reservations WHERE cart_id = $1`
	return r.exec(ctx, "release cart reservations", query, cartID)
}

// DeleteExpired removes reservations whose expiry is at or before now
func (r *reservationRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM stock_reservations WHERE expires_at <= $1`
	return r.exec(ctx, "delete expired reservations", query, now)
}

func (r *reservationRepository) exec(ctx context.Context, what, query string, args ...any) (int64, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to %s: %w", what, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}
