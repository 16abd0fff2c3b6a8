package service

import (
	"errors"
	"fmt"

	"storefront/internal/domain"
	"storefront/internal/repository"

	"github.com/google/uuid"
)

var (
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrNotFound            = errors.New("not found")
	ErrNotAuthorized       = errors.New("operation not permitted without an authenticated user")
	ErrConcurrencyConflict = repository.ErrConcurrencyConflict
	ErrCheckoutRejected    = errors.New("checkout rejected")
	ErrEmptyCart           = errors.New("cart is empty")
	ErrInvalidQuantity     = errors.New("quantity must be positive")
)

// InsufficientStockError reports a rejected hold. Available is already clamped at zero.
type InsufficientStockError struct {
	ProductID uuid.UUID
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// CheckoutRejectedError carries the per-item report of a failed validation.
type CheckoutRejectedError struct {
	Report *domain.CheckoutReport
}

func (e *CheckoutRejectedError) Error() string {
	invalid := 0
	for _, item := range e.Report.Items {
		if !item.Valid {
			invalid++
		}
	}
	return fmt.Sprintf("checkout rejected: %d of %d items cannot be fulfilled", invalid, len(e.Report.Items))
}

func (e *CheckoutRejectedError) Unwrap() error {
	return ErrCheckoutRejected
}

// notFound folds the repository's sentinel errors into ErrNotFound while
// keeping the original message.
func notFound(err error) error {
	switch {
	case errors.Is(err, repository.ErrProductNotFound),
		errors.Is(err, repository.ErrCartNotFound),
		errors.Is(err, repository.ErrCartItemNotFound),
		errors.Is(err, repository.ErrOrderNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
