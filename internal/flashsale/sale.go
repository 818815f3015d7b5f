// Package flashsale reserves and releases strictly limited promotional stock.
// The sold counter is the only mutable state in the engine; every backend
// serialises the precondition check and the increment into one atomic step so
// a burst of concurrent buyers can never oversell.
package flashsale

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSaleNotFound is returned when the sale id is unknown to the backend.
	ErrSaleNotFound = errors.New("flashsale: sale not found")
	// ErrInvalidQuantity is returned for non-positive quantities.
	ErrInvalidQuantity = errors.New("flashsale: quantity must be positive")
)

// Status is the derived lifecycle state of a sale.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusSoldOut   Status = "sold_out"
	StatusEnded     Status = "ended"
	StatusClosed    Status = "closed"
)

// Sale is a time-boxed promotion with an optional hard cap on units sold.
// SoldQuantity is mutated only by an Allocator.
type Sale struct {
	ID              uuid.UUID
	Name            string
	ProductIDs      []uuid.UUID
	DiscountPercent int64
	StartTime       time.Time
	EndTime         time.Time
	MaxQuantity     *int64
	SoldQuantity    int64
	IsActive        bool
}

// Validate rejects malformed sale definitions at load time.
func (s Sale) Validate() error {
	if s.ID == uuid.Nil {
		return errors.New("flashsale: sale id is required")
	}
	if s.DiscountPercent < 0 || s.DiscountPercent > 100 {
		return fmt.Errorf("flashsale: discount percent out of range: %d", s.DiscountPercent)
	}
	if !s.EndTime.After(s.StartTime) {
		return errors.New("flashsale: end time must be after start time")
	}
	if s.MaxQuantity != nil && *s.MaxQuantity < 0 {
		return errors.New("flashsale: max quantity must not be negative")
	}
	return nil
}

// StatusAt derives the lifecycle state at the given instant. Deactivated
// sales are permanently closed; any state other than active rejects new
// allocations.
func (s Sale) StatusAt(now time.Time) Status {
	if !s.IsActive {
		return StatusClosed
	}
	if now.Before(s.StartTime) {
		return StatusScheduled
	}
	if now.After(s.EndTime) {
		return StatusEnded
	}
	if s.MaxQuantity != nil && s.SoldQuantity >= *s.MaxQuantity {
		return StatusSoldOut
	}
	return StatusActive
}

// Remaining returns the unallocated units. The second return is false for
// unlimited sales.
func (s Sale) Remaining() (int64, bool) {
	if s.MaxQuantity == nil {
		return 0, false
	}
	remaining := *s.MaxQuantity - s.SoldQuantity
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// AppliesTo reports whether the product participates in the sale.
func (s Sale) AppliesTo(productID uuid.UUID) bool {
	for _, id := range s.ProductIDs {
		if id == productID {
			return true
		}
	}
	return false
}

// Allocator is the atomic reservation contract. Allocate is all-or-nothing:
// either the full quantity is reserved and true is returned, or nothing
// changes. A false return is an allocation conflict (sold out, not active),
// not a system fault. Release clamps at zero. Remaining and Active are
// display-only reads and must never drive allocation decisions.
type Allocator interface {
	Allocate(ctx context.Context, saleID uuid.UUID, quantity int64) (bool, error)
	Release(ctx context.Context, saleID uuid.UUID, quantity int64) error
	Remaining(ctx context.Context, saleID uuid.UUID) (remaining int64, limited bool, err error)
	Active(ctx context.Context, saleID uuid.UUID) (bool, error)
}
