// Package cart defines the immutable order snapshot the promotion engine
// consumes. Snapshots are owned by the calling order pipeline and passed by
// value; the engine never mutates them.
package cart

import (
	"github.com/google/uuid"

	"github.com/noah-isme/promo-engine/internal/money"
)

// LineItem is one priced cart line.
type LineItem struct {
	ProductID  uuid.UUID
	CategoryID uuid.UUID
	BrandID    uuid.UUID
	Tags       []string
	Quantity   int
	UnitPrice  money.Amount
}

// Subtotal returns quantity times unit price, zero for non-positive quantities.
func (li LineItem) Subtotal() money.Amount {
	if li.Quantity <= 0 {
		return 0
	}
	return money.Amount(li.Quantity) * li.UnitPrice
}

// Snapshot captures the cart at quote time.
type Snapshot struct {
	ID       uuid.UUID
	UserID   *uuid.UUID
	Currency string
	Items    []LineItem
}

// Subtotal sums all line subtotals.
func (s Snapshot) Subtotal() money.Amount {
	var total money.Amount
	for _, item := range s.Items {
		total += item.Subtotal()
	}
	return total
}
