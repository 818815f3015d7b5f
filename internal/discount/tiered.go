package discount

import (
	"errors"
	"fmt"

	"github.com/noah-isme/promo-engine/internal/money"
)

var (
	// ErrTierGap is returned by validation when the tier ranges leave a
	// quantity without a price. Gaps are a configuration error.
	ErrTierGap = errors.New("discount: price tiers do not cover all quantities")
	// ErrQuantityNotCovered is returned when a quantity falls past the last
	// bounded tier.
	ErrQuantityNotCovered = errors.New("discount: quantity not covered by price tiers")
)

// PriceTier prices the units falling inside [MinQuantity, MaxQuantity]. A nil
// MaxQuantity leaves the tier unbounded.
type PriceTier struct {
	MinQuantity  int
	MaxQuantity  *int
	PricePerUnit money.Amount
}

// TierSchedule is an ordered set of non-overlapping tiers.
type TierSchedule []PriceTier

// Validate checks that tiers are sorted ascending by MinQuantity, start at 1,
// and leave no gaps. Only the last tier may be unbounded.
func (ts TierSchedule) Validate() error {
	if len(ts) == 0 {
		return fmt.Errorf("%w: empty schedule", ErrTierGap)
	}
	expectedMin := 1
	for i, tier := range ts {
		if tier.PricePerUnit < 0 {
			return fmt.Errorf("%w: tier %d has negative price", ErrInvalidDefinition, i)
		}
		if tier.MinQuantity != expectedMin {
			return fmt.Errorf("%w: tier %d starts at %d, expected %d", ErrTierGap, i, tier.MinQuantity, expectedMin)
		}
		if tier.MaxQuantity == nil {
			if i != len(ts)-1 {
				return fmt.Errorf("%w: unbounded tier %d is not last", ErrInvalidDefinition, i)
			}
			return nil
		}
		if *tier.MaxQuantity < tier.MinQuantity {
			return fmt.Errorf("%w: tier %d has max below min", ErrInvalidDefinition, i)
		}
		expectedMin = *tier.MaxQuantity + 1
	}
	return nil
}

// TotalPrice prices quantity by consuming units greedily from the
// lowest-minimum tier upward: the first units purchased take the
// lowest-threshold tier's price. It returns the total price, not a discount
// delta; callers compute the delta against list price themselves.
func (ts TierSchedule) TotalPrice(quantity int) (money.Amount, error) {
	if err := ts.Validate(); err != nil {
		return 0, err
	}
	if quantity <= 0 {
		return 0, nil
	}
	remaining := quantity
	var total money.Amount
	for _, tier := range ts {
		var capacity int
		if tier.MaxQuantity == nil {
			capacity = remaining
		} else {
			capacity = *tier.MaxQuantity - tier.MinQuantity + 1
			if capacity > remaining {
				capacity = remaining
			}
		}
		total += money.Amount(capacity) * tier.PricePerUnit
		remaining -= capacity
		if remaining == 0 {
			return total, nil
		}
	}
	return 0, fmt.Errorf("%w: quantity %d", ErrQuantityNotCovered, quantity)
}
