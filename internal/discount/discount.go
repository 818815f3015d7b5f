// Package discount holds the pure calculators for each promotion rule type.
// All amounts are minor currency units; rounding goes through internal/money
// exactly once per calculation.
package discount

import (
	"errors"
	"fmt"

	"github.com/noah-isme/promo-engine/internal/money"
)

var (
	// ErrUnknownType is returned for a discount type outside the closed set.
	ErrUnknownType = errors.New("discount: unknown discount type")
	// ErrInvalidDefinition flags a malformed rule definition. Malformed
	// promotions fail closed and never apply.
	ErrInvalidDefinition = errors.New("discount: invalid definition")
)

// Type enumerates the generic discount kinds.
type Type string

const (
	TypePercentage Type = "percentage"
	TypeFixed      Type = "fixed"
)

// Discount is a generic percentage or fixed-amount discount definition.
type Discount struct {
	ID        string
	Type      Type
	Value     int64
	Priority  int
	Stackable bool
	MaxAmount *money.Amount
}

// Validate rejects malformed definitions at promotion load time.
func (d Discount) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: discount id is required", ErrInvalidDefinition)
	}
	switch d.Type {
	case TypePercentage:
		if d.Value < 0 || d.Value > 100 {
			return fmt.Errorf("%w: percentage out of range: %d", ErrInvalidDefinition, d.Value)
		}
	case TypeFixed:
		if d.Value < 0 {
			return fmt.Errorf("%w: negative fixed amount: %d", ErrInvalidDefinition, d.Value)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, d.Type)
	}
	if d.MaxAmount != nil && *d.MaxAmount < 0 {
		return fmt.Errorf("%w: negative max amount", ErrInvalidDefinition)
	}
	return nil
}

// AmountFor computes the discount against the remaining amount to discount,
// clamped to [0, base] and then to MaxAmount. Never negative.
func (d Discount) AmountFor(base money.Amount) money.Amount {
	if base <= 0 {
		return 0
	}
	var amount money.Amount
	switch d.Type {
	case TypePercentage:
		amount = money.Percent(base, d.Value)
	case TypeFixed:
		amount = d.Value
	default:
		return 0
	}
	amount = money.Clamp(amount, 0, base)
	if d.MaxAmount != nil && amount > *d.MaxAmount {
		amount = *d.MaxAmount
	}
	if amount < 0 {
		amount = 0
	}
	return amount
}
