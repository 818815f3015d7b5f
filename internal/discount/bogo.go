package discount

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/noah-isme/promo-engine/internal/cart"
	"github.com/noah-isme/promo-engine/internal/money"
)

// BOGORule is a buy-X-get-Y definition. DiscountPercent of 100 makes the
// "get" units free.
type BOGORule struct {
	BuyQuantity           int
	GetQuantity           int
	DiscountPercent       int64
	ApplicableProductIDs  []uuid.UUID
	ApplicableCategoryIDs []uuid.UUID
	MaxApplications       *int
}

// Validate rejects malformed BOGO definitions at load time.
func (r BOGORule) Validate() error {
	if r.BuyQuantity < 1 {
		return fmt.Errorf("%w: bogo buy quantity must be at least 1", ErrInvalidDefinition)
	}
	if r.GetQuantity < 1 {
		return fmt.Errorf("%w: bogo get quantity must be at least 1", ErrInvalidDefinition)
	}
	if r.DiscountPercent < 0 || r.DiscountPercent > 100 {
		return fmt.Errorf("%w: bogo discount percent out of range: %d", ErrInvalidDefinition, r.DiscountPercent)
	}
	if r.MaxApplications != nil && *r.MaxApplications < 1 {
		return fmt.Errorf("%w: bogo max applications must be at least 1", ErrInvalidDefinition)
	}
	return nil
}

// BOGOResult reports the computed discount and the lines it touched.
type BOGOResult struct {
	Amount             money.Amount
	DiscountedQuantity int
	Affected           []cart.LineItem
}

// ApplyBOGO computes the buy-X-get-Y discount over the eligible lines. A line
// whose quantity is smaller than one full buy+get set earns nothing; there are
// no partial sets. MaxApplications caps the number of sets per line.
func ApplyBOGO(items []cart.LineItem, r BOGORule) BOGOResult {
	if r.Validate() != nil {
		return BOGOResult{}
	}
	setSize := r.BuyQuantity + r.GetQuantity
	var result BOGOResult
	for _, item := range items {
		if item.Quantity <= 0 || !r.applies(item) {
			continue
		}
		sets := item.Quantity / setSize
		if r.MaxApplications != nil && sets > *r.MaxApplications {
			sets = *r.MaxApplications
		}
		if sets == 0 {
			continue
		}
		discounted := sets * r.GetQuantity
		amount := money.Percent(item.UnitPrice*money.Amount(discounted), r.DiscountPercent)
		if amount <= 0 {
			continue
		}
		result.Amount += amount
		result.DiscountedQuantity += discounted
		result.Affected = append(result.Affected, item)
	}
	return result
}

func (r BOGORule) applies(item cart.LineItem) bool {
	scoped := len(r.ApplicableProductIDs) > 0 || len(r.ApplicableCategoryIDs) > 0
	if !scoped {
		return true
	}
	for _, id := range r.ApplicableProductIDs {
		if id == item.ProductID {
			return true
		}
	}
	for _, id := range r.ApplicableCategoryIDs {
		if id == item.CategoryID {
			return true
		}
	}
	return false
}
