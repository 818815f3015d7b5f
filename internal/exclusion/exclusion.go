// Package exclusion removes ineligible line items from a promotion's scope
// before any discount is calculated.
package exclusion

import (
	"github.com/google/uuid"

	"github.com/noah-isme/promo-engine/internal/cart"
)

// Kind identifies what an exclusion rule matches against.
type Kind string

const (
	KindProduct  Kind = "product"
	KindCategory Kind = "category"
	KindBrand    Kind = "brand"
	KindTag      Kind = "tag"
)

// Rule excludes items matching any of its IDs (or Tags for KindTag). A line
// item is excluded when it matches any rule of any kind.
type Rule struct {
	Kind   Kind
	IDs    []uuid.UUID
	Tags   []string
	Reason string
}

// Result reports the outcome of an exclusion check.
type Result struct {
	Excluded bool
	Reason   string
}

// checkOrder fixes the evaluation order so surfaced reasons are stable across
// runs regardless of rule slice ordering.
var checkOrder = []Kind{KindProduct, KindCategory, KindBrand, KindTag}

// IsExcluded checks the item against all rules, product first, then category,
// brand, and tag. The first matching rule wins and its reason is surfaced.
func IsExcluded(item cart.LineItem, exclusions []Rule) Result {
	for _, kind := range checkOrder {
		for _, rule := range exclusions {
			if rule.Kind != kind {
				continue
			}
			if matches(rule, item) {
				return Result{Excluded: true, Reason: rule.Reason}
			}
		}
	}
	return Result{}
}

// FilterEligible returns the items not excluded by any rule. Running it once
// up front means downstream calculators never re-check exclusions.
func FilterEligible(items []cart.LineItem, exclusions []Rule) []cart.LineItem {
	if len(exclusions) == 0 {
		return items
	}
	eligible := make([]cart.LineItem, 0, len(items))
	for _, item := range items {
		if !IsExcluded(item, exclusions).Excluded {
			eligible = append(eligible, item)
		}
	}
	return eligible
}

func matches(rule Rule, item cart.LineItem) bool {
	switch rule.Kind {
	case KindProduct:
		return containsID(rule.IDs, item.ProductID)
	case KindCategory:
		return containsID(rule.IDs, item.CategoryID)
	case KindBrand:
		return containsID(rule.IDs, item.BrandID)
	case KindTag:
		for _, tag := range item.Tags {
			for _, excluded := range rule.Tags {
				if tag == excluded {
					return true
				}
			}
		}
	}
	return false
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	if id == uuid.Nil {
		return false
	}
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
