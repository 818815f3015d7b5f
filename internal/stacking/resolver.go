// Package stacking chooses which of a cart's eligible discounts apply
// together and in what order. At most one non-stackable discount may join a
// combination; the resolver searches the legal combinations directly instead
// of enumerating subsets, so the search stays linear in the number of
// non-stackable candidates.
package stacking

import (
	"sort"

	"github.com/noah-isme/promo-engine/internal/discount"
	"github.com/noah-isme/promo-engine/internal/money"
)

// DefaultMaxCandidates caps the non-stackable candidates searched before the
// resolver falls back to the greedy policy.
const DefaultMaxCandidates = 12

// AppliedDiscount records one discount in the chosen combination.
type AppliedDiscount struct {
	ID     string       `json:"id"`
	Amount money.Amount `json:"amount"`
}

// Result is the resolved price breakdown.
type Result struct {
	TotalDiscount money.Amount      `json:"totalDiscount"`
	FinalAmount   money.Amount      `json:"finalAmount"`
	Applied       []AppliedDiscount `json:"appliedDiscounts"`
}

// Resolver combines discounts under the stacking constraints.
type Resolver struct {
	// MaxCandidates bounds the combinatorial step; zero means
	// DefaultMaxCandidates. One pathological cart must not stall a worker.
	MaxCandidates int
}

// Resolve picks the legal combination with the greatest total discount. The
// same input always yields the same combination: sorting is by priority
// descending with discount id ascending as the tiebreak, and among equal
// totals the earlier candidate in that order wins.
func (r Resolver) Resolve(original money.Amount, discounts []discount.Discount) Result {
	if original < 0 {
		original = 0
	}
	sorted := sortDiscounts(discounts)

	var stackable, exclusive []discount.Discount
	for _, d := range sorted {
		if d.Stackable {
			stackable = append(stackable, d)
		} else {
			exclusive = append(exclusive, d)
		}
	}

	limit := r.MaxCandidates
	if limit <= 0 {
		limit = DefaultMaxCandidates
	}

	switch {
	case len(exclusive) <= 1:
		ResolvedTotal.WithLabelValues("greedy").Inc()
		return apply(original, sorted)
	case len(exclusive) > limit:
		// Too many candidates to search; greedy keeps the first
		// non-stackable encountered and skips the rest. Not an error,
		// but the counter is the tuning signal.
		FallbackTotal.Inc()
		ResolvedTotal.WithLabelValues("fallback").Inc()
		return apply(original, limitExclusive(sorted, 1))
	default:
		ResolvedTotal.WithLabelValues("search").Inc()
		return searchBest(original, stackable, exclusive)
	}
}

// searchBest evaluates each non-stackable candidate together with every
// stackable discount and keeps the combination with the largest total. O(k)
// combinations for k candidates, never a subset enumeration.
func searchBest(original money.Amount, stackable, exclusive []discount.Discount) Result {
	best := apply(original, stackable)
	for _, candidate := range exclusive {
		combo := sortDiscounts(append(append([]discount.Discount{}, stackable...), candidate))
		res := apply(original, combo)
		if res.TotalDiscount > best.TotalDiscount {
			best = res
		}
	}
	return best
}

// apply runs the discounts in order against the running remainder. Amounts
// respect each discount's cap and the remainder never goes below zero.
func apply(original money.Amount, discounts []discount.Discount) Result {
	remaining := original
	result := Result{FinalAmount: original}
	for _, d := range discounts {
		if remaining <= 0 {
			break
		}
		amount := d.AmountFor(remaining)
		if amount <= 0 {
			continue
		}
		remaining -= amount
		result.TotalDiscount += amount
		result.Applied = append(result.Applied, AppliedDiscount{ID: d.ID, Amount: amount})
	}
	result.FinalAmount = original - result.TotalDiscount
	if result.FinalAmount < 0 {
		result.FinalAmount = 0
	}
	return result
}

func sortDiscounts(discounts []discount.Discount) []discount.Discount {
	sorted := append([]discount.Discount{}, discounts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority > sorted[j].Priority
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

func limitExclusive(sorted []discount.Discount, max int) []discount.Discount {
	kept := make([]discount.Discount, 0, len(sorted))
	seen := 0
	for _, d := range sorted {
		if !d.Stackable {
			if seen >= max {
				continue
			}
			seen++
		}
		kept = append(kept, d)
	}
	return kept
}
