package stacking

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/promo-engine/internal/discount"
	"github.com/noah-isme/promo-engine/internal/money"
)

func TestResolvePicksBestExclusive(t *testing.T) {
	discounts := []discount.Discount{
		{ID: "nsA", Type: discount.TypeFixed, Value: 1_000, Priority: 10},
		{ID: "nsB", Type: discount.TypeFixed, Value: 1_500, Priority: 5},
		{ID: "st1", Type: discount.TypeFixed, Value: 200, Priority: 1, Stackable: true},
	}
	res := Resolver{}.Resolve(10_000, discounts)

	// The 1500 exclusive plus the 200 stackable wins; the two exclusives
	// never combine.
	require.Equal(t, money.Amount(1_700), res.TotalDiscount)
	require.Equal(t, money.Amount(8_300), res.FinalAmount)
	ids := appliedIDs(res)
	require.Contains(t, ids, "nsB")
	require.Contains(t, ids, "st1")
	require.NotContains(t, ids, "nsA")
}

func TestResolveGreedySingleExclusive(t *testing.T) {
	discounts := []discount.Discount{
		{ID: "ns", Type: discount.TypePercentage, Value: 10, Priority: 5},
		{ID: "st", Type: discount.TypeFixed, Value: 500, Priority: 10, Stackable: true},
	}
	res := Resolver{}.Resolve(10_000, discounts)

	// Priority order: st (500) first, then ns = 10% of the 9500 remainder.
	require.Equal(t, money.Amount(500+950), res.TotalDiscount)
	require.Equal(t, []AppliedDiscount{{ID: "st", Amount: 500}, {ID: "ns", Amount: 950}}, res.Applied)
}

func TestResolveNeverNegative(t *testing.T) {
	discounts := []discount.Discount{
		{ID: "a", Type: discount.TypeFixed, Value: 8_000, Priority: 2, Stackable: true},
		{ID: "b", Type: discount.TypeFixed, Value: 8_000, Priority: 1, Stackable: true},
	}
	res := Resolver{}.Resolve(10_000, discounts)
	require.Equal(t, money.Amount(10_000), res.TotalDiscount)
	require.Equal(t, money.Amount(0), res.FinalAmount)
}

func TestResolveRespectsMaxAmount(t *testing.T) {
	capped := money.Amount(300)
	discounts := []discount.Discount{
		{ID: "pct", Type: discount.TypePercentage, Value: 50, Stackable: true, MaxAmount: &capped},
	}
	res := Resolver{}.Resolve(10_000, discounts)
	require.Equal(t, money.Amount(300), res.TotalDiscount)
}

func TestResolveDeterministicTiebreak(t *testing.T) {
	discounts := []discount.Discount{
		{ID: "zz", Type: discount.TypeFixed, Value: 1_000, Priority: 1},
		{ID: "aa", Type: discount.TypeFixed, Value: 1_000, Priority: 1},
	}
	first := Resolver{}.Resolve(5_000, discounts)
	for i := 0; i < 10; i++ {
		again := Resolver{}.Resolve(5_000, discounts)
		require.Equal(t, first, again)
	}
	// Equal totals: the candidate earlier in priority/id order wins.
	require.Equal(t, []AppliedDiscount{{ID: "aa", Amount: 1_000}}, first.Applied)
}

func TestResolveFallbackAboveCandidateCap(t *testing.T) {
	var discounts []discount.Discount
	for i := 0; i < 20; i++ {
		discounts = append(discounts, discount.Discount{
			ID:       fmt.Sprintf("ns%02d", i),
			Type:     discount.TypeFixed,
			Value:    int64(100 + i),
			Priority: i,
		})
	}
	res := Resolver{MaxCandidates: 12}.Resolve(10_000, discounts)

	// Greedy fallback keeps only the highest-priority exclusive.
	require.Len(t, res.Applied, 1)
	require.Equal(t, "ns19", res.Applied[0].ID)
	require.Equal(t, money.Amount(119), res.TotalDiscount)
}

func TestResolveEmptyInput(t *testing.T) {
	res := Resolver{}.Resolve(10_000, nil)
	require.Zero(t, res.TotalDiscount)
	require.Equal(t, money.Amount(10_000), res.FinalAmount)
	require.Empty(t, res.Applied)
}

func appliedIDs(res Result) []string {
	ids := make([]string, 0, len(res.Applied))
	for _, a := range res.Applied {
		ids = append(ids, a.ID)
	}
	return ids
}
