package discount

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/promo-engine/internal/money"
)

func intPtr(v int) *int { return &v }

func TestTieredTotalPrice(t *testing.T) {
	tiers := TierSchedule{
		{MinQuantity: 1, MaxQuantity: intPtr(10), PricePerUnit: 100},
		{MinQuantity: 11, MaxQuantity: nil, PricePerUnit: 80},
	}
	total, err := tiers.TotalPrice(15)
	require.NoError(t, err)
	// First ten units at 100, remaining five at 80.
	require.Equal(t, money.Amount(1_400), total)
}

func TestTieredExactBoundary(t *testing.T) {
	tiers := TierSchedule{
		{MinQuantity: 1, MaxQuantity: intPtr(5), PricePerUnit: 200},
		{MinQuantity: 6, MaxQuantity: intPtr(10), PricePerUnit: 150},
	}
	total, err := tiers.TotalPrice(5)
	require.NoError(t, err)
	require.Equal(t, money.Amount(1_000), total)

	total, err = tiers.TotalPrice(10)
	require.NoError(t, err)
	require.Equal(t, money.Amount(1_750), total)
}

func TestTieredGapIsConfigurationError(t *testing.T) {
	tiers := TierSchedule{
		{MinQuantity: 1, MaxQuantity: intPtr(5), PricePerUnit: 200},
		{MinQuantity: 7, MaxQuantity: intPtr(10), PricePerUnit: 150},
	}
	require.ErrorIs(t, tiers.Validate(), ErrTierGap)
	_, err := tiers.TotalPrice(8)
	require.ErrorIs(t, err, ErrTierGap)
}

func TestTieredQuantityPastLastBoundedTier(t *testing.T) {
	tiers := TierSchedule{
		{MinQuantity: 1, MaxQuantity: intPtr(10), PricePerUnit: 100},
	}
	_, err := tiers.TotalPrice(11)
	require.ErrorIs(t, err, ErrQuantityNotCovered)
}

func TestTieredZeroQuantity(t *testing.T) {
	tiers := TierSchedule{{MinQuantity: 1, MaxQuantity: nil, PricePerUnit: 100}}
	total, err := tiers.TotalPrice(0)
	require.NoError(t, err)
	require.Zero(t, total)
}
