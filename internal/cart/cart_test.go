package cart

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/promo-engine/internal/money"
)

func TestLineItemSubtotal(t *testing.T) {
	item := LineItem{ProductID: uuid.New(), Quantity: 3, UnitPrice: 1500}
	require.Equal(t, money.Amount(4500), item.Subtotal())

	item.Quantity = 0
	require.Equal(t, money.Amount(0), item.Subtotal())

	item.Quantity = -2
	require.Equal(t, money.Amount(0), item.Subtotal())
}

func TestSnapshotSubtotal(t *testing.T) {
	s := Snapshot{
		ID:       uuid.New(),
		Currency: "USD",
		Items: []LineItem{
			{Quantity: 2, UnitPrice: 1000},
			{Quantity: 1, UnitPrice: 2500},
			{Quantity: -1, UnitPrice: 9999},
		},
	}
	require.Equal(t, money.Amount(4500), s.Subtotal())

	require.Equal(t, money.Amount(0), Snapshot{}.Subtotal())
}
