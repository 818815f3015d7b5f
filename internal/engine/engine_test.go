package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/promo-engine/internal/cart"
	"github.com/noah-isme/promo-engine/internal/catalog"
	"github.com/noah-isme/promo-engine/internal/discount"
	"github.com/noah-isme/promo-engine/internal/exclusion"
	"github.com/noah-isme/promo-engine/internal/flashsale"
	"github.com/noah-isme/promo-engine/internal/money"
	"github.com/noah-isme/promo-engine/internal/rules"
	"github.com/noah-isme/promo-engine/internal/stacking"
)

type stubSales struct {
	sales map[uuid.UUID]flashsale.Sale
}

func (s *stubSales) GetSale(_ context.Context, id uuid.UUID) (flashsale.Sale, error) {
	sale, ok := s.sales[id]
	if !ok {
		return flashsale.Sale{}, flashsale.ErrSaleNotFound
	}
	return sale, nil
}

type stubAllocator struct {
	allocated map[uuid.UUID]int64
	released  map[uuid.UUID]int64
	failAfter int
	calls     int
}

func (a *stubAllocator) Allocate(_ context.Context, id uuid.UUID, qty int64) (bool, error) {
	a.calls++
	if a.failAfter > 0 && a.calls > a.failAfter {
		return false, nil
	}
	if a.allocated == nil {
		a.allocated = map[uuid.UUID]int64{}
	}
	a.allocated[id] += qty
	return true, nil
}

func (a *stubAllocator) Release(_ context.Context, id uuid.UUID, qty int64) error {
	if a.released == nil {
		a.released = map[uuid.UUID]int64{}
	}
	a.released[id] += qty
	return nil
}

func (a *stubAllocator) Remaining(context.Context, uuid.UUID) (int64, bool, error) {
	return 0, false, nil
}

func (a *stubAllocator) Active(context.Context, uuid.UUID) (bool, error) { return true, nil }

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func mustGroup(t *testing.T, op rules.GroupOp, children ...rules.Node) *rules.Group {
	t.Helper()
	g, err := rules.NewGroup(op, children...)
	require.NoError(t, err)
	return g
}

func newEngine() *Engine {
	return &Engine{
		Resolver: stacking.Resolver{},
		Logger:   zerolog.Nop(),
		Now:      func() time.Time { return baseTime },
	}
}

func basicPromo(code string, d discount.Discount) catalog.Promotion {
	return catalog.Promotion{
		ID:       uuid.New(),
		Code:     code,
		Kind:     catalog.KindBasic,
		Discount: d,
		IsActive: true,
	}
}

func twoItemCart() (cart.Snapshot, uuid.UUID, uuid.UUID) {
	giftCardCat := uuid.New()
	apparelCat := uuid.New()
	snapshot := cart.Snapshot{
		ID:       uuid.New(),
		Currency: "USD",
		Items: []cart.LineItem{
			{ProductID: uuid.New(), CategoryID: apparelCat, Quantity: 2, UnitPrice: 2500},
			{ProductID: uuid.New(), CategoryID: giftCardCat, Quantity: 1, UnitPrice: 5000},
		},
	}
	return snapshot, giftCardCat, apparelCat
}

func TestQuoteUnscopedPercentage(t *testing.T) {
	e := newEngine()
	snapshot, _, _ := twoItemCart() // subtotal 10000

	promo := basicPromo("TEN-OFF", discount.Discount{
		Type: discount.TypePercentage, Value: 10, Stackable: true,
	})
	quote, err := e.Quote(context.Background(), snapshot, []catalog.Promotion{promo}, nil)
	require.NoError(t, err)
	require.Equal(t, money.Amount(10000), quote.Subtotal)
	require.Equal(t, money.Amount(1000), quote.TotalDiscount)
	require.Equal(t, money.Amount(9000), quote.FinalAmount)
	require.Len(t, quote.Applied, 1)
	require.Equal(t, "TEN-OFF", quote.Applied[0].ID)
}

func TestQuoteExclusionScopesPercentage(t *testing.T) {
	e := newEngine()
	snapshot, giftCardCat, _ := twoItemCart()

	promo := basicPromo("NO-GIFTCARDS", discount.Discount{
		Type: discount.TypePercentage, Value: 20,
	})
	promo.Exclusions = []exclusion.Rule{{Kind: exclusion.KindCategory, IDs: []uuid.UUID{giftCardCat}}}

	quote, err := e.Quote(context.Background(), snapshot, []catalog.Promotion{promo}, nil)
	require.NoError(t, err)
	// 20% of the 5000 eligible subtotal, not of the 10000 cart.
	require.Equal(t, money.Amount(1000), quote.TotalDiscount)
	require.Equal(t, money.Amount(9000), quote.FinalAmount)
}

func TestQuoteAllItemsExcluded(t *testing.T) {
	e := newEngine()
	snapshot, giftCardCat, apparelCat := twoItemCart()

	promo := basicPromo("NOTHING-LEFT", discount.Discount{Type: discount.TypeFixed, Value: 500})
	promo.Exclusions = []exclusion.Rule{{Kind: exclusion.KindCategory, IDs: []uuid.UUID{giftCardCat, apparelCat}}}

	quote, err := e.Quote(context.Background(), snapshot, []catalog.Promotion{promo}, nil)
	require.NoError(t, err)
	require.Empty(t, quote.Applied)
	require.Equal(t, snapshot.Subtotal(), quote.FinalAmount)
	require.Len(t, quote.Skipped, 1)
	require.Equal(t, "all items excluded", quote.Skipped[0].Reason)
}

func TestQuoteConditionsGate(t *testing.T) {
	e := newEngine()
	snapshot, _, _ := twoItemCart() // subtotal 10000

	promo := basicPromo("BIG-SPENDER", discount.Discount{Type: discount.TypeFixed, Value: 500})
	promo.Conditions = mustGroup(t, rules.And,
		rules.Condition{Field: "order.total", Op: rules.OpGe, Value: rules.Number(50000)},
	)

	quote, err := e.Quote(context.Background(), snapshot, []catalog.Promotion{promo}, nil)
	require.NoError(t, err)
	require.Empty(t, quote.Applied)
	require.Equal(t, "conditions not met", quote.Skipped[0].Reason)

	promo.Conditions = mustGroup(t, rules.And,
		rules.Condition{Field: "order.total", Op: rules.OpGe, Value: rules.Number(10000)},
		rules.Condition{Field: "user.tier", Op: rules.OpEq, Value: rules.String("gold")},
	)
	quote, err = e.Quote(context.Background(), snapshot, []catalog.Promotion{promo}, map[string]any{"tier": "gold"})
	require.NoError(t, err)
	require.Len(t, quote.Applied, 1)
}

func TestQuoteBOGO(t *testing.T) {
	e := newEngine()
	productID := uuid.New()
	snapshot := cart.Snapshot{
		ID:       uuid.New(),
		Currency: "USD",
		Items:    []cart.LineItem{{ProductID: productID, Quantity: 4, UnitPrice: 1000}},
	}

	promo := catalog.Promotion{
		ID:       uuid.New(),
		Code:     "B1G1",
		Kind:     catalog.KindBOGO,
		IsActive: true,
		BOGO: &discount.BOGORule{
			BuyQuantity:          1,
			GetQuantity:          1,
			DiscountPercent:      100,
			ApplicableProductIDs: []uuid.UUID{productID},
		},
	}
	quote, err := e.Quote(context.Background(), snapshot, []catalog.Promotion{promo}, nil)
	require.NoError(t, err)
	// 4 units form 2 complete sets, so 2 units go free.
	require.Equal(t, money.Amount(2000), quote.TotalDiscount)
}

func TestQuoteFlashSaleDemand(t *testing.T) {
	productID := uuid.New()
	saleID := uuid.New()
	e := newEngine()
	e.Sales = &stubSales{sales: map[uuid.UUID]flashsale.Sale{
		saleID: {
			ID:              saleID,
			ProductIDs:      []uuid.UUID{productID},
			DiscountPercent: 50,
			StartTime:       baseTime.Add(-time.Hour),
			EndTime:         baseTime.Add(time.Hour),
			IsActive:        true,
		},
	}}

	snapshot := cart.Snapshot{
		ID:       uuid.New(),
		Currency: "USD",
		Items: []cart.LineItem{
			{ProductID: productID, Quantity: 3, UnitPrice: 2000},
			{ProductID: uuid.New(), Quantity: 1, UnitPrice: 9999},
		},
	}
	promo := catalog.Promotion{
		ID: uuid.New(), Code: "FLASH50", Kind: catalog.KindFlashSale,
		FlashSaleID: &saleID, IsActive: true,
	}

	quote, err := e.Quote(context.Background(), snapshot, []catalog.Promotion{promo}, nil)
	require.NoError(t, err)
	require.Equal(t, money.Amount(3000), quote.TotalDiscount)
	require.Len(t, quote.FlashDemands, 1)
	require.Equal(t, saleID, quote.FlashDemands[0].SaleID)
	require.Equal(t, int64(3), quote.FlashDemands[0].Quantity)
}

func TestQuoteFlashSaleOutsideWindow(t *testing.T) {
	productID := uuid.New()
	saleID := uuid.New()
	e := newEngine()
	e.Sales = &stubSales{sales: map[uuid.UUID]flashsale.Sale{
		saleID: {
			ID:              saleID,
			ProductIDs:      []uuid.UUID{productID},
			DiscountPercent: 50,
			StartTime:       baseTime.Add(time.Hour),
			EndTime:         baseTime.Add(2 * time.Hour),
			IsActive:        true,
		},
	}}
	snapshot := cart.Snapshot{
		ID:    uuid.New(),
		Items: []cart.LineItem{{ProductID: productID, Quantity: 1, UnitPrice: 2000}},
	}
	promo := catalog.Promotion{
		ID: uuid.New(), Code: "TOO-EARLY", Kind: catalog.KindFlashSale,
		FlashSaleID: &saleID, IsActive: true,
	}

	quote, err := e.Quote(context.Background(), snapshot, []catalog.Promotion{promo}, nil)
	require.NoError(t, err)
	require.Empty(t, quote.Applied)
	require.Equal(t, "flash sale not active", quote.Skipped[0].Reason)
}

func TestQuoteStackingPicksBestExclusive(t *testing.T) {
	e := newEngine()
	snapshot, _, _ := twoItemCart() // subtotal 10000

	promos := []catalog.Promotion{
		basicPromo("EXCL-A", discount.Discount{Type: discount.TypeFixed, Value: 1000}),
		basicPromo("EXCL-B", discount.Discount{Type: discount.TypeFixed, Value: 1500}),
		basicPromo("STACK", discount.Discount{Type: discount.TypeFixed, Value: 200, Stackable: true}),
	}
	quote, err := e.Quote(context.Background(), snapshot, promos, nil)
	require.NoError(t, err)
	require.Equal(t, money.Amount(1700), quote.TotalDiscount)
	require.Equal(t, money.Amount(8300), quote.FinalAmount)
}

func TestQuoteNeverNegative(t *testing.T) {
	e := newEngine()
	snapshot := cart.Snapshot{
		ID:    uuid.New(),
		Items: []cart.LineItem{{ProductID: uuid.New(), Quantity: 1, UnitPrice: 100}},
	}
	promos := []catalog.Promotion{
		basicPromo("HUGE-A", discount.Discount{Type: discount.TypeFixed, Value: 90, Stackable: true}),
		basicPromo("HUGE-B", discount.Discount{Type: discount.TypeFixed, Value: 90, Stackable: true}),
	}
	quote, err := e.Quote(context.Background(), snapshot, promos, nil)
	require.NoError(t, err)
	require.GreaterOrEqual(t, quote.FinalAmount, money.Amount(0))
	require.Equal(t, quote.Subtotal-quote.TotalDiscount, quote.FinalAmount)
}

func TestQuoteExpiredPromotionSkipped(t *testing.T) {
	e := newEngine()
	snapshot, _, _ := twoItemCart()

	past := baseTime.Add(-time.Hour)
	promo := basicPromo("EXPIRED", discount.Discount{Type: discount.TypeFixed, Value: 500})
	promo.ValidTo = &past

	quote, err := e.Quote(context.Background(), snapshot, []catalog.Promotion{promo}, nil)
	require.NoError(t, err)
	require.Empty(t, quote.Applied)
	require.Len(t, quote.Skipped, 1)
}

func TestReserveAllOrNothing(t *testing.T) {
	alloc := &stubAllocator{failAfter: 1}
	e := newEngine()
	e.Allocator = alloc

	saleA, saleB := uuid.New(), uuid.New()
	quote := Quote{
		CartID: uuid.New(),
		FlashDemands: []FlashDemand{
			{SaleID: saleA, DiscountID: "A", Quantity: 2},
			{SaleID: saleB, DiscountID: "B", Quantity: 1},
		},
	}
	ok, err := e.Reserve(context.Background(), quote)
	require.NoError(t, err)
	require.False(t, ok)
	// The first allocation must be rolled back after the second fails.
	require.Equal(t, int64(2), alloc.released[saleA])
}

func TestReserveAgainstMemoryAllocator(t *testing.T) {
	logger := zerolog.Nop()
	mem := flashsale.NewMemoryAllocator(&logger)
	mem.Now = func() time.Time { return baseTime }
	max := int64(5)
	saleID := uuid.New()
	require.NoError(t, mem.Register(flashsale.Sale{
		ID:              saleID,
		DiscountPercent: 10,
		StartTime:       baseTime.Add(-time.Hour),
		EndTime:         baseTime.Add(time.Hour),
		MaxQuantity:     &max,
		IsActive:        true,
	}))

	e := newEngine()
	e.Allocator = mem
	quote := Quote{
		CartID:       uuid.New(),
		FlashDemands: []FlashDemand{{SaleID: saleID, DiscountID: "F", Quantity: 3}},
	}

	ok, err := e.Reserve(context.Background(), quote)
	require.NoError(t, err)
	require.True(t, ok)

	// Only 2 left, asking for 3 again must fail without partial allocation.
	ok, err = e.Reserve(context.Background(), quote)
	require.NoError(t, err)
	require.False(t, ok)

	remaining, bounded, err := mem.Remaining(context.Background(), saleID)
	require.NoError(t, err)
	require.True(t, bounded)
	require.Equal(t, int64(2), remaining)

	require.NoError(t, e.Cancel(context.Background(), quote))
	remaining, _, err = mem.Remaining(context.Background(), saleID)
	require.NoError(t, err)
	require.Equal(t, int64(5), remaining)
}
