package flashsale

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func testSale(max *int64, sold int64) Sale {
	return Sale{
		ID:              uuid.New(),
		Name:            "midnight drop",
		ProductIDs:      []uuid.UUID{uuid.New()},
		DiscountPercent: 30,
		StartTime:       time.Now().Add(-time.Hour),
		EndTime:         time.Now().Add(time.Hour),
		MaxQuantity:     max,
		SoldQuantity:    sold,
		IsActive:        true,
	}
}

func int64Ptr(v int64) *int64 { return &v }

func TestMemoryAllocateBurstNeverOversells(t *testing.T) {
	alloc := NewMemoryAllocator(nil)
	sale := testSale(int64Ptr(10), 8)
	require.NoError(t, alloc.Register(sale))

	const requests = 5
	results := make(chan bool, requests)
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := alloc.Allocate(context.Background(), sale.ID, 1)
			require.NoError(t, err)
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for ok := range results {
		if ok {
			succeeded++
		}
	}
	// Two units remained: exactly two allocations win, never a lost update.
	require.Equal(t, 2, succeeded)

	snapshot, err := alloc.Snapshot(sale.ID)
	require.NoError(t, err)
	require.Equal(t, int64(10), snapshot.SoldQuantity)
}

func TestMemoryAllocateReleaseRoundTrip(t *testing.T) {
	alloc := NewMemoryAllocator(nil)
	sale := testSale(int64Ptr(100), 40)
	require.NoError(t, alloc.Register(sale))

	ok, err := alloc.Allocate(context.Background(), sale.ID, 5)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, alloc.Release(context.Background(), sale.ID, 5))

	snapshot, err := alloc.Snapshot(sale.ID)
	require.NoError(t, err)
	require.Equal(t, int64(40), snapshot.SoldQuantity)

	// Allocate, release, allocate again with the same quantity is
	// idempotent in effect.
	ok, err = alloc.Allocate(context.Background(), sale.ID, 5)
	require.NoError(t, err)
	require.True(t, ok)
	snapshot, err = alloc.Snapshot(sale.ID)
	require.NoError(t, err)
	require.Equal(t, int64(45), snapshot.SoldQuantity)
}

func TestMemoryReleaseClampsAtZero(t *testing.T) {
	alloc := NewMemoryAllocator(nil)
	sale := testSale(int64Ptr(10), 1)
	require.NoError(t, alloc.Register(sale))

	require.NoError(t, alloc.Release(context.Background(), sale.ID, 5))
	snapshot, err := alloc.Snapshot(sale.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), snapshot.SoldQuantity)
}

func TestMemoryAllocateRejectsOutsideWindow(t *testing.T) {
	alloc := NewMemoryAllocator(nil)

	scheduled := testSale(nil, 0)
	scheduled.StartTime = time.Now().Add(time.Hour)
	scheduled.EndTime = time.Now().Add(2 * time.Hour)
	require.NoError(t, alloc.Register(scheduled))

	ended := testSale(nil, 0)
	ended.StartTime = time.Now().Add(-2 * time.Hour)
	ended.EndTime = time.Now().Add(-time.Hour)
	require.NoError(t, alloc.Register(ended))

	closed := testSale(nil, 0)
	closed.IsActive = false
	require.NoError(t, alloc.Register(closed))

	for _, saleID := range []uuid.UUID{scheduled.ID, ended.ID, closed.ID} {
		ok, err := alloc.Allocate(context.Background(), saleID, 1)
		require.NoError(t, err)
		require.False(t, ok)
	}
}

func TestMemoryUnlimitedSale(t *testing.T) {
	alloc := NewMemoryAllocator(nil)
	sale := testSale(nil, 0)
	require.NoError(t, alloc.Register(sale))

	ok, err := alloc.Allocate(context.Background(), sale.ID, 1_000_000)
	require.NoError(t, err)
	require.True(t, ok)

	_, limited, err := alloc.Remaining(context.Background(), sale.ID)
	require.NoError(t, err)
	require.False(t, limited)
}

func TestMemoryAllocateUnknownSale(t *testing.T) {
	alloc := NewMemoryAllocator(nil)
	_, err := alloc.Allocate(context.Background(), uuid.New(), 1)
	require.ErrorIs(t, err, ErrSaleNotFound)
}

func TestSaleStateMachine(t *testing.T) {
	now := time.Now()
	sale := Sale{
		ID:        uuid.New(),
		StartTime: now.Add(-time.Hour),
		EndTime:   now.Add(time.Hour),
		IsActive:  true,
	}
	require.Equal(t, StatusActive, sale.StatusAt(now))
	require.Equal(t, StatusScheduled, sale.StatusAt(now.Add(-2*time.Hour)))
	require.Equal(t, StatusEnded, sale.StatusAt(now.Add(2*time.Hour)))

	sale.MaxQuantity = int64Ptr(5)
	sale.SoldQuantity = 5
	require.Equal(t, StatusSoldOut, sale.StatusAt(now))

	sale.IsActive = false
	require.Equal(t, StatusClosed, sale.StatusAt(now))
}
