package flashsale

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MemoryAllocator serialises allocations per sale behind an in-process mutex.
// A lock covers a single sale only, so different sales never contend.
type MemoryAllocator struct {
	Now    func() time.Time
	Logger *zerolog.Logger

	mu    sync.RWMutex
	sales map[uuid.UUID]*saleState
}

type saleState struct {
	mu   sync.Mutex
	sale Sale
}

// NewMemoryAllocator constructs an empty allocator.
func NewMemoryAllocator(logger *zerolog.Logger) *MemoryAllocator {
	return &MemoryAllocator{Logger: logger, sales: make(map[uuid.UUID]*saleState)}
}

// Register adds or replaces a sale definition. The definition must validate.
func (m *MemoryAllocator) Register(sale Sale) error {
	if err := sale.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sales[sale.ID] = &saleState{sale: sale}
	return nil
}

// Allocate atomically checks the window and cap, then increments the sold
// counter. All-or-nothing: a failed check changes nothing.
func (m *MemoryAllocator) Allocate(ctx context.Context, saleID uuid.UUID, quantity int64) (bool, error) {
	if quantity <= 0 {
		return false, ErrInvalidQuantity
	}
	started := time.Now()
	defer func() {
		AllocationDuration.Observe(float64(time.Since(started).Milliseconds()))
	}()

	state, err := m.state(saleID)
	if err != nil {
		AllocationTotal.WithLabelValues("error").Inc()
		return false, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	switch status := state.sale.StatusAt(m.now()); status {
	case StatusActive:
	default:
		AllocationTotal.WithLabelValues(string(status)).Inc()
		return false, nil
	}
	if state.sale.MaxQuantity != nil && state.sale.SoldQuantity+quantity > *state.sale.MaxQuantity {
		AllocationTotal.WithLabelValues("sold_out").Inc()
		return false, nil
	}
	state.sale.SoldQuantity += quantity
	AllocationTotal.WithLabelValues("ok").Inc()
	return true, nil
}

// Release returns quantity to the pool. A release driving the counter below
// zero signals an upstream bug: the counter is clamped and the event logged.
func (m *MemoryAllocator) Release(ctx context.Context, saleID uuid.UUID, quantity int64) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	state, err := m.state(saleID)
	if err != nil {
		return err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	state.sale.SoldQuantity -= quantity
	if state.sale.SoldQuantity < 0 {
		state.sale.SoldQuantity = 0
		ReleaseClampTotal.Inc()
		if m.Logger != nil {
			m.Logger.Error().
				Str("sale_id", saleID.String()).
				Int64("quantity", quantity).
				Msg("flash sale release clamped at zero")
		}
	}
	return nil
}

// Remaining reports the free units for display. Eventually consistent; never
// use it for allocation decisions.
func (m *MemoryAllocator) Remaining(ctx context.Context, saleID uuid.UUID) (int64, bool, error) {
	state, err := m.state(saleID)
	if err != nil {
		return 0, false, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	remaining, limited := state.sale.Remaining()
	return remaining, limited, nil
}

// Active reports whether the sale currently accepts allocations. Display only.
func (m *MemoryAllocator) Active(ctx context.Context, saleID uuid.UUID) (bool, error) {
	state, err := m.state(saleID)
	if err != nil {
		return false, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.sale.StatusAt(m.now()) == StatusActive, nil
}

// Snapshot returns a copy of the sale for inspection.
func (m *MemoryAllocator) Snapshot(saleID uuid.UUID) (Sale, error) {
	state, err := m.state(saleID)
	if err != nil {
		return Sale{}, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.sale, nil
}

func (m *MemoryAllocator) state(saleID uuid.UUID) (*saleState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.sales[saleID]
	if !ok {
		return nil, ErrSaleNotFound
	}
	return state, nil
}

func (m *MemoryAllocator) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}
