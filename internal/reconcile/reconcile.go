// Package reconcile drains expired flash-sale reservations back into the
// sellable pool. Client-side allocation timeouts can leave sold counters
// holding stock nobody will pay for; the sweep is the safety net that
// returns it.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/promo-engine/internal/events"
	"github.com/noah-isme/promo-engine/internal/lock"
)

// TaskSweepReservations is the asynq task type for the periodic sweep.
const TaskSweepReservations = "flashsale:reconcile"

const lockKey = "lock:flashsale:reconcile"

// Sweeper releases expired reservations in bounded batches.
type Sweeper interface {
	SweepExpired(ctx context.Context, limit int) (int, error)
}

// Reconciler runs the reservation sweep under a distributed lock so that
// only one worker instance sweeps at a time.
type Reconciler struct {
	Store     Sweeper
	Locker    lock.Locker
	LockTTL   time.Duration
	BatchSize int
	Bus       *events.Bus
	Logger    zerolog.Logger
}

type sweepReport struct {
	Released int       `json:"released"`
	SweptAt  time.Time `json:"sweptAt"`
}

// Run sweeps until a batch comes back short, meaning the backlog is drained.
// It returns the number of reservations released. A held lock is not an
// error: another instance is already sweeping.
func (r *Reconciler) Run(ctx context.Context) (int, error) {
	if r.Store == nil {
		return 0, errors.New("reconcile: store not configured")
	}
	batch := r.BatchSize
	if batch <= 0 {
		batch = 100
	}
	ttl := r.LockTTL
	if ttl <= 0 {
		ttl = time.Minute
	}

	var released int
	err := r.Locker.TryWithLock(ctx, lockKey, ttl, func(ctx context.Context) error {
		for {
			n, err := r.Store.SweepExpired(ctx, batch)
			released += n
			if err != nil {
				return err
			}
			if n < batch {
				return nil
			}
		}
	})
	if errors.Is(err, lock.ErrNotAcquired) {
		r.Logger.Debug().Msg("sweep already running elsewhere, skipping")
		return 0, nil
	}
	if err != nil {
		SweepErrorsTotal.Inc()
		return released, err
	}

	SweptTotal.Add(float64(released))
	if released > 0 {
		r.Logger.Info().Int("released", released).Msg("expired reservations released")
		if r.Bus != nil {
			report := sweepReport{Released: released, SweptAt: time.Now().UTC()}
			// Each sweep run is its own aggregate.
			if _, err := r.Bus.Emit(ctx, events.TopicReservationsSwept, uuid.New(), report); err != nil {
				r.Logger.Warn().Err(err).Msg("sweep event emit failed")
			}
		}
	}
	return released, nil
}

// NewTask builds the asynq task the scheduler enqueues on its interval.
func NewTask() *asynq.Task {
	payload, _ := json.Marshal(struct{}{})
	return asynq.NewTask(TaskSweepReservations, payload)
}

// HandleTask adapts Run to the asynq handler signature.
func (r *Reconciler) HandleTask(ctx context.Context, _ *asynq.Task) error {
	_, err := r.Run(ctx)
	return err
}
