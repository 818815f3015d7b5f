package flashsale

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Store persists sales and reservations in Postgres. The allocation check and
// increment ride on a single conditional UPDATE, so row-level locking makes
// the operation atomic across engine instances without an explicit
// SELECT ... FOR UPDATE round trip.
type Store struct {
	Pool   *pgxpool.Pool
	Logger *zerolog.Logger
	Now    func() time.Time
}

// Reservation tracks allocated stock awaiting order confirmation. Rows past
// ExpiresAt with no confirmation are swept back by the reconciliation worker.
type Reservation struct {
	ID        uuid.UUID
	SaleID    uuid.UUID
	OrderID   uuid.UUID
	Quantity  int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

// GetSale loads one sale definition.
func (s *Store) GetSale(ctx context.Context, saleID uuid.UUID) (Sale, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, name, product_ids, discount_percent, start_time, end_time,
		       max_quantity, sold_quantity, is_active
		FROM flash_sales
		WHERE id = $1`, saleID)
	var sale Sale
	if err := row.Scan(&sale.ID, &sale.Name, &sale.ProductIDs, &sale.DiscountPercent,
		&sale.StartTime, &sale.EndTime, &sale.MaxQuantity, &sale.SoldQuantity, &sale.IsActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sale{}, ErrSaleNotFound
		}
		return Sale{}, fmt.Errorf("flashsale: get sale: %w", err)
	}
	return sale, nil
}

// Allocate performs the conditional increment. One row updated means the
// window and cap checks all passed inside the same statement.
func (s *Store) Allocate(ctx context.Context, saleID uuid.UUID, quantity int64) (bool, error) {
	if quantity <= 0 {
		return false, ErrInvalidQuantity
	}
	started := time.Now()
	defer func() {
		AllocationDuration.Observe(float64(time.Since(started).Milliseconds()))
	}()

	tag, err := s.Pool.Exec(ctx, `
		UPDATE flash_sales
		SET sold_quantity = sold_quantity + $2
		WHERE id = $1
		  AND is_active
		  AND $3 BETWEEN start_time AND end_time
		  AND (max_quantity IS NULL OR sold_quantity + $2 <= max_quantity)`,
		saleID, quantity, s.now())
	if err != nil {
		AllocationTotal.WithLabelValues("error").Inc()
		return false, fmt.Errorf("flashsale: allocate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		AllocationTotal.WithLabelValues("rejected").Inc()
		return false, nil
	}
	AllocationTotal.WithLabelValues("ok").Inc()
	return true, nil
}

// Release returns stock, clamping the counter at zero. Clamping is logged as
// it indicates an unbalanced release upstream.
func (s *Store) Release(ctx context.Context, saleID uuid.UUID, quantity int64) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	row := s.Pool.QueryRow(ctx, `
		WITH prev AS (
			SELECT id, sold_quantity AS old_sold
			FROM flash_sales
			WHERE id = $1
			FOR UPDATE
		)
		UPDATE flash_sales f
		SET sold_quantity = GREATEST(prev.old_sold - $2, 0)
		FROM prev
		WHERE f.id = prev.id
		RETURNING prev.old_sold < $2`,
		saleID, quantity)
	var clamped bool
	if err := row.Scan(&clamped); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSaleNotFound
		}
		return fmt.Errorf("flashsale: release: %w", err)
	}
	if clamped {
		ReleaseClampTotal.Inc()
		if s.Logger != nil {
			s.Logger.Error().
				Str("sale_id", saleID.String()).
				Int64("quantity", quantity).
				Msg("flash sale release clamped at zero")
		}
	}
	return nil
}

// Remaining reads the free units for display.
func (s *Store) Remaining(ctx context.Context, saleID uuid.UUID) (int64, bool, error) {
	sale, err := s.GetSale(ctx, saleID)
	if err != nil {
		return 0, false, err
	}
	remaining, limited := sale.Remaining()
	return remaining, limited, nil
}

// Active reports whether the sale currently accepts allocations. Display only.
func (s *Store) Active(ctx context.Context, saleID uuid.UUID) (bool, error) {
	sale, err := s.GetSale(ctx, saleID)
	if err != nil {
		return false, err
	}
	return sale.StatusAt(s.now()) == StatusActive, nil
}

// Reserve allocates stock and records the reservation in one transaction, so
// a crash between the two leaves nothing half-done. The reservation expires
// after ttl unless Confirm removes it first.
func (s *Store) Reserve(ctx context.Context, saleID, orderID uuid.UUID, quantity int64, ttl time.Duration) (bool, error) {
	if quantity <= 0 {
		return false, ErrInvalidQuantity
	}
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	now := s.now()
	tag, err := tx.Exec(ctx, `
		UPDATE flash_sales
		SET sold_quantity = sold_quantity + $2
		WHERE id = $1
		  AND is_active
		  AND $3 BETWEEN start_time AND end_time
		  AND (max_quantity IS NULL OR sold_quantity + $2 <= max_quantity)`,
		saleID, quantity, now)
	if err != nil {
		return false, fmt.Errorf("flashsale: reserve: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO flash_sale_reservations (id, sale_id, order_id, quantity, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), saleID, orderID, quantity, now, now.Add(ttl)); err != nil {
		return false, fmt.Errorf("flashsale: insert reservation: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Confirm removes the reservations for a completed order; the allocated stock
// stays consumed.
func (s *Store) Confirm(ctx context.Context, orderID uuid.UUID) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM flash_sale_reservations WHERE order_id = $1`, orderID)
	if err != nil {
		return fmt.Errorf("flashsale: confirm: %w", err)
	}
	return nil
}

// CancelOrder releases every reservation belonging to the order.
func (s *Store) CancelOrder(ctx context.Context, orderID uuid.UUID) error {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, sale_id, quantity FROM flash_sale_reservations WHERE order_id = $1`, orderID)
	if err != nil {
		return fmt.Errorf("flashsale: cancel order: %w", err)
	}
	type pending struct {
		id     uuid.UUID
		saleID uuid.UUID
		qty    int64
	}
	var reservations []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.saleID, &p.qty); err != nil {
			rows.Close()
			return err
		}
		reservations = append(reservations, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, p := range reservations {
		if err := s.releaseReservation(ctx, p.id, p.saleID, p.qty); err != nil {
			return err
		}
	}
	return nil
}

// SweepExpired releases reservations past their expiry. SKIP LOCKED lets
// concurrent sweepers shard the work without blocking each other.
func (s *Store) SweepExpired(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT id, sale_id, quantity
		FROM flash_sale_reservations
		WHERE expires_at < $1
		ORDER BY expires_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("flashsale: sweep query: %w", err)
	}
	type expired struct {
		id     uuid.UUID
		saleID uuid.UUID
		qty    int64
	}
	var stale []expired
	for rows.Next() {
		var e expired
		if err := rows.Scan(&e.id, &e.saleID, &e.qty); err != nil {
			rows.Close()
			return 0, err
		}
		stale = append(stale, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	released := 0
	for _, e := range stale {
		if err := s.releaseReservation(ctx, e.id, e.saleID, e.qty); err != nil {
			return released, err
		}
		released++
	}
	return released, nil
}

// releaseReservation removes the row and returns the stock in one transaction.
func (s *Store) releaseReservation(ctx context.Context, reservationID, saleID uuid.UUID, quantity int64) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	tag, err := tx.Exec(ctx, `DELETE FROM flash_sale_reservations WHERE id = $1`, reservationID)
	if err != nil {
		return fmt.Errorf("flashsale: delete reservation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Another sweeper got here first.
		return nil
	}
	if _, err := tx.Exec(ctx, `
		UPDATE flash_sales
		SET sold_quantity = GREATEST(sold_quantity - $2, 0)
		WHERE id = $1`, saleID, quantity); err != nil {
		return fmt.Errorf("flashsale: release stock: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
