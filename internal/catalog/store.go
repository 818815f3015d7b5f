package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no promotion matches the lookup.
var ErrNotFound = errors.New("catalog: promotion not found")

// Store reads promotion definitions from Postgres. Definitions are validated
// on the way out; a row that fails validation is skipped, never applied.
type Store struct {
	Pool      *pgxpool.Pool
	Validator *validator.Validate
}

const promotionColumns = `
	id, code, name, kind, definition, flash_sale_id, min_spend,
	usage_limit, used_count, per_user_limit, valid_from, valid_to, is_active`

// ListActive returns the validated promotions whose window covers now.
func (s *Store) ListActive(ctx context.Context, now time.Time) ([]Promotion, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT`+promotionColumns+`
		FROM promotions
		WHERE is_active
		  AND (valid_from IS NULL OR valid_from <= $1)
		  AND (valid_to IS NULL OR valid_to >= $1)
		ORDER BY code`, now)
	if err != nil {
		return nil, fmt.Errorf("catalog: list active: %w", err)
	}
	defer rows.Close()

	var promotions []Promotion
	for rows.Next() {
		promo, err := s.scanPromotion(rows)
		if err != nil {
			if errors.Is(err, ErrMalformedDefinition) {
				// Fail closed: skip the broken definition.
				continue
			}
			return nil, err
		}
		promotions = append(promotions, promo)
	}
	return promotions, rows.Err()
}

// GetByCode loads one promotion by its code.
func (s *Store) GetByCode(ctx context.Context, code string) (Promotion, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT`+promotionColumns+`
		FROM promotions
		WHERE code = $1`, code)
	promo, err := s.scanPromotion(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Promotion{}, ErrNotFound
		}
		return Promotion{}, err
	}
	return promo, nil
}

// RecordUsage persists one application of a promotion against an order,
// idempotently per order, and bumps the global counter.
func (s *Store) RecordUsage(ctx context.Context, promoID, orderID uuid.UUID, userID *uuid.UUID, amount int64) error {
	tag, err := s.Pool.Exec(ctx, `
		INSERT INTO promotion_usages (id, promotion_id, order_id, user_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (promotion_id, order_id) DO NOTHING`,
		uuid.New(), promoID, orderID, userID, amount)
	if err != nil {
		return fmt.Errorf("catalog: record usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}
	_, err = s.Pool.Exec(ctx, `
		UPDATE promotions SET used_count = used_count + 1 WHERE id = $1`, promoID)
	if err != nil {
		return fmt.Errorf("catalog: bump used count: %w", err)
	}
	return nil
}

// CountUserUsage returns how many times the user consumed the promotion.
func (s *Store) CountUserUsage(ctx context.Context, promoID, userID uuid.UUID) (int32, error) {
	var count int32
	err := s.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM promotion_usages
		WHERE promotion_id = $1 AND user_id = $2`, promoID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("catalog: count user usage: %w", err)
	}
	return count, nil
}

func (s *Store) scanPromotion(row pgx.Row) (Promotion, error) {
	var (
		promo      Promotion
		kind       string
		definition []byte
	)
	if err := row.Scan(&promo.ID, &promo.Code, &promo.Name, &kind, &definition,
		&promo.FlashSaleID, &promo.MinSpend, &promo.UsageLimit, &promo.UsedCount,
		&promo.PerUserLimit, &promo.ValidFrom, &promo.ValidTo, &promo.IsActive); err != nil {
		return Promotion{}, err
	}
	promo.Kind = Kind(kind)
	if err := DecodeDefinition(definition, &promo); err != nil {
		return Promotion{}, err
	}
	if err := promo.Validate(s.Validator); err != nil {
		return Promotion{}, err
	}
	return promo, nil
}
