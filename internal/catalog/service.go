package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Lister abstracts the promotion source behind the cached service.
type Lister interface {
	ListActive(ctx context.Context, now time.Time) ([]Promotion, error)
}

// Service serves promotion definitions with a read-through Redis cache in
// front of the store. Cached entries keep the JSONB wire form so the rule
// trees survive the round trip.
type Service struct {
	Store  Lister
	Cache  *Cache
	Logger *zerolog.Logger
	Now    func() time.Time
}

type promotionWire struct {
	ID           uuid.UUID       `json:"id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	Kind         string          `json:"kind"`
	Definition   json.RawMessage `json:"definition,omitempty"`
	FlashSaleID  *uuid.UUID      `json:"flashSaleId,omitempty"`
	MinSpend     int64           `json:"minSpend"`
	UsageLimit   *int32          `json:"usageLimit,omitempty"`
	UsedCount    int32           `json:"usedCount"`
	PerUserLimit *int32          `json:"perUserLimit,omitempty"`
	ValidFrom    *time.Time      `json:"validFrom,omitempty"`
	ValidTo      *time.Time      `json:"validTo,omitempty"`
	IsActive     bool            `json:"isActive"`
}

// ActivePromotions returns the promotions currently in window, from cache
// when fresh. Cache failures fall through to the store.
func (s *Service) ActivePromotions(ctx context.Context) ([]Promotion, error) {
	if s == nil || s.Store == nil {
		return nil, errors.New("catalog: service not configured")
	}
	var cached []promotionWire
	hit, err := s.Cache.GetJSON(ctx, KeyActivePromotions, &cached)
	if err != nil && s.Logger != nil {
		s.Logger.Warn().Err(err).Msg("promotion cache read failed")
	}
	if hit {
		promotions, decodeErr := decodeWire(cached)
		if decodeErr == nil {
			return promotions, nil
		}
		if s.Logger != nil {
			s.Logger.Warn().Err(decodeErr).Msg("promotion cache entry corrupt, refreshing")
		}
	}

	promotions, err := s.Store.ListActive(ctx, s.now())
	if err != nil {
		return nil, err
	}
	if wire, encodeErr := encodeWire(promotions); encodeErr == nil {
		if cacheErr := s.Cache.SetJSON(ctx, KeyActivePromotions, wire); cacheErr != nil && s.Logger != nil {
			s.Logger.Warn().Err(cacheErr).Msg("promotion cache write failed")
		}
	}
	return promotions, nil
}

// Refresh drops the cached list so the next read hits the store.
func (s *Service) Refresh(ctx context.Context) error {
	return s.Cache.Invalidate(ctx, KeyActivePromotions)
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func encodeWire(promotions []Promotion) ([]promotionWire, error) {
	wire := make([]promotionWire, 0, len(promotions))
	for _, p := range promotions {
		definition, err := EncodeDefinition(p)
		if err != nil {
			return nil, err
		}
		wire = append(wire, promotionWire{
			ID:           p.ID,
			Code:         p.Code,
			Name:         p.Name,
			Kind:         string(p.Kind),
			Definition:   definition,
			FlashSaleID:  p.FlashSaleID,
			MinSpend:     p.MinSpend,
			UsageLimit:   p.UsageLimit,
			UsedCount:    p.UsedCount,
			PerUserLimit: p.PerUserLimit,
			ValidFrom:    p.ValidFrom,
			ValidTo:      p.ValidTo,
			IsActive:     p.IsActive,
		})
	}
	return wire, nil
}

func decodeWire(wire []promotionWire) ([]Promotion, error) {
	promotions := make([]Promotion, 0, len(wire))
	for _, w := range wire {
		promo := Promotion{
			ID:           w.ID,
			Code:         w.Code,
			Name:         w.Name,
			Kind:         Kind(w.Kind),
			FlashSaleID:  w.FlashSaleID,
			MinSpend:     w.MinSpend,
			UsageLimit:   w.UsageLimit,
			UsedCount:    w.UsedCount,
			PerUserLimit: w.PerUserLimit,
			ValidFrom:    w.ValidFrom,
			ValidTo:      w.ValidTo,
			IsActive:     w.IsActive,
		}
		if err := DecodeDefinition(w.Definition, &promo); err != nil {
			return nil, err
		}
		promotions = append(promotions, promo)
	}
	return promotions, nil
}
