// Package catalog loads and validates promotion and flash-sale definitions.
// The engine only reads them; the single mutable counter lives with the
// flash-sale allocator.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/noah-isme/promo-engine/internal/discount"
	"github.com/noah-isme/promo-engine/internal/exclusion"
	"github.com/noah-isme/promo-engine/internal/money"
	"github.com/noah-isme/promo-engine/internal/rules"
)

// ErrMalformedDefinition marks a promotion that fails load-time validation.
// Malformed promotions fail closed: they never apply.
var ErrMalformedDefinition = errors.New("catalog: malformed promotion definition")

// Kind selects the calculator a promotion uses.
type Kind string

const (
	KindBasic     Kind = "basic"
	KindBOGO      Kind = "bogo"
	KindTiered    Kind = "tiered"
	KindFlashSale Kind = "flash_sale"
)

// Promotion is a complete promotion definition as stored in the catalog.
type Promotion struct {
	ID           uuid.UUID `validate:"required"`
	Code         string    `validate:"required"`
	Name         string
	Kind         Kind `validate:"required,oneof=basic bogo tiered flash_sale"`
	Conditions   rules.Node
	Exclusions   []exclusion.Rule
	Discount     discount.Discount
	BOGO         *discount.BOGORule
	Tiers        discount.TierSchedule
	FlashSaleID  *uuid.UUID
	MinSpend     money.Amount `validate:"gte=0"`
	UsageLimit   *int32
	UsedCount    int32
	PerUserLimit *int32
	ValidFrom    *time.Time
	ValidTo      *time.Time
	IsActive     bool
}

// Validate runs struct-tag validation plus the kind-specific domain checks.
func (p Promotion) Validate(v *validator.Validate) error {
	if v != nil {
		if err := v.Struct(p); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedDefinition, err)
		}
	}
	if p.Conditions != nil {
		if err := rules.Validate(p.Conditions); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedDefinition, err)
		}
	}
	switch p.Kind {
	case KindBasic:
		if err := p.Discount.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedDefinition, err)
		}
	case KindBOGO:
		if p.BOGO == nil {
			return fmt.Errorf("%w: bogo promotion without bogo rule", ErrMalformedDefinition)
		}
		if err := p.BOGO.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedDefinition, err)
		}
	case KindTiered:
		if err := p.Tiers.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedDefinition, err)
		}
	case KindFlashSale:
		if p.FlashSaleID == nil || *p.FlashSaleID == uuid.Nil {
			return fmt.Errorf("%w: flash sale promotion without sale id", ErrMalformedDefinition)
		}
	}
	return nil
}

// ValidAt checks the validity window, global usage quota, and per-user
// allowance for a promotion.
func (p Promotion) ValidAt(now time.Time, cartTotal money.Amount, userUsed int32) error {
	if !p.IsActive {
		return ErrPromotionInactive
	}
	if cartTotal < p.MinSpend {
		return ErrMinimumSpendUnmet
	}
	if p.ValidFrom != nil && now.Before(*p.ValidFrom) {
		return ErrPromotionInactive
	}
	if p.ValidTo != nil && now.After(*p.ValidTo) {
		return ErrPromotionExpired
	}
	if p.UsageLimit != nil && *p.UsageLimit >= 0 && p.UsedCount >= *p.UsageLimit {
		return ErrUsageLimitReached
	}
	if p.PerUserLimit != nil && *p.PerUserLimit > 0 && userUsed >= *p.PerUserLimit {
		return ErrPerUserLimitReached
	}
	return nil
}

var (
	// ErrPromotionInactive is returned outside the active window.
	ErrPromotionInactive = errors.New("catalog: promotion not active")
	// ErrPromotionExpired is returned after the window closed.
	ErrPromotionExpired = errors.New("catalog: promotion expired")
	// ErrMinimumSpendUnmet indicates the order total did not meet the requirement.
	ErrMinimumSpendUnmet = errors.New("catalog: promotion minimum spend not met")
	// ErrUsageLimitReached indicates the global usage quota is exhausted.
	ErrUsageLimitReached = errors.New("catalog: promotion usage limit reached")
	// ErrPerUserLimitReached indicates the caller exceeded the per-user allowance.
	ErrPerUserLimitReached = errors.New("catalog: promotion per-user limit reached")
)

// definitionJSON is the JSONB payload stored alongside the promotion row and
// reused verbatim as the cache wire format.
type definitionJSON struct {
	Conditions json.RawMessage `json:"conditions,omitempty"`
	Exclusions []exclusionJSON `json:"exclusions,omitempty"`
	Discount   *discountJSON   `json:"discount,omitempty"`
	BOGO       *bogoJSON       `json:"bogo,omitempty"`
	Tiers      []tierJSON      `json:"tiers,omitempty"`
}

type exclusionJSON struct {
	Kind   string      `json:"type"`
	IDs    []uuid.UUID `json:"ids,omitempty"`
	Tags   []string    `json:"tags,omitempty"`
	Reason string      `json:"reason,omitempty"`
}

type discountJSON struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Value     int64  `json:"value"`
	Priority  int    `json:"priority"`
	Stackable bool   `json:"stackable"`
	MaxAmount *int64 `json:"maxAmount,omitempty"`
}

type bogoJSON struct {
	BuyQuantity           int         `json:"buyQuantity"`
	GetQuantity           int         `json:"getQuantity"`
	DiscountPercent       int64       `json:"discountPercent"`
	ApplicableProductIDs  []uuid.UUID `json:"applicableProductIds,omitempty"`
	ApplicableCategoryIDs []uuid.UUID `json:"applicableCategoryIds,omitempty"`
	MaxApplications       *int        `json:"maxApplications,omitempty"`
}

type tierJSON struct {
	MinQuantity  int   `json:"minQuantity"`
	MaxQuantity  *int  `json:"maxQuantity,omitempty"`
	PricePerUnit int64 `json:"pricePerUnit"`
}

// DecodeDefinition parses the JSONB definition column into domain types.
func DecodeDefinition(raw []byte, p *Promotion) error {
	if len(raw) == 0 {
		return nil
	}
	var def definitionJSON
	if err := json.Unmarshal(raw, &def); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedDefinition, err)
	}
	if len(def.Conditions) > 0 {
		tree, err := rules.DecodeTree(def.Conditions)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedDefinition, err)
		}
		p.Conditions = tree
	}
	for _, rule := range def.Exclusions {
		p.Exclusions = append(p.Exclusions, exclusion.Rule{
			Kind:   exclusion.Kind(rule.Kind),
			IDs:    rule.IDs,
			Tags:   rule.Tags,
			Reason: rule.Reason,
		})
	}
	if def.Discount != nil {
		p.Discount = discount.Discount{
			ID:        def.Discount.ID,
			Type:      discount.Type(def.Discount.Type),
			Value:     def.Discount.Value,
			Priority:  def.Discount.Priority,
			Stackable: def.Discount.Stackable,
			MaxAmount: def.Discount.MaxAmount,
		}
	}
	if def.BOGO != nil {
		p.BOGO = &discount.BOGORule{
			BuyQuantity:           def.BOGO.BuyQuantity,
			GetQuantity:           def.BOGO.GetQuantity,
			DiscountPercent:       def.BOGO.DiscountPercent,
			ApplicableProductIDs:  def.BOGO.ApplicableProductIDs,
			ApplicableCategoryIDs: def.BOGO.ApplicableCategoryIDs,
			MaxApplications:       def.BOGO.MaxApplications,
		}
	}
	for _, t := range def.Tiers {
		p.Tiers = append(p.Tiers, discount.PriceTier{
			MinQuantity:  t.MinQuantity,
			MaxQuantity:  t.MaxQuantity,
			PricePerUnit: t.PricePerUnit,
		})
	}
	return nil
}

// EncodeDefinition serialises the domain parts back to the JSONB form.
func EncodeDefinition(p Promotion) ([]byte, error) {
	var def definitionJSON
	if p.Conditions != nil {
		raw, err := rules.EncodeTree(p.Conditions)
		if err != nil {
			return nil, err
		}
		def.Conditions = raw
	}
	for _, rule := range p.Exclusions {
		def.Exclusions = append(def.Exclusions, exclusionJSON{
			Kind:   string(rule.Kind),
			IDs:    rule.IDs,
			Tags:   rule.Tags,
			Reason: rule.Reason,
		})
	}
	if p.Discount.ID != "" {
		def.Discount = &discountJSON{
			ID:        p.Discount.ID,
			Type:      string(p.Discount.Type),
			Value:     p.Discount.Value,
			Priority:  p.Discount.Priority,
			Stackable: p.Discount.Stackable,
			MaxAmount: p.Discount.MaxAmount,
		}
	}
	if p.BOGO != nil {
		def.BOGO = &bogoJSON{
			BuyQuantity:           p.BOGO.BuyQuantity,
			GetQuantity:           p.BOGO.GetQuantity,
			DiscountPercent:       p.BOGO.DiscountPercent,
			ApplicableProductIDs:  p.BOGO.ApplicableProductIDs,
			ApplicableCategoryIDs: p.BOGO.ApplicableCategoryIDs,
			MaxApplications:       p.BOGO.MaxApplications,
		}
	}
	for _, tier := range p.Tiers {
		def.Tiers = append(def.Tiers, tierJSON{
			MinQuantity:  tier.MinQuantity,
			MaxQuantity:  tier.MaxQuantity,
			PricePerUnit: tier.PricePerUnit,
		})
	}
	return json.Marshal(def)
}
