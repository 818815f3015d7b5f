// Package engine orchestrates the promotion pipeline: condition evaluation,
// exclusion filtering, discount calculation, stacking resolution, and
// flash-sale stock reservation. Quote is pure; only Reserve and Cancel touch
// shared state, through the allocator.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/promo-engine/internal/cart"
	"github.com/noah-isme/promo-engine/internal/catalog"
	"github.com/noah-isme/promo-engine/internal/config"
	"github.com/noah-isme/promo-engine/internal/discount"
	"github.com/noah-isme/promo-engine/internal/events"
	"github.com/noah-isme/promo-engine/internal/exclusion"
	"github.com/noah-isme/promo-engine/internal/flashsale"
	"github.com/noah-isme/promo-engine/internal/money"
	"github.com/noah-isme/promo-engine/internal/obs"
	"github.com/noah-isme/promo-engine/internal/rules"
	"github.com/noah-isme/promo-engine/internal/stacking"
)

// SaleSource resolves flash-sale definitions referenced by promotions.
type SaleSource interface {
	GetSale(ctx context.Context, saleID uuid.UUID) (flashsale.Sale, error)
}

// UsageSource reports per-user promotion consumption.
type UsageSource interface {
	CountUserUsage(ctx context.Context, promoID, userID uuid.UUID) (int32, error)
}

// OrderReserver is the optional allocator surface that records a reservation
// row per allocation, keyed by order. Stock held this way is reclaimed by the
// reconciliation sweep once the grace period lapses without a Confirm.
// *flashsale.Store implements it; counter-only backends do not.
type OrderReserver interface {
	Reserve(ctx context.Context, saleID, orderID uuid.UUID, quantity int64, ttl time.Duration) (bool, error)
	Confirm(ctx context.Context, orderID uuid.UUID) error
	CancelOrder(ctx context.Context, orderID uuid.UUID) error
}

var _ OrderReserver = (*flashsale.Store)(nil)

// Engine evaluates promotions for a cart snapshot.
type Engine struct {
	Resolver          stacking.Resolver
	Allocator         flashsale.Allocator
	Sales             SaleSource
	Usage             UsageSource
	Bus               *events.Bus
	Logger            zerolog.Logger
	Now               func() time.Time
	AllocationTimeout time.Duration
	ReservationGrace  time.Duration
}

// New wires an Engine from configuration. Callers needing finer control can
// still assemble the struct directly.
func New(cfg *config.Config, allocator flashsale.Allocator, sales SaleSource, usage UsageSource, bus *events.Bus, logger zerolog.Logger) *Engine {
	return &Engine{
		Resolver:          stacking.Resolver{MaxCandidates: cfg.StackingMaxCandidates},
		Allocator:         allocator,
		Sales:             sales,
		Usage:             usage,
		Bus:               bus,
		Logger:            logger,
		AllocationTimeout: cfg.AllocationTimeout,
		ReservationGrace:  cfg.ReservationGrace,
	}
}

// FlashDemand is the stock a quoted flash-sale discount would consume.
type FlashDemand struct {
	SaleID     uuid.UUID `json:"saleId"`
	DiscountID string    `json:"discountId"`
	Quantity   int64     `json:"quantity"`
}

// SkippedPromotion explains why a candidate did not reach the resolver.
type SkippedPromotion struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// Quote is the resolved price breakdown for a cart.
type Quote struct {
	CartID        uuid.UUID                  `json:"cartId"`
	Subtotal      money.Amount               `json:"subtotal"`
	TotalDiscount money.Amount               `json:"totalDiscount"`
	FinalAmount   money.Amount               `json:"finalAmount"`
	Applied       []stacking.AppliedDiscount `json:"appliedDiscounts"`
	FlashDemands  []FlashDemand              `json:"flashDemands,omitempty"`
	Skipped       []SkippedPromotion         `json:"skipped,omitempty"`
}

// Quote runs the full pipeline. It never mutates the snapshot or the
// promotion definitions and is safe for unrestricted parallel invocation.
func (e *Engine) Quote(ctx context.Context, snapshot cart.Snapshot, promotions []catalog.Promotion, userCtx map[string]any) (Quote, error) {
	ctx, span := otel.Tracer("promo.engine").Start(ctx, "engine.quote")
	defer span.End()
	start := time.Now()
	defer func() {
		if obs.QuoteDuration != nil {
			obs.QuoteDuration.Observe(float64(time.Since(start).Milliseconds()))
		}
		if obs.QuoteTotal != nil {
			obs.QuoteTotal.WithLabelValues("ok").Inc()
		}
	}()

	subtotal := snapshot.Subtotal()
	span.SetAttributes(
		attribute.Int("promo.candidates", len(promotions)),
		attribute.Int64("cart.subtotal", subtotal),
	)

	evalCtx := buildContext(snapshot, subtotal, userCtx)
	quote := Quote{CartID: snapshot.ID, Subtotal: subtotal, FinalAmount: subtotal}

	var candidates []discount.Discount
	demands := map[string]FlashDemand{}
	for _, promo := range promotions {
		candidate, demand, skip := e.evaluatePromotion(ctx, promo, snapshot, subtotal, evalCtx)
		if skip != nil {
			quote.Skipped = append(quote.Skipped, *skip)
			continue
		}
		candidates = append(candidates, candidate)
		if demand != nil {
			demands[candidate.ID] = *demand
		}
	}

	resolved := e.Resolver.Resolve(subtotal, candidates)
	quote.TotalDiscount = resolved.TotalDiscount
	quote.FinalAmount = resolved.FinalAmount
	quote.Applied = resolved.Applied
	for _, applied := range resolved.Applied {
		if demand, ok := demands[applied.ID]; ok {
			quote.FlashDemands = append(quote.FlashDemands, demand)
		}
	}

	if e.Bus != nil && len(quote.Applied) > 0 && snapshot.ID != uuid.Nil {
		_, _ = e.Bus.Emit(ctx, events.TopicPromotionApplied, snapshot.ID, quote)
	}
	return quote, nil
}

// evaluatePromotion turns one definition into a resolver candidate, or a skip
// record naming why it fell out of contention.
func (e *Engine) evaluatePromotion(ctx context.Context, promo catalog.Promotion, snapshot cart.Snapshot, subtotal money.Amount, evalCtx map[string]any) (discount.Discount, *FlashDemand, *SkippedPromotion) {
	skip := func(stage, reason string) (discount.Discount, *FlashDemand, *SkippedPromotion) {
		if obs.PromotionSkippedTotal != nil {
			obs.PromotionSkippedTotal.WithLabelValues(stage).Inc()
		}
		return discount.Discount{}, nil, &SkippedPromotion{Code: promo.Code, Reason: reason}
	}

	userUsed, err := e.userUsage(ctx, promo, snapshot)
	if err != nil {
		e.Logger.Warn().Err(err).Str("code", promo.Code).Msg("usage lookup failed, skipping promotion")
		return skip("validity", "usage lookup failed")
	}
	if err := promo.ValidAt(e.now(), subtotal, userUsed); err != nil {
		return skip("validity", err.Error())
	}
	if promo.Conditions != nil && !rules.Evaluate(promo.Conditions, evalCtx) {
		return skip("conditions", "conditions not met")
	}

	eligible := exclusion.FilterEligible(snapshot.Items, promo.Exclusions)
	if len(eligible) == 0 {
		return skip("exclusion", "all items excluded")
	}

	candidate := discount.Discount{
		ID:        promo.Code,
		Type:      discount.TypeFixed,
		Priority:  promo.Discount.Priority,
		Stackable: promo.Discount.Stackable,
	}

	switch promo.Kind {
	case catalog.KindBasic:
		if len(eligible) == len(snapshot.Items) {
			// Unscoped: let the resolver apply it against the running
			// remainder, percentages included.
			candidate = promo.Discount
			candidate.ID = promo.Code
			return candidate, nil, nil
		}
		// Scoped by exclusions: fix the amount on the eligible subtotal.
		amount := promo.Discount.AmountFor(subtotalOf(eligible))
		if amount <= 0 {
			return skip("amount", "no discountable amount")
		}
		candidate.Value = amount
	case catalog.KindBOGO:
		res := discount.ApplyBOGO(eligible, *promo.BOGO)
		if res.Amount <= 0 {
			return skip("amount", "no full bogo set in cart")
		}
		candidate.Value = res.Amount
	case catalog.KindTiered:
		delta, err := tieredDelta(eligible, promo.Tiers)
		if err != nil {
			e.Logger.Error().Err(err).Str("code", promo.Code).Msg("tier schedule rejected, failing closed")
			return skip("definition", "tier schedule not applicable")
		}
		if delta <= 0 {
			return skip("amount", "tier pricing not below list price")
		}
		candidate.Value = delta
	case catalog.KindFlashSale:
		sale, err := e.Sales.GetSale(ctx, *promo.FlashSaleID)
		if err != nil {
			e.Logger.Warn().Err(err).Str("code", promo.Code).Msg("flash sale lookup failed")
			return skip("flash_sale", "flash sale unavailable")
		}
		if sale.StatusAt(e.now()) != flashsale.StatusActive {
			return skip("flash_sale", "flash sale not active")
		}
		var base money.Amount
		var quantity int64
		for _, item := range eligible {
			if sale.AppliesTo(item.ProductID) {
				base += item.Subtotal()
				quantity += int64(item.Quantity)
			}
		}
		if quantity == 0 {
			return skip("amount", "no flash sale items in cart")
		}
		amount := money.Percent(base, sale.DiscountPercent)
		if amount <= 0 {
			return skip("amount", "no discountable amount")
		}
		candidate.Value = amount
		demand := &FlashDemand{SaleID: sale.ID, DiscountID: promo.Code, Quantity: quantity}
		return candidate, demand, nil
	default:
		return skip("definition", "unknown promotion kind")
	}
	return candidate, nil, nil
}

// Reserve allocates the flash-sale stock a quote depends on. All-or-nothing
// across demands: a conflict or timeout rolls back what was already taken and
// reports false. A timed-out allocation is treated as failed, never assumed
// to have succeeded. Allocators implementing OrderReserver get a reservation
// row per demand keyed by the cart, so stock from a lost ack or an abandoned
// order comes back through the reconciliation sweep once the grace period
// lapses; counter-only allocators hold stock until Cancel.
func (e *Engine) Reserve(ctx context.Context, quote Quote) (bool, error) {
	if len(quote.FlashDemands) == 0 {
		return true, nil
	}
	if e.Allocator == nil {
		return false, flashsale.ErrSaleNotFound
	}
	if reserver, ok := e.Allocator.(OrderReserver); ok && quote.CartID != uuid.Nil {
		return e.reserveOrder(ctx, reserver, quote)
	}
	var done []FlashDemand
	for _, demand := range quote.FlashDemands {
		allocCtx, cancel := context.WithTimeout(ctx, e.allocationTimeout())
		ok, err := e.Allocator.Allocate(allocCtx, demand.SaleID, demand.Quantity)
		cancel()
		if err != nil || !ok {
			e.countReservation(reservationResult(err))
			e.rollback(ctx, done)
			return false, err
		}
		done = append(done, demand)
	}
	e.countReservation("ok")
	if e.Bus != nil && quote.CartID != uuid.Nil {
		_, _ = e.Bus.Emit(ctx, events.TopicStockAllocated, quote.CartID, quote.FlashDemands)
	}
	return true, nil
}

// reserveOrder takes stock through the reservation ledger. Rollback is a
// single CancelOrder; anything it misses expires with the grace period.
func (e *Engine) reserveOrder(ctx context.Context, reserver OrderReserver, quote Quote) (bool, error) {
	grace := e.reservationGrace()
	for _, demand := range quote.FlashDemands {
		allocCtx, cancel := context.WithTimeout(ctx, e.allocationTimeout())
		ok, err := reserver.Reserve(allocCtx, demand.SaleID, quote.CartID, demand.Quantity, grace)
		cancel()
		if err != nil || !ok {
			e.countReservation(reservationResult(err))
			if cancelErr := reserver.CancelOrder(ctx, quote.CartID); cancelErr != nil {
				e.Logger.Error().Err(cancelErr).Str("order_id", quote.CartID.String()).Msg("reservation rollback failed")
			}
			return false, err
		}
	}
	e.countReservation("ok")
	if e.Bus != nil {
		_, _ = e.Bus.Emit(ctx, events.TopicStockAllocated, quote.CartID, quote.FlashDemands)
	}
	return true, nil
}

// Confirm finalises a reserved quote once the order is paid: reservation rows
// are deleted and the sold counter keeps the stock. A no-op for counter-only
// allocators, whose allocations are final at Reserve time.
func (e *Engine) Confirm(ctx context.Context, quote Quote) error {
	if len(quote.FlashDemands) == 0 || quote.CartID == uuid.Nil {
		return nil
	}
	reserver, ok := e.Allocator.(OrderReserver)
	if !ok {
		return nil
	}
	return reserver.Confirm(ctx, quote.CartID)
}

// Cancel releases the stock a reserved quote holds, used on order
// cancellation or payment timeout.
func (e *Engine) Cancel(ctx context.Context, quote Quote) error {
	if len(quote.FlashDemands) == 0 {
		return nil
	}
	if reserver, ok := e.Allocator.(OrderReserver); ok && quote.CartID != uuid.Nil {
		if err := reserver.CancelOrder(ctx, quote.CartID); err != nil {
			e.Logger.Error().Err(err).Str("order_id", quote.CartID.String()).Msg("cancel order failed")
			return err
		}
		if e.Bus != nil {
			_, _ = e.Bus.Emit(ctx, events.TopicStockReleased, quote.CartID, quote.FlashDemands)
		}
		return nil
	}
	var lastErr error
	for _, demand := range quote.FlashDemands {
		if err := e.Allocator.Release(ctx, demand.SaleID, demand.Quantity); err != nil {
			e.Logger.Error().Err(err).Str("sale_id", demand.SaleID.String()).Msg("release failed")
			lastErr = err
		}
	}
	if lastErr == nil && e.Bus != nil && quote.CartID != uuid.Nil {
		_, _ = e.Bus.Emit(ctx, events.TopicStockReleased, quote.CartID, quote.FlashDemands)
	}
	return lastErr
}

func (e *Engine) countReservation(result string) {
	if obs.ReservationOutcomeTotal != nil {
		obs.ReservationOutcomeTotal.WithLabelValues(result).Inc()
	}
}

func reservationResult(err error) string {
	if err != nil {
		return "error"
	}
	return "conflict"
}

func (e *Engine) rollback(ctx context.Context, done []FlashDemand) {
	for _, demand := range done {
		if err := e.Allocator.Release(ctx, demand.SaleID, demand.Quantity); err != nil {
			e.Logger.Error().Err(err).Str("sale_id", demand.SaleID.String()).Msg("rollback release failed")
		}
	}
}

func (e *Engine) userUsage(ctx context.Context, promo catalog.Promotion, snapshot cart.Snapshot) (int32, error) {
	if e.Usage == nil || snapshot.UserID == nil || promo.PerUserLimit == nil || *promo.PerUserLimit <= 0 {
		return 0, nil
	}
	return e.Usage.CountUserUsage(ctx, promo.ID, *snapshot.UserID)
}

func (e *Engine) allocationTimeout() time.Duration {
	if e.AllocationTimeout > 0 {
		return e.AllocationTimeout
	}
	return 2 * time.Second
}

func (e *Engine) reservationGrace() time.Duration {
	if e.ReservationGrace > 0 {
		return e.ReservationGrace
	}
	return 15 * time.Minute
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// buildContext exposes the snapshot to the rule evaluator under the "order"
// namespace; caller attributes ride under "user".
func buildContext(snapshot cart.Snapshot, subtotal money.Amount, userCtx map[string]any) map[string]any {
	var itemCount int
	for _, item := range snapshot.Items {
		itemCount += item.Quantity
	}
	evalCtx := map[string]any{
		"order": map[string]any{
			"total":     subtotal,
			"currency":  snapshot.Currency,
			"itemCount": itemCount,
			"lineCount": len(snapshot.Items),
		},
	}
	if userCtx != nil {
		evalCtx["user"] = userCtx
	}
	return evalCtx
}

func subtotalOf(items []cart.LineItem) money.Amount {
	var total money.Amount
	for _, item := range items {
		total += item.Subtotal()
	}
	return total
}

func tieredDelta(items []cart.LineItem, tiers discount.TierSchedule) (money.Amount, error) {
	var delta money.Amount
	for _, item := range items {
		if item.Quantity <= 0 {
			continue
		}
		tiered, err := tiers.TotalPrice(item.Quantity)
		if err != nil {
			return 0, err
		}
		if diff := item.Subtotal() - tiered; diff > 0 {
			delta += diff
		}
	}
	return delta, nil
}
