package flashsale

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisAllocator keeps the sold counter in Redis so multiple engine instances
// share one source of truth. A single Lua EVAL performs the window check, the
// cap check, and the increment; Redis executes scripts atomically, which gives
// the same all-or-nothing guarantee as the in-process mutex.
type RedisAllocator struct {
	Client *redis.Client
	Prefix string
	Logger *zerolog.Logger
	Now    func() time.Time
}

// allocateScript returns 1 on success, 0 when the cap would be exceeded, and
// -1 when the sale is not active. max of -1 means unlimited.
const allocateScript = `local meta = KEYS[1]
local sold = KEYS[2]
local qty = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
if redis.call("HGET", meta, "active") ~= "1" then
  return -1
end
local start = tonumber(redis.call("HGET", meta, "start"))
local finish = tonumber(redis.call("HGET", meta, "finish"))
if start == nil or finish == nil or now < start or now > finish then
  return -1
end
local max = tonumber(redis.call("HGET", meta, "max"))
if max ~= nil and max >= 0 then
  local current = tonumber(redis.call("GET", sold)) or 0
  if current + qty > max then
    return 0
  end
end
redis.call("INCRBY", sold, qty)
return 1`

// releaseScript decrements the counter and clamps at zero; it returns 1 when
// the decrement was clean and 0 when clamping occurred.
const releaseScript = `local sold = KEYS[1]
local qty = tonumber(ARGV[1])
local current = redis.call("DECRBY", sold, qty)
if current < 0 then
  redis.call("SET", sold, "0")
  return 0
end
return 1`

// Configure writes the sale metadata Redis-side and seeds the counter. Call
// it whenever the catalog definition changes.
func (r *RedisAllocator) Configure(ctx context.Context, sale Sale) error {
	if r.Client == nil {
		return errors.New("flashsale: redis client not configured")
	}
	if err := sale.Validate(); err != nil {
		return err
	}
	max := int64(-1)
	if sale.MaxQuantity != nil {
		max = *sale.MaxQuantity
	}
	active := "0"
	if sale.IsActive {
		active = "1"
	}
	pipe := r.Client.TxPipeline()
	pipe.HSet(ctx, r.metaKey(sale.ID), map[string]any{
		"active": active,
		"start":  sale.StartTime.Unix(),
		"finish": sale.EndTime.Unix(),
		"max":    max,
	})
	pipe.SetNX(ctx, r.soldKey(sale.ID), sale.SoldQuantity, 0)
	_, err := pipe.Exec(ctx)
	return err
}

// Allocate runs the check-and-increment script.
func (r *RedisAllocator) Allocate(ctx context.Context, saleID uuid.UUID, quantity int64) (bool, error) {
	if quantity <= 0 {
		return false, ErrInvalidQuantity
	}
	if r.Client == nil {
		return false, errors.New("flashsale: redis client not configured")
	}
	started := time.Now()
	defer func() {
		AllocationDuration.Observe(float64(time.Since(started).Milliseconds()))
	}()

	exists, err := r.Client.Exists(ctx, r.metaKey(saleID)).Result()
	if err != nil {
		AllocationTotal.WithLabelValues("error").Inc()
		return false, err
	}
	if exists == 0 {
		AllocationTotal.WithLabelValues("error").Inc()
		return false, ErrSaleNotFound
	}

	res, err := r.Client.Eval(ctx, allocateScript,
		[]string{r.metaKey(saleID), r.soldKey(saleID)},
		quantity, r.now().Unix(),
	).Int64()
	if err != nil {
		AllocationTotal.WithLabelValues("error").Inc()
		return false, fmt.Errorf("flashsale: allocate script: %w", err)
	}
	switch res {
	case 1:
		AllocationTotal.WithLabelValues("ok").Inc()
		return true, nil
	case 0:
		AllocationTotal.WithLabelValues("sold_out").Inc()
		return false, nil
	default:
		AllocationTotal.WithLabelValues("inactive").Inc()
		return false, nil
	}
}

// Release returns stock to the pool, clamping at zero.
func (r *RedisAllocator) Release(ctx context.Context, saleID uuid.UUID, quantity int64) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if r.Client == nil {
		return errors.New("flashsale: redis client not configured")
	}
	res, err := r.Client.Eval(ctx, releaseScript, []string{r.soldKey(saleID)}, quantity).Int64()
	if err != nil {
		return fmt.Errorf("flashsale: release script: %w", err)
	}
	if res == 0 {
		ReleaseClampTotal.Inc()
		if r.Logger != nil {
			r.Logger.Error().
				Str("sale_id", saleID.String()).
				Int64("quantity", quantity).
				Msg("flash sale release clamped at zero")
		}
	}
	return nil
}

// Remaining reads the free units for display.
func (r *RedisAllocator) Remaining(ctx context.Context, saleID uuid.UUID) (int64, bool, error) {
	maxRaw, err := r.Client.HGet(ctx, r.metaKey(saleID), "max").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, ErrSaleNotFound
		}
		return 0, false, err
	}
	max, err := strconv.ParseInt(maxRaw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("flashsale: parse max: %w", err)
	}
	if max < 0 {
		return 0, false, nil
	}
	sold, err := r.Client.Get(ctx, r.soldKey(saleID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, false, err
	}
	remaining := max - sold
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true, nil
}

// Active reports whether the sale currently accepts allocations. Display only.
func (r *RedisAllocator) Active(ctx context.Context, saleID uuid.UUID) (bool, error) {
	fields, err := r.Client.HGetAll(ctx, r.metaKey(saleID)).Result()
	if err != nil {
		return false, err
	}
	if len(fields) == 0 {
		return false, ErrSaleNotFound
	}
	if fields["active"] != "1" {
		return false, nil
	}
	start, _ := strconv.ParseInt(fields["start"], 10, 64)
	finish, _ := strconv.ParseInt(fields["finish"], 10, 64)
	now := r.now().Unix()
	if now < start || now > finish {
		return false, nil
	}
	max, _ := strconv.ParseInt(fields["max"], 10, 64)
	if max >= 0 {
		sold, err := r.Client.Get(ctx, r.soldKey(saleID)).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return false, err
		}
		if sold >= max {
			return false, nil
		}
	}
	return true, nil
}

func (r *RedisAllocator) metaKey(saleID uuid.UUID) string {
	return r.key("meta", saleID)
}

func (r *RedisAllocator) soldKey(saleID uuid.UUID) string {
	return r.key("sold", saleID)
}

func (r *RedisAllocator) key(kind string, saleID uuid.UUID) string {
	if r.Prefix == "" {
		return fmt.Sprintf("flashsale:%s:%s", kind, saleID)
	}
	return fmt.Sprintf("%s:flashsale:%s:%s", r.Prefix, kind, saleID)
}

func (r *RedisAllocator) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}
