// Package money holds the shared currency arithmetic used by every discount
// calculator. Amounts are stored in minor units (cents, rupiah, …) as int64;
// the single rounding rule lives here so calculators cannot diverge.
package money

// Amount represents a monetary value stored in minor units.
type Amount = int64

// DivRoundHalfUp divides n by d rounding half away from zero at the minor
// unit. d must be positive; a non-positive divisor yields zero.
func DivRoundHalfUp(n Amount, d int64) Amount {
	if d <= 0 {
		return 0
	}
	if n >= 0 {
		return (n + d/2) / d
	}
	return -((-n + d/2) / d)
}

// Percent applies pct (0-100) to base, rounding half up once at the end.
func Percent(base Amount, pct int64) Amount {
	if base <= 0 || pct <= 0 {
		return 0
	}
	return DivRoundHalfUp(base*pct, 100)
}

// Clamp bounds v to the [lo, hi] interval.
func Clamp(v, lo, hi Amount) Amount {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
