package money

import "testing"

func TestDivRoundHalfUp(t *testing.T) {
	cases := []struct {
		n, d, want int64
	}{
		{100, 3, 33},
		{150, 100, 2},
		{149, 100, 1},
		{50, 100, 1},
		{0, 100, 0},
		{-150, 100, -2},
		{10, 0, 0},
	}
	for _, c := range cases {
		if got := DivRoundHalfUp(c.n, c.d); got != c.want {
			t.Fatalf("DivRoundHalfUp(%d, %d) = %d, want %d", c.n, c.d, got, c.want)
		}
	}
}

func TestPercent(t *testing.T) {
	if got := Percent(10_000, 15); got != 1_500 {
		t.Fatalf("expected 1500, got %d", got)
	}
	// 333 * 15% = 49.95 rounds up to 50.
	if got := Percent(333, 15); got != 50 {
		t.Fatalf("expected 50, got %d", got)
	}
	if got := Percent(-100, 15); got != 0 {
		t.Fatalf("expected 0 for negative base, got %d", got)
	}
}
