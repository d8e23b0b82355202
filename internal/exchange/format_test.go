package exchange

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
)

func TestFormatSizeStripsTrailingZeros(t *testing.T) {
	t.Parallel()

	cases := []struct {
		size     float64
		decimals int
		want     string
	}{
		{1.5, 4, "1.5"},
		{1.0, 4, "1"},
		{0.12345, 2, "0.12"},
		{0, 4, "0"},
		{100, 0, "100"},
	}
	for _, c := range cases {
		got := formatSize(decimal.NewFromFloat(c.size), c.decimals)
		if got != c.want {
			t.Errorf("formatSize(%v, %d) = %q, want %q", c.size, c.decimals, got, c.want)
		}
	}
}

func TestFormatPriceSignificantFigures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		price float64
		want  string
	}{
		{60123.456, "60123"},
		{1.23456, "1.2346"},
		{0.000123456, "0.00012346"},
	}
	for _, c := range cases {
		got := formatPrice(decimal.NewFromFloat(c.price))
		if got != c.want {
			t.Errorf("formatPrice(%v) = %q, want %q", c.price, got, c.want)
		}
	}
}

// TestFormatSizeRoundTrip checks the round-trip property that formatting a
// size to sizeDecimals and parsing it back equals rounding the size to the
// same number of decimals directly, across a spread of sizes and decimals.
func TestFormatSizeRoundTrip(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 2000; i++ {
		size := decimal.NewFromFloat(rng.Float64() * 1_000_000)
		decimals := rng.Intn(9) // 0..8

		formatted := formatSize(size, decimals)
		parsed, err := decimal.NewFromString(formatted)
		if err != nil {
			t.Fatalf("formatSize produced unparseable string %q for size=%v decimals=%d", formatted, size, decimals)
		}

		want := size.Round(int32(decimals))
		if !parsed.Equal(want) {
			t.Fatalf("round-trip mismatch: size=%v decimals=%d formatted=%q parsed=%v want=%v",
				size, decimals, formatted, parsed, want)
		}
	}
}

func TestSlippagePriceDirection(t *testing.T) {
	t.Parallel()

	mid := decimal.NewFromInt(100)
	slip := decimal.NewFromInt(1) // 1%

	buy := slippagePrice(mid, true, slip)
	if !buy.Equal(decimal.NewFromInt(101)) {
		t.Fatalf("buy slippage price = %v, want 101", buy)
	}

	sell := slippagePrice(mid, false, slip)
	if !sell.Equal(decimal.NewFromInt(99)) {
		t.Fatalf("sell slippage price = %v, want 99", sell)
	}
}
