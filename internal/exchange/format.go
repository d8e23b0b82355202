package exchange

import (
	"strings"

	"github.com/shopspring/decimal"
)

// formatSize rounds a size to sizeDecimals and strips trailing zeros,
// matching the exchange's expected wire format for order sizes. Grounded
// on the original bot's _format_size: round(size, sz_decimals), format
// with that many decimals, then rstrip('0').rstrip('.').
func formatSize(size decimal.Decimal, sizeDecimals int) string {
	rounded := size.Round(int32(sizeDecimals))
	s := rounded.StringFixed(int32(sizeDecimals))
	return stripTrailing(s)
}

// formatPrice formats a price to 5 significant figures with no trailing
// zeros, matching the exchange's price precision rule.
func formatPrice(price decimal.Decimal) string {
	return sigFigFormat(price, 5)
}

// sigFigExponent returns exp such that 10^exp <= |d| < 10^(exp+1), the
// base-10 floor-log of d. Negative for |d| < 1, accounting for leading
// fractional zeros (0.012345 -> -2), so the sub-dollar assets Python's
// f"{x:.5g}" handles correctly (DOGE, XRP, ADA, ...) round the same way
// here.
func sigFigExponent(d decimal.Decimal) int32 {
	abs := d.Abs()
	if abs.IsZero() {
		return 0
	}
	ten := decimal.New(10, 0)
	exp := int32(0)
	if abs.GreaterThanOrEqual(decimal.New(1, 0)) {
		for abs.GreaterThanOrEqual(ten) {
			abs = abs.Div(ten)
			exp++
		}
	} else {
		for abs.LessThan(decimal.New(1, 0)) {
			abs = abs.Mul(ten)
			exp--
		}
	}
	return exp
}

// sigFigFormat rounds d to sigFigs significant figures and strips trailing
// zeros, mirroring the original bot's f"{price:.5g}" formatting.
func sigFigFormat(d decimal.Decimal, sigFigs int32) string {
	if d.IsZero() {
		return "0"
	}
	decimals := sigFigs - sigFigExponent(d) - 1
	if decimals < 0 {
		decimals = 0
	}
	rounded := d.Round(decimals)
	s := rounded.StringFixed(decimals)
	return stripTrailing(s)
}

func stripTrailing(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}

// slippagePrice applies the configured slippage to a reference price in the
// aggressive direction for the given side, matching the original bot's
// _calculate_slippage_price (buy pays up, sell gives down).
func slippagePrice(mid decimal.Decimal, isBuy bool, slippagePct decimal.Decimal) decimal.Decimal {
	factor := slippagePct.Div(decimal.New(100, 0))
	if isBuy {
		return mid.Mul(decimal.New(1, 0).Add(factor))
	}
	return mid.Mul(decimal.New(1, 0).Sub(factor))
}
