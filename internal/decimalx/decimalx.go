// Package decimalx wraps github.com/shopspring/decimal with the parsing
// and checked-arithmetic rules the rest of the pipeline depends on:
// exact-decimal parsing first, float64 fallback with a logged warning,
// rejection of NaN/Inf, and overflow detection against a configured
// significant-digit ceiling.
package decimalx

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MaxSignificantDigits is the precision ceiling referenced by spec §9
// ("at least 28 significant digits"). Arithmetic that would need more
// digits than this to represent exactly is treated as an overflow.
const MaxSignificantDigits = 28

// DustThreshold is the default lot-remainder snap-to-zero threshold
// (spec §4.3, configurable via Config.DustThreshold).
var DustThreshold = decimal.New(1, -18)

// ErrOverflow is returned by checked arithmetic helpers when a result
// would exceed MaxSignificantDigits of precision.
var ErrOverflow = fmt.Errorf("decimalx: arithmetic overflow beyond %d significant digits", MaxSignificantDigits)

// ParseQuantity parses a quantity string using exact-decimal parsing
// first. On failure it falls back to float64 parsing (logging a
// precision warning) and rejects NaN/Inf outright. Per spec §4.1,
// zero-quantity values are valid to parse but callers must still
// refuse to emit zero-quantity events.
func ParseQuantity(raw string, log *zap.SugaredLogger) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("decimalx: empty quantity")
	}

	if d, err := decimal.NewFromString(raw); err == nil {
		return d, nil
	}

	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return decimal.Zero, fmt.Errorf("decimalx: unparsable quantity %q: %w", raw, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, fmt.Errorf("decimalx: quantity %q is NaN/Inf", raw)
	}

	if log != nil {
		log.Warnw("quantity parsed via float64 fallback; precision may be lossy", "raw", raw)
	}
	return decimal.NewFromFloat(f), nil
}

// CheckedMul multiplies two decimals, failing with ErrOverflow if the
// result's significant digit count exceeds MaxSignificantDigits.
func CheckedMul(a, b decimal.Decimal) (decimal.Decimal, error) {
	result := a.Mul(b)
	if significantDigits(result) > MaxSignificantDigits {
		return decimal.Zero, ErrOverflow
	}
	return result, nil
}

// CheckedSub subtracts b from a with the same overflow check.
func CheckedSub(a, b decimal.Decimal) (decimal.Decimal, error) {
	result := a.Sub(b)
	if significantDigits(result) > MaxSignificantDigits {
		return decimal.Zero, ErrOverflow
	}
	return result, nil
}

// CheckedAdd adds a and b with the same overflow check.
func CheckedAdd(a, b decimal.Decimal) (decimal.Decimal, error) {
	result := a.Add(b)
	if significantDigits(result) > MaxSignificantDigits {
		return decimal.Zero, ErrOverflow
	}
	return result, nil
}

// CheckedDiv divides a by b, rounding the quotient to at most
// MaxSignificantDigits significant digits. It fails with ErrOverflow
// when the quotient's integer part alone needs more digits than that,
// and with a plain error on division by zero.
func CheckedDiv(a, b decimal.Decimal) (decimal.Decimal, error) {
	if b.IsZero() {
		return decimal.Zero, fmt.Errorf("decimalx: division by zero")
	}
	result := a.DivRound(b, int32(MaxSignificantDigits))
	// DivRound fixes decimal places, not significant digits: trim the
	// fraction of a quotient >= 1 to what its integer part leaves.
	if abs := result.Abs(); abs.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		if intDigits := len(abs.Truncate(0).String()); intDigits <= MaxSignificantDigits {
			result = result.Round(int32(MaxSignificantDigits - intDigits))
		}
	}
	if significantDigits(result) > MaxSignificantDigits {
		return decimal.Zero, ErrOverflow
	}
	return result, nil
}

func significantDigits(d decimal.Decimal) int {
	coeff := d.Coefficient()
	s := coeff.Abs().String()
	if s == "0" {
		return 1
	}
	// Trailing zeros of the coefficient only encode the exponent; they
	// are not needed to represent the value exactly.
	return len(strings.TrimRight(s, "0"))
}

// SnapDust zeroes a quantity if its absolute value is below threshold.
func SnapDust(q, threshold decimal.Decimal) decimal.Decimal {
	if q.Abs().LessThan(threshold) {
		return decimal.Zero
	}
	return q
}
