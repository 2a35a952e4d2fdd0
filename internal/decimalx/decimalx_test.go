package decimalx

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuantity_ExactDecimalPreferred(t *testing.T) {
	d, err := ParseQuantity("1.500000000000000001", nil)
	require.NoError(t, err)
	assert.Equal(t, "1.500000000000000001", d.String())
}

func TestParseQuantity_FloatFallback(t *testing.T) {
	// A hex float is rejected by decimal.NewFromString but accepted by
	// strconv.ParseFloat, so it can only parse through the fallback.
	d, err := ParseQuantity("0x1p-2", nil)
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("0.25")))
}

func TestParseQuantity_RejectsNaNAndInf(t *testing.T) {
	_, err := ParseQuantity("NaN", nil)
	assert.Error(t, err)

	_, err = ParseQuantity("Inf", nil)
	assert.Error(t, err)
}

func TestParseQuantity_RejectsEmpty(t *testing.T) {
	_, err := ParseQuantity("  ", nil)
	assert.Error(t, err)
}

func TestCheckedMul_OverflowBeyondSignificantDigits(t *testing.T) {
	huge := decimal.RequireFromString("123456789012345678901234567890")
	_, err := CheckedMul(huge, decimal.NewFromInt(10))
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestCheckedMul_WithinPrecisionCeiling(t *testing.T) {
	result, err := CheckedMul(decimal.NewFromFloat(2.5), decimal.NewFromFloat(4))
	require.NoError(t, err)
	assert.True(t, result.Equal(decimal.NewFromInt(10)))
}

func TestCheckedDiv_ByZero(t *testing.T) {
	_, err := CheckedDiv(decimal.NewFromInt(1), decimal.Zero)
	assert.Error(t, err)
}

func TestCheckedDiv_Rounds(t *testing.T) {
	result, err := CheckedDiv(decimal.NewFromInt(1), decimal.NewFromInt(3))
	require.NoError(t, err)
	assert.True(t, result.GreaterThan(decimal.NewFromFloat(0.3333)))
}

func TestSnapDust_BelowThresholdSnapsToZero(t *testing.T) {
	remainder := decimal.New(5, -19) // 5e-19, below the 1e-18 default dust threshold
	assert.True(t, SnapDust(remainder, DustThreshold).IsZero())
}

func TestSnapDust_AboveThresholdUnchanged(t *testing.T) {
	remainder := decimal.New(5, -17) // 5e-17, above the 1e-18 default dust threshold
	assert.False(t, SnapDust(remainder, DustThreshold).IsZero())
}

func TestSnapDust_NegativeRemainderUsesAbsoluteValue(t *testing.T) {
	remainder := decimal.New(-5, -19)
	assert.True(t, SnapDust(remainder, DustThreshold).IsZero())
}
