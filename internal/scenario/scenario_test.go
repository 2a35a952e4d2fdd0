package scenario

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rawblock/wallet-pnl-engine/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DustThreshold:        decimal.New(1, -18),
		NetQtyThreshold:      decimal.New(1, -3),
		NetValueThresholdUSD: decimal.New(1, 0),
		StableCurrencies: map[string]bool{
			addrSOL: true,
		},
	}
}

func TestRunAll_NoDivergences(t *testing.T) {
	log := zap.NewNop().Sugar()
	runner := New(testConfig(t), log)

	results := runner.RunAll()
	require.Len(t, results, 6)

	for _, res := range results {
		assert.Truef(t, res.Passed(), "%s diverged: %+v", res.Scenario, res.Divergences)
	}
}

func TestRunS4_MatchedTradesAndRemainingPosition(t *testing.T) {
	runner := New(testConfig(t), zap.NewNop().Sugar())
	res := runner.runS4()
	assert.True(t, res.Passed(), "%+v", res.Divergences)
}

func TestRunS5_UnmatchedSellZeroContribution(t *testing.T) {
	runner := New(testConfig(t), zap.NewNop().Sugar())
	res := runner.runS5()
	assert.True(t, res.Passed(), "%+v", res.Divergences)
}
