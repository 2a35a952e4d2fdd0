package enricher

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rawblock/wallet-pnl-engine/internal/errkind"
	"github.com/rawblock/wallet-pnl-engine/pkg/models"
)

type stubOracle struct {
	price decimal.Decimal
	err   error
}

func (s stubOracle) HistoricalPrice(ctx context.Context, tokenAddress, chainID string, transfer models.SkippedTransfer) (decimal.Decimal, error) {
	return s.price, s.err
}

func skippedTransfer(txHash string) models.SkippedTransfer {
	return models.SkippedTransfer{
		WalletAddress:   "wallet1",
		TokenAddress:    "TKA",
		TokenSymbol:     "TKA",
		ChainID:         "solana",
		EventType:       models.EventBuy,
		Quantity:        decimal.RequireFromString("10"),
		Timestamp:       time.Unix(1000, 0),
		TransactionHash: txHash,
	}
}

func TestEnrich_PricedTransferProducesEvent(t *testing.T) {
	oracle := stubOracle{price: decimal.RequireFromString("2")}
	res, err := Enrich(context.Background(), oracle, nil, []models.SkippedTransfer{skippedTransfer("tx1")}, zap.NewNop().Sugar())

	require.NoError(t, err)
	require.Len(t, res.AddedEvents, 1)
	assert.True(t, res.AddedEvents[0].USDValue.Equal(decimal.RequireFromString("20")))
	assert.Equal(t, 0, res.MissedCount)
}

func TestEnrich_OracleMissIncrementsMissedCount(t *testing.T) {
	oracle := stubOracle{err: errkind.New(errkind.OracleMiss, "no price available")}
	res, err := Enrich(context.Background(), oracle, nil, []models.SkippedTransfer{skippedTransfer("tx2")}, zap.NewNop().Sugar())

	require.NoError(t, err)
	assert.Empty(t, res.AddedEvents)
	assert.Equal(t, 1, res.MissedCount)
}

func TestEnrich_DedupesAgainstExistingEvent(t *testing.T) {
	existing := []models.FinancialEvent{
		{TransactionHash: "tx3", TokenAddress: "TKA", EventType: models.EventBuy},
	}
	oracle := stubOracle{price: decimal.RequireFromString("5")}
	res, err := Enrich(context.Background(), oracle, existing, []models.SkippedTransfer{skippedTransfer("tx3")}, zap.NewNop().Sugar())

	require.NoError(t, err)
	assert.Empty(t, res.AddedEvents)
	assert.Equal(t, 1, res.DedupedCount)
}

func TestEnrich_RateLimitExhaustedFailsWallet(t *testing.T) {
	oracle := stubOracle{err: errkind.New(errkind.OracleRateLimit, "rate limit exceeded")}
	res, err := Enrich(context.Background(), oracle, nil, []models.SkippedTransfer{skippedTransfer("tx4")}, zap.NewNop().Sugar())

	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.OracleRateLimit))
	assert.Empty(t, res.AddedEvents)
	assert.Equal(t, 0, res.MissedCount)
}
