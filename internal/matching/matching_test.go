package matching

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rawblock/wallet-pnl-engine/pkg/models"
)

const addrTKA = "TokenAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

var dustThreshold = decimal.New(1, -18)

func noCurrentPrice(string) (decimal.Decimal, bool) { return decimal.Zero, false }

func buyEvent(qty, price string, t time.Time) models.FinancialEvent {
	return models.FinancialEvent{
		TokenAddress:     addrTKA,
		EventType:        models.EventBuy,
		Quantity:         decimal.RequireFromString(qty),
		USDPricePerToken: decimal.RequireFromString(price),
		USDValue:         decimal.RequireFromString(qty).Mul(decimal.RequireFromString(price)),
		Timestamp:        t,
	}
}

func sellEvent(qty, price string, t time.Time) models.FinancialEvent {
	return models.FinancialEvent{
		TokenAddress:     addrTKA,
		EventType:        models.EventSell,
		Quantity:         decimal.RequireFromString(qty),
		USDPricePerToken: decimal.RequireFromString(price),
		Timestamp:        t,
	}
}

func receiveEvent(qty string, t time.Time) models.FinancialEvent {
	return models.FinancialEvent{
		TokenAddress: addrTKA,
		EventType:    models.EventReceive,
		Quantity:     decimal.RequireFromString(qty),
		Timestamp:    t,
	}
}

func TestComputeToken_FIFOPartialLotAcrossTwoBuyTranches(t *testing.T) {
	// Buy 10 @ $1, buy 10 @ $2, sell 15 @ $3: should drain all of the
	// first tranche and half of the second, FIFO order.
	events := []models.FinancialEvent{
		buyEvent("10", "1", time.Unix(100, 0)),
		buyEvent("10", "2", time.Unix(200, 0)),
		sellEvent("15", "3", time.Unix(300, 0)),
	}

	result, err := ComputeToken(addrTKA, "TKA", events, dustThreshold, noCurrentPrice, zap.NewNop().Sugar())
	require.NoError(t, err)
	require.Len(t, result.MatchedTrades, 2)

	first := result.MatchedTrades[0]
	assert.True(t, first.MatchedQuantity.Equal(decimal.RequireFromString("10")))
	assert.True(t, first.BuyEvent.USDPricePerToken.Equal(decimal.RequireFromString("1")))

	second := result.MatchedTrades[1]
	assert.True(t, second.MatchedQuantity.Equal(decimal.RequireFromString("5")))
	assert.True(t, second.BuyEvent.USDPricePerToken.Equal(decimal.RequireFromString("2")))

	assert.True(t, result.RemainingPosition.BoughtQuantity.Equal(decimal.RequireFromString("5")))
	// (3-1)*10 + (3-2)*5 = 20 + 5 = 25
	assert.True(t, result.RealizedPnLUSD.Equal(decimal.RequireFromString("25")), "got %s", result.RealizedPnLUSD)
}

func TestComputeToken_SellExceedsHoldingsProducesUnmatchedSell(t *testing.T) {
	// Buy 5 @ $1, sell 8 @ $2: 5 matched from buy pool, 3 residual
	// becomes an UnmatchedSell with phantom price = sell price.
	events := []models.FinancialEvent{
		buyEvent("5", "1", time.Unix(100, 0)),
		sellEvent("8", "2", time.Unix(200, 0)),
	}

	result, err := ComputeToken(addrTKA, "TKA", events, dustThreshold, noCurrentPrice, zap.NewNop().Sugar())
	require.NoError(t, err)
	require.Len(t, result.MatchedTrades, 1)
	require.Len(t, result.UnmatchedSells, 1)

	unmatched := result.UnmatchedSells[0]
	assert.True(t, unmatched.UnmatchedQuantity.Equal(decimal.RequireFromString("3")))
	assert.True(t, unmatched.PhantomBuyPrice.Equal(decimal.RequireFromString("2")))
}

func TestComputeToken_ReceivePoolDrainedAfterBuyPoolExhausted(t *testing.T) {
	// Buy 3 @ $1, receive 10 (zero cost basis), sell 5 @ $4: buy pool
	// drains first (3 units), then receive pool covers the remaining 2.
	events := []models.FinancialEvent{
		buyEvent("3", "1", time.Unix(100, 0)),
		receiveEvent("10", time.Unix(150, 0)),
		sellEvent("5", "4", time.Unix(200, 0)),
	}

	result, err := ComputeToken(addrTKA, "TKA", events, dustThreshold, noCurrentPrice, zap.NewNop().Sugar())
	require.NoError(t, err)
	require.Len(t, result.MatchedTrades, 2)

	fromBuy := result.MatchedTrades[0]
	assert.False(t, fromBuy.FromReceivePool)
	assert.True(t, fromBuy.MatchedQuantity.Equal(decimal.RequireFromString("3")))

	fromReceive := result.MatchedTrades[1]
	assert.True(t, fromReceive.FromReceivePool)
	assert.True(t, fromReceive.MatchedQuantity.Equal(decimal.RequireFromString("2")))
	// zero cost basis: realized = sell_price * matched_qty = 4*2 = 8
	assert.True(t, fromReceive.RealizedPnLUSD.Equal(decimal.RequireFromString("8")))

	assert.True(t, result.RemainingPosition.ReceivedQuantity.Equal(decimal.RequireFromString("8")))
}

func TestComputeToken_UnrealizedPnLUsesWeightedAvgCost(t *testing.T) {
	events := []models.FinancialEvent{
		buyEvent("10", "1", time.Unix(100, 0)),
		buyEvent("10", "3", time.Unix(200, 0)),
	}
	currentPrice := func(string) (decimal.Decimal, bool) { return decimal.RequireFromString("5"), true }

	result, err := ComputeToken(addrTKA, "TKA", events, dustThreshold, currentPrice, zap.NewNop().Sugar())
	require.NoError(t, err)
	require.NotNil(t, result.RemainingPosition.AvgCostBasisUSD)
	// weighted avg cost = (10*1 + 10*3)/20 = 2
	assert.True(t, result.RemainingPosition.AvgCostBasisUSD.Equal(decimal.RequireFromString("2")))
	require.NotNil(t, result.RemainingPosition.UnrealizedPnLUSD)
	// (5-2)*20 = 60
	assert.True(t, result.RemainingPosition.UnrealizedPnLUSD.Equal(decimal.RequireFromString("60")))
}

func TestComputeWallet_SingleTokenTotalPnL(t *testing.T) {
	events := []models.FinancialEvent{
		buyEvent("10", "1", time.Unix(100, 0)),
		sellEvent("10", "2", time.Unix(200, 0)),
	}
	report := ComputeWallet("wallet1", events, dustThreshold, noCurrentPrice, zap.NewNop().Sugar())
	assert.Equal(t, "success", report.Status)
	require.Len(t, report.Tokens, 1)
	assert.True(t, report.TotalPnLUSD.Equal(decimal.RequireFromString("10")))
}
