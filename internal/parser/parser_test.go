package parser

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rawblock/wallet-pnl-engine/internal/config"
	"github.com/rawblock/wallet-pnl-engine/pkg/models"
)

const (
	addrSOL = "So11111111111111111111111111111111111111112"
	addrTKA = "TokenAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	addrTKB = "TokenBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"
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

func price(p float64) *decimal.Decimal {
	d := decimal.NewFromFloat(p)
	return &d
}

func TestParse_AmbiguousMultipleVolatileSameDirection_FallsBackToStandardConversion(t *testing.T) {
	// Two out-direction volatile transfers of the same token plus one
	// stable in-transfer: not mixed-direction (no in-direction volatile
	// transfer), not implicit pricing (two volatile transfers, not
	// one) — step 5/6's standard conversion, one event per transfer.
	tx := models.RawTransaction{
		TransactionHash: "tx1",
		Operation:       models.OpTrade,
		Timestamp:       time.Unix(1000, 0),
		Transfers: []models.RawTransfer{
			{ActID: "a1", Direction: models.DirectionOut, TokenAddress: addrTKA, Quantity: "6", USDPrice: price(2)},
			{ActID: "a1", Direction: models.DirectionOut, TokenAddress: addrTKA, Quantity: "4", USDPrice: price(2)},
			{ActID: "a1", Direction: models.DirectionIn, TokenAddress: addrSOL, Quantity: "1", USDValue: decimalPtr("20")},
		},
	}

	result := Parse("wallet1", "solana", []models.RawTransaction{tx}, testConfig(t), zap.NewNop().Sugar())
	require.Len(t, result.Events, 3)
	// standardConversion emits in-transfers before out-transfers.
	assert.Equal(t, models.EventBuy, result.Events[0].EventType)
	assert.Equal(t, models.EventSell, result.Events[1].EventType)
	assert.Equal(t, models.EventSell, result.Events[2].EventType)
}

func TestParse_ImplicitPricing_SingleVolatileAgainstStable(t *testing.T) {
	// One volatile leg (TKA out) against a stable leg (SOL in): the
	// volatile side's implied price is stableTotal/qty.
	tx := models.RawTransaction{
		TransactionHash: "tx2",
		Operation:       models.OpTrade,
		Timestamp:       time.Unix(2000, 0),
		Transfers: []models.RawTransfer{
			{ActID: "a2", Direction: models.DirectionOut, TokenAddress: addrTKA, Quantity: "100"},
			{ActID: "a2", Direction: models.DirectionIn, TokenAddress: addrSOL, Quantity: "2", USDValue: decimalPtr("50")},
		},
	}

	result := Parse("wallet1", "solana", []models.RawTransaction{tx}, testConfig(t), zap.NewNop().Sugar())
	require.Len(t, result.Events, 2)

	var tkaEvent models.FinancialEvent
	for _, ev := range result.Events {
		if ev.TokenAddress == addrTKA {
			tkaEvent = ev
		}
	}
	require.NotEmpty(t, tkaEvent.TokenAddress)
	assert.Equal(t, models.EventSell, tkaEvent.EventType)
	assert.True(t, tkaEvent.USDPricePerToken.Equal(decimal.NewFromFloat(0.5)), "expected implied price 50/100=0.5, got %s", tkaEvent.USDPricePerToken)
}

func TestParse_MixedDirections_FallsBackToStandardConversion(t *testing.T) {
	// Two volatile legs in opposite directions under one act_id, with
	// no stable currency present at all: fewer than 3 distinct tokens
	// rules out multi-hop, and mixed volatile directions rule out
	// implicit pricing, so this falls back to standard per-transfer
	// conversion — one event per transfer.
	tx := models.RawTransaction{
		TransactionHash: "tx3",
		Operation:       models.OpTrade,
		Timestamp:       time.Unix(3000, 0),
		Transfers: []models.RawTransfer{
			{ActID: "a3", Direction: models.DirectionOut, TokenAddress: addrTKA, Quantity: "10", USDPrice: price(1)},
			{ActID: "a3", Direction: models.DirectionIn, TokenAddress: addrTKB, Quantity: "10", USDPrice: price(1)},
		},
	}

	result := Parse("wallet1", "solana", []models.RawTransaction{tx}, testConfig(t), zap.NewNop().Sugar())
	assert.Len(t, result.Events, 2)
}

func TestParse_IncompletePairSkipped(t *testing.T) {
	// An act_id with only outbound transfers (no inbound leg) cannot be
	// priced and is dropped, counted as incomplete.
	tx := models.RawTransaction{
		TransactionHash: "tx4",
		Operation:       models.OpTrade,
		Timestamp:       time.Unix(4000, 0),
		Transfers: []models.RawTransfer{
			{ActID: "a4", Direction: models.DirectionOut, TokenAddress: addrTKA, Quantity: "10", USDPrice: price(1)},
		},
	}

	result := Parse("wallet1", "solana", []models.RawTransaction{tx}, testConfig(t), zap.NewNop().Sugar())
	assert.Empty(t, result.Events)
	assert.Equal(t, 1, result.IncompleteCount)
}

func TestParse_SendWithoutPrice_ProducesSkippedTransfer(t *testing.T) {
	tx := models.RawTransaction{
		TransactionHash: "tx5",
		Operation:       models.OpSend,
		Timestamp:       time.Unix(5000, 0),
		Transfers: []models.RawTransfer{
			{Direction: models.DirectionOut, TokenAddress: addrTKA, Quantity: "3"},
		},
	}

	result := Parse("wallet1", "solana", []models.RawTransaction{tx}, testConfig(t), zap.NewNop().Sugar())
	assert.Empty(t, result.Events)
	require.Len(t, result.SkippedTransfers, 1)
	assert.Equal(t, models.EventSell, result.SkippedTransfers[0].EventType)
}

func TestParse_ReceiveWithPrice_ProducesReceiveEvent(t *testing.T) {
	tx := models.RawTransaction{
		TransactionHash: "tx6",
		Operation:       models.OpReceive,
		Timestamp:       time.Unix(6000, 0),
		Transfers: []models.RawTransfer{
			{Direction: models.DirectionIn, TokenAddress: addrTKA, Quantity: "7", USDPrice: price(3)},
		},
	}

	result := Parse("wallet1", "solana", []models.RawTransaction{tx}, testConfig(t), zap.NewNop().Sugar())
	require.Len(t, result.Events, 1)
	assert.Equal(t, models.EventReceive, result.Events[0].EventType)
}

func TestSortEvents_OrdersByTimestampThenHash(t *testing.T) {
	events := []models.FinancialEvent{
		{Timestamp: time.Unix(200, 0), TransactionHash: "b"},
		{Timestamp: time.Unix(100, 0), TransactionHash: "z"},
		{Timestamp: time.Unix(100, 0), TransactionHash: "a"},
	}
	SortEvents(events)
	assert.Equal(t, "a", events[0].TransactionHash)
	assert.Equal(t, "z", events[1].TransactionHash)
	assert.Equal(t, "b", events[2].TransactionHash)
}

func decimalPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}
