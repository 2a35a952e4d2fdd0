package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Lot is a matching-engine-internal FIFO slice of an earlier buy or
// receive event; the buy pool and the receive pool both hold Lots.
// Invariant: 0 <= Remaining <= Original.
type Lot struct {
	Event              FinancialEvent
	OriginalQuantity   decimal.Decimal
	RemainingQuantity  decimal.Decimal
}

// MatchedTrade is produced when a sell drains one or more lots.
type MatchedTrade struct {
	BuyEvent        FinancialEvent  `json:"buyEvent"`
	SellEvent       FinancialEvent  `json:"sellEvent"`
	MatchedQuantity decimal.Decimal `json:"matchedQuantity"`
	RealizedPnLUSD  decimal.Decimal `json:"realizedPnlUsd"`
	HoldSeconds     float64         `json:"holdSeconds"`
	// FromReceivePool is true when the lot drained had zero cost basis
	// (an airdrop/transfer-in), not an actual purchase.
	FromReceivePool bool `json:"fromReceivePool"`
}

// UnmatchedSell is the residue of a sell that could not be fully drained
// against any lot. Its phantom buy price equals the sell price, so it
// always contributes zero to total realized P&L.
type UnmatchedSell struct {
	SellEvent         FinancialEvent  `json:"sellEvent"`
	UnmatchedQuantity decimal.Decimal `json:"unmatchedQuantity"`
	PhantomBuyPrice   decimal.Decimal `json:"phantomBuyPrice"`
}

// RemainingPosition is the per-token state left over after all sells in
// a wallet's history have been processed.
type RemainingPosition struct {
	TokenAddress     string           `json:"tokenAddress"`
	BoughtQuantity   decimal.Decimal  `json:"boughtQuantity"`
	ReceivedQuantity decimal.Decimal  `json:"receivedQuantity"`
	AvgCostBasisUSD  *decimal.Decimal `json:"avgCostBasisUsd"`
	CurrentPriceUSD  *decimal.Decimal `json:"currentPriceUsd"`
	UnrealizedPnLUSD *decimal.Decimal `json:"unrealizedPnlUsd"`
}

// TokenPnLResult is the per-token summary returned to callers.
type TokenPnLResult struct {
	TokenAddress      string            `json:"tokenAddress"`
	TokenSymbol       string            `json:"tokenSymbol"`
	RealizedPnLUSD    decimal.Decimal   `json:"realizedPnlUsd"`
	UnrealizedPnLUSD  *decimal.Decimal  `json:"unrealizedPnlUsd"`
	TotalPnLUSD       *decimal.Decimal  `json:"totalPnlUsd"`
	WinRate           decimal.Decimal   `json:"winRate"`
	TradeCount        int               `json:"tradeCount"`
	InvestedUSD       decimal.Decimal   `json:"investedUsd"`
	ReturnedUSD       decimal.Decimal   `json:"returnedUsd"`
	RemainingPosition RemainingPosition `json:"remainingPosition"`
	MatchedTrades     []MatchedTrade    `json:"matchedTrades,omitempty"`
	UnmatchedSells    []UnmatchedSell   `json:"unmatchedSells,omitempty"`
	Overflowed        bool              `json:"overflowed"`
	OverflowReason    string            `json:"overflowReason,omitempty"`
	ComputedAt        time.Time         `json:"computedAt"`
}

// WalletReport is the full per-wallet result: one TokenPnLResult per token
// plus aggregate totals over successfully computed tokens only.
type WalletReport struct {
	WalletAddress  string           `json:"walletAddress"`
	Status         string           `json:"status"` // "success" | "failed"
	FailureReason  string           `json:"failureReason,omitempty"`
	// FailureKind is the errkind.Kind string that produced FailureReason,
	// kept alongside the human-readable reason so callers (the discovery
	// queue consumer, in particular) can classify failures without
	// string-matching an already-formatted message.
	FailureKind    string           `json:"failureKind,omitempty"`
	Tokens         []TokenPnLResult `json:"tokens"`
	TotalPnLUSD    decimal.Decimal  `json:"totalPnlUsd"`
	Warnings       []Warning        `json:"warnings,omitempty"`
	ProcessingTime time.Duration    `json:"processingTimeNs"`
}

// Warning is a structured diagnostic carried on a job, per spec §7's
// "warnings[] captures elided data".
type Warning struct {
	Kind          string    `json:"kind"`
	WalletAddress string    `json:"walletAddress,omitempty"`
	Message       string    `json:"message"`
	At            time.Time `json:"at"`
}
