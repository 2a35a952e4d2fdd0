// Package models holds the data types shared across the parser, enricher,
// matching engine, persistence, and API layers.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType is the kind of financial event a transfer resolved to.
type EventType string

const (
	EventBuy     EventType = "buy"
	EventSell    EventType = "sell"
	EventReceive EventType = "receive"
)

// PhantomHashPrefix marks synthesized transaction hashes (e.g. multi-hop
// net-transfer events that don't correspond to a single transfer).
const PhantomHashPrefix = "phantom_"

// FinancialEvent is the atomic unit consumed by the matching engine.
type FinancialEvent struct {
	WalletAddress string          `json:"walletAddress"`
	TokenAddress  string          `json:"tokenAddress"`
	TokenSymbol   string          `json:"tokenSymbol"`
	ChainID       string          `json:"chainId"`
	EventType     EventType       `json:"eventType"`
	Quantity      decimal.Decimal `json:"quantity"`
	USDPricePerToken decimal.Decimal `json:"usdPricePerToken"`
	USDValue      decimal.Decimal `json:"usdValue"`
	Timestamp     time.Time       `json:"timestamp"`
	TransactionHash string        `json:"transactionHash"`

	// ActID groups transfers within one aggregator transaction. Parser-internal;
	// not required once the event has been produced, but kept for audit trails.
	ActID string `json:"actId,omitempty"`

	// RawPayloadHash is a content hash of the originating transfer, used only
	// for log correlation and dedup diagnostics. Never participates in matching.
	RawPayloadHash string `json:"rawPayloadHash,omitempty"`
}

// IsPhantom reports whether this event was synthesized rather than mapped
// 1:1 from an aggregator transfer.
func (e FinancialEvent) IsPhantom() bool {
	return len(e.TransactionHash) >= len(PhantomHashPrefix) && e.TransactionHash[:len(PhantomHashPrefix)] == PhantomHashPrefix
}

// Direction is the transfer direction as reported by the aggregator.
type Direction string

const (
	DirectionIn   Direction = "in"
	DirectionOut  Direction = "out"
	DirectionSelf Direction = "self"
)

// OperationType is the aggregator transaction's operation classification.
type OperationType string

const (
	OpTrade   OperationType = "trade"
	OpSend    OperationType = "send"
	OpReceive OperationType = "receive"
)

// RawTransfer is one leg of an aggregator transaction.
type RawTransfer struct {
	ActID        string
	Direction    Direction
	TokenAddress string
	TokenSymbol  string
	Quantity     string // exact-decimal string as returned by the aggregator
	USDPrice     *decimal.Decimal
	USDValue     *decimal.Decimal
}

// RawTransaction is a single aggregator transaction for one wallet.
type RawTransaction struct {
	TransactionHash string
	Operation       OperationType
	Timestamp       time.Time
	Transfers       []RawTransfer
}

// SkippedTransfer is a transfer the parser could not price and handed to
// the enricher.
type SkippedTransfer struct {
	WalletAddress   string
	TokenAddress    string
	TokenSymbol     string
	ChainID         string
	EventType       EventType
	Quantity        decimal.Decimal
	Timestamp       time.Time
	TransactionHash string
}
