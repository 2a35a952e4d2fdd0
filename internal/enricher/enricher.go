// Package enricher fills in missing prices on parser-skipped transfers
// via the oracle, merging the results into the event list without
// duplicating events the parser already priced implicitly.
package enricher

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rawblock/wallet-pnl-engine/internal/decimalx"
	"github.com/rawblock/wallet-pnl-engine/internal/errkind"
	"github.com/rawblock/wallet-pnl-engine/pkg/models"
)

// OracleClient is the subset of the oracle client the enricher needs.
// Implementations return an error tagged errkind.OracleMiss /
// errkind.OracleRateLimit on failure.
type OracleClient interface {
	HistoricalPrice(ctx context.Context, tokenAddress, chainID string, transfer models.SkippedTransfer) (decimal.Decimal, error)
}

// eventKey is the dedup key spec §4.2 mandates.
type eventKey struct {
	txHash    string
	token     string
	eventType models.EventType
}

// Result is the enricher's output: events added from skipped transfers,
// plus bookkeeping counts for the job's warnings.
type Result struct {
	AddedEvents  []models.FinancialEvent
	MissedCount  int
	DedupedCount int
}

// Enrich queries the oracle for each skipped transfer's historical
// price and merges priced results into existingEvents, deduplicating
// by (transaction_hash, token_address, event_type).
//
// The oracle client already retries a rate-limited request internally
// (its own backoff) before giving up, so an errkind.OracleRateLimit
// reaching here means the limit is exhausted, not merely hit once. Per
// spec §7's OracleRateLimit row, an exhausted rate limit surfaces as a
// wallet failure rather than a silent miss, so Enrich stops and
// propagates it instead of folding it into MissedCount.
func Enrich(ctx context.Context, oracle OracleClient, existingEvents []models.FinancialEvent, skipped []models.SkippedTransfer, log *zap.SugaredLogger) (Result, error) {
	existingKeys := make(map[eventKey]bool, len(existingEvents))
	for _, ev := range existingEvents {
		existingKeys[eventKey{txHash: ev.TransactionHash, token: ev.TokenAddress, eventType: ev.EventType}] = true
	}

	var res Result
	for _, tr := range skipped {
		price, err := oracle.HistoricalPrice(ctx, tr.TokenAddress, tr.ChainID, tr)
		if err != nil {
			if errkind.Is(err, errkind.OracleRateLimit) {
				log.Warnw("oracle rate limit exhausted during enrichment, failing wallet", "token", tr.TokenAddress, "tx", tr.TransactionHash)
				return res, errkind.Wrap(errkind.OracleRateLimit, err)
			}
			log.Debugw("oracle miss, no event emitted for transfer", "token", tr.TokenAddress, "tx", tr.TransactionHash, "kind", errkind.OracleMiss)
			res.MissedCount++
			continue
		}

		key := eventKey{txHash: tr.TransactionHash, token: tr.TokenAddress, eventType: tr.EventType}
		if existingKeys[key] {
			res.DedupedCount++
			continue
		}
		existingKeys[key] = true

		usdValue, err := decimalx.CheckedMul(price, tr.Quantity)
		if err != nil {
			log.Warnw("enriched value overflow, skipping transfer", "token", tr.TokenAddress, "err", err)
			res.MissedCount++
			continue
		}

		res.AddedEvents = append(res.AddedEvents, models.FinancialEvent{
			WalletAddress:    tr.WalletAddress,
			TokenAddress:     tr.TokenAddress,
			TokenSymbol:      tr.TokenSymbol,
			ChainID:          tr.ChainID,
			EventType:        tr.EventType,
			Quantity:         tr.Quantity,
			USDPricePerToken: price,
			USDValue:         usdValue,
			Timestamp:        tr.Timestamp,
			TransactionHash:  tr.TransactionHash,
		})
	}

	if res.DedupedCount > 0 {
		log.Infow("enrichment filtered duplicate events", "count", res.DedupedCount)
	}
	return res, nil
}
