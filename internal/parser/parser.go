// Package parser converts aggregator transactions into financial events,
// applying the multi-hop / implicit-pricing / mixed-direction decision
// tree documented for the matching engine's input contract.
package parser

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rawblock/wallet-pnl-engine/internal/config"
	"github.com/rawblock/wallet-pnl-engine/internal/decimalx"
	"github.com/rawblock/wallet-pnl-engine/internal/errkind"
	"github.com/rawblock/wallet-pnl-engine/pkg/models"
)

// Result is the parser's output for one wallet: events ready for
// enrichment/matching, transfers that need an oracle lookup, and a
// count of trade pairs (act_id groups) skipped as incomplete.
type Result struct {
	Events          []models.FinancialEvent
	SkippedTransfers []models.SkippedTransfer
	IncompleteCount int
}

// tradePair buckets one act_id's transfers, split by the classification
// the parser assigns on grouping. Lives only for the duration of Parse.
type tradePair struct {
	actID        string
	walletAddr   string
	chainID      string
	timestamp    time.Time
	txHash       string
	inTransfers  []models.RawTransfer
	outTransfers []models.RawTransfer
}

// Parse runs the full decision tree over wallet's raw transactions.
func Parse(walletAddress, chainID string, txs []models.RawTransaction, cfg *config.Config, log *zap.SugaredLogger) Result {
	var res Result

	for _, tx := range txs {
		switch tx.Operation {
		case models.OpTrade:
			pairs := groupByActID(walletAddress, chainID, tx, log)
			for _, pair := range pairs {
				events, skipped, ok := parseTradePair(pair, cfg, log)
				if !ok {
					res.IncompleteCount++
					continue
				}
				res.Events = append(res.Events, events...)
				res.SkippedTransfers = append(res.SkippedTransfers, skipped...)
			}
		case models.OpSend:
			for _, tr := range tx.Transfers {
				if tr.Direction != models.DirectionOut {
					continue
				}
				ev, skip, ok := convertTransfer(walletAddress, chainID, tx, tr, models.EventSell, log)
				if !ok {
					continue
				}
				if skip != nil {
					res.SkippedTransfers = append(res.SkippedTransfers, *skip)
					continue
				}
				res.Events = append(res.Events, ev)
			}
		case models.OpReceive:
			for _, tr := range tx.Transfers {
				if tr.Direction != models.DirectionIn && tr.Direction != models.DirectionSelf {
					continue
				}
				ev, skip, ok := convertTransfer(walletAddress, chainID, tx, tr, models.EventReceive, log)
				if !ok {
					continue
				}
				if skip != nil {
					res.SkippedTransfers = append(res.SkippedTransfers, *skip)
					continue
				}
				res.Events = append(res.Events, ev)
			}
		default:
			// operation types outside {trade, send, receive} are ignored per spec.
			continue
		}
	}

	return res
}

func groupByActID(walletAddress, chainID string, tx models.RawTransaction, log *zap.SugaredLogger) []*tradePair {
	byAct := make(map[string]*tradePair)
	var order []string

	for _, tr := range tx.Transfers {
		p, ok := byAct[tr.ActID]
		if !ok {
			p = &tradePair{
				actID:      tr.ActID,
				walletAddr: walletAddress,
				chainID:    chainID,
				timestamp:  tx.Timestamp,
				txHash:     tx.TransactionHash,
			}
			byAct[tr.ActID] = p
			order = append(order, tr.ActID)
		}
		switch tr.Direction {
		case models.DirectionIn, models.DirectionSelf:
			p.inTransfers = append(p.inTransfers, tr)
		case models.DirectionOut:
			p.outTransfers = append(p.outTransfers, tr)
		default:
			log.Warnw("unknown transfer direction, skipping transfer", "direction", tr.Direction, "act_id", tr.ActID, "tx", tx.TransactionHash)
		}
	}

	pairs := make([]*tradePair, 0, len(order))
	for _, actID := range order {
		pairs = append(pairs, byAct[actID])
	}
	return pairs
}

// parseTradePair runs steps 1-6 of the decision tree on one pair.
func parseTradePair(pair *tradePair, cfg *config.Config, log *zap.SugaredLogger) ([]models.FinancialEvent, []models.SkippedTransfer, bool) {
	if len(pair.inTransfers) == 0 || len(pair.outTransfers) == 0 {
		log.Debugw("incomplete trade pair, skipping", "act_id", pair.actID, "tx", pair.txHash)
		return nil, nil, false
	}

	all := append(append([]models.RawTransfer{}, pair.inTransfers...), pair.outTransfers...)

	// Step 1: multi-hop detection.
	distinctTokens := make(map[string]bool)
	hasStable := false
	for _, tr := range all {
		distinctTokens[tr.TokenAddress] = true
		if cfg.IsStable(tr.TokenAddress) {
			hasStable = true
		}
	}
	if len(distinctTokens) >= 3 && hasStable {
		events := multiHopEvents(pair, all, cfg, log)
		if events != nil {
			return events, nil, true
		}
		// falls through to direction-sanity logic if no token exceeded either threshold
	}

	// Step 2: direction sanity — partition stable vs volatile, check volatile direction cardinality.
	var stableIn, stableOut, volatileIn, volatileOut []models.RawTransfer
	for _, tr := range pair.inTransfers {
		if cfg.IsStable(tr.TokenAddress) {
			stableIn = append(stableIn, tr)
		} else {
			volatileIn = append(volatileIn, tr)
		}
	}
	for _, tr := range pair.outTransfers {
		if cfg.IsStable(tr.TokenAddress) {
			stableOut = append(stableOut, tr)
		} else {
			volatileOut = append(volatileOut, tr)
		}
	}

	mixedDirections := len(volatileIn) > 0 && len(volatileOut) > 0
	if mixedDirections {
		log.Warnw("mixed directions on volatile transfers under one act_id, falling back to standard conversion",
			"act_id", pair.actID, "tx", pair.txHash, "kind", errkind.MixedDirections)
		return standardConversion(pair, log), nil, true
	}

	volatile := append(append([]models.RawTransfer{}, volatileIn...), volatileOut...)
	stable := append(append([]models.RawTransfer{}, stableIn...), stableOut...)

	// Step 4: implicit pricing — exactly one volatile transfer with a
	// stable counter-side (the pair-level check above guarantees at
	// least one in and one out transfer, so a lone volatile transfer
	// always has something stable opposite it).
	if len(volatile) == 1 && len(stable) > 0 {
		return implicitPricingEvents(pair, volatile[0], stable, log), nil, true
	}

	// Step 5 (>=2 volatile transfers, ambiguous) and step 6 (no stable
	// counter-currency at all) both fall through to standard conversion.
	return standardConversionEvents(pair, log), nil, true
}

func multiHopEvents(pair *tradePair, all []models.RawTransfer, cfg *config.Config, log *zap.SugaredLogger) []models.FinancialEvent {
	type netEntry struct {
		symbol string
		qty    decimal.Decimal
		value  decimal.Decimal
	}
	net := make(map[string]*netEntry)

	for _, tr := range all {
		e, ok := net[tr.TokenAddress]
		if !ok {
			e = &netEntry{symbol: tr.TokenSymbol}
			net[tr.TokenAddress] = e
		}
		qty, err := decimalx.ParseQuantity(tr.Quantity, log)
		if err != nil {
			log.Warnw("unparsable quantity in multi-hop net map, skipping transfer", "err", err, "kind", errkind.ParseFormat)
			continue
		}
		value := decimal.Zero
		if tr.USDValue != nil {
			value = *tr.USDValue
		} else if tr.USDPrice != nil {
			value = tr.USDPrice.Mul(qty)
		}
		switch tr.Direction {
		case models.DirectionIn, models.DirectionSelf:
			e.qty = e.qty.Add(qty)
			e.value = e.value.Add(value)
		case models.DirectionOut:
			e.qty = e.qty.Sub(qty)
			e.value = e.value.Sub(value)
		}
	}

	var events []models.FinancialEvent
	for token, e := range net {
		if e.qty.Abs().LessThanOrEqual(cfg.NetQtyThreshold) && e.value.Abs().LessThanOrEqual(cfg.NetValueThresholdUSD) {
			continue
		}
		if e.qty.IsZero() {
			continue
		}
		eventType := models.EventBuy
		qty := e.qty
		if e.qty.IsNegative() {
			eventType = models.EventSell
			qty = e.qty.Neg()
		}
		absValue := e.value.Abs()
		price, err := decimalx.CheckedDiv(absValue, qty)
		if err != nil {
			log.Warnw("multi-hop implied price overflow, skipping token", "token", token, "err", err)
			continue
		}
		events = append(events, models.FinancialEvent{
			WalletAddress:   pair.walletAddr,
			TokenAddress:    token,
			TokenSymbol:     e.symbol,
			ChainID:         pair.chainID,
			EventType:       eventType,
			Quantity:        qty,
			USDPricePerToken: price,
			USDValue:        absValue,
			Timestamp:       pair.timestamp,
			TransactionHash: models.PhantomHashPrefix + pair.txHash,
			ActID:           pair.actID,
		})
	}
	if len(events) == 0 {
		return nil
	}
	return events
}

func implicitPricingEvents(pair *tradePair, volatileTransfer models.RawTransfer, stable []models.RawTransfer, log *zap.SugaredLogger) []models.FinancialEvent {
	qty, err := decimalx.ParseQuantity(volatileTransfer.Quantity, log)
	if err != nil || qty.IsZero() {
		log.Warnw("unparsable or zero volatile quantity, skipping implicit pricing pair", "act_id", pair.actID)
		return nil
	}

	stableTotal := decimal.Zero
	for _, tr := range stable {
		v := transferUSDValue(tr, log)
		stableTotal = stableTotal.Add(v)
	}

	impliedPrice, err := decimalx.CheckedDiv(stableTotal, qty)
	if err != nil {
		log.Warnw("implicit price overflow, skipping pair", "act_id", pair.actID, "err", err)
		return nil
	}

	var events []models.FinancialEvent
	events = append(events, models.FinancialEvent{
		WalletAddress:   pair.walletAddr,
		TokenAddress:    volatileTransfer.TokenAddress,
		TokenSymbol:     volatileTransfer.TokenSymbol,
		ChainID:         pair.chainID,
		EventType:       directionEventType(volatileTransfer.Direction),
		Quantity:        qty,
		USDPricePerToken: impliedPrice,
		USDValue:        stableTotal,
		Timestamp:       pair.timestamp,
		TransactionHash: pair.txHash,
		ActID:           pair.actID,
	})

	for _, tr := range stable {
		ev, ok := standardEventFromTransfer(pair, tr, log)
		if ok {
			events = append(events, ev)
		}
	}
	return events
}

func standardConversionEvents(pair *tradePair, log *zap.SugaredLogger) []models.FinancialEvent {
	return standardConversion(pair, log)
}

func standardConversion(pair *tradePair, log *zap.SugaredLogger) []models.FinancialEvent {
	var events []models.FinancialEvent
	for _, tr := range pair.inTransfers {
		if ev, ok := standardEventFromTransfer(pair, tr, log); ok {
			events = append(events, ev)
		}
	}
	for _, tr := range pair.outTransfers {
		if ev, ok := standardEventFromTransfer(pair, tr, log); ok {
			events = append(events, ev)
		}
	}
	return events
}

func standardEventFromTransfer(pair *tradePair, tr models.RawTransfer, log *zap.SugaredLogger) (models.FinancialEvent, bool) {
	qty, err := decimalx.ParseQuantity(tr.Quantity, log)
	if err != nil {
		log.Warnw("unparsable quantity, skipping transfer", "err", err, "kind", errkind.ParseFormat)
		return models.FinancialEvent{}, false
	}
	if qty.IsZero() {
		return models.FinancialEvent{}, false
	}

	price, value, _ := priceValue(tr, qty)

	return models.FinancialEvent{
		WalletAddress:   pair.walletAddr,
		TokenAddress:    tr.TokenAddress,
		TokenSymbol:     tr.TokenSymbol,
		ChainID:         pair.chainID,
		EventType:       directionEventType(tr.Direction),
		Quantity:        qty,
		USDPricePerToken: price,
		USDValue:        value,
		Timestamp:       pair.timestamp,
		TransactionHash: pair.txHash,
		ActID:           pair.actID,
	}, true
}

// convertTransfer handles send/receive (non-trade) transactions, which
// have no act_id grouping and go straight through standard conversion.
func convertTransfer(walletAddress, chainID string, tx models.RawTransaction, tr models.RawTransfer, eventType models.EventType, log *zap.SugaredLogger) (models.FinancialEvent, *models.SkippedTransfer, bool) {
	qty, err := decimalx.ParseQuantity(tr.Quantity, log)
	if err != nil || qty.IsZero() {
		return models.FinancialEvent{}, nil, false
	}

	price, value, hasPrice := priceValue(tr, qty)
	if !hasPrice {
		skip := &models.SkippedTransfer{
			WalletAddress:   walletAddress,
			TokenAddress:    tr.TokenAddress,
			TokenSymbol:     tr.TokenSymbol,
			ChainID:         chainID,
			EventType:       eventType,
			Quantity:        qty,
			Timestamp:       tx.Timestamp,
			TransactionHash: tx.TransactionHash,
		}
		return models.FinancialEvent{}, skip, true
	}

	return models.FinancialEvent{
		WalletAddress:   walletAddress,
		TokenAddress:    tr.TokenAddress,
		TokenSymbol:     tr.TokenSymbol,
		ChainID:         chainID,
		EventType:       eventType,
		Quantity:        qty,
		USDPricePerToken: price,
		USDValue:        value,
		Timestamp:       tx.Timestamp,
		TransactionHash: tx.TransactionHash,
	}, nil, true
}

// priceValue implements the USD value preference order from spec §4.1.
// The third return is false when neither price nor value is available,
// meaning the transfer must be handed to the enricher.
func priceValue(tr models.RawTransfer, qty decimal.Decimal) (decimal.Decimal, decimal.Decimal, bool) {
	switch {
	case tr.USDPrice != nil && tr.USDValue != nil:
		return *tr.USDPrice, *tr.USDValue, true
	case tr.USDPrice != nil:
		return *tr.USDPrice, tr.USDPrice.Mul(qty), true
	case tr.USDValue != nil:
		if qty.IsZero() {
			return decimal.Zero, *tr.USDValue, true
		}
		return tr.USDValue.Div(qty), *tr.USDValue, true
	default:
		return decimal.Zero, decimal.Zero, false
	}
}

func transferUSDValue(tr models.RawTransfer, log *zap.SugaredLogger) decimal.Decimal {
	qty, err := decimalx.ParseQuantity(tr.Quantity, log)
	if err != nil {
		return decimal.Zero
	}
	_, value, ok := priceValue(tr, qty)
	if !ok {
		return decimal.Zero
	}
	return value
}

func directionEventType(dir models.Direction) models.EventType {
	switch dir {
	case models.DirectionOut:
		return models.EventSell
	default:
		// in/self (per open question: self behaves as in)
		return models.EventBuy
	}
}

// SortEvents orders events deterministically for the matching engine:
// by timestamp, then by transaction hash as a lexicographic tiebreaker.
func SortEvents(events []models.FinancialEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return events[i].TransactionHash < events[j].TransactionHash
	})
}
