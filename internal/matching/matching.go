// Package matching implements chronological FIFO lot matching across
// buys, sells, and receives, producing matched trades, unmatched sell
// residues, and per-token realized/unrealized P&L reports.
package matching

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rawblock/wallet-pnl-engine/internal/decimalx"
	"github.com/rawblock/wallet-pnl-engine/internal/errkind"
	"github.com/rawblock/wallet-pnl-engine/pkg/models"
)

// CurrentPriceFunc resolves a token's current USD price for unrealized
// P&L; a false return means the oracle had no current price.
type CurrentPriceFunc func(tokenAddress string) (decimal.Decimal, bool)

// pool is a FIFO slice of lots, oldest first.
type pool struct {
	lots []*models.Lot
}

func (p *pool) push(ev models.FinancialEvent) {
	p.lots = append(p.lots, &models.Lot{
		Event:             ev,
		OriginalQuantity:  ev.Quantity,
		RemainingQuantity: ev.Quantity,
	})
}

// drain consumes up to want from the pool head, snapping dust after
// each drain, and returns the quantity actually consumed plus the lots
// touched (for building matched trades). Fully drained lots are
// removed from the pool.
func (p *pool) drain(want decimal.Decimal, dustThreshold decimal.Decimal) (decimal.Decimal, []*models.Lot, []decimal.Decimal) {
	consumed := decimal.Zero
	var touched []*models.Lot
	var amounts []decimal.Decimal

	i := 0
	for i < len(p.lots) && want.GreaterThan(decimal.Zero) {
		lot := p.lots[i]
		take := lot.RemainingQuantity
		if take.GreaterThan(want) {
			take = want
		}
		lot.RemainingQuantity = decimalx.SnapDust(lot.RemainingQuantity.Sub(take), dustThreshold)
		want = want.Sub(take)
		consumed = consumed.Add(take)
		touched = append(touched, lot)
		amounts = append(amounts, take)

		if lot.RemainingQuantity.IsZero() {
			i++
			continue
		}
		break
	}
	p.lots = p.lots[i:]
	return consumed, touched, amounts
}

func (p *pool) remaining() decimal.Decimal {
	total := decimal.Zero
	for _, lot := range p.lots {
		total = total.Add(lot.RemainingQuantity)
	}
	return total
}

// weightedAvgCost returns the quantity-weighted average price over the
// pool's remaining lots, and false if the pool is empty (undefined avg).
func (p *pool) weightedAvgCost() (decimal.Decimal, bool) {
	totalQty := decimal.Zero
	totalCost := decimal.Zero
	for _, lot := range p.lots {
		totalQty = totalQty.Add(lot.RemainingQuantity)
		totalCost = totalCost.Add(lot.RemainingQuantity.Mul(lot.Event.USDPricePerToken))
	}
	if totalQty.IsZero() {
		return decimal.Zero, false
	}
	avg, err := decimalx.CheckedDiv(totalCost, totalQty)
	if err != nil {
		return decimal.Zero, false
	}
	return avg, true
}

// ComputeToken runs the FIFO matching algorithm for one token's already
// sorted (timestamp, then tx-hash) event slice.
func ComputeToken(tokenAddress, tokenSymbol string, events []models.FinancialEvent, dustThreshold decimal.Decimal, currentPrice CurrentPriceFunc, log *zap.SugaredLogger) (models.TokenPnLResult, error) {
	result := models.TokenPnLResult{
		TokenAddress: tokenAddress,
		TokenSymbol:  tokenSymbol,
		ComputedAt:   time.Now().UTC(),
	}

	buyPool := &pool{}
	receivePool := &pool{}

	var boughtIn, receivedIn, soldOut decimal.Decimal
	var matchedFromBuys, matchedFromReceives, unmatchedPhantomBuys decimal.Decimal
	var totalRealized decimal.Decimal
	var investedUSD, returnedUSD decimal.Decimal
	var winningTrades, tradeCount int

	overflow := func(reason string) (models.TokenPnLResult, error) {
		result.Overflowed = true
		result.OverflowReason = reason
		return result, errkind.Wrap(errkind.PnLOverflow, fmt.Errorf("%s", reason))
	}

	for _, ev := range events {
		switch ev.EventType {
		case models.EventBuy:
			boughtIn = boughtIn.Add(ev.Quantity)
			buyPool.push(ev)
			invested, err := decimalx.CheckedAdd(investedUSD, ev.USDValue)
			if err != nil {
				return overflow("invested accumulator overflow")
			}
			investedUSD = invested

		case models.EventReceive:
			receivedIn = receivedIn.Add(ev.Quantity)
			receivePool.push(ev)

		case models.EventSell:
			soldOut = soldOut.Add(ev.Quantity)
			toMatch := ev.Quantity

			// Step 1: consume buy_pool head first.
			consumedBuy, buyLots, buyAmounts := buyPool.drain(toMatch, dustThreshold)
			toMatch = toMatch.Sub(consumedBuy)
			matchedFromBuys = matchedFromBuys.Add(consumedBuy)

			for i, lot := range buyLots {
				drained := buyAmounts[i]
				realized, err := realizedPnL(ev.USDPricePerToken, lot.Event.USDPricePerToken, drained)
				if err != nil {
					return overflow("realized pnl overflow on buy-pool drain")
				}
				totalRealized = totalRealized.Add(realized)
				tradeCount++
				if realized.GreaterThan(decimal.Zero) {
					winningTrades++
				}
				result.MatchedTrades = append(result.MatchedTrades, models.MatchedTrade{
					BuyEvent:        lot.Event,
					SellEvent:       ev,
					MatchedQuantity: drained,
					RealizedPnLUSD:  realized,
					HoldSeconds:     ev.Timestamp.Sub(lot.Event.Timestamp).Seconds(),
					FromReceivePool: false,
				})
				tradeValue, err := decimalx.CheckedMul(drained, ev.USDPricePerToken)
				if err != nil {
					return overflow("returned accumulator overflow")
				}
				returnedUSD = returnedUSD.Add(tradeValue)
			}

			// Step 2: consume receive_pool, zero cost basis.
			if toMatch.GreaterThan(decimal.Zero) {
				consumedRecv, recvLots, recvAmounts := receivePool.drain(toMatch, dustThreshold)
				toMatch = toMatch.Sub(consumedRecv)
				matchedFromReceives = matchedFromReceives.Add(consumedRecv)

				for i, lot := range recvLots {
					drained := recvAmounts[i]
					realized, err := decimalx.CheckedMul(ev.USDPricePerToken, drained)
					if err != nil {
						return overflow("realized pnl overflow on receive-pool drain")
					}
					totalRealized = totalRealized.Add(realized)
					tradeCount++
					if realized.GreaterThan(decimal.Zero) {
						winningTrades++
					}
					result.MatchedTrades = append(result.MatchedTrades, models.MatchedTrade{
						BuyEvent:        lot.Event,
						SellEvent:       ev,
						MatchedQuantity: drained,
						RealizedPnLUSD:  realized,
						HoldSeconds:     ev.Timestamp.Sub(lot.Event.Timestamp).Seconds(),
						FromReceivePool: true,
					})
					returnedUSD = returnedUSD.Add(realized)
				}
			}

			// Step 3: residual becomes an UnmatchedSell, phantom price = sell price.
			if toMatch.GreaterThan(decimal.Zero) {
				unmatchedPhantomBuys = unmatchedPhantomBuys.Add(toMatch)
				result.UnmatchedSells = append(result.UnmatchedSells, models.UnmatchedSell{
					SellEvent:         ev,
					UnmatchedQuantity: toMatch,
					PhantomBuyPrice:   ev.USDPricePerToken,
				})
			}
		}
	}

	result.RealizedPnLUSD = totalRealized
	result.InvestedUSD = investedUSD
	result.ReturnedUSD = returnedUSD
	result.TradeCount = tradeCount
	if tradeCount > 0 {
		result.WinRate = decimal.NewFromInt(int64(winningTrades)).DivRound(decimal.NewFromInt(int64(tradeCount)), 8)
	}

	remainingBought := buyPool.remaining()
	remainingReceived := receivePool.remaining()

	position := models.RemainingPosition{
		TokenAddress:     tokenAddress,
		BoughtQuantity:   remainingBought,
		ReceivedQuantity: remainingReceived,
	}

	if avgCost, ok := buyPool.weightedAvgCost(); ok {
		position.AvgCostBasisUSD = &avgCost

		if price, ok := currentPrice(tokenAddress); ok {
			position.CurrentPriceUSD = &price
			unrealized, err := decimalx.CheckedMul(price.Sub(avgCost), remainingBought)
			if err != nil {
				return overflow("unrealized pnl overflow")
			}
			position.UnrealizedPnLUSD = &unrealized
		} else {
			log.Debugw("no current price available, unrealized pnl reported null", "token", tokenAddress, "kind", errkind.OracleMiss)
		}
	}
	result.RemainingPosition = position

	if position.UnrealizedPnLUSD != nil {
		total, err := decimalx.CheckedAdd(result.RealizedPnLUSD, *position.UnrealizedPnLUSD)
		if err != nil {
			return overflow("total pnl overflow")
		}
		result.UnrealizedPnLUSD = position.UnrealizedPnLUSD
		result.TotalPnLUSD = &total
	}

	if err := validateInvariant(boughtIn, receivedIn, soldOut, matchedFromBuys, matchedFromReceives, unmatchedPhantomBuys, remainingBought, remainingReceived, dustThreshold); err != nil {
		log.Errorw("matching invariant violated", "token", tokenAddress, "err", err)
		return overflow(err.Error())
	}

	return result, nil
}

func realizedPnL(sellPrice, buyPrice, matchedQty decimal.Decimal) (decimal.Decimal, error) {
	priceDelta, err := decimalx.CheckedSub(sellPrice, buyPrice)
	if err != nil {
		return decimal.Zero, err
	}
	return decimalx.CheckedMul(priceDelta, matchedQty)
}

// validateInvariant asserts the three-way conservation law spec §4.3/§8
// describe: every unit bought is either matched from the buy pool or
// left remaining; every unit received is either matched from the
// receive pool or left remaining; every unit sold is accounted for by
// some combination of buy-pool matches, receive-pool matches, and
// unmatched phantom residue. All three within dust tolerance.
func validateInvariant(boughtIn, receivedIn, soldOut, matchedFromBuys, matchedFromReceives, unmatchedPhantomBuys, remainingBought, remainingReceived, dustThreshold decimal.Decimal) error {
	if diff := matchedFromBuys.Add(remainingBought).Sub(boughtIn).Abs(); diff.GreaterThan(dustThreshold) {
		return fmt.Errorf("buy-side conservation violated: matched=%s remaining=%s bought_in=%s diff=%s", matchedFromBuys, remainingBought, boughtIn, diff)
	}
	if diff := matchedFromReceives.Add(remainingReceived).Sub(receivedIn).Abs(); diff.GreaterThan(dustThreshold) {
		return fmt.Errorf("receive-side conservation violated: matched=%s remaining=%s received_in=%s diff=%s", matchedFromReceives, remainingReceived, receivedIn, diff)
	}
	if diff := matchedFromBuys.Add(matchedFromReceives).Add(unmatchedPhantomBuys).Sub(soldOut).Abs(); diff.GreaterThan(dustThreshold) {
		return fmt.Errorf("sell-side conservation violated: matched_buys=%s matched_receives=%s unmatched=%s sold_out=%s diff=%s", matchedFromBuys, matchedFromReceives, unmatchedPhantomBuys, soldOut, diff)
	}
	return nil
}
