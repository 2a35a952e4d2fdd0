package api

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/rawblock/wallet-pnl-engine/pkg/models"
)

var csvHeader = []string{
	"row_type", "wallet_address", "token_address", "token_symbol",
	"quantity", "price_usd", "value_usd", "realized_pnl_usd", "hold_seconds",
}

// writeResultsCSV flattens a job's per-wallet reports into one row per
// matched trade / unmatched sell / remaining position, per spec.md §6's
// results.csv contract.
func writeResultsCSV(w io.Writer, results []models.WalletReport) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	for _, wallet := range results {
		for _, token := range wallet.Tokens {
			for _, trade := range token.MatchedTrades {
				if err := cw.Write([]string{
					"matched_trade", wallet.WalletAddress, token.TokenAddress, token.TokenSymbol,
					trade.MatchedQuantity.String(), trade.SellEvent.USDPricePerToken.String(),
					trade.MatchedQuantity.Mul(trade.SellEvent.USDPricePerToken).String(),
					trade.RealizedPnLUSD.String(), formatFloat(trade.HoldSeconds),
				}); err != nil {
					return err
				}
			}
			for _, unmatched := range token.UnmatchedSells {
				if err := cw.Write([]string{
					"unmatched_sell", wallet.WalletAddress, token.TokenAddress, token.TokenSymbol,
					unmatched.UnmatchedQuantity.String(), unmatched.PhantomBuyPrice.String(),
					unmatched.UnmatchedQuantity.Mul(unmatched.PhantomBuyPrice).String(), "0", "0",
				}); err != nil {
					return err
				}
			}
			pos := token.RemainingPosition
			if pos.BoughtQuantity.IsPositive() || pos.ReceivedQuantity.IsPositive() {
				price := ""
				if pos.CurrentPriceUSD != nil {
					price = pos.CurrentPriceUSD.String()
				}
				unrealized := "0"
				if pos.UnrealizedPnLUSD != nil {
					unrealized = pos.UnrealizedPnLUSD.String()
				}
				total := pos.BoughtQuantity.Add(pos.ReceivedQuantity)
				if err := cw.Write([]string{
					"remaining_position", wallet.WalletAddress, token.TokenAddress, token.TokenSymbol,
					total.String(), price, "", unrealized, "0",
				}); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
