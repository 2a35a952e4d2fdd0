package matching

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rawblock/wallet-pnl-engine/internal/parser"
	"github.com/rawblock/wallet-pnl-engine/pkg/models"
)

// ComputeWallet groups a wallet's finalized events by token, sorts each
// group deterministically, and runs ComputeToken over every group.
// total_pnl_usd sums only over tokens that computed without overflow.
func ComputeWallet(walletAddress string, events []models.FinancialEvent, dustThreshold decimal.Decimal, currentPrice CurrentPriceFunc, log *zap.SugaredLogger) models.WalletReport {
	start := time.Now()
	byToken := make(map[string][]models.FinancialEvent)
	symbols := make(map[string]string)
	var order []string

	for _, ev := range events {
		if _, ok := byToken[ev.TokenAddress]; !ok {
			order = append(order, ev.TokenAddress)
		}
		byToken[ev.TokenAddress] = append(byToken[ev.TokenAddress], ev)
		symbols[ev.TokenAddress] = ev.TokenSymbol
	}

	report := models.WalletReport{
		WalletAddress: walletAddress,
		Status:        "success",
	}

	totalPnL := decimal.Zero
	for _, token := range order {
		tokenEvents := byToken[token]
		parser.SortEvents(tokenEvents)

		tokenResult, err := ComputeToken(token, symbols[token], tokenEvents, dustThreshold, currentPrice, log)
		if err != nil {
			report.Warnings = append(report.Warnings, models.Warning{
				Kind:          "pnl_overflow",
				WalletAddress: walletAddress,
				Message:       tokenResult.OverflowReason,
				At:            time.Now().UTC(),
			})
		}
		if len(tokenResult.UnmatchedSells) > 0 {
			report.Warnings = append(report.Warnings, models.Warning{
				Kind:          "unmatched_sells",
				WalletAddress: walletAddress,
				Message:       fmt.Sprintf("%d unmatched sell(s) for token %s exceeded known holdings", len(tokenResult.UnmatchedSells), symbols[token]),
				At:            time.Now().UTC(),
			})
		}

		report.Tokens = append(report.Tokens, tokenResult)
		if !tokenResult.Overflowed {
			totalPnL = totalPnL.Add(tokenResult.RealizedPnLUSD)
			if tokenResult.UnrealizedPnLUSD != nil {
				totalPnL = totalPnL.Add(*tokenResult.UnrealizedPnLUSD)
			}
		}
	}

	report.TotalPnLUSD = totalPnL
	report.ProcessingTime = time.Since(start)
	return report
}
