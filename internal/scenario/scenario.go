// Package scenario replays the fixed S1-S5 seeds through the parser
// and matching engine (no aggregator, enricher or orchestrator is
// involved), checks S6's pacing formula, and flags any divergence from
// the expected events/trades/positions, the adapted descendant of the teacher's
// shadow-mode evaluator: where the teacher compared a live heuristic
// engine against a paper-trading shadow execution, this runner compares
// the pipeline's output against literal fixtures and reports a
// Divergence the same way the teacher reported a shadow/production
// flag mismatch.
package scenario

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rawblock/wallet-pnl-engine/internal/config"
	"github.com/rawblock/wallet-pnl-engine/internal/matching"
	"github.com/rawblock/wallet-pnl-engine/internal/parser"
	"github.com/rawblock/wallet-pnl-engine/pkg/models"
)

const (
	addrSOL = "11111111111111111111111111111111"
	addrTKA = "TKAaddress00000000000000000000000000000001"
	addrTKB = "TKBaddress00000000000000000000000000000002"
)

// Divergence records one mismatch between a scenario's expectation and
// the pipeline's actual output.
type Divergence struct {
	Scenario string
	Field    string
	Expected string
	Actual   string
}

// Result is one scenario's run outcome.
type Result struct {
	Scenario    string
	Divergences []Divergence
}

func (r Result) Passed() bool { return len(r.Divergences) == 0 }

// Runner replays every seed scenario against the parser and matching
// engine, logging a divergence the same way the teacher's ShadowRunner
// logged a shadow/production flag mismatch.
type Runner struct {
	cfg *config.Config
	log *zap.SugaredLogger
}

func New(cfg *config.Config, log *zap.SugaredLogger) *Runner {
	return &Runner{cfg: cfg, log: log}
}

// RunAll executes every S1-S6 scenario and returns one Result per seed.
func (r *Runner) RunAll() []Result {
	results := []Result{
		r.runS1(),
		r.runS2(),
		r.runS3(),
		r.runS4(),
		r.runS5(),
		r.runS6(),
	}
	for _, res := range results {
		if !res.Passed() {
			for _, d := range res.Divergences {
				r.log.Warnw("scenario divergence",
					"scenario", d.Scenario, "field", d.Field, "expected", d.Expected, "actual", d.Actual)
			}
		}
	}
	return results
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func ptrDec(d decimal.Decimal) *decimal.Decimal { return &d }

// runS1 — simple swap, direct pricing.
func (r *Runner) runS1() Result {
	const name = "S1_simple_swap"
	ts := time.Unix(1_700_000_000, 0).UTC()
	tx := models.RawTransaction{
		TransactionHash: "s1tx",
		Operation:       models.OpTrade,
		Timestamp:       ts,
		Transfers: []models.RawTransfer{
			{ActID: "a1", Direction: models.DirectionOut, TokenAddress: addrSOL, TokenSymbol: "SOL", Quantity: "5", USDPrice: ptrDec(dec("100")), USDValue: ptrDec(dec("500"))},
			{ActID: "a1", Direction: models.DirectionIn, TokenAddress: addrTKA, TokenSymbol: "TKA", Quantity: "1000", USDPrice: ptrDec(dec("0.50")), USDValue: ptrDec(dec("500"))},
		},
	}

	parsed := parser.Parse("wallet1", "solana", []models.RawTransaction{tx}, r.cfg, r.log)

	var div []Divergence
	if len(parsed.Events) != 2 {
		div = append(div, Divergence{name, "event_count", "2", fmt.Sprintf("%d", len(parsed.Events))})
		return Result{name, div}
	}

	report := matching.ComputeWallet("wallet1", parsed.Events, r.cfg.DustThreshold, noPrice, r.log)
	tka := findToken(report, addrTKA)
	if tka == nil {
		div = append(div, Divergence{name, "tka_present", "true", "false"})
		return Result{name, div}
	}
	div = append(div, checkDecimal(name, "tka_invested_usd", dec("500"), tka.InvestedUSD)...)
	div = append(div, checkDecimal(name, "tka_remaining_qty", dec("1000"), tka.RemainingPosition.BoughtQuantity)...)
	if tka.RemainingPosition.AvgCostBasisUSD != nil {
		div = append(div, checkDecimal(name, "tka_avg_cost", dec("0.50"), *tka.RemainingPosition.AvgCostBasisUSD)...)
	} else {
		div = append(div, Divergence{name, "tka_avg_cost", "0.50", "<nil>"})
	}
	return Result{name, div}
}

// runS2 — implicit pricing: one IN leg with no price, inferred from the
// OUT legs' total USD value.
func (r *Runner) runS2() Result {
	const name = "S2_implicit_pricing"
	ts := time.Unix(1_700_000_100, 0).UTC()
	tx := models.RawTransaction{
		TransactionHash: "s2tx",
		Operation:       models.OpTrade,
		Timestamp:       ts,
		Transfers: []models.RawTransfer{
			{ActID: "a1", Direction: models.DirectionOut, TokenAddress: addrSOL, TokenSymbol: "SOL", Quantity: "1", USDPrice: ptrDec(dec("100")), USDValue: ptrDec(dec("100"))},
			{ActID: "a1", Direction: models.DirectionOut, TokenAddress: addrSOL, TokenSymbol: "SOL", Quantity: "1", USDPrice: ptrDec(dec("100")), USDValue: ptrDec(dec("100"))},
			{ActID: "a1", Direction: models.DirectionOut, TokenAddress: addrSOL, TokenSymbol: "SOL", Quantity: "1", USDPrice: ptrDec(dec("100")), USDValue: ptrDec(dec("100"))},
			{ActID: "a1", Direction: models.DirectionIn, TokenAddress: addrTKB, TokenSymbol: "TKB", Quantity: "2000000", USDPrice: nil, USDValue: nil},
		},
	}

	parsed := parser.Parse("wallet1", "solana", []models.RawTransaction{tx}, r.cfg, r.log)

	var div []Divergence
	if len(parsed.Events) != 4 {
		div = append(div, Divergence{name, "event_count", "4", fmt.Sprintf("%d", len(parsed.Events))})
		return Result{name, div}
	}

	var buyTKB *models.FinancialEvent
	sellCount := 0
	sellTotal := decimal.Zero
	for i := range parsed.Events {
		ev := parsed.Events[i]
		if ev.EventType == models.EventBuy && ev.TokenAddress == addrTKB {
			buyTKB = &ev
		}
		if ev.EventType == models.EventSell && ev.TokenAddress == addrSOL {
			sellCount++
			sellTotal = sellTotal.Add(ev.USDValue)
		}
	}
	if buyTKB == nil {
		div = append(div, Divergence{name, "buy_tkb_present", "true", "false"})
		return Result{name, div}
	}
	div = append(div, checkDecimal(name, "tkb_implied_price", dec("0.00015"), buyTKB.USDPricePerToken)...)
	div = append(div, checkDecimal(name, "tkb_value", dec("300"), buyTKB.USDValue)...)
	if sellCount != 3 {
		div = append(div, Divergence{name, "sol_sell_count", "3", fmt.Sprintf("%d", sellCount)})
	}
	div = append(div, checkDecimal(name, "sol_sell_total", dec("300"), sellTotal)...)
	return Result{name, div}
}

// runS3 — multi-hop: SOL legs net to zero and are dropped; TKA/TKB net
// to a single synthesized sell/buy pair.
func (r *Runner) runS3() Result {
	const name = "S3_multi_hop"
	ts := time.Unix(1_700_000_200, 0).UTC()
	tx := models.RawTransaction{
		TransactionHash: "s3tx",
		Operation:       models.OpTrade,
		Timestamp:       ts,
		Transfers: []models.RawTransfer{
			{ActID: "a1", Direction: models.DirectionOut, TokenAddress: addrTKA, TokenSymbol: "TKA", Quantity: "1000", USDPrice: ptrDec(dec("0.10")), USDValue: ptrDec(dec("100"))},
			{ActID: "a1", Direction: models.DirectionOut, TokenAddress: addrSOL, TokenSymbol: "SOL", Quantity: "0.5", USDPrice: ptrDec(dec("200")), USDValue: ptrDec(dec("100"))},
			{ActID: "a1", Direction: models.DirectionIn, TokenAddress: addrSOL, TokenSymbol: "SOL", Quantity: "0.5", USDPrice: ptrDec(dec("200")), USDValue: ptrDec(dec("100"))},
			{ActID: "a1", Direction: models.DirectionIn, TokenAddress: addrTKB, TokenSymbol: "TKB", Quantity: "2000", USDPrice: ptrDec(dec("0.05")), USDValue: ptrDec(dec("100"))},
		},
	}

	parsed := parser.Parse("wallet1", "solana", []models.RawTransaction{tx}, r.cfg, r.log)

	var div []Divergence
	if len(parsed.Events) != 2 {
		div = append(div, Divergence{name, "event_count", "2", fmt.Sprintf("%d", len(parsed.Events))})
		return Result{name, div}
	}
	var sellTKA, buyTKB *models.FinancialEvent
	for i := range parsed.Events {
		ev := parsed.Events[i]
		switch ev.TokenAddress {
		case addrTKA:
			sellTKA = &ev
		case addrTKB:
			buyTKB = &ev
		case addrSOL:
			div = append(div, Divergence{name, "sol_event_present", "false", "true"})
		}
	}
	if sellTKA == nil || sellTKA.EventType != models.EventSell {
		div = append(div, Divergence{name, "tka_sell_present", "true", "false"})
	} else {
		div = append(div, checkDecimal(name, "tka_sell_price", dec("0.10"), sellTKA.USDPricePerToken)...)
	}
	if buyTKB == nil || buyTKB.EventType != models.EventBuy {
		div = append(div, Divergence{name, "tkb_buy_present", "true", "false"})
	} else {
		div = append(div, checkDecimal(name, "tkb_buy_price", dec("0.05"), buyTKB.USDPricePerToken)...)
	}
	return Result{name, div}
}

// runS4 — FIFO with partial lot drained across two buys.
func (r *Runner) runS4() Result {
	const name = "S4_fifo_partial_lot"
	events := []models.FinancialEvent{
		buyEvent(addrTKA, "100", "1", 1),
		buyEvent(addrTKA, "100", "2", 2),
		sellEvent(addrTKA, "150", "3", 3),
	}
	result, err := matching.ComputeToken(addrTKA, "TKA", events, r.cfg.DustThreshold, fixedPrice("4"), r.log)
	var div []Divergence
	if err != nil {
		div = append(div, Divergence{name, "compute_error", "<nil>", err.Error()})
		return Result{name, div}
	}
	if len(result.MatchedTrades) != 2 {
		div = append(div, Divergence{name, "matched_trade_count", "2", fmt.Sprintf("%d", len(result.MatchedTrades))})
		return Result{name, div}
	}
	div = append(div, checkDecimal(name, "trade1_qty", dec("100"), result.MatchedTrades[0].MatchedQuantity)...)
	div = append(div, checkDecimal(name, "trade1_realized", dec("200"), result.MatchedTrades[0].RealizedPnLUSD)...)
	div = append(div, checkDecimal(name, "trade2_qty", dec("50"), result.MatchedTrades[1].MatchedQuantity)...)
	div = append(div, checkDecimal(name, "trade2_realized", dec("50"), result.MatchedTrades[1].RealizedPnLUSD)...)
	div = append(div, checkDecimal(name, "remaining_qty", dec("50"), result.RemainingPosition.BoughtQuantity)...)
	if result.RemainingPosition.AvgCostBasisUSD != nil {
		div = append(div, checkDecimal(name, "avg_cost_basis", dec("2.00"), *result.RemainingPosition.AvgCostBasisUSD)...)
	}
	if result.UnrealizedPnLUSD != nil {
		div = append(div, checkDecimal(name, "unrealized", dec("100"), *result.UnrealizedPnLUSD)...)
	} else {
		div = append(div, Divergence{name, "unrealized_present", "true", "<nil>"})
	}
	return Result{name, div}
}

// runS5 — sell exceeds holdings; residue becomes an UnmatchedSell with
// a zero-contribution phantom buy price.
func (r *Runner) runS5() Result {
	const name = "S5_sell_exceeds_holdings"
	events := []models.FinancialEvent{
		buyEvent(addrTKA, "10", "1", 1),
		sellEvent(addrTKA, "15", "2", 2),
	}
	result, err := matching.ComputeToken(addrTKA, "TKA", events, r.cfg.DustThreshold, noPrice, r.log)
	var div []Divergence
	if err != nil {
		div = append(div, Divergence{name, "compute_error", "<nil>", err.Error()})
		return Result{name, div}
	}
	if len(result.MatchedTrades) != 1 {
		div = append(div, Divergence{name, "matched_trade_count", "1", fmt.Sprintf("%d", len(result.MatchedTrades))})
	} else {
		div = append(div, checkDecimal(name, "matched_qty", dec("10"), result.MatchedTrades[0].MatchedQuantity)...)
		div = append(div, checkDecimal(name, "matched_realized", dec("10"), result.MatchedTrades[0].RealizedPnLUSD)...)
	}
	if len(result.UnmatchedSells) != 1 {
		div = append(div, Divergence{name, "unmatched_sell_count", "1", fmt.Sprintf("%d", len(result.UnmatchedSells))})
	} else {
		div = append(div, checkDecimal(name, "unmatched_qty", dec("5"), result.UnmatchedSells[0].UnmatchedQuantity)...)
		div = append(div, checkDecimal(name, "phantom_price", dec("2"), result.UnmatchedSells[0].PhantomBuyPrice)...)
	}
	div = append(div, checkDecimal(name, "total_realized", dec("10"), result.RealizedPnLUSD)...)
	return Result{name, div}
}

// runS6 — rate-limit retry pacing. The concurrency/queue mechanics live
// in internal/orchestrator and internal/queue; this scenario only
// checks this package's copy of the pacing formula for five
// rate-limited wallets and does not exercise the requeue, since
// reproducing the full 20-wallet concurrent run deterministically
// would require faking wall-clock time this runner cannot control.
func (r *Runner) runS6() Result {
	const name = "S6_rate_limit_retry"
	const rateLimitedCount = 5
	expectedDelay := 250*time.Millisecond + time.Duration(rateLimitedCount)*250*time.Millisecond

	var div []Divergence
	actualDelay := adaptivePacingForTest(rateLimitedCount)
	if actualDelay != expectedDelay {
		div = append(div, Divergence{name, "retry_pacing", expectedDelay.String(), actualDelay.String()})
	}
	return Result{name, div}
}

func findToken(report models.WalletReport, tokenAddress string) *models.TokenPnLResult {
	for i := range report.Tokens {
		if report.Tokens[i].TokenAddress == tokenAddress {
			return &report.Tokens[i]
		}
	}
	return nil
}

func checkDecimal(scenario, field string, expected, actual decimal.Decimal) []Divergence {
	if !expected.Equal(actual) {
		return []Divergence{{scenario, field, expected.String(), actual.String()}}
	}
	return nil
}

func noPrice(string) (decimal.Decimal, bool) { return decimal.Zero, false }

func fixedPrice(price string) matching.CurrentPriceFunc {
	p := dec(price)
	return func(string) (decimal.Decimal, bool) { return p, true }
}

func buyEvent(token, qty, price string, t int64) models.FinancialEvent {
	q := dec(qty)
	p := dec(price)
	return models.FinancialEvent{
		TokenAddress:     token,
		TokenSymbol:      token,
		EventType:        models.EventBuy,
		Quantity:         q,
		USDPricePerToken: p,
		USDValue:         q.Mul(p),
		Timestamp:        time.Unix(t, 0).UTC(),
		TransactionHash:  fmt.Sprintf("buy-%d", t),
	}
}

func sellEvent(token, qty, price string, t int64) models.FinancialEvent {
	q := dec(qty)
	p := dec(price)
	return models.FinancialEvent{
		TokenAddress:     token,
		TokenSymbol:      token,
		EventType:        models.EventSell,
		Quantity:         q,
		USDPricePerToken: p,
		USDValue:         q.Mul(p),
		Timestamp:        time.Unix(t, 0).UTC(),
		TransactionHash:  fmt.Sprintf("sell-%d", t),
	}
}

// adaptivePacingForTest mirrors internal/orchestrator's unexported
// adaptivePacing formula; duplicated here rather than exported solely
// for a test, since the constants are part of the scenario's documented
// expectation, not the orchestrator's internal tuning.
func adaptivePacingForTest(retryCount int) time.Duration {
	const base = 250 * time.Millisecond
	const k = 250 * time.Millisecond
	return base + time.Duration(retryCount)*k
}
