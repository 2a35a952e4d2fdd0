// Package oracle is the HTTP client for the external price oracle:
// historical and current price lookups, with native-token aliasing
// and the same rate-limit semantics as the aggregator client.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rawblock/wallet-pnl-engine/internal/config"
	"github.com/rawblock/wallet-pnl-engine/internal/errkind"
	"github.com/rawblock/wallet-pnl-engine/pkg/models"
)

// nativeSentinel is the pseudo-address aggregators use to denote the
// chain's native currency (e.g. Solana's system-program address).
const nativeSentinel = "11111111111111111111111111111111"

// Client wraps the price-oracle HTTP API.
type Client struct {
	cfg        config.HTTPClientConfig
	wrappedNative string
	httpClient *http.Client
	log        *zap.SugaredLogger
}

func New(cfg config.HTTPClientConfig, wrappedNative string, log *zap.SugaredLogger) *Client {
	return &Client{
		cfg:           cfg,
		wrappedNative: wrappedNative,
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		log:           log,
	}
}

type priceDTO struct {
	PriceUSD *float64 `json:"priceUsd"`
}

// HistoricalPrice implements enricher.OracleClient.
func (c *Client) HistoricalPrice(ctx context.Context, tokenAddress, chainID string, transfer models.SkippedTransfer) (decimal.Decimal, error) {
	return c.fetch(ctx, tokenAddress, chainID, &transfer.Timestamp)
}

// CurrentPrice looks up a token's live price, used by the matching
// engine for unrealized P&L.
func (c *Client) CurrentPrice(ctx context.Context, tokenAddress, chainID string) (decimal.Decimal, bool) {
	price, err := c.fetch(ctx, tokenAddress, chainID, nil)
	if err != nil {
		return decimal.Zero, false
	}
	return price, true
}

func (c *Client) fetch(ctx context.Context, tokenAddress, chainID string, at *time.Time) (decimal.Decimal, error) {
	tokenAddress = c.alias(tokenAddress)

	endpoint := fmt.Sprintf("%s/v1/price", c.cfg.BaseURL)
	params := url.Values{}
	params.Set("api-key", c.cfg.APIKey)
	params.Set("token", tokenAddress)
	params.Set("chain", chainID)
	if at != nil {
		params.Set("at", strconv.FormatInt(at.Unix(), 10))
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
		if err != nil {
			return decimal.Zero, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			var dto priceDTO
			if err := json.Unmarshal(body, &dto); err != nil {
				return decimal.Zero, errkind.Wrap(errkind.ParseFormat, err)
			}
			if dto.PriceUSD == nil {
				return decimal.Zero, errkind.New(errkind.OracleMiss, "oracle returned no price")
			}
			c.log.Debugw("converting oracle JSON float to decimal at wire boundary", "value", *dto.PriceUSD)
			return decimal.NewFromFloat(*dto.PriceUSD), nil
		case resp.StatusCode == http.StatusNotFound:
			return decimal.Zero, errkind.New(errkind.OracleMiss, "token unknown to oracle")
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = errkind.New(errkind.OracleRateLimit, string(body))
			select {
			case <-ctx.Done():
				return decimal.Zero, ctx.Err()
			case <-time.After(backoffDelay(attempt)):
			}
			continue
		default:
			return decimal.Zero, fmt.Errorf("oracle error %d: %s", resp.StatusCode, body)
		}
	}
	return decimal.Zero, lastErr
}

// alias maps the chain's native-currency sentinel address to the
// configured wrapped equivalent before calling out, per spec §4.7.
func (c *Client) alias(tokenAddress string) string {
	if tokenAddress == nativeSentinel && c.wrappedNative != "" {
		return c.wrappedNative
	}
	return tokenAddress
}

func backoffDelay(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * 150 * time.Millisecond
}
