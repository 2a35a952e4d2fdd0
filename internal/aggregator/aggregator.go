// Package aggregator is the paginated HTTP client over the external
// transaction aggregator, following the opaque "before" cursor and
// classifying responses per spec §4.6.
package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
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

const pageSize = 100

// Client fetches raw transactions for a wallet, paginating over the
// aggregator's signature-based cursor.
type Client struct {
	cfg        config.HTTPClientConfig
	maxPages   int
	httpClient *http.Client
	log        *zap.SugaredLogger
}

func New(cfg config.HTTPClientConfig, maxPages int, log *zap.SugaredLogger) *Client {
	return &Client{
		cfg:      cfg,
		maxPages: maxPages,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		log: log,
	}
}

// page is one decoded page response from the aggregator.
type page struct {
	Transactions []rawTxDTO `json:"transactions"`
	Next         string     `json:"next"`
}

type rawTxDTO struct {
	TransactionHash string         `json:"transactionHash"`
	Operation       string         `json:"operation"`
	Timestamp       int64          `json:"timestamp"`
	Transfers       []transferDTO  `json:"transfers"`
}

type transferDTO struct {
	ActID        string   `json:"actId"`
	Direction    string   `json:"direction"`
	TokenAddress string   `json:"tokenAddress"`
	TokenSymbol  string   `json:"tokenSymbol"`
	Quantity     string   `json:"quantity"`
	USDPrice     *float64 `json:"usdPrice"`
	USDValue     *float64 `json:"usdValue"`
}

// FetchWallet fetches every aggregator transaction for wallet within
// timeRange, paginating until the aggregator reports no more pages or
// the configured max_pages safety ceiling is hit.
func (c *Client) FetchWallet(ctx context.Context, wallet, chain string, tr models.TimeRange) ([]models.RawTransaction, error) {
	var all []models.RawTransaction
	cursor := ""

	for p := 0; p < c.maxPages; p++ {
		pg, err := c.fetchPageWithRetry(ctx, wallet, chain, cursor, tr)
		if err != nil {
			return all, err
		}
		for _, dto := range pg.Transactions {
			all = append(all, c.toRawTransaction(dto))
		}
		if pg.Next == "" || len(pg.Transactions) == 0 {
			return all, nil
		}
		cursor = pg.Next

		if p == c.maxPages-1 {
			c.log.Warnw("aggregator pagination truncated at max_pages safety ceiling",
				"wallet", wallet, "max_pages", c.maxPages, "kind", errkind.ParseFormat)
		}
	}
	return all, nil
}

func (c *Client) fetchPageWithRetry(ctx context.Context, wallet, chain, cursor string, tr models.TimeRange) (page, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		pg, class, err := c.fetchPage(ctx, wallet, chain, cursor, tr)
		switch class {
		case classOk:
			return pg, nil
		case classRateLimited, classServerError:
			lastErr = err
			backoff := backoffDelay(attempt)
			c.log.Warnw("aggregator fetch retrying", "wallet", wallet, "attempt", attempt, "class", class, "backoff", backoff)
			select {
			case <-ctx.Done():
				return page{}, ctx.Err()
			case <-time.After(backoff):
			}
			continue
		default: // classPermanent
			return page{}, err
		}
	}
	if errkind.Is(lastErr, errkind.OracleRateLimit) {
		return page{}, lastErr
	}
	return page{}, errkind.Wrap(errkind.Persistence, fmt.Errorf("aggregator retries exhausted: %w", lastErr))
}

type responseClass int

const (
	classOk responseClass = iota
	classRateLimited
	classServerError
	classPermanent
)

func (c *Client) fetchPage(ctx context.Context, wallet, chain, cursor string, tr models.TimeRange) (page, responseClass, error) {
	endpoint := fmt.Sprintf("%s/v1/wallets/%s/transactions", c.cfg.BaseURL, wallet)

	params := url.Values{}
	params.Set("api-key", c.cfg.APIKey)
	params.Set("chain", chain)
	params.Set("limit", strconv.Itoa(pageSize))
	if cursor != "" {
		params.Set("before", cursor)
	}
	if tr.From != nil {
		params.Set("from", tr.From.UTC().Format(time.RFC3339))
	}
	if tr.To != nil {
		params.Set("to", tr.To.UTC().Format(time.RFC3339))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return page{}, classPermanent, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return page{}, classServerError, errkind.Wrap(errkind.Persistence, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
		var pg page
		if err := json.Unmarshal(body, &pg); err != nil {
			return page{}, classPermanent, errkind.Wrap(errkind.ParseFormat, err)
		}
		return pg, classOk, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return page{}, classRateLimited, errkind.New(errkind.OracleRateLimit, string(body))
	case resp.StatusCode >= 500:
		return page{}, classServerError, fmt.Errorf("aggregator server error %d: %s", resp.StatusCode, body)
	default:
		return page{}, classPermanent, fmt.Errorf("aggregator permanent error %d: %s", resp.StatusCode, body)
	}
}

func backoffDelay(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * 200 * time.Millisecond
	jitter := time.Duration(rand.Int63n(int64(100 * time.Millisecond)))
	return base + jitter
}

func (c *Client) toRawTransaction(dto rawTxDTO) models.RawTransaction {
	tx := models.RawTransaction{
		TransactionHash: dto.TransactionHash,
		Operation:       models.OperationType(dto.Operation),
		Timestamp:       time.Unix(dto.Timestamp, 0).UTC(),
	}
	for _, t := range dto.Transfers {
		transfer := models.RawTransfer{
			ActID:        t.ActID,
			Direction:    models.Direction(t.Direction),
			TokenAddress: t.TokenAddress,
			TokenSymbol:  t.TokenSymbol,
			Quantity:     t.Quantity,
		}
		if t.USDPrice != nil {
			d := c.decimalFromFloat(*t.USDPrice)
			transfer.USDPrice = &d
		}
		if t.USDValue != nil {
			d := c.decimalFromFloat(*t.USDValue)
			transfer.USDValue = &d
		}
		tx.Transfers = append(tx.Transfers, transfer)
	}
	return tx
}

// decimalFromFloat converts a JSON-boundary float64 to decimal.Decimal,
// logging per spec §9's requirement to flag every lossy float->decimal
// crossing at the aggregator/oracle wire boundary.
func (c *Client) decimalFromFloat(f float64) decimal.Decimal {
	c.log.Debugw("converting aggregator JSON float to decimal at wire boundary", "value", f)
	return decimal.NewFromFloat(f)
}
