// Package discovery polls an external trending-token feed and pushes
// newly seen (token, wallet) candidates onto the broker queue.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/rawblock/wallet-pnl-engine/pkg/models"
)

// Broker is the subset of internal/queue.Broker discovery pushes onto.
type Broker interface {
	Push(ctx context.Context, items []models.DiscoveredWallet) error
}

// Scraper polls a trending-tokens feed on an interval and de-duplicates
// against a short-lived in-memory seen-set, windowed and periodically
// cleared to bound memory the same way the teacher's mempool poller
// resets its seenTXs map.
type Scraper struct {
	feedURL    string
	httpClient *http.Client
	broker     Broker
	log        *zap.SugaredLogger

	seen map[string]bool
}

func New(feedURL string, broker Broker, log *zap.SugaredLogger) *Scraper {
	return &Scraper{
		feedURL:    feedURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		broker:     broker,
		log:        log,
		seen:       make(map[string]bool),
	}
}

type trendingFeedDTO struct {
	Tokens []struct {
		TokenAddress string   `json:"tokenAddress"`
		TopHolders   []string `json:"topHolders"`
		EarlyTraders []string `json:"earlyTraders"`
	} `json:"tokens"`
}

// Run polls the feed every interval until ctx is cancelled.
func (s *Scraper) Run(ctx context.Context, interval time.Duration) {
	s.log.Infow("discovery scraper starting", "feed", s.feedURL, "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	cleanupTicker := time.NewTicker(1 * time.Hour)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("discovery scraper stopping")
			return
		case <-cleanupTicker.C:
			s.seen = make(map[string]bool)
		case <-ticker.C:
			if err := s.poll(ctx); err != nil {
				s.log.Warnw("discovery poll failed", "err", err)
			}
		}
	}
}

func (s *Scraper) poll(ctx context.Context) error {
	feed, err := s.fetchFeed(ctx)
	if err != nil {
		return err
	}

	var fresh []models.DiscoveredWallet
	now := time.Now().UTC()
	for _, token := range feed.Tokens {
		candidates := append(append([]string{}, token.TopHolders...), token.EarlyTraders...)
		for _, wallet := range candidates {
			key := token.TokenAddress + ":" + wallet
			if s.seen[key] {
				continue
			}
			s.seen[key] = true
			fresh = append(fresh, models.DiscoveredWallet{
				WalletAddress: wallet,
				SourceToken:   token.TokenAddress,
				DiscoveredAt:  now,
			})
		}
	}

	if len(fresh) == 0 {
		return nil
	}
	if err := s.broker.Push(ctx, fresh); err != nil {
		return fmt.Errorf("pushing discovered wallets: %w", err)
	}
	s.log.Infow("discovery pushed new wallets", "count", len(fresh))
	return nil
}

func (s *Scraper) fetchFeed(ctx context.Context) (trendingFeedDTO, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.feedURL, nil)
	if err != nil {
		return trendingFeedDTO{}, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return trendingFeedDTO{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return trendingFeedDTO{}, fmt.Errorf("trending feed returned %d: %s", resp.StatusCode, body)
	}

	var feed trendingFeedDTO
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return trendingFeedDTO{}, fmt.Errorf("decoding trending feed: %w", err)
	}
	return feed, nil
}
