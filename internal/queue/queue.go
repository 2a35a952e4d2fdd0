// Package queue implements the discovered-wallet FIFO broker over
// Redis lists: pop_batch/push_front with at-least-once semantics.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rawblock/wallet-pnl-engine/pkg/models"
)

const discoveredWalletsKey = "wpe:discovered_wallets"

// Broker is the Redis-backed FIFO queue of discovered wallets.
type Broker struct {
	rdb *redis.Client
	key string
}

func New(addr string, db int, password string) *Broker {
	return &Broker{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			DB:       db,
			Password: password,
		}),
		key: discoveredWalletsKey,
	}
}

func (b *Broker) Close() error {
	return b.rdb.Close()
}

// Push appends newly discovered wallets to the tail of the queue.
func (b *Broker) Push(ctx context.Context, items []models.DiscoveredWallet) error {
	if len(items) == 0 {
		return nil
	}
	pipe := b.rdb.Pipeline()
	for _, item := range items {
		payload, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("queue: marshal discovered wallet: %w", err)
		}
		pipe.LPush(ctx, b.key, payload)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// PopBatch returns up to n items from the head of the queue. Fewer
// than n items is not an error — it just means the queue is shorter
// than the requested batch.
func (b *Broker) PopBatch(ctx context.Context, n int) ([]models.DiscoveredWallet, error) {
	if n <= 0 {
		return nil, nil
	}
	pipe := b.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, n)
	for i := 0; i < n; i++ {
		cmds[i] = pipe.RPop(ctx, b.key)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("queue: pop_batch pipeline: %w", err)
	}

	var items []models.DiscoveredWallet
	for _, cmd := range cmds {
		payload, err := cmd.Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return items, fmt.Errorf("queue: pop_batch read: %w", err)
		}
		var item models.DiscoveredWallet
		if err := json.Unmarshal([]byte(payload), &item); err != nil {
			return items, fmt.Errorf("queue: pop_batch decode: %w", err)
		}
		items = append(items, item)
	}
	return items, nil
}

// PushFront returns items to the head of the queue, preserving their
// original order, for retry after a transient (rate-limit) failure.
// The right end of the list is the head (Push uses LPUSH, PopBatch
// uses RPOP), so RPUSH in reverse order of items leaves items[0] as
// the next element popped.
func (b *Broker) PushFront(ctx context.Context, items []models.DiscoveredWallet) error {
	if len(items) == 0 {
		return nil
	}
	pipe := b.rdb.Pipeline()
	for i := len(items) - 1; i >= 0; i-- {
		payload, err := json.Marshal(items[i])
		if err != nil {
			return fmt.Errorf("queue: marshal discovered wallet: %w", err)
		}
		pipe.RPush(ctx, b.key, payload)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Len reports the current queue depth, used by telemetry.
func (b *Broker) Len(ctx context.Context) (int64, error) {
	return b.rdb.LLen(ctx, b.key).Result()
}
