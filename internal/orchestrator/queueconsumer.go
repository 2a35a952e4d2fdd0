package orchestrator

import (
	"context"
	"time"

	"github.com/rawblock/wallet-pnl-engine/internal/errkind"
	"github.com/rawblock/wallet-pnl-engine/pkg/models"
)

// QueueBroker is the subset of internal/queue.Broker the orchestrator's
// discovery consumer needs.
type QueueBroker interface {
	PopBatch(ctx context.Context, n int) ([]models.DiscoveredWallet, error)
	PushFront(ctx context.Context, items []models.DiscoveredWallet) error
}

// RunQueueConsumer is the orchestrator's other wallet source (spec §2's
// "the Orchestrator pulls wallets from an API request or the discovery
// queue"): it pops batch_size discovered wallets on every tick, runs
// them through the same per-wallet pipeline as an API-submitted job,
// and pushes rate-limited wallets back to the queue head per spec §4.4's
// retry-classification rule. The next pop is not delayed by rate
// limiting; the only pacing is the per-wallet sleep inside the job
// (see adaptivePacing).
func (o *Orchestrator) RunQueueConsumer(ctx context.Context, queue QueueBroker, chain string, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.consumeOnce(ctx, queue, chain)
		}
	}
}

// queueDepthReporter is implemented by *queue.Broker; checked via type
// assertion so QueueBroker itself stays minimal for test doubles.
type queueDepthReporter interface {
	Len(ctx context.Context) (int64, error)
}

func (o *Orchestrator) consumeOnce(ctx context.Context, queue QueueBroker, chain string) {
	if o.metrics != nil {
		if reporter, ok := queue.(queueDepthReporter); ok {
			if depth, err := reporter.Len(ctx); err == nil {
				o.metrics.QueueDepth.Set(float64(depth))
			}
		}
	}

	items, err := queue.PopBatch(ctx, o.cfg.BatchSize)
	if err != nil {
		o.log.Errorw("queue pop_batch failed", "err", err)
		return
	}
	if len(items) == 0 {
		return
	}

	wallets := make([]string, len(items))
	for i, item := range items {
		wallets[i] = item.WalletAddress
	}

	job, err := o.Submit(ctx, wallets, chain, models.TimeRange{}, "discovery-queue")
	if err != nil {
		if errkind.Is(err, errkind.JobCapacity) {
			if pushErr := queue.PushFront(ctx, items); pushErr != nil {
				o.log.Errorw("requeuing discovered wallets after capacity rejection failed", "err", pushErr)
			}
			return
		}
		o.log.Errorw("submitting discovery batch failed", "err", err)
		return
	}

	go o.retryFailedAgainstQueue(queue, job.JobID, items)
}

// retryFailedAgainstQueue polls the just-submitted job to completion and
// pushes any wallet that failed with a retryable (rate-limit) reason
// back to the queue head, matching S6's "no result is lost" contract.
func (o *Orchestrator) retryFailedAgainstQueue(queue QueueBroker, jobID string, items []models.DiscoveredWallet) {
	byWallet := make(map[string]models.DiscoveredWallet, len(items))
	for _, item := range items {
		byWallet[item.WalletAddress] = item
	}

	for {
		time.Sleep(500 * time.Millisecond)
		job, ok := o.registry.GetJob(jobID)
		if !ok || job.Status == models.JobCompleted || job.Status == models.JobFailed || job.Status == models.JobCancelled {
			break
		}
	}

	job, ok := o.registry.GetJob(jobID)
	if !ok {
		return
	}

	var retry []models.DiscoveredWallet
	for _, report := range job.Results {
		if report.Status != "success" && report.FailureKind == string(errkind.OracleRateLimit) {
			if item, ok := byWallet[report.WalletAddress]; ok {
				retry = append(retry, item)
			}
		}
	}
	if len(retry) == 0 {
		return
	}
	if err := queue.PushFront(context.Background(), retry); err != nil {
		o.log.Errorw("requeuing rate-limited wallets failed", "job_id", jobID, "err", err)
	}
}
