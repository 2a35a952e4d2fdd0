package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/rawblock/wallet-pnl-engine/internal/config"
	"github.com/rawblock/wallet-pnl-engine/internal/enricher"
	"github.com/rawblock/wallet-pnl-engine/internal/errkind"
	"github.com/rawblock/wallet-pnl-engine/internal/matching"
	"github.com/rawblock/wallet-pnl-engine/internal/parser"
	"github.com/rawblock/wallet-pnl-engine/internal/telemetry"
	"github.com/rawblock/wallet-pnl-engine/pkg/models"
)

// Aggregator is the subset of internal/aggregator.Client the
// orchestrator depends on.
type Aggregator interface {
	FetchWallet(ctx context.Context, wallet, chain string, tr models.TimeRange) ([]models.RawTransaction, error)
}

// PriceOracle is the subset of internal/oracle.Client the orchestrator
// needs for both enrichment and the matching engine's unrealized leg.
type PriceOracle interface {
	enricher.OracleClient
	CurrentPrice(ctx context.Context, tokenAddress, chainID string) (decimal.Decimal, bool)
}

// Store is the subset of internal/db.PostgresStore the orchestrator
// persists through.
type Store interface {
	CreateJob(ctx context.Context, j models.Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, at time.Time) error
	UpdateProgress(ctx context.Context, jobID string, progress models.Progress) error
	SaveWalletReport(ctx context.Context, jobID string, report models.WalletReport) error
	AppendWarning(ctx context.Context, jobID string, w models.Warning) error
}

// Alerter is notified of job-level warnings worth surfacing beyond the
// job record itself (webhook delivery lives in internal/alerting).
type Alerter interface {
	Notify(ctx context.Context, jobID string, w models.Warning)
}

// Orchestrator runs admitted jobs under the job/wallet concurrency caps
// from spec §5, enforcing the per-wallet deadline and adaptive
// rate-limit pacing.
type Orchestrator struct {
	cfg      *config.Config
	registry *Registry
	agg      Aggregator
	oracle   PriceOracle
	store    Store
	alerter  Alerter
	log      *zap.SugaredLogger
	metrics  *telemetry.Metrics

	jobSem *semaphore.Weighted
}

// SetMetrics attaches the process-wide Prometheus collector set. Left
// unset, the orchestrator runs without recording metrics (used by
// scenario replay and unit tests).
func (o *Orchestrator) SetMetrics(m *telemetry.Metrics) {
	o.metrics = m
}

func New(cfg *config.Config, registry *Registry, agg Aggregator, oracle PriceOracle, store Store, alerter Alerter, log *zap.SugaredLogger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		registry: registry,
		agg:      agg,
		oracle:   oracle,
		store:    store,
		alerter:  alerter,
		log:      log,
		jobSem:   semaphore.NewWeighted(int64(cfg.MaxConcurrentJobs)),
	}
}

// Submit admits a batch of wallets as a new job. Admission never
// blocks: it returns JobCapacity at once if the job semaphore is
// saturated (the HTTP layer maps this to a 503).
func (o *Orchestrator) Submit(ctx context.Context, wallets []string, chain string, tr models.TimeRange, requestedBy string) (models.Job, error) {
	if !o.jobSem.TryAcquire(1) {
		if o.metrics != nil {
			o.metrics.ErrorsByKind.WithLabelValues(string(errkind.JobCapacity)).Inc()
		}
		return models.Job{}, errkind.New(errkind.JobCapacity, "job concurrency limit reached")
	}
	if o.metrics != nil {
		o.metrics.JobSlotsInUse.Inc()
	}

	j := models.Job{
		JobID:            uuid.NewString(),
		SubmittedWallets: wallets,
		Chain:            chain,
		TimeRange:        tr,
		Status:           models.JobPending,
		Progress:         models.Progress{Total: len(wallets)},
		CreatedAt:        time.Now().UTC(),
		RequestedBy:      requestedBy,
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	o.registry.CreateJob(j, runCancel)
	if o.store != nil {
		if err := o.store.CreateJob(ctx, j); err != nil {
			o.log.Errorw("persisting new job failed", "job_id", j.JobID, "err", err)
		}
	}

	go o.run(runCtx, runCancel, j)

	return j, nil
}

// Cancel requests cooperative cancellation of a running job. In-flight
// wallet goroutines finish their current suspension point (per spec §5)
// rather than being forcibly killed.
func (o *Orchestrator) Cancel(jobID string) bool {
	return o.registry.Cancel(jobID)
}

func (o *Orchestrator) run(ctx context.Context, cancel context.CancelFunc, j models.Job) {
	defer o.jobSem.Release(1)
	defer cancel()
	if o.metrics != nil {
		defer o.metrics.JobSlotsInUse.Dec()
	}

	o.registry.Transition(j.JobID, models.JobRunning)
	o.persistStatus(j.JobID, models.JobRunning)

	walletSem := semaphore.NewWeighted(int64(o.cfg.MaxConcurrentWallets))

	var completed, successful, failed int
	total := len(j.SubmittedWallets)
	progressMu := make(chan struct{}, 1)
	progressMu <- struct{}{}

	recordProgress := func() {
		<-progressMu
		progress := models.Progress{
			Total:      total,
			Completed:  completed,
			Successful: successful,
			Failed:     failed,
			Percentage: percentage(completed, total),
		}
		progressMu <- struct{}{}
		o.registry.UpdateProgress(j.JobID, progress)
		if o.store != nil {
			if err := o.store.UpdateProgress(context.Background(), j.JobID, progress); err != nil {
				o.log.Errorw("persisting progress failed", "job_id", j.JobID, "err", err)
			}
		}
	}

	for batchStart := 0; batchStart < len(j.SubmittedWallets); batchStart += o.cfg.BatchSize {
		if ctx.Err() != nil {
			break
		}
		end := batchStart + o.cfg.BatchSize
		if end > len(j.SubmittedWallets) {
			end = len(j.SubmittedWallets)
		}
		batch := j.SubmittedWallets[batchStart:end]

		done := make(chan struct{}, len(batch))
		for _, wallet := range batch {
			if err := walletSem.Acquire(ctx, 1); err != nil {
				done <- struct{}{}
				continue
			}
			if o.metrics != nil {
				o.metrics.WalletSlotsInUse.Inc()
			}
			go func(wallet string) {
				defer walletSem.Release(1)
				defer func() { done <- struct{}{} }()
				if o.metrics != nil {
					defer o.metrics.WalletSlotsInUse.Dec()
				}

				start := time.Now()
				report, retryAfter := o.processWallet(ctx, j, wallet)
				if o.metrics != nil {
					o.metrics.WalletProcessingTime.Observe(time.Since(start).Seconds())
				}
				if retryAfter > 0 {
					if o.metrics != nil && report.FailureKind == string(errkind.OracleRateLimit) {
						o.metrics.RetryTotal.Inc()
					}
					time.Sleep(retryAfter)
				}

				// Spec §4.4: a job cancelled while a wallet is mid-flight
				// discards that wallet's result rather than persisting a
				// report for work the caller asked to stop.
				if ctx.Err() != nil {
					return
				}

				<-progressMu
				completed++
				if report.Status == "success" {
					successful++
				} else {
					failed++
				}
				progressMu <- struct{}{}

				o.registry.AppendResult(j.JobID, report)
				if o.store != nil {
					if err := o.store.SaveWalletReport(context.Background(), j.JobID, report); err != nil {
						o.log.Errorw("saving wallet report failed", "job_id", j.JobID, "wallet", wallet, "err", err)
					}
				}
				for _, w := range report.Warnings {
					o.registry.AppendWarning(j.JobID, w)
					if o.store != nil {
						_ = o.store.AppendWarning(context.Background(), j.JobID, w)
					}
					if o.alerter != nil {
						o.alerter.Notify(context.Background(), j.JobID, w)
					}
				}
			}(wallet)
		}
		for range batch {
			<-done
		}
		recordProgress()
	}

	finalStatus := models.JobCompleted
	if ctx.Err() != nil {
		finalStatus = models.JobCancelled
	}
	o.registry.Transition(j.JobID, finalStatus)
	o.persistStatus(j.JobID, finalStatus)
}

// processWallet runs the four-stage pipeline for one wallet under the
// per-wallet deadline, classifying any aggregator/oracle failure via
// errkind so retry pacing can apply adaptive backoff.
func (o *Orchestrator) processWallet(ctx context.Context, j models.Job, wallet string) (models.WalletReport, time.Duration) {
	deadlineCtx, cancel := context.WithTimeout(ctx, o.cfg.WalletDeadline)
	defer cancel()

	var retryCount int

	rawTxs, err := o.agg.FetchWallet(deadlineCtx, wallet, j.Chain, j.TimeRange)
	if err != nil {
		if deadlineCtx.Err() != nil {
			if o.metrics != nil {
				o.metrics.ErrorsByKind.WithLabelValues(string(errkind.WalletDeadline)).Inc()
			}
			return failedReport(wallet, errkind.WalletDeadline, errkind.Wrap(errkind.WalletDeadline, err).Error()), 0
		}
		kind, ok := errkind.Of(err)
		if ok && kind == errkind.OracleRateLimit {
			retryCount++
		}
		if o.metrics != nil && ok {
			o.metrics.ErrorsByKind.WithLabelValues(string(kind)).Inc()
		}
		return failedReport(wallet, kind, err.Error()), adaptivePacing(retryCount)
	}

	parsed := parser.Parse(wallet, j.Chain, rawTxs, o.cfg, o.log)
	events := parsed.Events

	var missedCount int
	if len(parsed.SkippedTransfers) > 0 {
		enrichResult, err := enricher.Enrich(deadlineCtx, o.oracle, events, parsed.SkippedTransfers, o.log)
		if err != nil {
			kind, ok := errkind.Of(err)
			if o.metrics != nil && ok {
				o.metrics.ErrorsByKind.WithLabelValues(string(kind)).Inc()
			}
			if ok && kind == errkind.OracleRateLimit {
				retryCount++
			}
			return failedReport(wallet, kind, err.Error()), adaptivePacing(retryCount)
		}
		events = append(events, enrichResult.AddedEvents...)
		missedCount = enrichResult.MissedCount
	}

	currentPrice := func(tokenAddress string) (decimal.Decimal, bool) {
		return o.oracle.CurrentPrice(deadlineCtx, tokenAddress, j.Chain)
	}

	report := matching.ComputeWallet(wallet, events, o.cfg.DustThreshold, currentPrice, o.log)
	if missedCount > 0 {
		report.Warnings = append(report.Warnings, models.Warning{
			Kind:          "oracle_miss",
			WalletAddress: wallet,
			Message:       fmt.Sprintf("%d skipped transfer(s) could not be priced by the oracle", missedCount),
			At:            time.Now().UTC(),
		})
	}
	return report, 0
}

func failedReport(wallet string, kind errkind.Kind, reason string) models.WalletReport {
	return models.WalletReport{
		WalletAddress: wallet,
		Status:        "failed",
		FailureReason: reason,
		FailureKind:   string(kind),
	}
}

// adaptivePacing returns base + k*retryCount, the delay a wallet's
// goroutine sleeps after a failed attempt before its result is
// recorded. processWallet passes a retryCount of 1 for a rate-limit
// failure and 0 for any other failure, so the delay is 500ms or 250ms;
// it does not grow with the number of rate-limited wallets in a batch.
func adaptivePacing(retryCount int) time.Duration {
	const base = 250 * time.Millisecond
	const k = 250 * time.Millisecond
	return base + time.Duration(retryCount)*k
}

func percentage(completed, total int) float64 {
	if total == 0 {
		return 100
	}
	return float64(completed) / float64(total) * 100
}

func (o *Orchestrator) persistStatus(jobID string, status models.JobStatus) {
	if o.store == nil {
		return
	}
	if err := o.store.UpdateJobStatus(context.Background(), jobID, status, time.Now().UTC()); err != nil {
		o.log.Errorw("persisting job status failed", "job_id", jobID, "status", status, "err", err)
	}
}
