package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the process-wide collector set, covering the gauges and
// counters named in spec §9: queue depth, job/wallet semaphore
// occupancy, retry counts, and per-kind error counts.
type Metrics struct {
	QueueDepth          prometheus.Gauge
	JobSlotsInUse        prometheus.Gauge
	WalletSlotsInUse     prometheus.Gauge
	RetryTotal           prometheus.Counter
	ErrorsByKind         *prometheus.CounterVec
	WalletProcessingTime prometheus.Histogram
}

func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "wpe",
			Name:      "queue_depth",
			Help:      "Number of discovered wallets currently queued for processing.",
		}),
		JobSlotsInUse: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "wpe",
			Name:      "job_slots_in_use",
			Help:      "Number of job concurrency semaphore slots currently held.",
		}),
		WalletSlotsInUse: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "wpe",
			Name:      "wallet_slots_in_use",
			Help:      "Number of wallet concurrency semaphore slots currently held, summed across jobs.",
		}),
		RetryTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "wpe",
			Name:      "retry_total",
			Help:      "Total wallet attempts that failed on an exhausted collaborator rate limit.",
		}),
		ErrorsByKind: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wpe",
			Name:      "errors_total",
			Help:      "Total pipeline errors, labeled by errkind.Kind.",
		}, []string{"kind"}),
		WalletProcessingTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wpe",
			Name:      "wallet_processing_seconds",
			Help:      "Wall-clock time to compute one wallet's P&L report.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
