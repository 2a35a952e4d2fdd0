package models

import "time"

// JobStatus is a job's lifecycle state. Transitions are one-directional:
// Pending -> Running -> (Completed | Failed | Cancelled).
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// TimeRange optionally bounds the aggregator fetch window.
type TimeRange struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

// Progress is reported at batch boundaries; it is eventually consistent
// with actual work, never strictly real-time.
type Progress struct {
	Total      int     `json:"total"`
	Completed  int     `json:"completed"`
	Successful int     `json:"successful"`
	Failed     int     `json:"failed"`
	Percentage float64 `json:"percentage"`
}

// Job is the orchestrator's unit of work: a batch of wallets analyzed
// under one chain/time-range configuration. The owning
// orchestrator goroutine is the single writer; all other readers go
// through the job registry's accessors.
type Job struct {
	JobID            string           `json:"jobId"`
	SubmittedWallets []string         `json:"submittedWallets"`
	Chain            string           `json:"chain"`
	TimeRange        TimeRange        `json:"timeRange"`
	Status           JobStatus        `json:"status"`
	Progress         Progress         `json:"progress"`
	CreatedAt        time.Time        `json:"createdAt"`
	StartedAt        *time.Time       `json:"startedAt,omitempty"`
	CompletedAt      *time.Time       `json:"completedAt,omitempty"`
	Results          []WalletReport   `json:"results,omitempty"`
	Warnings         []Warning        `json:"warnings,omitempty"`
	RequestedBy      string           `json:"requestedBy,omitempty"`
}

// DiscoveredWallet is a queue item produced by the discovery scraper and
// consumed by the orchestrator's pnl service.
type DiscoveredWallet struct {
	WalletAddress string    `json:"walletAddress"`
	SourceToken   string    `json:"sourceToken"`
	DiscoveredAt  time.Time `json:"discoveredAt"`
}
