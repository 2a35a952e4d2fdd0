// Package alerting turns job-level warnings into structured alerts and
// optionally delivers them to a registered webhook, adapted from the
// teacher's AlertManager: Slack/Discord/SIEM-compatible JSON payloads,
// async non-blocking delivery, and an in-memory recent-alert buffer.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rawblock/wallet-pnl-engine/internal/errkind"
	"github.com/rawblock/wallet-pnl-engine/pkg/models"
)

// Alert is a structured notification derived from a job warning. Kinds
// that indicate an operational problem worth paging on (rate-limit
// exhaustion, overflow) are escalated to "high"; everything else is
// "info".
type Alert struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Severity      string    `json:"severity"`
	Kind          string    `json:"kind"`
	JobID         string    `json:"jobId"`
	WalletAddress string    `json:"walletAddress,omitempty"`
	Message       string    `json:"message"`
}

// Manager distributes alerts to recent-history and an optional webhook.
type Manager struct {
	mu           sync.RWMutex
	webhookURL   string
	recentAlerts []Alert
	maxHistory   int
	httpClient   *http.Client
	log          *zap.SugaredLogger
}

func New(webhookURL string, log *zap.SugaredLogger) *Manager {
	return &Manager{
		webhookURL: webhookURL,
		maxHistory: 1000,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		log:        log,
	}
}

// highSeverityKinds escalates the warning kinds that indicate the
// pipeline degraded rather than merely skipped one data point.
var highSeverityKinds = map[string]bool{
	string(errkind.OracleRateLimit): true,
	string(errkind.PnLOverflow):     true,
	string(errkind.WalletDeadline):  true,
	string(errkind.JobCapacity):     true,
}

// Notify implements orchestrator.Alerter: builds and distributes an
// alert from a job warning.
func (m *Manager) Notify(ctx context.Context, jobID string, w models.Warning) {
	severity := "info"
	if highSeverityKinds[w.Kind] {
		severity = "high"
	}

	alert := Alert{
		ID:            uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		Severity:      severity,
		Kind:          w.Kind,
		JobID:         jobID,
		WalletAddress: w.WalletAddress,
		Message:       w.Message,
	}

	m.mu.Lock()
	m.recentAlerts = append(m.recentAlerts, alert)
	if len(m.recentAlerts) > m.maxHistory {
		m.recentAlerts = m.recentAlerts[len(m.recentAlerts)-m.maxHistory:]
	}
	m.mu.Unlock()

	m.log.Infow("alert emitted", "severity", severity, "kind", w.Kind, "job_id", jobID, "wallet", w.WalletAddress)

	if m.webhookURL == "" {
		return
	}
	go m.sendWebhook(ctx, alert)
}

// RecentAlerts returns the most recent alerts, most recent first.
func (m *Manager) RecentAlerts(limit int) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.recentAlerts) {
		limit = len(m.recentAlerts)
	}
	start := len(m.recentAlerts) - limit
	result := make([]Alert, limit)
	for i := 0; i < limit; i++ {
		result[i] = m.recentAlerts[start+limit-1-i]
	}
	return result
}

func (m *Manager) sendWebhook(ctx context.Context, alert Alert) {
	payload, err := json.Marshal(alert)
	if err != nil {
		m.log.Warnw("marshaling alert for webhook failed", "err", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.webhookURL, bytes.NewReader(payload))
	if err != nil {
		m.log.Warnw("building webhook request failed", "err", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.log.Warnw("webhook delivery failed", "err", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		m.log.Warnw("webhook endpoint returned error status", "status", resp.StatusCode)
	}
}
