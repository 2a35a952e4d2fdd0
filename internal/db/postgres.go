package db

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/rawblock/wallet-pnl-engine/pkg/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
	log  *zap.SugaredLogger
}

// Connect initializes the connection pool to PostgreSQL using pgx,
// capped at maxConns per the persistence connection-pool-size option.
func Connect(ctx context.Context, connStr string, maxConns int32, log *zap.SugaredLogger) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	poolCfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping failed: %w", err)
	}

	log.Infow("connected to postgres", "max_conns", maxConns)
	return &PostgresStore{pool: pool, log: log}, nil
}

// Close gracefully closes the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema loads and executes the schema.sql file.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	schemaBytes, err := os.ReadFile("internal/db/schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}

	if _, err := s.pool.Exec(ctx, string(schemaBytes)); err != nil {
		return fmt.Errorf("failed to execute schema migrations: %w", err)
	}

	s.log.Info("wallet-pnl-engine schema initialized")
	return nil
}

// CreateJob persists a newly admitted job.
func (s *PostgresStore) CreateJob(ctx context.Context, job models.Job) error {
	const sql = `
		INSERT INTO jobs (job_id, submitted_wallets, chain, time_from, time_to, status, requested_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.pool.Exec(ctx, sql, job.JobID, job.SubmittedWallets, job.Chain, job.TimeRange.From, job.TimeRange.To,
		job.Status, job.RequestedBy, job.CreatedAt)
	return err
}

// UpdateJobStatus transitions a job's status, stamping started/completed times.
func (s *PostgresStore) UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, at time.Time) error {
	var sql string
	switch status {
	case models.JobRunning:
		sql = `UPDATE jobs SET status = $1, started_at = $2 WHERE job_id = $3`
	case models.JobCompleted, models.JobFailed, models.JobCancelled:
		sql = `UPDATE jobs SET status = $1, completed_at = $2 WHERE job_id = $3`
	default:
		sql = `UPDATE jobs SET status = $1 WHERE job_id = $3`
	}
	_, err := s.pool.Exec(ctx, sql, status, at, jobID)
	return err
}

// UpdateProgress writes the job's eventually-consistent batch progress.
func (s *PostgresStore) UpdateProgress(ctx context.Context, jobID string, progress models.Progress) error {
	const sql = `
		UPDATE jobs SET progress_total = $1, progress_completed = $2,
			progress_successful = $3, progress_failed = $4, progress_percentage = $5
		WHERE job_id = $6
	`
	_, err := s.pool.Exec(ctx, sql, progress.Total, progress.Completed, progress.Successful, progress.Failed, progress.Percentage, jobID)
	return err
}

// SaveWalletReport idempotently upserts a wallet's per-token results on
// (job_id, wallet, token): saving again within the same job overwrites
// its rows, while the same wallet and token under another job get rows
// of their own.
func (s *PostgresStore) SaveWalletReport(ctx context.Context, jobID string, report models.WalletReport) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const walletSQL = `
		INSERT INTO wallet_results (job_id, wallet_address, status, failure_reason, total_pnl_usd, processing_time_ns)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_id, wallet_address) DO UPDATE
		SET status = EXCLUDED.status, failure_reason = EXCLUDED.failure_reason,
			total_pnl_usd = EXCLUDED.total_pnl_usd, processing_time_ns = EXCLUDED.processing_time_ns
	`
	if _, err := tx.Exec(ctx, walletSQL, jobID, report.WalletAddress, report.Status, report.FailureReason,
		report.TotalPnLUSD.String(), report.ProcessingTime.Nanoseconds()); err != nil {
		return fmt.Errorf("upserting wallet_results: %w", err)
	}

	for _, token := range report.Tokens {
		payload, err := json.Marshal(token)
		if err != nil {
			return fmt.Errorf("marshaling token result: %w", err)
		}
		const tokenSQL = `
			INSERT INTO token_results (job_id, wallet_address, token_address, realized_pnl_usd, overflowed, payload)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (job_id, wallet_address, token_address) DO UPDATE
			SET realized_pnl_usd = EXCLUDED.realized_pnl_usd, overflowed = EXCLUDED.overflowed, payload = EXCLUDED.payload
		`
		if _, err := tx.Exec(ctx, tokenSQL, jobID, report.WalletAddress, token.TokenAddress,
			token.RealizedPnLUSD.String(), token.Overflowed, payload); err != nil {
			return fmt.Errorf("upserting token_results: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// AppendWarning persists a job-level warning for audit/CSV export.
func (s *PostgresStore) AppendWarning(ctx context.Context, jobID string, w models.Warning) error {
	const sql = `
		INSERT INTO job_warnings (job_id, kind, wallet_address, message, at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.pool.Exec(ctx, sql, jobID, w.Kind, w.WalletAddress, w.Message, w.At)
	return err
}

// GetPool exposes the connection pool for callers that need raw access.
func (s *PostgresStore) GetPool() *pgxpool.Pool {
	return s.pool
}
