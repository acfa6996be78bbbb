package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/tradeflow/internal/backtest"
	"github.com/wonny/tradeflow/internal/contracts"
	"github.com/wonny/tradeflow/internal/pipeline"
	"github.com/wonny/tradeflow/internal/risk"
	"github.com/wonny/tradeflow/internal/strategy"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("store: not found")

// Repository persists engine results to Postgres
// ⭐ SSOT: 결과 저장/조회는 여기서만
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const schema = `
	CREATE SCHEMA IF NOT EXISTS tradeflow;

	CREATE TABLE IF NOT EXISTS tradeflow.signals (
		as_of      DATE NOT NULL,
		symbol     TEXT NOT NULL,
		signal     TEXT NOT NULL,
		rank_score DOUBLE PRECISION,
		features   JSONB NOT NULL DEFAULT '{}',
		PRIMARY KEY (as_of, symbol)
	);

	CREATE TABLE IF NOT EXISTS tradeflow.risk_reports (
		as_of        DATE PRIMARY KEY,
		evaluated_at TIMESTAMPTZ NOT NULL,
		market_state TEXT NOT NULL,
		alert_count  INT NOT NULL,
		payload      JSONB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tradeflow.rebalance_proposals (
		as_of       DATE PRIMARY KEY,
		status      TEXT NOT NULL,
		cash_buffer DOUBLE PRECISION NOT NULL,
		turnover    DOUBLE PRECISION NOT NULL,
		targets     JSONB NOT NULL,
		orders      JSONB NOT NULL,
		notes       JSONB NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS tradeflow.backtest_runs (
		run_id     TEXT PRIMARY KEY,
		start_date DATE NOT NULL,
		end_date   DATE NOT NULL,
		label      TEXT,
		metrics    JSONB NOT NULL,
		trades     INT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS tradeflow.pipeline_runs (
		run_id      TEXT PRIMARY KEY,
		pipeline    TEXT NOT NULL,
		as_of       DATE NOT NULL,
		success     BOOLEAN NOT NULL,
		dry_run     BOOLEAN NOT NULL,
		duration_ms BIGINT NOT NULL,
		steps       JSONB NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
`

// EnsureSchema creates the tables when missing
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure tradeflow schema: %w", err)
	}
	return nil
}

// SaveSignals replaces the signal rows of result.AsOf
func (r *Repository) SaveSignals(ctx context.Context, result *strategy.Result) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM tradeflow.signals WHERE as_of = $1`, result.AsOf); err != nil {
		return fmt.Errorf("failed to clear signals: %w", err)
	}

	batch := &pgx.Batch{}
	for _, row := range result.Rows {
		features, err := json.Marshal(contracts.FiniteMap(row.Features))
		if err != nil {
			return fmt.Errorf("failed to marshal features: %w", err)
		}
		batch.Queue(`
			INSERT INTO tradeflow.signals (as_of, symbol, signal, rank_score, features)
			VALUES ($1, $2, $3, $4, $5)
		`, result.AsOf, row.Symbol, string(row.Signal), contracts.Finite(row.RankScore), features)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to save signals: %w", err)
	}

	return tx.Commit(ctx)
}

// SaveRisk upserts the risk report of result.AsOf
func (r *Repository) SaveRisk(ctx context.Context, result *risk.Result) error {
	payload, err := json.Marshal(result.Payload())
	if err != nil {
		return fmt.Errorf("failed to marshal risk payload: %w", err)
	}

	query := `
		INSERT INTO tradeflow.risk_reports (as_of, evaluated_at, market_state, alert_count, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (as_of) DO UPDATE SET
			evaluated_at = EXCLUDED.evaluated_at,
			market_state = EXCLUDED.market_state,
			alert_count = EXCLUDED.alert_count,
			payload = EXCLUDED.payload
	`
	_, err = r.pool.Exec(ctx, query,
		result.AsOf, result.EvaluatedAt, string(result.MarketState), len(result.Alerts), payload,
	)
	if err != nil {
		return fmt.Errorf("failed to save risk report: %w", err)
	}
	return nil
}

// SaveRebalance upserts the proposal of result.AsOf
func (r *Repository) SaveRebalance(ctx context.Context, result *contracts.RebalanceResult) error {
	targets, err := json.Marshal(nonNil(result.Targets))
	if err != nil {
		return fmt.Errorf("failed to marshal targets: %w", err)
	}
	orders, err := json.Marshal(nonNil(result.Orders))
	if err != nil {
		return fmt.Errorf("failed to marshal orders: %w", err)
	}
	notes, err := json.Marshal(nonNil(result.Notes))
	if err != nil {
		return fmt.Errorf("failed to marshal notes: %w", err)
	}

	query := `
		INSERT INTO tradeflow.rebalance_proposals (
			as_of, status, cash_buffer, turnover, targets, orders, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (as_of) DO UPDATE SET
			status = EXCLUDED.status,
			cash_buffer = EXCLUDED.cash_buffer,
			turnover = EXCLUDED.turnover,
			targets = EXCLUDED.targets,
			orders = EXCLUDED.orders,
			notes = EXCLUDED.notes,
			updated_at = NOW()
	`
	_, err = r.pool.Exec(ctx, query,
		result.AsOf, string(result.Status), result.CashBuffer, result.Turnover, targets, orders, notes,
	)
	if err != nil {
		return fmt.Errorf("failed to save rebalance proposal: %w", err)
	}
	return nil
}

// GetRebalance loads the proposal stored for asOf
func (r *Repository) GetRebalance(ctx context.Context, asOf time.Time) (*contracts.RebalanceResult, error) {
	query := `
		SELECT as_of, status, cash_buffer, turnover, targets, orders, notes
		FROM tradeflow.rebalance_proposals
		WHERE as_of = $1
	`

	var (
		result                 contracts.RebalanceResult
		status                 string
		targets, orders, notes []byte
	)
	err := r.pool.QueryRow(ctx, query, asOf).Scan(
		&result.AsOf, &status, &result.CashBuffer, &result.Turnover, &targets, &orders, &notes,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: rebalance proposal for %s", ErrNotFound, asOf.Format("2006-01-02"))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rebalance proposal: %w", err)
	}

	result.Status = contracts.RebalanceStatus(status)
	if err := json.Unmarshal(targets, &result.Targets); err != nil {
		return nil, fmt.Errorf("failed to unmarshal targets: %w", err)
	}
	if err := json.Unmarshal(orders, &result.Orders); err != nil {
		return nil, fmt.Errorf("failed to unmarshal orders: %w", err)
	}
	if err := json.Unmarshal(notes, &result.Notes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal notes: %w", err)
	}
	return &result, nil
}

// SaveBacktest records a finished run; the returned manifest names the row
func (r *Repository) SaveBacktest(ctx context.Context, result *backtest.Result) (map[string]string, error) {
	metrics, err := json.Marshal(result.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metrics: %w", err)
	}

	query := `
		INSERT INTO tradeflow.backtest_runs (run_id, start_date, end_date, label, metrics, trades)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
		ON CONFLICT (run_id) DO NOTHING
	`
	_, err = r.pool.Exec(ctx, query,
		result.RunID, result.Start, result.End, result.Label, metrics, len(result.Trades),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to save backtest run: %w", err)
	}
	return map[string]string{"database": "tradeflow.backtest_runs/" + result.RunID}, nil
}

// SaveSummary records a pipeline run
func (r *Repository) SaveSummary(ctx context.Context, summary *pipeline.Summary) error {
	steps, err := json.Marshal(summary.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	query := `
		INSERT INTO tradeflow.pipeline_runs (run_id, pipeline, as_of, success, dry_run, duration_ms, steps)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id) DO NOTHING
	`
	_, err = r.pool.Exec(ctx, query,
		summary.RunID, summary.Pipeline, summary.AsOf, summary.Success, summary.DryRun,
		summary.Duration.Milliseconds(), steps,
	)
	if err != nil {
		return fmt.Errorf("failed to save pipeline run: %w", err)
	}
	return nil
}

// PipelineRun is one row of tradeflow.pipeline_runs
type PipelineRun struct {
	RunID      string          `json:"run_id"`
	Pipeline   string          `json:"pipeline"`
	AsOf       time.Time       `json:"as_of"`
	Success    bool            `json:"success"`
	DryRun     bool            `json:"dry_run"`
	DurationMs int64           `json:"duration_ms"`
	Steps      []pipeline.Step `json:"steps"`
	CreatedAt  time.Time       `json:"created_at"`
}

// RecentPipelineRuns returns the latest runs, newest first
func (r *Repository) RecentPipelineRuns(ctx context.Context, limit int) ([]PipelineRun, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT run_id, pipeline, as_of, success, dry_run, duration_ms, steps, created_at
		FROM tradeflow.pipeline_runs
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pipeline runs: %w", err)
	}
	defer rows.Close()

	var runs []PipelineRun
	for rows.Next() {
		var run PipelineRun
		var steps []byte
		if err := rows.Scan(
			&run.RunID, &run.Pipeline, &run.AsOf, &run.Success, &run.DryRun,
			&run.DurationMs, &steps, &run.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan pipeline run: %w", err)
		}
		if err := json.Unmarshal(steps, &run.Steps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
