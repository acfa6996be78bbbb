package marketdata

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSource reads curated frames from curated.daily_bars
// ⭐ SSOT: 큐레이션 테이블 스키마는 여기서만 정의
type PostgresSource struct {
	pool *pgxpool.Pool
}

// NewPostgresSource creates a new Postgres-backed source
func NewPostgresSource(pool *pgxpool.Pool) *PostgresSource {
	return &PostgresSource{pool: pool}
}

const curatedSchema = `
	CREATE SCHEMA IF NOT EXISTS curated;
	CREATE TABLE IF NOT EXISTS curated.daily_bars (
		symbol       TEXT NOT NULL,
		trade_date   DATE NOT NULL,
		close        DOUBLE PRECISION,
		open         DOUBLE PRECISION,
		high         DOUBLE PRECISION,
		low          DOUBLE PRECISION,
		volume       DOUBLE PRECISION,
		adj_close    DOUBLE PRECISION,
		sma_100      DOUBLE PRECISION,
		sma_200      DOUBLE PRECISION,
		ret_1d       DOUBLE PRECISION,
		ret_20d      DOUBLE PRECISION,
		rolling_peak DOUBLE PRECISION,
		PRIMARY KEY (symbol, trade_date)
	);
`

// curatedColumns is the column order used by the queries below
var curatedColumns = []string{
	ColClose, ColOpen, ColHigh, ColLow, ColVolume, ColAdjClose,
	ColSMA100, ColSMA200, ColRet1D, ColRet20D, ColRollingPeak,
}

// EnsureSchema creates the curated table when missing
func (s *PostgresSource) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, curatedSchema); err != nil {
		return fmt.Errorf("ensure curated schema: %w", err)
	}
	return nil
}

// Load implements Source
func (s *PostgresSource) Load(ctx context.Context, symbol string, asOf time.Time) (Frame, error) {
	symbol = strings.ToUpper(symbol)
	query := fmt.Sprintf(`
		SELECT trade_date, %s
		FROM curated.daily_bars
		WHERE symbol = $1 AND trade_date <= $2
		ORDER BY trade_date ASC
	`, strings.Join(curatedColumns, ", "))

	rows, err := s.pool.Query(ctx, query, symbol, NormalizeDate(asOf))
	if err != nil {
		return Frame{}, fmt.Errorf("query curated bars for %s: %w", symbol, err)
	}
	defer rows.Close()

	var dates []time.Time
	columns := make(map[string][]float64, len(curatedColumns))
	for rows.Next() {
		var d time.Time
		values := make([]*float64, len(curatedColumns))
		dest := make([]any, 0, len(curatedColumns)+1)
		dest = append(dest, &d)
		for i := range values {
			dest = append(dest, &values[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return Frame{}, fmt.Errorf("scan curated bar for %s: %w", symbol, err)
		}
		dates = append(dates, d)
		for i, name := range curatedColumns {
			v := math.NaN()
			if values[i] != nil {
				v = *values[i]
			}
			columns[name] = append(columns[name], v)
		}
	}
	if err := rows.Err(); err != nil {
		return Frame{}, fmt.Errorf("iterate curated bars for %s: %w", symbol, err)
	}

	if len(dates) == 0 {
		var exists bool
		err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM curated.daily_bars WHERE symbol = $1)`, symbol,
		).Scan(&exists)
		if err != nil {
			return Frame{}, fmt.Errorf("check curated bars for %s: %w", symbol, err)
		}
		if !exists {
			return Frame{}, fmt.Errorf("%w: %s", ErrNotFound, symbol)
		}
		return Frame{}, fmt.Errorf("%w: %s on or before %s", ErrEmptyDataset, symbol, NormalizeDate(asOf).Format(DateLayout))
	}

	return NewFrame(symbol, dates, columns)
}

// Save upserts every row of a frame in one batch
func (s *PostgresSource) Save(ctx context.Context, frame Frame) error {
	if frame.Empty() {
		return nil
	}

	placeholders := make([]string, len(curatedColumns))
	updates := make([]string, len(curatedColumns))
	for i, name := range curatedColumns {
		placeholders[i] = fmt.Sprintf("$%d", i+3)
		updates[i] = fmt.Sprintf("%s = EXCLUDED.%s", name, name)
	}
	query := fmt.Sprintf(`
		INSERT INTO curated.daily_bars (symbol, trade_date, %s)
		VALUES ($1, $2, %s)
		ON CONFLICT (symbol, trade_date) DO UPDATE SET %s
	`, strings.Join(curatedColumns, ", "), strings.Join(placeholders, ", "), strings.Join(updates, ", "))

	batch := &pgx.Batch{}
	for i, d := range frame.Dates {
		args := make([]any, 0, len(curatedColumns)+2)
		args = append(args, frame.Symbol, d)
		for _, name := range curatedColumns {
			args = append(args, nullable(frame.Columns[name], i))
		}
		batch.Queue(query, args...)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range frame.Dates {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert curated bars for %s: %w", frame.Symbol, err)
		}
	}
	return nil
}

func nullable(values []float64, i int) *float64 {
	if values == nil || math.IsNaN(values[i]) || math.IsInf(values[i], 0) {
		return nil
	}
	v := values[i]
	return &v
}
