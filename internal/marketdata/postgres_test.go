package marketdata

import (
	"context"
	"math"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresSource_SaveAndLoad(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	defer pool.Close()

	src := NewPostgresSource(pool)
	require.NoError(t, src.EnsureSchema(ctx))

	frame := sampleFrame(t)
	frame.Symbol = "TFTEST"
	defer func() {
		_, _ = pool.Exec(ctx, `DELETE FROM curated.daily_bars WHERE symbol = $1`, frame.Symbol)
	}()
	require.NoError(t, src.Save(ctx, frame))

	loaded, err := src.Load(ctx, "tftest", day(t, "2024-01-03"))
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Len())
	assert.Equal(t, []float64{100, 101}, loaded.Columns[ColClose])
	assert.True(t, math.IsNaN(loaded.Columns[ColSMA100][1]))

	_, err = src.Load(ctx, "TFTEST", day(t, "2023-01-01"))
	assert.ErrorIs(t, err, ErrEmptyDataset)

	_, err = src.Load(ctx, "TFMISSING", day(t, "2024-01-03"))
	assert.ErrorIs(t, err, ErrNotFound)
}
