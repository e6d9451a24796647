package ledger

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelforge/reelforge/pkg/clock"
	"github.com/reelforge/reelforge/pkg/models"
)

func newTestLedger(t *testing.T, c clock.Clock) *SQLiteLedger {
	t.Helper()
	l, err := New(filepath.Join(t.TempDir(), "ledger.db"), c)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestRecordAndQuery(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	l := newTestLedger(t, clk)
	ctx := context.Background()

	id, err := l.Record(ctx, models.CostEntry{
		Service:     models.ServiceVideoProvider,
		Amount:      6,
		Description: "veo 8s 1080p",
		SessionID:   "sess-1",
		JobID:       "job-1",
	})
	require.NoError(t, err)
	assert.Positive(t, id)

	entries, err := l.Query(ctx, time.Hour, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
	assert.Equal(t, models.ServiceVideoProvider, entries[0].Service)
	assert.Equal(t, 6.0, entries[0].Amount)
	assert.Equal(t, "job-1", entries[0].JobID)
	assert.Equal(t, clk.Now(), entries[0].CreatedAt)
}

func TestQueryWindow(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	l := newTestLedger(t, clk)
	ctx := context.Background()

	now := clk.Now()
	for _, age := range []time.Duration{0, 30 * time.Minute, 2 * time.Hour, 30 * time.Hour} {
		_, err := l.Record(ctx, models.CostEntry{
			Service:   models.ServiceChatModel,
			Amount:    1,
			CreatedAt: now.Add(-age),
		})
		require.NoError(t, err)
	}

	hourly, err := l.Query(ctx, time.Hour, 0)
	require.NoError(t, err)
	assert.Len(t, hourly, 2)

	daily, err := l.Query(ctx, 24*time.Hour, 0)
	require.NoError(t, err)
	assert.Len(t, daily, 3)
	assert.True(t, daily[0].CreatedAt.After(daily[1].CreatedAt), "expected newest first")

	limited, err := l.Query(ctx, 48*time.Hour, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestTotalIsExactSum(t *testing.T) {
	l := newTestLedger(t, nil)
	ctx := context.Background()

	amounts := []float64{0.1, 0.2, 0.3, 12.345678, 100, 0}
	var want float64
	for _, a := range amounts {
		_, err := l.Record(ctx, models.CostEntry{Service: models.ServiceOther, Amount: a})
		require.NoError(t, err)
	}
	// 0.1+0.2+0.3+12.345678+100 in micro-units.
	want = 112.945678

	total, err := l.Total(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, want, total)
}

func TestTotalSince(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	l := newTestLedger(t, clk)
	ctx := context.Background()

	_, _ = l.Record(ctx, models.CostEntry{Service: models.ServiceOther, Amount: 5, CreatedAt: clk.Now().Add(-2 * time.Hour)})
	_, _ = l.Record(ctx, models.CostEntry{Service: models.ServiceOther, Amount: 7, CreatedAt: clk.Now().Add(-10 * time.Minute)})

	total, err := l.Total(ctx, clk.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 7.0, total)
}

func TestByService(t *testing.T) {
	l := newTestLedger(t, nil)
	ctx := context.Background()

	_, _ = l.Record(ctx, models.CostEntry{Service: models.ServiceVideoProvider, Amount: 6})
	_, _ = l.Record(ctx, models.CostEntry{Service: models.ServiceVideoProvider, Amount: 4})
	_, _ = l.Record(ctx, models.CostEntry{Service: models.ServiceChatModel, Amount: 0.25})

	by, err := l.ByService(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[models.Service]float64{
		models.ServiceVideoProvider: 10,
		models.ServiceChatModel:     0.25,
	}, by)
}

func TestRecordValidation(t *testing.T) {
	l := newTestLedger(t, nil)
	ctx := context.Background()

	_, err := l.Record(ctx, models.CostEntry{Service: "gpu", Amount: 1})
	assert.Error(t, err)

	_, err = l.Record(ctx, models.CostEntry{Service: models.ServiceOther, Amount: -1})
	assert.Error(t, err)

	for _, amount := range []float64{1e13, math.MaxFloat64, math.Inf(1), math.NaN()} {
		_, err = l.Record(ctx, models.CostEntry{Service: models.ServiceOther, Amount: amount})
		assert.Error(t, err, "amount %v", amount)
		assert.False(t, errors.Is(err, ErrPersistence))
	}

	total, err := l.Total(ctx, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, total)

	_, err = l.Record(ctx, models.CostEntry{Service: models.ServiceOther, Amount: models.MaxAmount})
	require.NoError(t, err)
	_, err = l.Record(ctx, models.CostEntry{Service: models.ServiceOther, Amount: 5e11})
	require.NoError(t, err)
	total, err = l.Total(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1.5e12, total)
}

func TestSummarize(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	l := newTestLedger(t, clk)
	ctx := context.Background()

	empty, err := l.Summarize(ctx)
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
	assert.Empty(t, empty.ByService)

	now := clk.Now()
	_, _ = l.Record(ctx, models.CostEntry{Service: models.ServiceVideoProvider, Amount: 100, CreatedAt: now.Add(-48 * time.Hour)})
	_, _ = l.Record(ctx, models.CostEntry{Service: models.ServiceVideoProvider, Amount: 15, CreatedAt: now.Add(-3 * time.Hour)})
	_, _ = l.Record(ctx, models.CostEntry{Service: models.ServiceChatModel, Amount: 0.5, CreatedAt: now.Add(-10 * time.Minute)})

	sum, err := l.Summarize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 115.5, sum.Total)
	assert.Equal(t, 15.5, sum.Daily)
	assert.Equal(t, 0.5, sum.Hourly)
	assert.Equal(t, map[models.Service]float64{
		models.ServiceVideoProvider: 115,
		models.ServiceChatModel:     0.5,
	}, sum.ByService)

	total, err := l.Total(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, total, sum.Total)
}

func TestRecordAfterCloseIsPersistenceError(t *testing.T) {
	l, err := New(filepath.Join(t.TempDir(), "ledger.db"), nil)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	_, err = l.Record(context.Background(), models.CostEntry{Service: models.ServiceOther, Amount: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPersistence))
}

func TestMigrationIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ledger.db")

	l1, err := New(dbPath, nil)
	require.NoError(t, err)
	_, err = l1.Record(context.Background(), models.CostEntry{Service: models.ServiceOther, Amount: 3})
	require.NoError(t, err)
	require.NoError(t, l1.Close())

	l2, err := New(dbPath, nil)
	require.NoError(t, err, "second New() failed")
	defer l2.Close()

	total, err := l2.Total(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 3.0, total)
}
