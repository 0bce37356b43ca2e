package estimator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cubewise-code/rushti/internal/stats"
)

func openStore(t *testing.T) *stats.Store {
	t.Helper()
	s, err := stats.Open(filepath.Join(t.TempDir(), "stats.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, store *stats.Store, signature string, durationsMs []int64, base time.Time) {
	t.Helper()
	for i, ms := range durationsMs {
		started := base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, store.AppendTask(context.Background(), stats.TaskExecution{
			RunID: "run", Signature: signature, TaskID: "t", Instance: "i1", Process: "p",
			Status: "SUCCEEDED", StartedAt: started, FinishedAt: started, DurationMs: ms,
		}))
	}
}

func TestEstimateBelowMinSamples(t *testing.T) {
	store := openStore(t)
	seed(t, store, "sig", []int64{1000, 1000}, time.Now())

	est := New(store, Config{MinSamples: 3})
	_, ok, err := est.Estimate(context.Background(), "sig", time.Now())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEstimateConvergesTowardRecentSamples(t *testing.T) {
	store := openStore(t)
	seed(t, store, "sig", []int64{60000, 60000, 60000, 30000}, time.Now())

	est := New(store, Config{MinSamples: 3, Alpha: 0.5})
	d, ok, err := est.Estimate(context.Background(), "sig", time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	require.Less(t, d, 60*time.Second)
	require.Greater(t, d, 30*time.Second)
}

func TestEstimateIsCached(t *testing.T) {
	store := openStore(t)
	seed(t, store, "sig", []int64{1000, 1000, 1000}, time.Now())

	est := New(store, Config{MinSamples: 3, CacheFor: time.Hour})
	now := time.Now()
	d1, ok, err := est.Estimate(context.Background(), "sig", now)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.AppendTask(context.Background(), stats.TaskExecution{
		RunID: "run2", Signature: "sig", TaskID: "t", Instance: "i1", Process: "p",
		Status: "SUCCEEDED", StartedAt: now, FinishedAt: now, DurationMs: 999999,
	}))

	d2, ok, err := est.Estimate(context.Background(), "sig", now)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, d1, d2)
}
