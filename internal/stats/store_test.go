package stats

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stats.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, s.AppendRun(ctx, RunRecord{
		RunID: "run-1", Workflow: "wf", Status: "SUCCEEDED",
		StartedAt: now, FinishedAt: now.Add(time.Minute), TaskCount: 1, MaxWorkers: 4,
	}))
	require.NoError(t, s.AppendTask(ctx, TaskExecution{
		RunID: "run-1", Signature: "i1|p|x=1", TaskID: "t1", Instance: "i1", Process: "p",
		Status: "SUCCEEDED", StartedAt: now, FinishedAt: now.Add(30 * time.Second), DurationMs: 30000,
	}))

	execs, err := s.Recent(ctx, "i1|p|x=1", 5)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	require.Equal(t, int64(30000), execs[0].DurationMs)

	runs, err := s.RecentRuns(ctx, "wf", 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, 4, runs[0].MaxWorkers)
}

func TestPurgeOldRuns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.AppendRun(ctx, RunRecord{
		RunID: "old-run", Workflow: "wf", Status: "SUCCEEDED",
		StartedAt: old, FinishedAt: old.Add(time.Minute), TaskCount: 1,
	}))
	require.NoError(t, s.Purge(ctx, 24*time.Hour))

	runs, err := s.RecentRuns(ctx, "wf", 5)
	require.NoError(t, err)
	require.Empty(t, runs)
}
