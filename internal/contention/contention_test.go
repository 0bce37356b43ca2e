package contention

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cubewise-code/rushti/internal/stats"
	"github.com/cubewise-code/rushti/pkg/task"
)

func openStore(t *testing.T) *stats.Store {
	t.Helper()
	s, err := stats.Open(filepath.Join(t.TempDir(), "stats.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedDuration(t *testing.T, store *stats.Store, signature string, ms int64) {
	t.Helper()
	now := time.Now()
	require.NoError(t, store.AppendTask(context.Background(), stats.TaskExecution{
		RunID: "run", Signature: signature, TaskID: "t", Instance: "i1", Process: "p",
		Status: "SUCCEEDED", StartedAt: now, FinishedAt: now, DurationMs: ms,
	}))
}

func buildTask(id, stage, region string, ms int64) *task.Task {
	return &task.Task{
		ID: id, Instance: "i1", Process: "consolidate", Stage: stage,
		Parameters: []task.Param{{Name: "region", Value: region}},
	}
}

// seedGroups creates one task per (region, ms) pair and records ms as
// every historical duration for that task's signature, so each group's
// mean duration is exactly ms.
func seedGroups(t *testing.T, store *stats.Store, groups map[string]int64) []*task.Task {
	t.Helper()
	var tasks []*task.Task
	for region, ms := range groups {
		tk := buildTask(region+"1", "s1", region, ms)
		tasks = append(tasks, tk)
		seedDuration(t, store, tk.Signature(), ms)
	}
	return tasks
}

func TestAnalyzeFindsDriverAndHeavyValues(t *testing.T) {
	store := openStore(t)

	// Four identical light groups and one extreme outlier: IQR across
	// the light groups is zero, so any k flags the outlier heavy
	// without needing a razor-thin fence.
	tasks := seedGroups(t, store, map[string]int64{
		"east":  10_000_000,
		"west":  1000,
		"north": 1000,
		"south": 1000,
		"up":    1000,
	})
	dag := task.New(tasks)

	analyzer := New(store, Config{})
	report, err := analyzer.Analyze(context.Background(), dag, "", 0)
	require.NoError(t, err)
	require.Equal(t, "region", report.Driver)
	require.Contains(t, report.HeavyValues, "east")
}

func TestAnalyzeNoHistoryYieldsNoDriver(t *testing.T) {
	store := openStore(t)
	tasks := []*task.Task{buildTask("a", "s1", "east", 0)}
	dag := task.New(tasks)

	analyzer := New(store, Config{})
	report, err := analyzer.Analyze(context.Background(), dag, "", 0)
	require.NoError(t, err)
	require.Equal(t, "", report.Driver)
	require.True(t, report.Fallback)
}

func TestDriverExpressionFiltersCandidates(t *testing.T) {
	store := openStore(t)
	tasks := []*task.Task{
		buildTask("east1", "s1", "east", 0),
		buildTask("west1", "s1", "west", 0),
	}
	for _, tk := range tasks {
		var ms int64 = 1000
		if tk.ParamMap()["region"] == "east" {
			ms = 50000
		}
		seedDuration(t, store, tk.Signature(), ms)
	}
	dag := task.New(tasks)

	analyzer := New(store, Config{DriverExpression: `name != "region"`})
	report, err := analyzer.Analyze(context.Background(), dag, "", 0)
	require.NoError(t, err)
	require.Equal(t, "", report.Driver)
	require.True(t, report.Fallback)
}

func TestAnalyzeChainsHeavyGroupsDescendingAndPreservesFanOut(t *testing.T) {
	store := openStore(t)

	// Two heavy regions (east, west), each with a second "zone"
	// parameter (a/b) that must stay parallel: heavy-group chaining
	// must link only matching zones. Seven identical light-region
	// singletons keep Q1/Q3 pinned to the light cluster (zero IQR), so
	// both heavy groups clear the fence regardless of k.
	var tasks []*task.Task
	seed := func(id, region, zone string, ms int64) {
		tk := &task.Task{
			ID: id, Instance: "i1", Process: "p", Stage: "s1",
			Parameters: []task.Param{{Name: "region", Value: region}, {Name: "zone", Value: zone}},
		}
		tasks = append(tasks, tk)
		seedDuration(t, store, tk.Signature(), ms)
	}
	seed("east_a", "east", "a", 10_000_000)
	seed("east_b", "east", "b", 10_000_000)
	seed("west_a", "west", "a", 6_000_000)
	seed("west_b", "west", "b", 6_000_000)
	for _, light := range []string{"r1", "r2", "r3", "r4", "r5", "r6", "r7"} {
		seed(light, light, "a", 1000)
	}

	dag := task.New(tasks)
	analyzer := New(store, Config{})
	report, err := analyzer.Analyze(context.Background(), dag, "", 0)
	require.NoError(t, err)
	require.False(t, report.Fallback)
	require.Equal(t, "region", report.Driver)
	require.ElementsMatch(t, []string{"east", "west"}, report.HeavyValues)
	require.Equal(t, 2, report.Chains)

	require.ElementsMatch(t, []Edge{
		{Before: "east_a", After: "west_a"},
		{Before: "east_b", After: "west_b"},
	}, report.Edges)
}

func TestAnalyzeFallsBackToLongestFirstWithoutEnoughHeavyGroups(t *testing.T) {
	store := openStore(t)
	tasks := seedGroups(t, store, map[string]int64{
		"east": 5000,
		"west": 1000,
	})
	dag := task.New(tasks)

	analyzer := New(store, Config{})
	report, err := analyzer.Analyze(context.Background(), dag, "", 0)
	require.NoError(t, err)
	require.True(t, report.Fallback)
	require.Empty(t, report.Edges)
	require.Equal(t, []string{"east1", "west1"}, report.FallbackOrder)
}

func TestRecommendWorkersUsesSweetSpotHistory(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, store.AppendRun(ctx, stats.RunRecord{
		RunID: "r1", Workflow: "wf", Status: "SUCCEEDED", MaxWorkers: 2,
		StartedAt: now, FinishedAt: now.Add(100 * time.Second), TaskCount: 3,
	}))
	require.NoError(t, store.AppendRun(ctx, stats.RunRecord{
		RunID: "r2", Workflow: "wf", Status: "SUCCEEDED", MaxWorkers: 4,
		StartedAt: now, FinishedAt: now.Add(60 * time.Second), TaskCount: 3,
	}))
	require.NoError(t, store.AppendRun(ctx, stats.RunRecord{
		RunID: "r3", Workflow: "wf", Status: "SUCCEEDED", MaxWorkers: 8,
		StartedAt: now, FinishedAt: now.Add(59 * time.Second), TaskCount: 3,
	}))

	tasks := []*task.Task{buildTask("a", "s1", "east", 0)}
	dag := task.New(tasks)

	analyzer := New(store, Config{})
	report, err := analyzer.Analyze(ctx, dag, "wf", 8)
	require.NoError(t, err)
	require.Equal(t, 4, report.RecommendedWorkers)
	require.Equal(t, "down", report.Direction)
}
