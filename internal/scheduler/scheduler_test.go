package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cubewise-code/rushti/pkg/task"
)

type recordingRunner struct {
	mu    sync.Mutex
	order []string
	fail  map[string]bool
	delay time.Duration
}

func (r *recordingRunner) Run(ctx context.Context, t *task.Task) Outcome {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	r.order = append(r.order, t.ID)
	fail := r.fail[t.ID]
	r.mu.Unlock()

	if fail {
		return Outcome{Status: task.StatusFailed}
	}
	return Outcome{Status: task.StatusSucceeded}
}

func TestSchedulerRunsAllTasks(t *testing.T) {
	tasks := []*task.Task{
		{ID: "a", Instance: "i1", Process: "p"},
		{ID: "b", Instance: "i1", Process: "p", Predecessors: []string{"a"}},
		{ID: "c", Instance: "i1", Process: "p", Predecessors: []string{"a"}},
	}
	dag := task.New(tasks)
	runner := &recordingRunner{fail: map[string]bool{}}
	sched := New(dag, runner, Options{MaxWorkers: 2})

	err := sched.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, task.StatusSucceeded, dag.Nodes["a"].Status)
	require.Equal(t, task.StatusSucceeded, dag.Nodes["b"].Status)
	require.Equal(t, task.StatusSucceeded, dag.Nodes["c"].Status)
	require.Equal(t, "a", runner.order[0])
}

func TestSchedulerSkipsOnRequiredPredecessorFailure(t *testing.T) {
	tasks := []*task.Task{
		{ID: "a", Instance: "i1", Process: "p"},
		{ID: "b", Instance: "i1", Process: "p", Predecessors: []string{"a"}, RequirePredecessorSuccess: true},
		{ID: "c", Instance: "i1", Process: "p", Predecessors: []string{"b"}, RequirePredecessorSuccess: true},
	}
	dag := task.New(tasks)
	runner := &recordingRunner{fail: map[string]bool{"a": true}}
	sched := New(dag, runner, Options{MaxWorkers: 2})

	err := sched.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, task.StatusFailed, dag.Nodes["a"].Status)
	require.Equal(t, task.StatusSkipped, dag.Nodes["b"].Status)
	require.Equal(t, task.StatusSkipped, dag.Nodes["c"].Status)
}

func TestSchedulerSkipsOnceWithMultiplePredecessorFailures(t *testing.T) {
	tasks := []*task.Task{
		{ID: "a", Instance: "i1", Process: "p"},
		{ID: "b", Instance: "i1", Process: "p"},
		{ID: "x", Instance: "i1", Process: "p", Predecessors: []string{"a", "b"}, RequirePredecessorSuccess: true},
		{ID: "y", Instance: "i1", Process: "p", Predecessors: []string{"x"}, RequirePredecessorSuccess: true},
	}
	dag := task.New(tasks)
	runner := &recordingRunner{fail: map[string]bool{"a": true, "b": true}}
	sched := New(dag, runner, Options{MaxWorkers: 2})

	err := sched.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, task.StatusFailed, dag.Nodes["a"].Status)
	require.Equal(t, task.StatusFailed, dag.Nodes["b"].Status)
	require.Equal(t, task.StatusSkipped, dag.Nodes["x"].Status)
	require.Equal(t, task.StatusSkipped, dag.Nodes["y"].Status)
	require.Equal(t, 0, dag.Nodes["y"].PendingCount)
}

func TestSchedulerRunsDespiteFailureWhenNotRequired(t *testing.T) {
	tasks := []*task.Task{
		{ID: "a", Instance: "i1", Process: "p"},
		{ID: "b", Instance: "i1", Process: "p", Predecessors: []string{"a"}, RequirePredecessorSuccess: false},
	}
	dag := task.New(tasks)
	runner := &recordingRunner{fail: map[string]bool{"a": true}}
	sched := New(dag, runner, Options{MaxWorkers: 2})

	err := sched.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, task.StatusSucceeded, dag.Nodes["b"].Status)
}

func TestSchedulerStageGating(t *testing.T) {
	tasks := []*task.Task{
		{ID: "s1a", Instance: "i1", Process: "p", Stage: "ingest"},
		{ID: "s2a", Instance: "i1", Process: "p", Stage: "consolidate"},
	}
	dag := task.New(tasks)
	runner := &recordingRunner{fail: map[string]bool{}}
	sched := New(dag, runner, Options{MaxWorkers: 4, StageOrder: []string{"ingest", "consolidate"}})

	err := sched.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"s1a", "s2a"}, runner.order)
}

func TestSchedulerRespectsContextCancellation(t *testing.T) {
	tasks := []*task.Task{
		{ID: "a", Instance: "i1", Process: "p"},
		{ID: "b", Instance: "i1", Process: "p"},
	}
	dag := task.New(tasks)
	runner := &recordingRunner{fail: map[string]bool{}, delay: 200 * time.Millisecond}
	sched := New(dag, runner, Options{MaxWorkers: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := sched.Run(ctx)
	require.Error(t, err)
}
