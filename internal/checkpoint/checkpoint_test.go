package checkpoint

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	rerrors "github.com/cubewise-code/rushti/pkg/errors"
	"github.com/cubewise-code/rushti/pkg/task"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)

	snap := &Snapshot{
		RunID: "r1", Workflow: "wf", TaskFileHash: "abc",
		Tasks: map[string]TaskState{"a": {Status: task.StatusSucceeded}},
	}
	require.NoError(t, m.Save(context.Background(), snap))

	loaded, err := m.Load(context.Background(), "wf")
	require.NoError(t, err)
	require.Equal(t, "abc", loaded.TaskFileHash)
	require.Equal(t, task.StatusSucceeded, loaded.Tasks["a"].Status)
}

func TestSaveUsesTempThenRename(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)

	require.NoError(t, m.Save(context.Background(), &Snapshot{Workflow: "wf", TaskFileHash: "x"}))

	entries, err := filepath.Glob(filepath.Join(dir, "*"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, filepath.Join(dir, "wf.snapshot"), entries[0])
}

func TestDeleteAndListInterrupted(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)

	require.NoError(t, m.Save(context.Background(), &Snapshot{Workflow: "wf1", TaskFileHash: "x"}))
	require.NoError(t, m.Save(context.Background(), &Snapshot{Workflow: "wf2", TaskFileHash: "x"}))

	names, err := m.ListInterrupted(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"wf1", "wf2"}, names)

	require.NoError(t, m.Delete(context.Background(), "wf1"))
	names, err = m.ListInterrupted(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"wf2"}, names)
}

func TestDisabledManagerIsNoop(t *testing.T) {
	m, err := NewManager("")
	require.NoError(t, err)
	require.False(t, m.Enabled())
	require.NoError(t, m.Save(context.Background(), &Snapshot{Workflow: "wf"}))
	loaded, err := m.Load(context.Background(), "wf")
	require.NoError(t, err)
	require.Nil(t, loaded)
}

func TestPrepareResumeRejectsHashMismatch(t *testing.T) {
	snap := &Snapshot{Workflow: "wf", TaskFileHash: ContentHash([]byte("old"))}
	dag := task.New(nil)

	_, err := PrepareResume(snap, []byte("new"), dag, false)
	var mismatch *rerrors.CheckpointMismatch
	require.ErrorAs(t, err, &mismatch)
}

func TestPrepareResumeRejectsUnsafeRunningTask(t *testing.T) {
	content := []byte("taskfile")
	dag := task.New([]*task.Task{{ID: "a", Instance: "i1", Process: "p", SafeRetry: false}})
	snap := &Snapshot{
		Workflow: "wf", TaskFileHash: ContentHash(content),
		Tasks: map[string]TaskState{"a": {Status: task.StatusRunning}},
	}

	_, err := PrepareResume(snap, content, dag, false)
	var unsafe *rerrors.UnsafeResume
	require.ErrorAs(t, err, &unsafe)
}

func TestPrepareResumeAllowsForcedRunningTask(t *testing.T) {
	content := []byte("taskfile")
	dag := task.New([]*task.Task{{ID: "a", Instance: "i1", Process: "p", SafeRetry: false}})
	snap := &Snapshot{
		Workflow: "wf", TaskFileHash: ContentHash(content),
		Tasks: map[string]TaskState{"a": {Status: task.StatusRunning}},
	}

	completed, err := PrepareResume(snap, content, dag, true)
	require.NoError(t, err)
	require.Empty(t, completed)
}

func TestPrepareResumeReturnsCompletedSet(t *testing.T) {
	content := []byte("taskfile")
	dag := task.New([]*task.Task{
		{ID: "a", Instance: "i1", Process: "p"},
		{ID: "b", Instance: "i1", Process: "p"},
	})
	snap := &Snapshot{
		Workflow: "wf", TaskFileHash: ContentHash(content),
		Tasks: map[string]TaskState{
			"a": {Status: task.StatusSucceeded},
			"b": {Status: task.StatusPending},
		},
	}

	completed, err := PrepareResume(snap, content, dag, false)
	require.NoError(t, err)
	require.Contains(t, completed, "a")
	require.NotContains(t, completed, "b")
}
