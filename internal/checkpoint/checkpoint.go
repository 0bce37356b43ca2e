// Package checkpoint persists a run's task-by-task progress so an
// interrupted run can resume instead of restarting from scratch (§4.5).
package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	rerrors "github.com/cubewise-code/rushti/pkg/errors"
	"github.com/cubewise-code/rushti/pkg/task"
)

// TaskState is one task's recorded progress within a Snapshot.
type TaskState struct {
	Status  task.Status `json:"status"`
	Attempt int         `json:"attempt"`
}

// Snapshot is the durable, resumable record of one run's progress.
type Snapshot struct {
	RunID        string               `json:"run_id"`
	Workflow     string               `json:"workflow"`
	TaskFileHash string               `json:"task_file_hash"`
	Tasks        map[string]TaskState `json:"tasks"`
	SavedAt      time.Time            `json:"saved_at"`
}

// Manager stores one Snapshot per workflow under a directory, gated by
// a content hash of the task file it was produced from.
type Manager struct {
	mu      sync.Mutex
	dir     string
	enabled bool
}

// NewManager builds a Manager rooted at dir. An empty dir disables
// checkpointing entirely (every method becomes a no-op), matching the
// teacher's "empty directory means disabled" convention.
func NewManager(dir string) (*Manager, error) {
	m := &Manager{dir: dir, enabled: dir != ""}
	if m.enabled {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create checkpoint directory: %w", err)
		}
	}
	return m, nil
}

// Enabled reports whether checkpointing is active.
func (m *Manager) Enabled() bool { return m.enabled }

// ContentHash returns the canonical hash used to gate resume against a
// changed task file.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Save durably writes snapshot: marshal to a temp file in the same
// directory, fsync, then rename over the final path, so a crash mid-
// write never leaves a half-written checkpoint (§4.5).
func (m *Manager) Save(ctx context.Context, snapshot *Snapshot) error {
	if !m.enabled {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot.SavedAt = time.Now()
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	finalPath := m.path(snapshot.Workflow)
	tmp, err := os.CreateTemp(m.dir, "."+snapshot.Workflow+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp checkpoint file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp checkpoint file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp checkpoint file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp checkpoint file: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename checkpoint into place: %w", err)
	}

	return nil
}

// Load reads the checkpoint for workflow, or (nil, nil) if none exists.
func (m *Manager) Load(ctx context.Context, workflow string) (*Snapshot, error) {
	if !m.enabled {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path(workflow))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &snap, nil
}

// Delete removes the checkpoint for workflow, called once a run
// finishes successfully.
func (m *Manager) Delete(ctx context.Context, workflow string) error {
	if !m.enabled {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.Remove(m.path(workflow)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// ListInterrupted returns the workflow names with an outstanding
// checkpoint, i.e. runs that did not reach a terminal state cleanly.
func (m *Manager) ListInterrupted(ctx context.Context) ([]string, error) {
	if !m.enabled {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if name, ok := strings.CutSuffix(e.Name(), ".snapshot"); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

func (m *Manager) path(workflow string) string {
	return filepath.Join(m.dir, workflow+".snapshot")
}

// PrepareResume validates a loaded snapshot against the current task
// file content and force flag, per the resume protocol (§4.5):
//  1. the task file's content hash must still match what produced the
//     snapshot, or CheckpointMismatch is returned;
//  2. any task recorded RUNNING must be safe_retry, or force must be
//     set, or UnsafeResume is returned naming the offending tasks.
// On success it returns the set of task ids recorded SUCCEEDED or SKIPPED,
// which are treated as finalized on resume; FAILED, CANCELLED and RUNNING
// tasks are not in the set and run again.
func PrepareResume(snapshot *Snapshot, currentTaskFileContent []byte, dag *task.DAG, force bool) (map[string]struct{}, error) {
	currentHash := ContentHash(currentTaskFileContent)
	if snapshot.TaskFileHash != currentHash {
		return nil, &rerrors.CheckpointMismatch{
			Workflow: snapshot.Workflow,
			Expected: snapshot.TaskFileHash,
			Actual:   currentHash,
		}
	}

	var unsafe []string
	completed := make(map[string]struct{})

	for id, state := range snapshot.Tasks {
		node, ok := dag.Nodes[id]
		if !ok {
			continue
		}
		if state.Status == task.StatusRunning && !node.Task.SafeRetry && !force {
			unsafe = append(unsafe, id)
			continue
		}
		// Only SUCCEEDED/SKIPPED are reconstructed as already finalized
		// (§4.5 step 2). FAILED, CANCELLED, and safe-retry RUNNING tasks
		// reset to PENDING and are re-attempted (§4.5 steps 3-4).
		if state.Status == task.StatusSucceeded || state.Status == task.StatusSkipped {
			completed[id] = struct{}{}
		}
	}

	if len(unsafe) > 0 {
		return nil, &rerrors.UnsafeResume{Tasks: unsafe}
	}

	return completed, nil
}
