// Package controller owns the run lifecycle: acquiring the exclusive
// lock, opening the StatsStore and Checkpointer, handing the DAG to the
// Scheduler, and finalizing results once every task reaches a terminal
// state (§2, §4.6, §7).
package controller

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cubewise-code/rushti/pkg/task"
)

// TaskResult is one task's outcome in a run summary.
type TaskResult struct {
	ID         string    `json:"id"`
	Instance   string    `json:"instance"`
	Process    string    `json:"process"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Summary is the run-level result written to the --result path; run
// archival stores only the resolved workflow, not the Summary.
type Summary struct {
	RunID      string       `json:"run_id"`
	Workflow   string       `json:"workflow"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	MaxWorkers int          `json:"max_workers"`
	Total      int          `json:"total"`
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
	Skipped    int          `json:"skipped"`
	Cancelled  int          `json:"cancelled"`
	Tasks      []TaskResult `json:"tasks"`
}

// ResultSink finalizes a run's outcome: it can write a JSON summary to
// a file, or simply be held in memory for the CLI layer to render.
type ResultSink interface {
	Write(summary *Summary) error
}

// FileSink writes the Summary as indented JSON to a fixed path.
type FileSink struct {
	Path string
}

func (f FileSink) Write(summary *Summary) error {
	if f.Path == "" {
		return nil
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run summary: %w", err)
	}
	if dir := filepath.Dir(f.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create result directory: %w", err)
		}
	}
	if err := os.WriteFile(f.Path, data, 0o644); err != nil {
		return fmt.Errorf("write run summary: %w", err)
	}
	return nil
}

// NullSink discards the summary, used when --result is not set.
type NullSink struct{}

func (NullSink) Write(*Summary) error { return nil }

// Summarize builds a Summary from a completed DAG.
func Summarize(runID, workflow string, started, finished time.Time, maxWorkers int, dag *task.DAG, taskErrors map[string]error) *Summary {
	s := &Summary{
		RunID:      runID,
		Workflow:   workflow,
		StartedAt:  started,
		FinishedAt: finished,
		MaxWorkers: maxWorkers,
		Total:      len(dag.Nodes),
	}

	for _, id := range dag.Order {
		node := dag.Nodes[id]
		tr := TaskResult{
			ID:       id,
			Instance: node.Task.Instance,
			Process:  node.Task.Process,
			Status:   string(node.Status),
		}
		if node.StartedAt != 0 {
			tr.StartedAt = time.Unix(0, node.StartedAt)
		}
		if node.FinishedAt != 0 {
			tr.FinishedAt = time.Unix(0, node.FinishedAt)
		}
		if err, ok := taskErrors[id]; ok && err != nil {
			tr.Error = err.Error()
		}

		switch node.Status {
		case task.StatusSucceeded:
			s.Succeeded++
		case task.StatusFailed:
			s.Failed++
		case task.StatusSkipped:
			s.Skipped++
		case task.StatusCancelled:
			s.Cancelled++
		}

		s.Tasks = append(s.Tasks, tr)
	}

	return s
}
