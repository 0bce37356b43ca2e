// Package archive copies the resolved, expanded workflow that actually
// ran into a per-run archival directory, giving operators a point-in-
// time record of exactly what executed (SPEC_FULL.md supplemented
// features; persisted-state layout `archive/<workflow>/<run_id>.workflow`).
package archive

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cubewise-code/rushti/pkg/parser"
	"github.com/cubewise-code/rushti/pkg/task"
)

// Save renders dag to its structured form and writes it under
// root/<workflow>/<runID>.workflow.
func Save(root, workflow, runID string, dag *task.DAG) (string, error) {
	if root == "" {
		return "", nil
	}

	data, err := parser.Emit(dag)
	if err != nil {
		return "", fmt.Errorf("render archived workflow: %w", err)
	}

	dir := filepath.Join(root, workflow)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive directory: %w", err)
	}

	path := filepath.Join(dir, runID+".workflow")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write archived workflow: %w", err)
	}
	return path, nil
}
