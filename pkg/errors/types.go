// Package errors defines the typed error kinds produced by the rushti
// engine. Each kind is a distinct struct rather than a sentinel value so
// callers can extract field-level detail with errors.As.
package errors

import (
	"fmt"
	"time"
)

// ValidationError represents a structural problem with a workflow, task
// file, or CLI input.
type ValidationError struct {
	Field      string
	Message    string
	Suggestion string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// ConfigError represents a configuration problem detected before any
// work begins (§7: ConfigError is fatal before any work begins).
type ConfigError struct {
	Key    string
	Reason string
	Cause  error
}

func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// NotFoundError represents a missing resource (a referenced task id, a
// checkpoint file, a workflow).
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// TimeoutError represents a deadline exceeded on a blocking operation.
type TimeoutError struct {
	Operation string
	Duration  time.Duration
	Cause     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %v", e.Operation, e.Duration)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// ParseError is raised by the Parser on malformed task-file input.
type ParseError struct {
	File    string
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	if e.File != "" && e.Line > 0 {
		return fmt.Sprintf("parse error in %s:%d: %s", e.File, e.Line, e.Message)
	}
	return fmt.Sprintf("parse error: %s", e.Message)
}

// ExpansionError is raised when a parametric template's remote query
// fails.
type ExpansionError struct {
	TemplateID string
	Expression string
	Cause      error
}

func (e *ExpansionError) Error() string {
	return fmt.Sprintf("expansion of template %s (%s) failed: %v", e.TemplateID, e.Expression, e.Cause)
}

func (e *ExpansionError) Unwrap() error { return e.Cause }

// DuplicateIDError is raised by the Validator when two tasks share an id.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("duplicate task id: %s", e.ID)
}

// MissingPredecessorError is raised when a predecessor id does not
// resolve to any task in the DAG.
type MissingPredecessorError struct {
	TaskID        string
	PredecessorID string
}

func (e *MissingPredecessorError) Error() string {
	return fmt.Sprintf("task %s references missing predecessor %s", e.TaskID, e.PredecessorID)
}

// CycleError is raised by the Validator's Kahn pass when the graph is
// not acyclic.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %v", e.Cycle)
}

// RemoteTransient marks a remote failure the Executor should retry.
type RemoteTransient struct {
	Cause error
}

func (e *RemoteTransient) Error() string { return fmt.Sprintf("transient remote error: %v", e.Cause) }
func (e *RemoteTransient) Unwrap() error { return e.Cause }

// RemoteFailure marks a non-retryable logical failure reported by the
// remote server.
type RemoteFailure struct {
	Process string
	Message string
}

func (e *RemoteFailure) Error() string {
	return fmt.Sprintf("remote process %s failed: %s", e.Process, e.Message)
}

// ExclusiveLockTimeout is raised when the exclusive lock's poll loop
// exceeds its deadline (§4.6, exit code 5).
type ExclusiveLockTimeout struct {
	Instances []string
	Waited    time.Duration
}

func (e *ExclusiveLockTimeout) Error() string {
	return fmt.Sprintf("exclusive lock not acquired for instances %v after %v", e.Instances, e.Waited)
}

// CheckpointMismatch is raised on resume when the referenced task
// file's content hash no longer matches the checkpoint.
type CheckpointMismatch struct {
	Workflow string
	Expected string
	Actual   string
}

func (e *CheckpointMismatch) Error() string {
	return fmt.Sprintf("checkpoint for workflow %s refers to a task file that has changed (expected hash %s, got %s)", e.Workflow, e.Expected, e.Actual)
}

// UnsafeResume is raised when a checkpoint has RUNNING tasks that are
// not safe_retry and force was not set.
type UnsafeResume struct {
	Tasks []string
}

func (e *UnsafeResume) Error() string {
	return fmt.Sprintf("cannot safely resume: tasks %v were running without safe_retry", e.Tasks)
}
