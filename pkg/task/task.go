// Package task defines the leaf unit of work, its parametric template
// form, and the dependency graph the scheduler drives to completion.
package task

import (
	"sort"
	"strings"
)

// Status is the lifecycle state of a task during a run.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusReady     Status = "READY"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusSkipped   Status = "SKIPPED"
	StatusCancelled Status = "CANCELLED"
)

// IsTerminal reports whether s cannot transition further within a run.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSkipped, StatusCancelled:
		return true
	default:
		return false
	}
}

// Unsuccessful reports whether s counts as a non-success predecessor
// outcome for require_predecessor_success propagation (§3).
func (s Status) Unsuccessful() bool {
	return s == StatusFailed || s == StatusCancelled || s == StatusSkipped
}

// Param is one ordered parameter assignment. Parameters are kept
// ordered (not a bare map) because emission (expand/archive) must be
// deterministic and because wait-barrier/dependency text forms preserve
// declaration order.
type Param struct {
	Name  string
	Value string
}

// Task is one invocation of one remote process with one parameter set
// on one instance (§3).
type Task struct {
	ID                      string
	Instance                string
	Process                 string
	Parameters              []Param
	Predecessors            []string
	Stage                   string
	TimeoutSec              float64 // 0 means unset
	CancelAtTimeout         bool
	RequirePredecessorSuccess bool
	SafeRetry               bool
	SucceedOnMinorErrors    bool

	// DeclOrder is the task's position in the parser's declaration
	// sequence, used as the FIFO/tiebreak ordering key (§4.4).
	DeclOrder int
}

// ParamMap returns the parameters as a lookup map.
func (t *Task) ParamMap() map[string]string {
	m := make(map[string]string, len(t.Parameters))
	for _, p := range t.Parameters {
		m[p.Name] = p.Value
	}
	return m
}

// PredecessorSet returns the predecessor ids as a set.
func (t *Task) PredecessorSet() map[string]struct{} {
	s := make(map[string]struct{}, len(t.Predecessors))
	for _, id := range t.Predecessors {
		s[id] = struct{}{}
	}
	return s
}

// Signature returns the canonical string used by the Estimator to
// correlate this task's executions across runs: a deterministic string
// derived from (instance, process, parameters), keys sorted (§3).
func (t *Task) Signature() string {
	var b strings.Builder
	b.WriteString(t.Instance)
	b.WriteByte('|')
	b.WriteString(t.Process)

	names := make([]string, 0, len(t.Parameters))
	values := t.ParamMap()
	for _, p := range t.Parameters {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.WriteByte('|')
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(values[name])
	}
	return b.String()
}

// Node is a task together with the scheduler's live runtime state. The
// DAG owns one Node per Task; the Scheduler mutates Status and
// PendingCount under its own mutex (§3 ownership).
type Node struct {
	Task *Task

	Status       Status
	PendingCount int

	Successors []string

	StartedAt  int64 // unix nanos, 0 if not yet started
	FinishedAt int64
}

// DAG is the directed acyclic graph of concrete tasks produced by the
// Parser after parametric expansion and wait-barrier translation.
type DAG struct {
	Nodes map[string]*Node
	// Order preserves DeclOrder for deterministic iteration (tiebreaks,
	// FIFO ordering policy).
	Order []string
}

// New builds a DAG from a flat task list. It does not validate
// structural invariants (duplicate ids, dangling predecessors, cycles)
// — that is the Validator's job (internal/validator) — but it does
// compute each node's initial PendingCount and successor index, which
// requires every predecessor id to already resolve; callers must run
// structural validation first.
func New(tasks []*Task) *DAG {
	d := &DAG{
		Nodes: make(map[string]*Node, len(tasks)),
		Order: make([]string, 0, len(tasks)),
	}

	for _, t := range tasks {
		d.Nodes[t.ID] = &Node{
			Task:         t,
			Status:       StatusPending,
			PendingCount: len(t.Predecessors),
		}
		d.Order = append(d.Order, t.ID)
	}

	sort.Slice(d.Order, func(i, j int) bool {
		return d.Nodes[d.Order[i]].Task.DeclOrder < d.Nodes[d.Order[j]].Task.DeclOrder
	})

	for _, t := range tasks {
		for _, pred := range t.Predecessors {
			if node, ok := d.Nodes[pred]; ok {
				node.Successors = append(node.Successors, t.ID)
			}
		}
	}

	return d
}

// Roots returns every task id with no predecessors (the initial ready
// set, §4.4 Bootstrap).
func (d *DAG) Roots() []string {
	var roots []string
	for _, id := range d.Order {
		if len(d.Nodes[id].Task.Predecessors) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}
