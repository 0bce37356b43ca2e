// Package parser ingests the three workflow input forms described in
// spec.md §4.1 — the line-oriented wait-barrier form, the line-oriented
// dependency form, and the structured YAML/JSON form — and produces a
// validated task.DAG.
package parser

import "github.com/cubewise-code/rushti/pkg/task"

// ParamDef is one parameter assignment as read from any input form,
// before expansion directives are resolved.
type ParamDef struct {
	Name  string `yaml:"-" json:"-"`
	Value string `yaml:"-" json:"-"`
}

// TaskDef is the input-form-neutral representation of one task or
// parametric template, after tokenizing/decoding but before parametric
// expansion and wait-barrier translation.
type TaskDef struct {
	ID                        string
	Instance                  string
	Process                   string
	Parameters                []ParamDef
	Predecessors              []string
	Stage                     string
	TimeoutSec                float64
	CancelAtTimeout           bool
	RequirePredecessorSuccess bool
	SafeRetry                 bool
	SucceedOnMinorErrors      bool

	DeclOrder int

	// Wait-barrier marker lines never become a TaskDef; the line-oriented
	// parsers handle them through rawLine.isWait.
}

// ExpandDirective describes one `name*=*{expr}` parametric directive
// attached to a TaskDef.
type ExpandDirective struct {
	ParamName  string // key with trailing '*' stripped
	Expression string
}

// Settings mirrors the structured form's optional `settings` block
// (§4.1, §6 precedence chain).
type Settings struct {
	MaxWorkers         int                 `yaml:"max_workers,omitempty" json:"max_workers,omitempty"`
	Retries            int                 `yaml:"retries,omitempty" json:"retries,omitempty"`
	Optimize           string              `yaml:"optimize,omitempty" json:"optimize,omitempty"`
	CheckpointInterval int                 `yaml:"checkpoint_interval_sec,omitempty" json:"checkpoint_interval_sec,omitempty"`
	StageOrder         []string            `yaml:"stage_order,omitempty" json:"stage_order,omitempty"`
	StageMaxWorkers    map[string]int      `yaml:"stage_max_workers,omitempty" json:"stage_max_workers,omitempty"`
	Exclusive          bool                `yaml:"exclusive,omitempty" json:"exclusive,omitempty"`
}

// Metadata mirrors the structured form's optional `metadata` block.
type Metadata struct {
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
}

// Document is the fully-decoded, pre-expansion form of a workflow file,
// common to all three input modes.
type Document struct {
	Version  string   `yaml:"version,omitempty" json:"version,omitempty"`
	Metadata Metadata `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	Settings Settings `yaml:"settings,omitempty" json:"settings,omitempty"`
	Tasks    []TaskDef `yaml:"-" json:"-"`

	// Warnings is the slot for unknown-key notices. No parser fills it:
	// the structured form decodes into fixed shapes, so unknown keys are
	// ignored without a warning.
	Warnings []string `yaml:"-" json:"-"`
}

// toTask converts a fully-expanded TaskDef (no remaining directives)
// into a task.Task.
func (d *TaskDef) toTask() *task.Task {
	params := make([]task.Param, len(d.Parameters))
	for i, p := range d.Parameters {
		params[i] = task.Param{Name: p.Name, Value: p.Value}
	}
	return &task.Task{
		ID:                        d.ID,
		Instance:                  d.Instance,
		Process:                   d.Process,
		Parameters:                params,
		Predecessors:              append([]string(nil), d.Predecessors...),
		Stage:                     d.Stage,
		TimeoutSec:                d.TimeoutSec,
		CancelAtTimeout:           d.CancelAtTimeout,
		RequirePredecessorSuccess: d.RequirePredecessorSuccess,
		SafeRetry:                d.SafeRetry,
		SucceedOnMinorErrors:      d.SucceedOnMinorErrors,
		DeclOrder:                 d.DeclOrder,
	}
}
