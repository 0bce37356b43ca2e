// Package config resolves one run's effective settings from the
// precedence chain described in spec.md §6: command-line flag →
// structured workflow `settings` block → external settings file →
// built-in default. Each layer is optional; ApplyDefaults fills
// anything still unset after the merge.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	rerrors "github.com/cubewise-code/rushti/pkg/errors"
	"github.com/cubewise-code/rushti/pkg/parser"
)

// Settings is the fully-resolved, merged configuration for one run.
type Settings struct {
	MaxWorkers         int               `yaml:"max_workers,omitempty"`
	Retries            int               `yaml:"retries,omitempty"`
	Optimize           string            `yaml:"optimize,omitempty"`
	CheckpointInterval time.Duration     `yaml:"-"`
	StageOrder         []string          `yaml:"stage_order,omitempty"`
	StageMaxWorkers    map[string]int    `yaml:"stage_max_workers,omitempty"`
	Exclusive          bool              `yaml:"exclusive,omitempty"`
	Force              bool              `yaml:"force,omitempty"`
	NoCheckpoint       bool              `yaml:"no_checkpoint,omitempty"`
	ResultPath         string            `yaml:"result,omitempty"`

	// ExclusiveLock tuning (§4.6).
	LockPollInterval time.Duration `yaml:"-"`
	LockTimeout      time.Duration `yaml:"-"`

	// StatsStore / Estimator tuning (§4.7).
	RetentionDays int     `yaml:"retention_days,omitempty"`
	Alpha         float64 `yaml:"alpha,omitempty"`
	MinSamples    int     `yaml:"min_samples,omitempty"`
	LookbackRuns  int     `yaml:"lookback_runs,omitempty"`

	CheckpointIntervalSec int `yaml:"checkpoint_interval_sec,omitempty"`
	LockPollIntervalSec   int `yaml:"polling_interval_sec,omitempty"`
	LockTimeoutSec        int `yaml:"timeout_sec,omitempty"`
}

// ApplyDefaults fills every field still at its zero value with the
// project's built-in default, matching the teacher's
// Config/ApplyDefaults convention (internal/config/config.go).
func (s *Settings) ApplyDefaults() {
	if s.MaxWorkers <= 0 {
		s.MaxWorkers = 4
	}
	if s.Retries < 0 {
		s.Retries = 0
	}
	if s.Optimize == "" {
		s.Optimize = "fifo"
	}
	if s.CheckpointIntervalSec <= 0 {
		s.CheckpointIntervalSec = 60
	}
	if s.RetentionDays < 0 {
		s.RetentionDays = 0
	}
	if s.Alpha <= 0 {
		s.Alpha = 0.3
	}
	if s.MinSamples <= 0 {
		s.MinSamples = 3
	}
	if s.LookbackRuns <= 0 {
		s.LookbackRuns = 20
	}
	if s.LockPollIntervalSec <= 0 {
		s.LockPollIntervalSec = 5
	}
	if s.LockTimeoutSec <= 0 {
		s.LockTimeoutSec = 300
	}
	s.CheckpointInterval = time.Duration(s.CheckpointIntervalSec) * time.Second
	s.LockPollInterval = time.Duration(s.LockPollIntervalSec) * time.Second
	s.LockTimeout = time.Duration(s.LockTimeoutSec) * time.Second
}

// Validate reports a *rerrors.ValidationError for any setting outside
// its legal range. Called after ApplyDefaults, which has already
// replaced a non-positive max_workers and a negative retries — so in
// practice this catches user-supplied nonsense in the other fields
// (unknown policy name, a stage cap above max_workers).
func (s *Settings) Validate() error {
	if s.MaxWorkers <= 0 {
		return &rerrors.ValidationError{Field: "max_workers", Message: "must be positive"}
	}
	if s.Retries < 0 {
		return &rerrors.ValidationError{Field: "retries", Message: "must not be negative"}
	}
	switch s.Optimize {
	case "fifo", "longest_first", "shortest_first":
	default:
		return &rerrors.ValidationError{
			Field:      "optimize",
			Message:    "must be one of fifo, longest_first, shortest_first",
			Suggestion: "use --optimize longest_first or --optimize shortest_first",
		}
	}
	for stage, limit := range s.StageMaxWorkers {
		if limit > s.MaxWorkers {
			return &rerrors.ValidationError{
				Field:   "stage_max_workers." + stage,
				Message: "stage worker cap may not exceed max_workers",
			}
		}
	}
	return nil
}

// FileOverlay is the shape of an external settings file (the third
// link in the precedence chain): the same fields a workflow's
// structured `settings` block carries.
type FileOverlay = parser.Settings

// LoadFile reads an external YAML settings file. A missing file is not
// an error (the layer is simply absent from the merge).
func LoadFile(path string) (*FileOverlay, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &rerrors.ConfigError{Key: path, Reason: "read settings file", Cause: err}
	}
	var overlay FileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, &rerrors.ConfigError{Key: path, Reason: "parse settings file", Cause: err}
	}
	return &overlay, nil
}

// Flags carries the subset of settings an invoker may have supplied on
// the command line. Zero-value fields are treated as "not set" and do
// not override lower layers — this mirrors the teacher's merge-by-
// presence approach in internal/config rather than a blind overwrite.
type Flags struct {
	MaxWorkers         *int
	Retries            *int
	Optimize           *string
	CheckpointInterval *int
	Exclusive          *bool
	Force              *bool
	NoCheckpoint       *bool
	ResultPath         *string
}

// Resolve merges, highest precedence first: flags, then the workflow's
// own structured `settings` block, then an external settings file, then
// built-in defaults (§6 precedence).
func Resolve(flags Flags, workflowSettings *parser.Settings, fileOverlay *FileOverlay) *Settings {
	s := &Settings{}

	// applyOverlay unconditionally overwrites s's fields with any value
	// o actually sets, so calling it in lowest-to-highest precedence
	// order lets each later call win over the previous one.
	applyOverlay := func(o *parser.Settings) {
		if o == nil {
			return
		}
		if o.MaxWorkers > 0 {
			s.MaxWorkers = o.MaxWorkers
		}
		if o.Retries > 0 {
			s.Retries = o.Retries
		}
		if o.Optimize != "" {
			s.Optimize = o.Optimize
		}
		if o.CheckpointInterval > 0 {
			s.CheckpointIntervalSec = o.CheckpointInterval
		}
		if len(o.StageOrder) > 0 {
			s.StageOrder = o.StageOrder
		}
		if len(o.StageMaxWorkers) > 0 {
			s.StageMaxWorkers = o.StageMaxWorkers
		}
		if o.Exclusive {
			s.Exclusive = o.Exclusive
		}
	}

	// Lowest precedence first: external file, then the workflow's own
	// settings block; flags (highest) are applied last, below.
	applyOverlay(fileOverlay)
	applyOverlay(workflowSettings)

	if flags.MaxWorkers != nil {
		s.MaxWorkers = *flags.MaxWorkers
	}
	if flags.Retries != nil {
		s.Retries = *flags.Retries
	}
	if flags.Optimize != nil {
		s.Optimize = *flags.Optimize
	}
	if flags.CheckpointInterval != nil {
		s.CheckpointIntervalSec = *flags.CheckpointInterval
	}
	if flags.Exclusive != nil {
		s.Exclusive = *flags.Exclusive
	}
	if flags.Force != nil {
		s.Force = *flags.Force
	}
	if flags.NoCheckpoint != nil {
		s.NoCheckpoint = *flags.NoCheckpoint
	}
	if flags.ResultPath != nil {
		s.ResultPath = *flags.ResultPath
	}

	s.ApplyDefaults()
	return s
}
