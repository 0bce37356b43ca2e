package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cubewise-code/rushti/internal/archive"
	"github.com/cubewise-code/rushti/internal/checkpoint"
	rlog "github.com/cubewise-code/rushti/internal/log"
	"github.com/cubewise-code/rushti/internal/metrics"
	"github.com/cubewise-code/rushti/internal/scheduler"
	"github.com/cubewise-code/rushti/internal/stats"
	"github.com/cubewise-code/rushti/internal/exclusivelock"
	rerrors "github.com/cubewise-code/rushti/pkg/errors"
	"github.com/cubewise-code/rushti/pkg/remoteclient"
	"github.com/cubewise-code/rushti/pkg/task"
)

// Runner is the subset of internal/executor.Executor the controller
// depends on, kept as an interface so tests can substitute a fake.
type Runner interface {
	Run(ctx context.Context, t *task.Task) scheduler.Outcome
}

// Options configures one run.
type Options struct {
	Workflow        string
	DAG             *task.DAG
	TaskFileContent []byte
	Client          remoteclient.Client
	Runner          Runner

	MaxWorkers      int
	Policy          scheduler.Policy
	StageOrder      []string
	StageMaxWorkers map[string]int
	EstimateFunc    func(id string) (time.Duration, bool)

	Exclusive        bool
	LockPollInterval time.Duration
	LockTimeout      time.Duration

	Stats         *stats.Store
	Checkpoints   *checkpoint.Manager
	RetentionDays int
	ArchiveDir    string

	// Resume, if true, loads and applies an existing checkpoint for
	// Workflow before starting the scheduler (§4.5). Force relaxes the
	// UnsafeResume check for RUNNING tasks that are not safe_retry.
	Resume bool
	Force  bool

	ResultSink ResultSink
	Logger     *slog.Logger
}

// Controller owns one run's lifecycle end to end (§2): acquire the
// exclusive lock if requested, open the stats/checkpoint stores, hand
// the DAG to the Scheduler, periodically checkpoint, release the lock,
// and finalize the result.
type Controller struct {
	opts Options
	log  *slog.Logger
}

// New builds a Controller. A nil Logger falls back to a default JSON
// logger (internal/log.DefaultConfig).
func New(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = rlog.New(rlog.DefaultConfig())
	}
	return &Controller{opts: opts, log: logger}
}

// newRunID returns a lexicographically increasing run identifier: a
// UTC timestamp to millisecond precision followed by a short random
// suffix to break ties between runs started in the same millisecond
// (§3: "run_id: unique lexicographically increasing timestamp").
func newRunID(now time.Time) string {
	return fmt.Sprintf("%s-%s", now.UTC().Format("20060102T150405.000Z"), uuid.NewString()[:8])
}

// Run executes the configured workflow to completion and returns its
// summary. A non-nil error either short-circuits the run before or during
// scheduling (§7: run-local errors short-circuit to the RunController),
// and is then a pkg/errors kind, a wrapped remote-client error or a
// context error, or reports that tasks failed, and then comes back
// together with the summary as a plain error counting the failed tasks.
func (c *Controller) Run(ctx context.Context, now time.Time) (*Summary, error) {
	runID := newRunID(now)
	logger := c.log.With(rlog.RunIDKey, runID, rlog.WorkflowKey, c.opts.Workflow)

	var lock *exclusivelock.Lock
	if c.opts.Client != nil {
		instances := instancesOf(c.opts.DAG)
		if len(instances) > 0 {
			waitStart := time.Now()
			l, err := exclusivelock.Acquire(ctx, c.opts.Client, instances, c.opts.Workflow, c.opts.Exclusive, exclusivelock.Config{
				PollInterval: c.opts.LockPollInterval,
				Timeout:      c.opts.LockTimeout,
			})
			metrics.ObserveExclusiveLockWait(c.opts.Workflow, time.Since(waitStart).Seconds())
			if err != nil {
				logger.Error("failed to acquire exclusive lock", "error", err)
				return nil, err
			}
			lock = l
		}
	}
	defer lock.Release(context.Background())

	completed, err := c.prepareResume(ctx, runID)
	if err != nil {
		logger.Error("resume preparation failed", "error", err)
		return nil, err
	}

	taskErrors := &errorCollector{errs: make(map[string]error)}
	wrapped := wrapRunner(c.opts.Runner, c.opts.Workflow, taskErrors)
	sched := scheduler.New(c.opts.DAG, wrapped, scheduler.Options{
		Policy:          c.opts.Policy,
		MaxWorkers:      c.opts.MaxWorkers,
		StageOrder:      c.opts.StageOrder,
		StageMaxWorkers: c.opts.StageMaxWorkers,
		EstimateFunc:    c.opts.EstimateFunc,
	})
	if len(completed) > 0 {
		sched.Seed(completed)
	}

	stopCheckpoints := c.startCheckpointLoop(ctx, runID)
	defer stopCheckpoints()

	started := now
	runErr := sched.Run(ctx)
	finished := time.Now()

	summary := Summarize(runID, c.opts.Workflow, started, finished, c.opts.MaxWorkers, c.opts.DAG, taskErrors.snapshot())

	if c.opts.Checkpoints != nil {
		if runErr == nil && summary.Failed == 0 && summary.Cancelled == 0 {
			_ = c.opts.Checkpoints.Delete(context.Background(), c.opts.Workflow)
		} else {
			_ = c.saveCheckpoint(context.Background(), runID)
		}
	}

	if c.opts.ArchiveDir != "" {
		if path, err := archive.Save(c.opts.ArchiveDir, c.opts.Workflow, runID, c.opts.DAG); err != nil {
			logger.Warn("failed to archive resolved workflow", "error", err)
		} else {
			logger.Info("archived resolved workflow", "path", path)
		}
	}

	c.recordStats(context.Background(), runID, started, finished, summary)

	if sink := c.opts.ResultSink; sink != nil {
		if err := sink.Write(summary); err != nil {
			logger.Warn("failed to write result sink", "error", err)
		}
	}

	if runErr != nil {
		return summary, runErr
	}
	if summary.Failed > 0 {
		return summary, fmt.Errorf("workflow %s completed with %d failed task(s)", c.opts.Workflow, summary.Failed)
	}
	return summary, nil
}

func instancesOf(dag *task.DAG) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, id := range dag.Order {
		inst := dag.Nodes[id].Task.Instance
		if _, ok := seen[inst]; !ok {
			seen[inst] = struct{}{}
			out = append(out, inst)
		}
	}
	sort.Strings(out)
	return out
}

// prepareResume loads and validates an existing checkpoint when
// opts.Resume is set, returning the ids and statuses of the tasks that
// finished SUCCEEDED or SKIPPED in a prior attempt.
func (c *Controller) prepareResume(ctx context.Context, runID string) (map[string]task.Status, error) {
	if !c.opts.Resume || c.opts.Checkpoints == nil {
		return nil, nil
	}
	snap, err := c.opts.Checkpoints.Load(ctx, c.opts.Workflow)
	if err != nil {
		return nil, &rerrors.ConfigError{Key: "checkpoint", Reason: "load checkpoint", Cause: err}
	}
	if snap == nil {
		return nil, nil
	}

	completedIDs, err := checkpoint.PrepareResume(snap, c.opts.TaskFileContent, c.opts.DAG, c.opts.Force)
	if err != nil {
		return nil, err
	}

	out := make(map[string]task.Status, len(completedIDs))
	for id := range completedIDs {
		if st, ok := snap.Tasks[id]; ok {
			out[id] = st.Status
		}
	}
	return out, nil
}

// startCheckpointLoop periodically snapshots progress, grounded on the
// teacher's ticker-driven background loop shape. It returns a stop
// function that blocks until the loop has exited.
func (c *Controller) startCheckpointLoop(ctx context.Context, runID string) func() {
	if c.opts.Checkpoints == nil || !c.opts.Checkpoints.Enabled() {
		return func() {}
	}

	stopCh := make(chan struct{})
	doneCh := make(chan struct{})

	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				_ = c.saveCheckpoint(ctx, runID)
			}
		}
	}()

	return func() {
		close(stopCh)
		<-doneCh
	}
}

func (c *Controller) saveCheckpoint(ctx context.Context, runID string) error {
	if c.opts.Checkpoints == nil {
		return nil
	}
	snap := &checkpoint.Snapshot{
		RunID:        runID,
		Workflow:     c.opts.Workflow,
		TaskFileHash: checkpoint.ContentHash(c.opts.TaskFileContent),
		Tasks:        make(map[string]checkpoint.TaskState, len(c.opts.DAG.Nodes)),
	}
	for id, node := range c.opts.DAG.Nodes {
		snap.Tasks[id] = checkpoint.TaskState{Status: node.Status}
	}
	err := c.opts.Checkpoints.Save(ctx, snap)
	if err != nil {
		metrics.RecordCheckpointSave(c.opts.Workflow, "error")
	} else {
		metrics.RecordCheckpointSave(c.opts.Workflow, "ok")
	}
	return err
}

func (c *Controller) recordStats(ctx context.Context, runID string, started, finished time.Time, summary *Summary) {
	if c.opts.Stats == nil {
		return
	}
	if c.opts.RetentionDays > 0 {
		_ = c.opts.Stats.Purge(ctx, time.Duration(c.opts.RetentionDays)*24*time.Hour)
	}

	status := "succeeded"
	if summary.Failed > 0 {
		status = "failed"
	}
	_ = c.opts.Stats.AppendRun(ctx, stats.RunRecord{
		RunID:      runID,
		Workflow:   c.opts.Workflow,
		Status:     status,
		StartedAt:  started,
		FinishedAt: finished,
		TaskCount:  summary.Total,
		MaxWorkers: c.opts.MaxWorkers,
	})

	for _, tr := range summary.Tasks {
		node, ok := c.opts.DAG.Nodes[tr.ID]
		if !ok {
			continue
		}
		var durationMs int64
		if !tr.StartedAt.IsZero() && !tr.FinishedAt.IsZero() {
			durationMs = tr.FinishedAt.Sub(tr.StartedAt).Milliseconds()
			metrics.ObserveTaskDuration(tr.Instance, tr.Process, tr.FinishedAt.Sub(tr.StartedAt).Seconds())
		}
		metrics.RecordTaskTerminal(c.opts.Workflow, tr.Status)
		_ = c.opts.Stats.AppendTask(ctx, stats.TaskExecution{
			RunID:      runID,
			Signature:  node.Task.Signature(),
			TaskID:     tr.ID,
			Instance:   tr.Instance,
			Process:    tr.Process,
			Status:     tr.Status,
			StartedAt:  tr.StartedAt,
			FinishedAt: tr.FinishedAt,
			DurationMs: durationMs,
		})
	}
}

// errorCollector records the terminal error for each task id, guarded
// by a mutex since tasks complete concurrently.
type errorCollector struct {
	mu   sync.Mutex
	errs map[string]error
}

func (e *errorCollector) set(id string, err error) {
	if err == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs[id] = err
}

func (e *errorCollector) snapshot() map[string]error {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]error, len(e.errs))
	for k, v := range e.errs {
		out[k] = v
	}
	return out
}

// wrapRunner decorates a Runner so the controller can capture each
// task's terminal error without the Scheduler needing to know about
// error bookkeeping at all.
func wrapRunner(r Runner, workflow string, collector *errorCollector) Runner {
	return runnerFunc(func(ctx context.Context, t *task.Task) scheduler.Outcome {
		outcome := r.Run(ctx, t)
		collector.set(t.ID, outcome.Err)
		return outcome
	})
}

type runnerFunc func(ctx context.Context, t *task.Task) scheduler.Outcome

func (f runnerFunc) Run(ctx context.Context, t *task.Task) scheduler.Outcome { return f(ctx, t) }
