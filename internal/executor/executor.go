// Package executor invokes one task against a RemoteClient, applying
// retry/backoff, timeout, and minor-error handling (§4.3, §7). It
// implements internal/scheduler.Runner.
package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cubewise-code/rushti/internal/scheduler"
	rerrors "github.com/cubewise-code/rushti/pkg/errors"
	"github.com/cubewise-code/rushti/pkg/remoteclient"
	"github.com/cubewise-code/rushti/pkg/task"
)

// Outcome is an alias for scheduler.Outcome so callers of this package
// don't need to import internal/scheduler just to spell the return
// type.
type Outcome = scheduler.Outcome

// Config tunes retry and concurrency behavior (§4.3, §6 settings).
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// DefaultTimeout applies when a task sets no timeout of its own.
	DefaultTimeout time.Duration
	// MaxPerInstance bounds concurrent invocations against one remote
	// instance, independent of the scheduler's global worker cap.
	MaxPerInstance int
}

func (c Config) withDefaults() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 1 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 16 * time.Second
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Minute
	}
	if c.MaxPerInstance <= 0 {
		c.MaxPerInstance = 4
	}
	return c
}

// Executor runs tasks against a remoteclient.Client.
type Executor struct {
	client remoteclient.Client
	cfg    Config

	mu    sync.Mutex
	sems  map[string]chan struct{}
}

// New builds an Executor backed by client.
func New(client remoteclient.Client, cfg Config) *Executor {
	return &Executor{client: client, cfg: cfg.withDefaults(), sems: make(map[string]chan struct{})}
}

func (e *Executor) semFor(instance string) chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	sem, ok := e.sems[instance]
	if !ok {
		sem = make(chan struct{}, e.cfg.MaxPerInstance)
		e.sems[instance] = sem
	}
	return sem
}

// Run executes t to completion, retrying transient remote failures with
// exponential backoff up to cfg.MaxRetries, and enforces t's timeout
// (cancelling the remote invocation first if CancelAtTimeout is set).
// It satisfies internal/scheduler.Runner's shape (Run(ctx, *task.Task)
// returning a {Status, Err} outcome).
func (e *Executor) Run(ctx context.Context, t *task.Task) Outcome {
	sem := e.semFor(t.Instance)
	select {
	case sem <- struct{}{}:
		defer func() { <-sem }()
	case <-ctx.Done():
		return Outcome{Status: task.StatusCancelled, Err: ctx.Err()}
	}

	timeout := e.cfg.DefaultTimeout
	if t.TimeoutSec > 0 {
		timeout = time.Duration(t.TimeoutSec * float64(time.Second))
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var result remoteclient.ExecutionResult
	attempt := 0
	operation := func() error {
		attempt++
		r, err := e.client.ExecuteProcess(runCtx, t.Instance, t.Process, t.ParamMap(), "")
		if err != nil {
			var rcErr *remoteclient.Error
			if errors.As(err, &rcErr) && rcErr.Kind == remoteclient.FailureTransient {
				return err // retryable
			}
			return backoff.Permanent(err)
		}
		result = r
		return nil
	}

	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = e.cfg.BaseDelay
	backOff.MaxInterval = e.cfg.MaxDelay
	backOff.Multiplier = 2
	backOff.RandomizationFactor = 0
	policy := backoff.WithMaxRetries(backOff, uint64(e.cfg.MaxRetries))

	err := backoff.Retry(operation, backoff.WithContext(policy, runCtx))
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			if t.CancelAtTimeout {
				_ = e.client.CancelInvocation(context.Background(), t.Instance, result.InvocationID)
				return Outcome{Status: task.StatusCancelled, Err: &rerrors.TimeoutError{
					Operation: t.Process, Duration: timeout, Cause: err,
				}}
			}
			return Outcome{Status: task.StatusFailed, Err: &rerrors.TimeoutError{
				Operation: t.Process, Duration: timeout, Cause: err,
			}}
		}
		if ctx.Err() == context.Canceled {
			return Outcome{Status: task.StatusCancelled, Err: ctx.Err()}
		}
		return Outcome{Status: task.StatusFailed, Err: &rerrors.RemoteFailure{Process: t.Process, Message: err.Error()}}
	}

	switch result.Status {
	case remoteclient.ExecutionSucceeded:
		return Outcome{Status: task.StatusSucceeded}
	case remoteclient.ExecutionMinorErrors:
		if t.SucceedOnMinorErrors {
			return Outcome{Status: task.StatusSucceeded}
		}
		return Outcome{Status: task.StatusFailed, Err: &rerrors.RemoteFailure{Process: t.Process, Message: result.Message}}
	default:
		return Outcome{Status: task.StatusFailed, Err: &rerrors.RemoteFailure{Process: t.Process, Message: result.Message}}
	}
}
