package executor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	rerrors "github.com/cubewise-code/rushti/pkg/errors"
	"github.com/cubewise-code/rushti/pkg/remoteclient"
	"github.com/cubewise-code/rushti/pkg/task"
)

type scriptedClient struct {
	calls       int32
	failUntil   int32
	failKind    remoteclient.FailureKind
	finalStatus remoteclient.ExecutionStatus
	sleep       time.Duration
	cancelled   int32
}

func (c *scriptedClient) ExecuteProcess(ctx context.Context, instance, process string, params map[string]string, tag string) (remoteclient.ExecutionResult, error) {
	n := atomic.AddInt32(&c.calls, 1)
	if c.sleep > 0 {
		select {
		case <-time.After(c.sleep):
		case <-ctx.Done():
			return remoteclient.ExecutionResult{}, ctx.Err()
		}
	}
	if n <= c.failUntil {
		return remoteclient.ExecutionResult{}, &remoteclient.Error{Kind: c.failKind, Message: "boom"}
	}
	return remoteclient.ExecutionResult{InvocationID: "inv-1", Status: c.finalStatus}, nil
}
func (c *scriptedClient) CancelInvocation(context.Context, string, string) error {
	atomic.AddInt32(&c.cancelled, 1)
	return nil
}
func (c *scriptedClient) ListSessions(context.Context, string) ([]remoteclient.Session, error) {
	return nil, nil
}
func (c *scriptedClient) EndSession(context.Context, string, string) error { return nil }
func (c *scriptedClient) ExpandMembers(context.Context, string, string) ([]string, error) {
	return nil, nil
}
func (c *scriptedClient) ProbeProcess(context.Context, string, string) (remoteclient.ProbeResult, error) {
	return remoteclient.ProbeExists, nil
}

func testTask() *task.Task {
	return &task.Task{ID: "t1", Instance: "i1", Process: "p", RequirePredecessorSuccess: true}
}

func TestExecutorSucceedsFirstTry(t *testing.T) {
	client := &scriptedClient{finalStatus: remoteclient.ExecutionSucceeded}
	exec := New(client, Config{BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})

	out := exec.Run(context.Background(), testTask())
	require.Equal(t, task.StatusSucceeded, out.Status)
	require.NoError(t, out.Err)
}

func TestExecutorRetriesTransientFailure(t *testing.T) {
	client := &scriptedClient{failUntil: 2, failKind: remoteclient.FailureTransient, finalStatus: remoteclient.ExecutionSucceeded}
	exec := New(client, Config{MaxRetries: 5, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})

	out := exec.Run(context.Background(), testTask())
	require.Equal(t, task.StatusSucceeded, out.Status)
	require.GreaterOrEqual(t, client.calls, int32(3))
}

func TestExecutorDoesNotRetryFatalFailure(t *testing.T) {
	client := &scriptedClient{failUntil: 10, failKind: remoteclient.FailureFatal}
	exec := New(client, Config{MaxRetries: 5, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})

	out := exec.Run(context.Background(), testTask())
	require.Equal(t, task.StatusFailed, out.Status)
	require.Equal(t, int32(1), client.calls)
}

func TestExecutorMinorErrorsRespectSucceedFlag(t *testing.T) {
	client := &scriptedClient{finalStatus: remoteclient.ExecutionMinorErrors}
	exec := New(client, Config{BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})

	tk := testTask()
	tk.SucceedOnMinorErrors = false
	out := exec.Run(context.Background(), tk)
	require.Equal(t, task.StatusFailed, out.Status)

	client2 := &scriptedClient{finalStatus: remoteclient.ExecutionMinorErrors}
	exec2 := New(client2, Config{BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
	tk.SucceedOnMinorErrors = true
	out2 := exec2.Run(context.Background(), tk)
	require.Equal(t, task.StatusSucceeded, out2.Status)
}

func TestExecutorTimeoutCancelsWhenConfigured(t *testing.T) {
	client := &scriptedClient{sleep: 100 * time.Millisecond, finalStatus: remoteclient.ExecutionSucceeded}
	exec := New(client, Config{MaxRetries: 0, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})

	tk := testTask()
	tk.TimeoutSec = 0.01
	tk.CancelAtTimeout = true

	out := exec.Run(context.Background(), tk)
	require.Equal(t, task.StatusCancelled, out.Status)
	var timeoutErr *rerrors.TimeoutError
	require.ErrorAs(t, out.Err, &timeoutErr)
	require.Equal(t, int32(1), client.cancelled)
}
