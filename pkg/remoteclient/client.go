// Package remoteclient defines the single capability the core engine
// consumes from the outside world: invoking, cancelling, and probing
// processes on a remote analytical server, and enumerating its session
// registry and parametric member lists. The HTTP/REST protocol that
// implements this interface in production is out of scope for the core
// (spec.md §1) — only the interface is specified here.
package remoteclient

import "context"

// FailureKind classifies a Client error so the Executor can decide
// whether to retry (§4.3, §7).
type FailureKind int

const (
	// FailureUnknown is returned by adapters that cannot classify the
	// error; the Executor treats it as Fatal.
	FailureUnknown FailureKind = iota
	// FailureTransient covers connection resets, 5xx, and HTTP-layer
	// timeouts — retryable per §4.3.
	FailureTransient
	// FailureFatal covers logical/4xx failures — never retried.
	FailureFatal
)

// Error wraps a Client failure with its retry classification.
type Error struct {
	Kind    FailureKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// ExecutionStatus is the outcome signalled by the remote server for one
// invocation.
type ExecutionStatus int

const (
	ExecutionSucceeded ExecutionStatus = iota
	ExecutionMinorErrors
	ExecutionFailed
)

// ExecutionResult is what execute_process reports once the remote
// invocation has completed (or been observed to complete).
type ExecutionResult struct {
	InvocationID string
	Status       ExecutionStatus
	Message      string
}

// ProbeResult is the outcome of probe_process.
type ProbeResult int

const (
	ProbeExists ProbeResult = iota
	ProbeNotFound
)

// Session describes one entry in the remote server's session registry,
// used by ExclusiveLock to detect other runs on a shared instance.
type Session struct {
	Tag string
	ID  string
}

// Client is the narrow capability the core consumes (spec.md §6). Every
// method may fail with an *Error carrying a FailureKind; callers that
// need retry semantics should type-assert or errors.As for *Error.
type Client interface {
	// ExecuteProcess invokes a remote process and blocks (polling
	// internally, if the remote protocol requires it) until the
	// invocation reaches a terminal state or ctx is done.
	ExecuteProcess(ctx context.Context, instance, process string, parameters map[string]string, sessionTag string) (ExecutionResult, error)

	// CancelInvocation requests the remote server abandon an
	// in-flight invocation (used by cancel_at_timeout).
	CancelInvocation(ctx context.Context, instance, invocationID string) error

	// ListSessions enumerates the session registry for one instance.
	ListSessions(ctx context.Context, instance string) ([]Session, error)

	// EndSession releases a session this run opened.
	EndSession(ctx context.Context, instance, sessionID string) error

	// ExpandMembers evaluates a parametric expansion expression against
	// one instance and returns the ordered set of member names.
	ExpandMembers(ctx context.Context, instance, expression string) ([]string, error)

	// ProbeProcess checks whether a named process exists on an
	// instance, for validate_remote (§4.2).
	ProbeProcess(ctx context.Context, instance, process string) (ProbeResult, error)
}
