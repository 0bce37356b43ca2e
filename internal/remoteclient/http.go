// Package remoteclient is the production adapter for
// pkg/remoteclient.Client: it talks to the remote analytical server's
// HTTP/REST protocol (out of core scope per spec.md §1) and classifies
// failures into the Transient/Fatal split the Executor's retry loop
// depends on, the way the teacher's internal/connector/http connector
// builds its own *http.Client and the retry classification in
// pkg/httpclient/retry.go inspects net.Error / url.Error / status
// codes.
package remoteclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	rc "github.com/cubewise-code/rushti/pkg/remoteclient"
)

// Config tunes the HTTP adapter.
type Config struct {
	// BaseURL is the remote server's API root, e.g. "https://tm1.example.com:8080".
	BaseURL string
	// Timeout bounds a single HTTP round trip (not the whole
	// execute_process poll loop, which is bounded by the caller's ctx).
	Timeout time.Duration
	// MaxResponseBytes caps how much of a response body is read.
	MaxResponseBytes int64
	// RequestsPerSecond, if positive, caps outbound request rate per
	// instance via golang.org/x/time/rate, matching the teacher's
	// RateLimitConfig-backed integrations.
	RequestsPerSecond float64
	// PollInterval controls how often ExecuteProcess polls a
	// long-running remote invocation for completion.
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxResponseBytes <= 0 {
		c.MaxResponseBytes = 10 * 1024 * 1024
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	return c
}

// Adapter implements pkg/remoteclient.Client over HTTP.
type Adapter struct {
	cfg    Config
	client *http.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New builds an Adapter. Its transport's DialContext is a plain
// timeout-bounded dialer with no further security checks, since the
// core has no secrets/sandboxing concerns of its own (spec.md §1 scope).
func New(cfg Config) *Adapter {
	cfg = cfg.withDefaults()
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	return &Adapter{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext:           dialer.DialContext,
				MaxIdleConnsPerHost:   16,
				ResponseHeaderTimeout: cfg.Timeout,
			},
		},
		limiters: make(map[string]*rate.Limiter),
	}
}

func (a *Adapter) limiterFor(instance string) *rate.Limiter {
	if a.cfg.RequestsPerSecond <= 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.limiters[instance]
	if !ok {
		l = rate.NewLimiter(rate.Limit(a.cfg.RequestsPerSecond), 1)
		a.limiters[instance] = l
	}
	return l
}

func (a *Adapter) do(ctx context.Context, instance, method, path string, body any) (*http.Response, error) {
	if l := a.limiterFor(instance); l != nil {
		if err := l.Wait(ctx); err != nil {
			return nil, &rc.Error{Kind: rc.FailureFatal, Message: "rate limiter wait", Cause: err}
		}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, &rc.Error{Kind: rc.FailureFatal, Message: "encode request body", Cause: err}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, &rc.Error{Kind: rc.FailureFatal, Message: "build request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &rc.Error{Kind: classifyErr(err), Message: "http request", Cause: err}
	}
	return resp, nil
}

// classifyErr maps a transport-level error to a FailureKind using the
// same net.Error / url.Error inspection the teacher's retry transport
// uses (pkg/httpclient/retry.go isRetryableError).
func classifyErr(err error) rc.FailureKind {
	if err == nil {
		return rc.FailureUnknown
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return rc.FailureFatal
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return rc.FailureTransient
		}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return classifyErr(urlErr.Err)
	}

	msg := strings.ToLower(err.Error())
	for _, kw := range []string{"connection refused", "connection reset", "no such host", "network unreachable", "eof", "broken pipe"} {
		if strings.Contains(msg, kw) {
			return rc.FailureTransient
		}
	}
	return rc.FailureFatal
}

// classifyStatus maps an HTTP status code to a FailureKind, matching
// the teacher's shouldRetryStatus policy (5xx, 408, 429 retryable).
func classifyStatus(code int) rc.FailureKind {
	switch {
	case code >= 500 && code < 600:
		return rc.FailureTransient
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return rc.FailureTransient
	case code >= 200 && code < 300:
		return rc.FailureUnknown // not a failure
	default:
		return rc.FailureFatal
	}
}

func readBody(resp *http.Response, limit int64) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(io.LimitReader(resp.Body, limit))
}

type executeRequest struct {
	Process    string            `json:"process"`
	Parameters map[string]string `json:"parameters"`
	SessionTag string            `json:"session_tag,omitempty"`
}

type executeResponse struct {
	InvocationID string `json:"invocation_id"`
	Status       string `json:"status"` // "ok" | "minor_errors" | "failed" | "running"
	Message      string `json:"message,omitempty"`
}

// ExecuteProcess submits the invocation and polls until the remote
// server reports a terminal status or ctx is done, per spec.md §6
// ("execute_process ... blocks until the invocation reaches a terminal
// state or ctx is done").
func (a *Adapter) ExecuteProcess(ctx context.Context, instance, process string, parameters map[string]string, sessionTag string) (rc.ExecutionResult, error) {
	resp, err := a.do(ctx, instance, http.MethodPost, fmt.Sprintf("/instances/%s/execute", instance), executeRequest{
		Process: process, Parameters: parameters, SessionTag: sessionTag,
	})
	if err != nil {
		return rc.ExecutionResult{}, err
	}
	if resp.StatusCode >= 300 {
		kind := classifyStatus(resp.StatusCode)
		body, _ := readBody(resp, a.cfg.MaxResponseBytes)
		return rc.ExecutionResult{}, &rc.Error{Kind: kind, Message: fmt.Sprintf("execute_process status %d: %s", resp.StatusCode, string(body))}
	}

	body, err := readBody(resp, a.cfg.MaxResponseBytes)
	if err != nil {
		return rc.ExecutionResult{}, &rc.Error{Kind: rc.FailureTransient, Message: "read execute_process response", Cause: err}
	}
	var er executeResponse
	if err := json.Unmarshal(body, &er); err != nil {
		return rc.ExecutionResult{}, &rc.Error{Kind: rc.FailureFatal, Message: "decode execute_process response", Cause: err}
	}

	for er.Status == "running" {
		select {
		case <-ctx.Done():
			return rc.ExecutionResult{InvocationID: er.InvocationID}, ctx.Err()
		case <-time.After(a.cfg.PollInterval):
		}
		status, err := a.pollStatus(ctx, instance, er.InvocationID)
		if err != nil {
			return rc.ExecutionResult{InvocationID: er.InvocationID}, err
		}
		er = status
	}

	return toExecutionResult(er), nil
}

func (a *Adapter) pollStatus(ctx context.Context, instance, invocationID string) (executeResponse, error) {
	resp, err := a.do(ctx, instance, http.MethodGet, fmt.Sprintf("/instances/%s/invocations/%s", instance, invocationID), nil)
	if err != nil {
		return executeResponse{}, err
	}
	if resp.StatusCode >= 300 {
		kind := classifyStatus(resp.StatusCode)
		body, _ := readBody(resp, a.cfg.MaxResponseBytes)
		return executeResponse{}, &rc.Error{Kind: kind, Message: fmt.Sprintf("poll status %d: %s", resp.StatusCode, string(body))}
	}
	body, err := readBody(resp, a.cfg.MaxResponseBytes)
	if err != nil {
		return executeResponse{}, &rc.Error{Kind: rc.FailureTransient, Message: "read poll response", Cause: err}
	}
	var er executeResponse
	if err := json.Unmarshal(body, &er); err != nil {
		return executeResponse{}, &rc.Error{Kind: rc.FailureFatal, Message: "decode poll response", Cause: err}
	}
	return er, nil
}

func toExecutionResult(er executeResponse) rc.ExecutionResult {
	status := rc.ExecutionFailed
	switch er.Status {
	case "ok", "success", "succeeded":
		status = rc.ExecutionSucceeded
	case "minor_errors":
		status = rc.ExecutionMinorErrors
	}
	return rc.ExecutionResult{InvocationID: er.InvocationID, Status: status, Message: er.Message}
}

// CancelInvocation requests the remote server abandon an in-flight
// invocation (cancel_at_timeout, §4.3).
func (a *Adapter) CancelInvocation(ctx context.Context, instance, invocationID string) error {
	if invocationID == "" {
		return nil
	}
	resp, err := a.do(ctx, instance, http.MethodPost, fmt.Sprintf("/instances/%s/invocations/%s/cancel", instance, invocationID), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &rc.Error{Kind: classifyStatus(resp.StatusCode), Message: fmt.Sprintf("cancel_invocation status %d", resp.StatusCode)}
	}
	return nil
}

type sessionWire struct {
	Tag string `json:"tag"`
	ID  string `json:"id"`
}

// ListSessions enumerates an instance's session registry, used by
// ExclusiveLock to detect overlapping runs (§4.6).
func (a *Adapter) ListSessions(ctx context.Context, instance string) ([]rc.Session, error) {
	resp, err := a.do(ctx, instance, http.MethodGet, fmt.Sprintf("/instances/%s/sessions", instance), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, &rc.Error{Kind: classifyStatus(resp.StatusCode), Message: fmt.Sprintf("list_sessions status %d", resp.StatusCode)}
	}
	body, err := readBody(resp, a.cfg.MaxResponseBytes)
	if err != nil {
		return nil, &rc.Error{Kind: rc.FailureTransient, Message: "read list_sessions response", Cause: err}
	}
	var wire []sessionWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &rc.Error{Kind: rc.FailureFatal, Message: "decode list_sessions response", Cause: err}
	}
	out := make([]rc.Session, len(wire))
	for i, w := range wire {
		out[i] = rc.Session{Tag: w.Tag, ID: w.ID}
	}
	return out, nil
}

// EndSession releases a session this run opened.
func (a *Adapter) EndSession(ctx context.Context, instance, sessionID string) error {
	resp, err := a.do(ctx, instance, http.MethodDelete, fmt.Sprintf("/instances/%s/sessions/%s", instance, sessionID), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &rc.Error{Kind: classifyStatus(resp.StatusCode), Message: fmt.Sprintf("end_session status %d", resp.StatusCode)}
	}
	return nil
}

// ExpandMembers evaluates a parametric expansion expression against an
// instance (§4.1 parametric expansion protocol).
func (a *Adapter) ExpandMembers(ctx context.Context, instance, expression string) ([]string, error) {
	resp, err := a.do(ctx, instance, http.MethodGet, fmt.Sprintf("/instances/%s/expand?expr=%s", instance, url.QueryEscape(expression)), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, &rc.Error{Kind: classifyStatus(resp.StatusCode), Message: fmt.Sprintf("expand_members status %d", resp.StatusCode)}
	}
	body, err := readBody(resp, a.cfg.MaxResponseBytes)
	if err != nil {
		return nil, &rc.Error{Kind: rc.FailureTransient, Message: "read expand_members response", Cause: err}
	}
	var members []string
	if err := json.Unmarshal(body, &members); err != nil {
		return nil, &rc.Error{Kind: rc.FailureFatal, Message: "decode expand_members response", Cause: err}
	}
	return members, nil
}

// ProbeProcess checks whether a named process exists on an instance
// (validate_remote, §4.2).
func (a *Adapter) ProbeProcess(ctx context.Context, instance, process string) (rc.ProbeResult, error) {
	resp, err := a.do(ctx, instance, http.MethodGet, fmt.Sprintf("/instances/%s/processes/%s", instance, url.PathEscape(process)), nil)
	if err != nil {
		return rc.ProbeNotFound, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return rc.ProbeNotFound, nil
	}
	if resp.StatusCode >= 300 {
		return rc.ProbeNotFound, &rc.Error{Kind: classifyStatus(resp.StatusCode), Message: fmt.Sprintf("probe_process status %d", resp.StatusCode)}
	}
	return rc.ProbeExists, nil
}

var _ rc.Client = (*Adapter)(nil)
