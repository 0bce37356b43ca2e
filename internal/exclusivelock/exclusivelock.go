// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package exclusivelock implements session-context-based distributed
// mutual exclusion across the remote instances a run touches (§4.6). It
// has no lock server of its own and opens no sessions: "holding the lock"
// means having observed every instance's session registry free of any
// reserved tag that conflicts with this run.
package exclusivelock

import (
	"context"
	"fmt"
	"strings"
	"time"

	rerrors "github.com/cubewise-code/rushti/pkg/errors"
	"github.com/cubewise-code/rushti/pkg/remoteclient"
)

const (
	normalPrefix    = "RUSHTI_"
	exclusivePrefix = "RUSHTIX_"
)

// Tag builds the session-context tag a run should open on each of its
// instances, per the §4.6 convention.
func Tag(workflow string, exclusive bool) string {
	if exclusive {
		return exclusivePrefix + workflow
	}
	return normalPrefix + workflow
}

// Config tunes the acquisition poll loop.
type Config struct {
	// PollInterval is how often the instance set is re-probed while
	// waiting.
	PollInterval time.Duration
	// Timeout is the hard deadline on waiting; exceeding it fails the
	// run with *rerrors.ExclusiveLockTimeout (exit code 5).
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 300 * time.Second
	}
	return c
}

// Lock holds the open sessions acquired across a set of instances so
// they can be released on every exit path, including a panic recovered
// higher up the call stack.
type Lock struct {
	client   remoteclient.Client
	sessions map[string]string // instance -> session ID
}

// Acquire waits on each instance in turn, re-probing every
// cfg.PollInterval, until none of its listed sessions carries a
// conflicting reserved tag, or cfg.Timeout elapses. It does not open a
// session: for each instance it only records the ID of a listed session
// that already carries this run's tag, for Release to end. Nothing is
// recorded for an instance before its wait ends, so while waiting every
// listed session counts, including one that carries this run's own tag.
func Acquire(ctx context.Context, client remoteclient.Client, instances []string, workflow string, exclusive bool, cfg Config) (*Lock, error) {
	cfg = cfg.withDefaults()
	myTag := Tag(workflow, exclusive)

	deadline := time.Now().Add(cfg.Timeout)
	lock := &Lock{client: client, sessions: make(map[string]string, len(instances))}

	for _, instance := range instances {
		if err := waitAndOpen(ctx, client, instance, myTag, exclusive, deadline, cfg.PollInterval, lock); err != nil {
			lock.Release(context.Background())
			return nil, err
		}
	}
	return lock, nil
}

func waitAndOpen(ctx context.Context, client remoteclient.Client, instance, myTag string, exclusive bool, deadline time.Time, pollInterval time.Duration, lock *Lock) error {
	start := time.Now()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		blocked, err := isBlocked(ctx, client, instance, exclusive, lock.sessions[instance])
		if err != nil {
			return err
		}
		if !blocked {
			id, err := openSession(ctx, client, instance, myTag)
			if err != nil {
				return err
			}
			lock.sessions[instance] = id
			return nil
		}

		if time.Now().After(deadline) {
			return &rerrors.ExclusiveLockTimeout{Instances: []string{instance}, Waited: time.Since(start)}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// isBlocked decides whether instance currently carries a conflicting
// reserved tag, per the blocking rules in §4.6:
//   - exclusive run: blocked by any RUSHTI_ or RUSHTIX_ tag.
//   - non-exclusive run: blocked only by a RUSHTIX_ tag.
//
// mySession, if non-empty, is excluded from consideration so a run
// never blocks on a session it itself already opened.
func isBlocked(ctx context.Context, client remoteclient.Client, instance string, exclusive bool, mySession string) (bool, error) {
	sessions, err := client.ListSessions(ctx, instance)
	if err != nil {
		return false, fmt.Errorf("list sessions on %s: %w", instance, err)
	}
	for _, s := range sessions {
		if s.ID == mySession {
			continue
		}
		switch {
		case strings.HasPrefix(s.Tag, exclusivePrefix):
			return true, nil
		case exclusive && strings.HasPrefix(s.Tag, normalPrefix):
			return true, nil
		}
	}
	return false, nil
}

func openSession(ctx context.Context, client remoteclient.Client, instance, tag string) (string, error) {
	// The capability interface has no explicit open_session call; a
	// session is implicitly created by the first execute_process under
	// this tag and torn down via EndSession. Probing for the tag's
	// eventual presence is the adapter's concern; here we simply record
	// the tag so Release knows what to look for if the adapter surfaces
	// a session ID via ListSessions on next probe.
	sessions, err := client.ListSessions(ctx, instance)
	if err != nil {
		return "", fmt.Errorf("list sessions on %s: %w", instance, err)
	}
	for _, s := range sessions {
		if s.Tag == tag {
			return s.ID, nil
		}
	}
	return "", nil
}

// Release ends every session Acquire recorded, on every instance,
// tolerating individual failures so one unreachable instance does not
// prevent releasing the rest (§5: exclusive-lock state is released on
// every exit path).
func (l *Lock) Release(ctx context.Context) {
	if l == nil {
		return
	}
	for instance, sessionID := range l.sessions {
		if sessionID == "" {
			continue
		}
		_ = l.client.EndSession(ctx, instance, sessionID)
	}
}
