package validator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	rerrors "github.com/cubewise-code/rushti/pkg/errors"
	"github.com/cubewise-code/rushti/pkg/remoteclient"
	"github.com/cubewise-code/rushti/pkg/task"
)

// probeKey deduplicates (instance, process) pairs so a process used by
// many tasks is only probed once.
type probeKey struct{ instance, process string }

// ValidateRemote probes every distinct (instance, process) pair
// referenced by dag against client, bounded by maxConcurrency
// simultaneous probes (§4.2: "remote validation batches probes rather
// than issuing one per task"). It returns a ValidationError naming every
// process that does not exist, sorted for deterministic output.
func ValidateRemote(ctx context.Context, client remoteclient.Client, dag *task.DAG, maxConcurrency int) error {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	keys := make(map[probeKey]struct{})
	for _, id := range dag.Order {
		t := dag.Nodes[id].Task
		keys[probeKey{instance: t.Instance, process: t.Process}] = struct{}{}
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, maxConcurrency)

	var mu sync.Mutex
	var missing []string

	for k := range keys {
		k := k
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			result, err := client.ProbeProcess(gctx, k.instance, k.process)
			if err != nil {
				return err
			}
			if result == remoteclient.ProbeNotFound {
				mu.Lock()
				missing = append(missing, fmt.Sprintf("%s/%s", k.instance, k.process))
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return &rerrors.ValidationError{
		Field:      "process",
		Message:    fmt.Sprintf("process(es) not found on remote: %v", missing),
		Suggestion: "check instance/process spelling or run without --validate-remote",
	}
}
