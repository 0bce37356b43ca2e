// Package validator checks a parsed workflow for structural soundness
// (duplicate ids, dangling predecessors, cycles) before any remote
// probing or scheduling begins, and for remote soundness (referenced
// processes actually exist on their instances) via batched probes
// (§4.2).
package validator

import (
	"sort"

	rerrors "github.com/cubewise-code/rushti/pkg/errors"
	"github.com/cubewise-code/rushti/pkg/task"
)

// ValidateStructural checks tasks for duplicate ids and dangling
// predecessor references, then builds the DAG and runs a Kahn pass to
// confirm it is acyclic. It returns the first error found; duplicate-id
// and dangling-predecessor checks run before cycle detection because a
// cycle check over a malformed graph is meaningless.
func ValidateStructural(tasks []*task.Task) (*task.DAG, error) {
	seen := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		if _, dup := seen[t.ID]; dup {
			return nil, &rerrors.DuplicateIDError{ID: t.ID}
		}
		seen[t.ID] = struct{}{}
	}

	for _, t := range tasks {
		for _, pred := range t.Predecessors {
			if _, ok := seen[pred]; !ok {
				return nil, &rerrors.MissingPredecessorError{TaskID: t.ID, PredecessorID: pred}
			}
		}
	}

	dag := task.New(tasks)

	if cyc := findCycle(dag); cyc != nil {
		return nil, &rerrors.CycleError{Cycle: cyc}
	}

	return dag, nil
}

// findCycle runs Kahn's algorithm over dag and, if any nodes remain
// unprocessed once the queue drains, returns their ids (sorted, for
// deterministic error messages) as the cycle membership.
func findCycle(dag *task.DAG) []string {
	indegree := make(map[string]int, len(dag.Nodes))
	for id, n := range dag.Nodes {
		indegree[id] = len(n.Task.Predecessors)
	}

	var queue []string
	for _, id := range dag.Order {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++

		succs := append([]string(nil), dag.Nodes[id].Successors...)
		sort.Strings(succs)
		for _, s := range succs {
			indegree[s]--
			if indegree[s] == 0 {
				queue = append(queue, s)
			}
		}
	}

	if processed == len(dag.Nodes) {
		return nil
	}

	var remaining []string
	for id, deg := range indegree {
		if deg > 0 {
			remaining = append(remaining, id)
		}
	}
	sort.Strings(remaining)
	return remaining
}
