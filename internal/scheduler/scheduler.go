// Package scheduler drives a task.DAG to completion: it maintains the
// ready set, dispatches tasks to a bounded worker pool, propagates
// predecessor outcomes, and enforces stage gating (§4.4, §5).
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cubewise-code/rushti/pkg/task"
)

// Policy selects how tied-ready tasks are prioritized within the ready
// queue (§4.4).
type Policy string

const (
	PolicyLongestFirst  Policy = "longest_first"
	PolicyShortestFirst Policy = "shortest_first"
	PolicyFIFO          Policy = "fifo"
)

// Outcome is what a Runner reports for one task invocation.
type Outcome struct {
	Status task.Status
	Err    error
}

// Runner executes one task to completion (or cancellation). The
// Executor package implements this; the scheduler only depends on the
// interface so it never needs to know about retries, timeouts, or the
// remote protocol.
type Runner interface {
	Run(ctx context.Context, t *task.Task) Outcome
}

// Options configures one scheduling run.
type Options struct {
	Policy          Policy
	MaxWorkers      int
	StageOrder      []string
	StageMaxWorkers map[string]int
	// EstimateFunc optionally supplies a duration estimate per task id,
	// used by longest_first/shortest_first ordering. Tasks with no
	// estimate sort after tasks that have one, in declaration order.
	EstimateFunc func(id string) (time.Duration, bool)
}

func (o Options) withDefaults() Options {
	if o.Policy == "" {
		o.Policy = PolicyFIFO
	}
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = 1
	}
	return o
}

// Scheduler drives one DAG to completion.
type Scheduler struct {
	dag    *task.DAG
	runner Runner
	opts   Options

	mu sync.Mutex // guards Node.Status / Node.PendingCount and stage bookkeeping

	queue     *readyQueue
	globalSem chan struct{}
	stageSems map[string]chan struct{}

	stageIndexOf    map[string]int
	currentStage    int
	stageRemaining  map[string]int
	stageWaiting    map[string][]string
	terminalRemain  int
}

// New builds a Scheduler for dag. Callers must not mutate dag
// concurrently; the Scheduler takes ownership of its Node state for the
// duration of Run.
func New(dag *task.DAG, runner Runner, opts Options) *Scheduler {
	opts = opts.withDefaults()

	s := &Scheduler{
		dag:            dag,
		runner:         runner,
		opts:           opts,
		queue:          newReadyQueue(),
		globalSem:      make(chan struct{}, opts.MaxWorkers),
		stageSems:      make(map[string]chan struct{}, len(opts.StageMaxWorkers)),
		stageIndexOf:   make(map[string]int, len(opts.StageOrder)),
		stageRemaining: make(map[string]int),
		stageWaiting:   make(map[string][]string),
		terminalRemain: len(dag.Nodes),
	}

	for i, name := range opts.StageOrder {
		s.stageIndexOf[name] = i
	}
	for stage, limit := range opts.StageMaxWorkers {
		if limit > 0 {
			s.stageSems[stage] = make(chan struct{}, limit)
		}
	}
	for _, id := range dag.Order {
		stage := dag.Nodes[id].Task.Stage
		if stage != "" {
			s.stageRemaining[stage]++
		}
	}

	return s
}

// Seed marks every id in completed as already terminal (at the given
// status) without dispatching it to the Runner, propagating pending-
// count decrements and require_predecessor_success skips to its
// successors exactly as onCompletion would. Callers use this to resume
// a run from a checkpoint (§4.5): seeded ids are skipped, everything
// downstream of them is unblocked the same way a live completion would
// unblock it. Must be called before Run. completed is walked in the
// DAG's declaration order, so a predecessor seeded earlier in the
// workflow file is processed before any successor that depends on it.
func (s *Scheduler) Seed(completed map[string]task.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.dag.Order {
		status, ok := completed[id]
		if !ok {
			continue
		}
		node := s.dag.Nodes[id]
		if node.Status != task.StatusPending {
			continue
		}
		node.Status = status
		s.terminalRemain--
		s.advanceStageLocked(node.Task.Stage)

		for _, succID := range node.Successors {
			succ := s.dag.Nodes[succID]
			succ.PendingCount--

			if status.Unsuccessful() && succ.Task.RequirePredecessorSuccess {
				if succ.Status == task.StatusPending {
					succ.Status = task.StatusSkipped
					s.terminalRemain--
					s.advanceStageLocked(succ.Task.Stage)
					s.cascadeSkipLocked(succID)
				}
				continue
			}
			if succ.PendingCount == 0 && succ.Status == task.StatusPending {
				s.markPendingReady(succID)
			}
		}
	}
}

// Run dispatches tasks until every node reaches a terminal state or ctx
// is cancelled. It returns ctx.Err() if cancelled before completion.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	for _, id := range s.dag.Roots() {
		if s.dag.Nodes[id].Status == task.StatusPending {
			s.markPendingReady(id)
		}
	}
	s.mu.Unlock()

	completions := make(chan string, len(s.dag.Nodes))
	inFlight := 0

	for {
		s.mu.Lock()
		finished := s.terminalRemain == 0
		s.mu.Unlock()
		if finished {
			return nil
		}

		dispatched := s.dispatchReady(ctx, completions)
		inFlight += dispatched

		if inFlight == 0 && s.queue.Len() == 0 {
			// Nothing in flight and nothing ready: either done (checked
			// above) or the graph is stuck waiting on a stage that will
			// never advance. Block on ctx/completions only; a prior
			// Validator pass guarantees no cycles, so this only occurs
			// if every remaining task is stage-gated behind a stage with
			// zero remaining runnable members, which ValidateStructural
			// plus stage-order consistency at config time should prevent.
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case id := <-completions:
			inFlight--
			s.onCompletion(id)
		}
	}
}

// dispatchReady pops as many ready tasks as the global and stage
// semaphores allow and starts them, returning how many were started.
func (s *Scheduler) dispatchReady(ctx context.Context, completions chan<- string) int {
	started := 0
	for {
		select {
		case s.globalSem <- struct{}{}:
		default:
			return started
		}

		id, ok := s.queue.Pop()
		if !ok {
			<-s.globalSem
			return started
		}

		stage := s.dag.Nodes[id].Task.Stage
		var stageSem chan struct{}
		if sem, hasCap := s.stageSems[stage]; hasCap {
			select {
			case sem <- struct{}{}:
				stageSem = sem
			default:
				// Stage at capacity: put the task back and stop
				// dispatching (next completion will retry it).
				s.queue.Push(id, s.priorityFor(id))
				<-s.globalSem
				return started
			}
		}

		started++
		s.mu.Lock()
		s.dag.Nodes[id].Status = task.StatusRunning
		s.dag.Nodes[id].StartedAt = time.Now().UnixNano()
		s.mu.Unlock()

		go func(id string, stageSem chan struct{}) {
			defer func() {
				<-s.globalSem
				if stageSem != nil {
					<-stageSem
				}
			}()
			outcome := s.runner.Run(ctx, s.dag.Nodes[id].Task)
			s.mu.Lock()
			s.dag.Nodes[id].Status = outcome.Status
			s.dag.Nodes[id].FinishedAt = time.Now().UnixNano()
			s.mu.Unlock()
			completions <- id
		}(id, stageSem)
	}
}

// onCompletion updates successor pending counts, propagates
// require_predecessor_success skips, advances stage gating, and enqueues
// newly-ready tasks.
func (s *Scheduler) onCompletion(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node := s.dag.Nodes[id]
	s.terminalRemain--
	s.advanceStageLocked(node.Task.Stage)

	for _, succID := range node.Successors {
		succ := s.dag.Nodes[succID]
		succ.PendingCount--

		if node.Status.Unsuccessful() && succ.Task.RequirePredecessorSuccess {
			if succ.Status == task.StatusPending {
				succ.Status = task.StatusSkipped
				s.terminalRemain--
				s.advanceStageLocked(succ.Task.Stage)
				// A skip must itself propagate to its own successors.
				s.cascadeSkipLocked(succID)
			}
			continue
		}

		if succ.PendingCount == 0 && succ.Status == task.StatusPending {
			s.markPendingReady(succID)
		}
	}
}

// cascadeSkipLocked propagates a skip through every downstream
// successor that requires predecessor success, recursively. Caller
// holds s.mu.
func (s *Scheduler) cascadeSkipLocked(id string) {
	node := s.dag.Nodes[id]
	for _, succID := range node.Successors {
		succ := s.dag.Nodes[succID]
		succ.PendingCount--
		if succ.Task.RequirePredecessorSuccess && succ.Status == task.StatusPending {
			succ.Status = task.StatusSkipped
			s.terminalRemain--
			s.advanceStageLocked(succ.Task.Stage)
			s.cascadeSkipLocked(succID)
		} else if succ.PendingCount == 0 && succ.Status == task.StatusPending {
			s.markPendingReady(succID)
		}
	}
}

// markPendingReady marks id READY and enqueues it if its stage is
// currently open, or parks it in the stage's waiting bucket otherwise.
// Caller holds s.mu.
func (s *Scheduler) markPendingReady(id string) {
	node := s.dag.Nodes[id]
	node.Status = task.StatusReady

	stage := node.Task.Stage
	if stage == "" || s.stageOpenLocked(stage) {
		s.queue.Push(id, s.priorityFor(id))
		return
	}
	s.stageWaiting[stage] = append(s.stageWaiting[stage], id)
}

func (s *Scheduler) stageOpenLocked(stage string) bool {
	idx, known := s.stageIndexOf[stage]
	if !known {
		return true
	}
	return idx <= s.currentStage
}

// advanceStageLocked decrements the finishing task's stage counter and,
// while the current stage has no tasks left, opens the next stage and
// flushes its waiting bucket into the ready queue.
func (s *Scheduler) advanceStageLocked(stage string) {
	if stage != "" {
		s.stageRemaining[stage]--
	}
	for s.currentStage < len(s.opts.StageOrder) {
		name := s.opts.StageOrder[s.currentStage]
		if s.stageRemaining[name] > 0 {
			return
		}
		s.currentStage++
		if s.currentStage < len(s.opts.StageOrder) {
			next := s.opts.StageOrder[s.currentStage]
			for _, id := range s.stageWaiting[next] {
				s.queue.Push(id, s.priorityFor(id))
			}
			delete(s.stageWaiting, next)
		}
	}
}

// priorityFor computes the ready-queue key for id per the configured
// ordering policy: FIFO breaks ties by declaration order (negated, so
// earliest declared pops first); longest/shortest_first rank by
// estimated duration when available, falling back to FIFO order.
func (s *Scheduler) priorityFor(id string) float64 {
	t := s.dag.Nodes[id].Task
	fifoKey := -float64(t.DeclOrder)

	if s.opts.Policy == PolicyFIFO || s.opts.EstimateFunc == nil {
		return fifoKey
	}

	d, ok := s.opts.EstimateFunc(id)
	if !ok {
		return fifoKey - 1e12 // sort after every estimated task
	}

	switch s.opts.Policy {
	case PolicyLongestFirst:
		return d.Seconds()
	case PolicyShortestFirst:
		return -d.Seconds()
	default:
		return fifoKey
	}
}
