// Package contention analyzes historical per-signature durations to
// find which task parameter drives contention on a shared instance,
// flags unusually heavy task groups, and recommends scheduling
// adjustments and worker counts (§4.7 sweet-spot analysis).
package contention

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/expr-lang/expr"

	"github.com/cubewise-code/rushti/internal/stats"
	"github.com/cubewise-code/rushti/pkg/task"
)

// Edge is a suggested additional predecessor edge: Before should run
// ahead of After because its group was found contention-heavy.
type Edge struct {
	Before string
	After  string
}

// Report is the result of one contention analysis pass.
type Report struct {
	// Driver is the parameter name found to maximize inter-group
	// duration range, or "" if no parameter produced more than one
	// group.
	Driver string
	// GroupMeans maps each value of Driver to its mean duration, in
	// milliseconds.
	GroupMeans map[string]float64
	// HeavyValues lists Driver values whose mean duration exceeds the
	// IQR upper fence across all groups.
	HeavyValues []string
	// Edges are suggested additional predecessor edges chaining heavy
	// groups in descending-mean order. Populated only when Fallback is
	// false.
	Edges []Edge
	// Chains is the fan-out count: the number of parallel chains formed
	// by the heavy-group edges once non-driver parameter variation is
	// respected.
	Chains int
	// LightWorkSeconds is the total mean duration, in seconds, of tasks
	// outside any heavy group.
	LightWorkSeconds float64
	// ChainDurationSeconds is the critical-path duration, in seconds, of
	// one heavy chain (the sum of its groups' mean durations).
	ChainDurationSeconds float64
	// CurrentMaxWorkers is the caller-supplied worker count the
	// recommendation is compared against, or 0 if not supplied.
	CurrentMaxWorkers int
	// RecommendedWorkers is the sweet-spot worker count from historical
	// wall-clock data when enough history exists, else the step-5
	// chains+light-work formula.
	RecommendedWorkers int
	// Direction is "up" or "down" relative to CurrentMaxWorkers, or ""
	// when CurrentMaxWorkers was not supplied or already matches.
	Direction string
	// Fallback is true when no driver or fewer than two heavy groups
	// were found: no edges are recommended, and FallbackOrder gives the
	// pure longest_first task ordering instead (§4.7 step 7).
	Fallback bool
	// FallbackOrder is the task id order recommended when Fallback is
	// true: descending mean duration, unknown-duration tasks last,
	// ties broken by declaration order.
	FallbackOrder []string
}

// Config tunes the analyzer.
type Config struct {
	// LookbackRuns bounds how many historical executions/runs are
	// fetched per signature/workflow when computing group means and the
	// multi-run worker sweet spot.
	LookbackRuns int
	// DriverExpression, if set, is an expr-lang expression evaluated
	// per candidate parameter name (bound as `name`) that must return
	// true for the parameter to be considered as a contention driver
	// candidate at all. Empty means every parameter is a candidate.
	DriverExpression string
	// K is the IQR fence sensitivity: fence = Q3 + K*IQR. Default 10.
	K float64
}

func (c Config) withDefaults() Config {
	if c.LookbackRuns <= 0 {
		c.LookbackRuns = 20
	}
	if c.K <= 0 {
		c.K = 10
	}
	return c
}

// Analyzer computes Reports from historical execution data.
type Analyzer struct {
	store *stats.Store
	cfg   Config
}

// New builds an Analyzer backed by store.
func New(store *stats.Store, cfg Config) *Analyzer {
	return &Analyzer{store: store, cfg: cfg.withDefaults()}
}

// Analyze inspects every task sharing dag's tasks' processes, groups
// their historical mean durations by each candidate parameter name,
// picks the parameter maximizing inter-group duration range as the
// contention driver, and recommends chaining edges and a worker count
// (§4.7 steps 1-7). workflow and currentMaxWorkers are used only for
// the step-6 multi-run sweet-spot comparison; workflow may be "" and
// currentMaxWorkers may be 0 if unknown, in which case the step-5
// formula and no Direction are reported.
func (a *Analyzer) Analyze(ctx context.Context, dag *task.DAG, workflow string, currentMaxWorkers int) (*Report, error) {
	candidates := candidateParamNames(dag, a.cfg.DriverExpression)

	meanDurations := make(map[string]float64, len(dag.Nodes))
	for _, id := range dag.Order {
		t := dag.Nodes[id].Task
		samples, err := a.store.Recent(ctx, t.Signature(), a.cfg.LookbackRuns)
		if err != nil {
			return nil, err
		}
		if len(samples) == 0 {
			continue
		}
		var sum float64
		for _, s := range samples {
			sum += float64(s.DurationMs)
		}
		meanDurations[id] = sum / float64(len(samples))
	}

	report := &Report{CurrentMaxWorkers: currentMaxWorkers}
	bestRange := -1.0

	for _, name := range candidates {
		groups := groupMeansByParam(dag, meanDurations, name)
		if len(groups) < 2 {
			continue
		}
		lo, hi := math.MaxFloat64, -math.MaxFloat64
		for _, m := range groups {
			if m < lo {
				lo = m
			}
			if m > hi {
				hi = m
			}
		}
		if r := hi - lo; r > bestRange {
			bestRange = r
			report.Driver = name
			report.GroupMeans = groups
		}
	}

	if report.Driver != "" {
		report.HeavyValues = heavyFences(report.GroupMeans, a.cfg.K)
	}

	heavy := make(map[string]struct{}, len(report.HeavyValues))
	for _, v := range report.HeavyValues {
		heavy[v] = struct{}{}
	}

	if len(report.HeavyValues) >= 2 {
		report.Edges = buildEdges(dag, report.Driver, report.GroupMeans, report.HeavyValues)
		report.Chains = countChains(dag, report.Driver, heavy)
		for _, v := range report.HeavyValues {
			report.ChainDurationSeconds += report.GroupMeans[v] / 1000
		}
		for _, id := range dag.Order {
			mean, ok := meanDurations[id]
			if !ok {
				continue
			}
			if v, has := dag.Nodes[id].Task.ParamMap()[report.Driver]; has {
				if _, isHeavy := heavy[v]; isHeavy {
					continue
				}
			}
			report.LightWorkSeconds += mean / 1000
		}
	} else {
		// Step 7: no driver, or only one heavy group — fall back to a
		// pure longest_first reorder with no added edges.
		report.Fallback = true
		report.Chains = 1
		report.FallbackOrder = longestFirstOrder(dag, meanDurations)
		for _, mean := range meanDurations {
			report.LightWorkSeconds += mean / 1000
		}
	}

	formulaWorkers := report.Chains
	if report.ChainDurationSeconds > 0 {
		formulaWorkers += int(math.Ceil(report.LightWorkSeconds / report.ChainDurationSeconds))
	} else if report.LightWorkSeconds > 0 {
		formulaWorkers++
	}
	if formulaWorkers < 1 {
		formulaWorkers = 1
	}

	report.RecommendedWorkers = formulaWorkers
	sweetSpot, ok, err := a.sweetSpotWorkers(ctx, workflow)
	if err != nil {
		return nil, err
	}
	if ok {
		report.RecommendedWorkers = sweetSpot
	}

	if currentMaxWorkers > 0 {
		switch {
		case currentMaxWorkers > report.RecommendedWorkers:
			report.Direction = "down"
		case currentMaxWorkers < report.RecommendedWorkers:
			report.Direction = "up"
		}
	}

	return report, nil
}

// candidateParamNames collects every distinct parameter name present
// across dag's tasks, optionally filtered by a DriverExpression
// evaluated per name (bound as `name`, an expr-lang boolean
// expression — see pkg/expr-lang/expr usage in contention_test.go for
// an example such as `name != "region"`).
func candidateParamNames(dag *task.DAG, filterExpr string) []string {
	seen := make(map[string]struct{})
	for _, id := range dag.Order {
		for _, p := range dag.Nodes[id].Task.Parameters {
			seen[p.Name] = struct{}{}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		if filterExpr != "" {
			ok, err := evalNameFilter(filterExpr, name)
			if err != nil || !ok {
				continue
			}
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func evalNameFilter(filterExpr, name string) (bool, error) {
	program, err := expr.Compile(filterExpr, expr.Env(map[string]interface{}{"name": ""}), expr.AsBool())
	if err != nil {
		return false, err
	}
	out, err := expr.Run(program, map[string]interface{}{"name": name})
	if err != nil {
		return false, err
	}
	b, _ := out.(bool)
	return b, nil
}

func groupMeansByParam(dag *task.DAG, meanDurations map[string]float64, paramName string) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)

	for _, id := range dag.Order {
		mean, ok := meanDurations[id]
		if !ok {
			continue
		}
		value, has := dag.Nodes[id].Task.ParamMap()[paramName]
		if !has {
			continue
		}
		sums[value] += mean
		counts[value]++
	}

	out := make(map[string]float64, len(sums))
	for value, sum := range sums {
		out[value] = sum / float64(counts[value])
	}
	return out
}

// heavyFences returns the group values whose mean exceeds the upper
// fence Q3 + k*IQR over all group means (§4.7 step 3).
func heavyFences(groupMeans map[string]float64, k float64) []string {
	values := make([]float64, 0, len(groupMeans))
	for _, v := range groupMeans {
		values = append(values, v)
	}
	sort.Float64s(values)

	if len(values) < 2 {
		return nil
	}

	q1 := percentile(values, 0.25)
	q3 := percentile(values, 0.75)
	iqr := q3 - q1
	upperFence := q3 + k*iqr

	var heavy []string
	for value, mean := range groupMeans {
		if mean > upperFence {
			heavy = append(heavy, value)
		}
	}
	sort.Strings(heavy)
	return heavy
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := p * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// fanOutKey identifies a task's position across non-driver parameter
// dimensions (plus instance/stage), so chaining heavy groups together
// links matching fan-out branches rather than collapsing them.
func fanOutKey(t *task.Task, driver string) string {
	var b strings.Builder
	b.WriteString(t.Instance)
	b.WriteByte('|')
	b.WriteString(t.Stage)

	values := t.ParamMap()
	names := make([]string, 0, len(t.Parameters))
	for _, p := range t.Parameters {
		if p.Name == driver {
			continue
		}
		names = append(names, p.Name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.WriteByte('|')
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(values[name])
	}
	return b.String()
}

func tasksWithDriverValue(dag *task.DAG, driver, value string) []string {
	var ids []string
	for _, id := range dag.Order {
		if v, ok := dag.Nodes[id].Task.ParamMap()[driver]; ok && v == value {
			ids = append(ids, id)
		}
	}
	return ids
}

// buildEdges sorts heavy groups by mean duration descending and adds a
// predecessor edge from every task in heavy group Hi to every task in
// Hi+1 that shares the same fan-out key, so parallelism along
// non-driver dimensions is preserved instead of collapsed into a single
// chain (§4.7 step 4). Requires at least two heavy groups; callers must
// check that before calling.
func buildEdges(dag *task.DAG, driver string, groupMeans map[string]float64, heavyValues []string) []Edge {
	sorted := append([]string(nil), heavyValues...)
	sort.Slice(sorted, func(i, j int) bool {
		return groupMeans[sorted[i]] > groupMeans[sorted[j]]
	})

	var edges []Edge
	for i := 0; i < len(sorted)-1; i++ {
		before := tasksWithDriverValue(dag, driver, sorted[i])
		after := tasksWithDriverValue(dag, driver, sorted[i+1])

		afterByKey := make(map[string][]string, len(after))
		for _, id := range after {
			key := fanOutKey(dag.Nodes[id].Task, driver)
			afterByKey[key] = append(afterByKey[key], id)
		}

		for _, beforeID := range before {
			key := fanOutKey(dag.Nodes[beforeID].Task, driver)
			for _, afterID := range afterByKey[key] {
				if _, already := dag.Nodes[afterID].Task.PredecessorSet()[beforeID]; already {
					continue
				}
				edges = append(edges, Edge{Before: beforeID, After: afterID})
			}
		}
	}
	return edges
}

// countChains counts the distinct fan-out keys among heavy-group tasks:
// the number of parallel chains the heavy-group edges form.
func countChains(dag *task.DAG, driver string, heavy map[string]struct{}) int {
	keys := make(map[string]struct{})
	for _, id := range dag.Order {
		t := dag.Nodes[id].Task
		v, ok := t.ParamMap()[driver]
		if !ok {
			continue
		}
		if _, isHeavy := heavy[v]; !isHeavy {
			continue
		}
		keys[fanOutKey(t, driver)] = struct{}{}
	}
	if len(keys) == 0 {
		return 1
	}
	return len(keys)
}

// longestFirstOrder sorts dag ids by descending mean duration, unknown
// durations last, ties broken by declaration order — the ordering
// `analyze` materializes when falling back per §4.7 step 7.
func longestFirstOrder(dag *task.DAG, meanDurations map[string]float64) []string {
	ids := append([]string(nil), dag.Order...)
	sort.SliceStable(ids, func(i, j int) bool {
		di, hasI := meanDurations[ids[i]]
		dj, hasJ := meanDurations[ids[j]]
		if hasI != hasJ {
			return hasI
		}
		if hasI && di != dj {
			return di > dj
		}
		return dag.Nodes[ids[i]].Task.DeclOrder < dag.Nodes[ids[j]].Task.DeclOrder
	})
	return ids
}

// ApplyEdges rewrites each After task's Predecessors to include its
// paired Before task, mutating the DAG's tasks in place. Used by the
// `analyze` command to materialize a Report's recommendations into a
// rewritten workflow file (§4.7 step 4).
func ApplyEdges(dag *task.DAG, edges []Edge) {
	for _, e := range edges {
		node, ok := dag.Nodes[e.After]
		if !ok {
			continue
		}
		if _, already := node.Task.PredecessorSet()[e.Before]; already {
			continue
		}
		node.Task.Predecessors = append(node.Task.Predecessors, e.Before)
	}
}

// ApplyOrder reorders dag.Order to match order, used by the `analyze`
// command to materialize the longest_first fallback (§4.7 step 7).
func ApplyOrder(dag *task.DAG, order []string) {
	dag.Order = append([]string(nil), order...)
}

// sweetSpotWorkers examines recent runs of workflow at varying
// max_workers and returns the fewest workers within 10% of the fastest
// observed wall-clock time (§4.7 step 6). ok is false when workflow is
// unknown or fewer than two distinct worker counts have history.
func (a *Analyzer) sweetSpotWorkers(ctx context.Context, workflow string) (int, bool, error) {
	if workflow == "" {
		return 0, false, nil
	}
	runs, err := a.store.RecentRuns(ctx, workflow, a.cfg.LookbackRuns)
	if err != nil {
		return 0, false, err
	}

	type sample struct {
		workers   int
		wallClock time.Duration
	}
	var samples []sample
	distinct := make(map[int]struct{})
	for _, r := range runs {
		if r.MaxWorkers <= 0 {
			continue
		}
		wc := r.FinishedAt.Sub(r.StartedAt)
		if wc <= 0 {
			continue
		}
		samples = append(samples, sample{workers: r.MaxWorkers, wallClock: wc})
		distinct[r.MaxWorkers] = struct{}{}
	}
	if len(samples) == 0 || len(distinct) < 2 {
		return 0, false, nil
	}

	fastest := samples[0].wallClock
	for _, s := range samples {
		if s.wallClock < fastest {
			fastest = s.wallClock
		}
	}
	threshold := time.Duration(float64(fastest) * 1.1)

	best := 0
	found := false
	for _, s := range samples {
		if s.wallClock > threshold {
			continue
		}
		if !found || s.workers < best {
			best = s.workers
			found = true
		}
	}
	return best, found, nil
}
