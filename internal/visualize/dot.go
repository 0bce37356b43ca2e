// Package visualize renders a task DAG as Graphviz DOT, a plain-text
// complement to `analyze` with no new third-party dependency (the
// rendering is pure string formatting).
package visualize

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cubewise-code/rushti/pkg/task"
)

// statusColor maps a task.Status to a DOT fill color so a rendered
// graph of a completed or resumed run visually distinguishes outcomes.
var statusColor = map[task.Status]string{
	task.StatusPending:   "lightgray",
	task.StatusReady:     "lightyellow",
	task.StatusRunning:   "lightblue",
	task.StatusSucceeded: "palegreen",
	task.StatusFailed:    "salmon",
	task.StatusSkipped:   "gainsboro",
	task.StatusCancelled: "orange",
}

// DOT renders dag as a Graphviz DOT digraph. Nodes are labeled
// "id\ninstance/process" and colored by their current status (every
// node defaults to StatusPending's color in a freshly-parsed DAG).
// Tasks are grouped into same-named subgraph clusters per stage when
// any task declares one.
func DOT(dag *task.DAG) []byte {
	var b strings.Builder
	b.WriteString("digraph rushti {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=box, style=filled];\n\n")

	byStage := make(map[string][]string)
	var unstaged []string
	for _, id := range dag.Order {
		stage := dag.Nodes[id].Task.Stage
		if stage == "" {
			unstaged = append(unstaged, id)
			continue
		}
		byStage[stage] = append(byStage[stage], id)
	}

	writeNode := func(id string) {
		node := dag.Nodes[id]
		t := node.Task
		color, ok := statusColor[node.Status]
		if !ok {
			color = statusColor[task.StatusPending]
		}
		label := fmt.Sprintf("%s\\n%s/%s", t.ID, t.Instance, t.Process)
		fmt.Fprintf(&b, "  %q [label=%q, fillcolor=%q];\n", id, label, color)
	}

	var stageNames []string
	for stage := range byStage {
		stageNames = append(stageNames, stage)
	}
	sort.Strings(stageNames)

	for _, stage := range stageNames {
		fmt.Fprintf(&b, "  subgraph %q {\n", "cluster_"+stage)
		fmt.Fprintf(&b, "    label=%q;\n", stage)
		for _, id := range byStage[stage] {
			b.WriteString("  ")
			writeNode(id)
		}
		b.WriteString("  }\n")
	}
	for _, id := range unstaged {
		writeNode(id)
	}

	b.WriteString("\n")
	for _, id := range dag.Order {
		node := dag.Nodes[id]
		for _, succ := range node.Successors {
			fmt.Fprintf(&b, "  %q -> %q;\n", id, succ)
		}
	}

	b.WriteString("}\n")
	return []byte(b.String())
}
