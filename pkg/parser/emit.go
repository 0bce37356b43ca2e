package parser

import (
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/cubewise-code/rushti/pkg/task"
)

// Emit renders a DAG back to the structured YAML form, in declaration
// order, with parameters sorted by name. It is used by the `expand`
// command to materialize a fully-expanded, template-free workflow file
// and by run archival (SPEC_FULL.md supplemented features).
func Emit(d *task.DAG) ([]byte, error) {
	wd := wireDocument{}

	for _, id := range d.Order {
		t := d.Nodes[id].Task
		req := t.RequirePredecessorSuccess
		wt := wireTask{
			ID:                        t.ID,
			Instance:                  t.Instance,
			Process:                   t.Process,
			Predecessors:              append([]string(nil), t.Predecessors...),
			Stage:                     t.Stage,
			TimeoutSec:                t.TimeoutSec,
			CancelAtTimeout:           t.CancelAtTimeout,
			RequirePredecessorSuccess: &req,
			SafeRetry:                 t.SafeRetry,
			SucceedOnMinorErrors:      t.SucceedOnMinorErrors,
		}
		if len(t.Parameters) > 0 {
			wt.Parameters = make(map[string]string, len(t.Parameters))
			for _, p := range t.Parameters {
				wt.Parameters[p.Name] = p.Value
			}
		}
		sort.Strings(wt.Predecessors)
		wd.Tasks = append(wd.Tasks, wt)
	}

	return yaml.Marshal(wd)
}
