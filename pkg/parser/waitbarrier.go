package parser

import (
	"fmt"

	rerrors "github.com/cubewise-code/rushti/pkg/errors"
)

// parseWaitBarrierForm reads the line-oriented form where a bare `wait`
// line separates successive groups of concurrently-runnable tasks: every
// task in a group becomes a predecessor of every task in the next group
// (§4.1 wait-barrier form, translated to explicit predecessors per the
// Glossary's "wait barrier" entry).
func parseWaitBarrierForm(path string, lines []rawLine) ([]TaskDef, map[string][]ExpandDirective, error) {
	var tasks []TaskDef
	directives := make(map[string][]ExpandDirective)

	var closingSet []string // ids of the most recently completed group
	var openingSet []string // ids accumulated in the group currently being read

	decl := 0
	flush := func() {
		closingSet = openingSet
		openingSet = nil
	}

	for _, ln := range lines {
		if ln.isWait {
			flush()
			continue
		}

		td, dirs := buildTaskDef(ln.tokens, ln.order, decl)
		if td.ID == "" {
			td.ID = fmt.Sprintf("%s_%d", td.Process, decl)
		}
		if td.Process == "" {
			return nil, nil, &rerrors.ParseError{File: path, Line: ln.no, Message: "task line missing process="}
		}
		decl++

		td.Predecessors = append(td.Predecessors, closingSet...)

		tasks = append(tasks, td)
		if len(dirs) > 0 {
			directives[td.ID] = dirs
		}
		openingSet = append(openingSet, td.ID)
	}

	return tasks, directives, nil
}
