package parser

import (
	rerrors "github.com/cubewise-code/rushti/pkg/errors"
)

// parseDependencyForm reads the line-oriented form where each task line
// carries an explicit `predecessors=a,b,c` token (§4.1 dependency form).
func parseDependencyForm(path string, lines []rawLine) ([]TaskDef, map[string][]ExpandDirective, error) {
	var tasks []TaskDef
	directives := make(map[string][]ExpandDirective)

	decl := 0
	for _, ln := range lines {
		if ln.isWait {
			return nil, nil, &rerrors.ParseError{
				File: path, Line: ln.no,
				Message: "'wait' marker is not valid in dependency form",
			}
		}
		td, dirs := buildTaskDef(ln.tokens, ln.order, decl)
		decl++
		if td.ID == "" {
			return nil, nil, &rerrors.ParseError{File: path, Line: ln.no, Message: "task line missing id="}
		}
		if td.Process == "" {
			return nil, nil, &rerrors.ParseError{File: path, Line: ln.no, Message: "task line missing process="}
		}
		tasks = append(tasks, td)
		if len(dirs) > 0 {
			directives[td.ID] = dirs
		}
	}

	return tasks, directives, nil
}
