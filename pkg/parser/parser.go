package parser

import (
	"context"
	"path/filepath"
	"strings"

	rerrors "github.com/cubewise-code/rushti/pkg/errors"
	"github.com/cubewise-code/rushti/pkg/remoteclient"
	"github.com/cubewise-code/rushti/pkg/task"
)

// Form identifies which of the three input forms a task file uses.
type Form int

const (
	// FormUnknown means auto-detection could not classify the file.
	FormUnknown Form = iota
	FormWaitBarrier
	FormDependency
	FormStructured
)

// Detect classifies content by extension first, then by content
// sniffing for the two line-oriented forms (§4.1: "the dependency form
// is distinguished from the wait-barrier form by the presence of at
// least one predecessors= token").
func Detect(path string, content []byte) Form {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return FormStructured
	}

	text := string(content)
	if strings.Contains(text, "predecessors=") {
		return FormDependency
	}
	return FormWaitBarrier
}

// Result is the fully-parsed, fully-expanded output of Parse.
type Result struct {
	Doc *Document
	DAG *task.DAG
}

// Parse reads a task file's raw content, auto-detects its form (unless
// forced), expands any parametric templates against client, and builds
// the task DAG. Structural validation (duplicate ids, dangling
// predecessors, cycles) is left to the Validator.
func Parse(ctx context.Context, client remoteclient.Client, path string, content []byte, forced Form) (*Result, error) {
	form := forced
	if form == FormUnknown {
		form = Detect(path, content)
	}

	var (
		doc        *Document
		directives map[string][]ExpandDirective
		err        error
	)

	switch form {
	case FormStructured:
		isJSON := strings.EqualFold(filepath.Ext(path), ".json")
		doc, directives, err = parseStructuredForm(path, content, isJSON)
	case FormDependency:
		lines, lerr := tokenizeLines(path, string(content))
		if lerr != nil {
			return nil, lerr
		}
		var tasks []TaskDef
		tasks, directives, err = parseDependencyForm(path, lines)
		doc = &Document{Tasks: tasks}
	case FormWaitBarrier:
		lines, lerr := tokenizeLines(path, string(content))
		if lerr != nil {
			return nil, lerr
		}
		var tasks []TaskDef
		tasks, directives, err = parseWaitBarrierForm(path, lines)
		doc = &Document{Tasks: tasks}
	default:
		return nil, &rerrors.ParseError{File: path, Message: "unable to determine task file form"}
	}
	if err != nil {
		return nil, err
	}

	expanded, err := expandTemplates(ctx, client, doc.Tasks, directives)
	if err != nil {
		return nil, err
	}
	doc.Tasks = expanded

	tasks := make([]*task.Task, len(expanded))
	for i := range expanded {
		tasks[i] = expanded[i].toTask()
	}

	return &Result{Doc: doc, DAG: task.New(tasks)}, nil
}
