package parser

import (
	"encoding/json"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"

	rerrors "github.com/cubewise-code/rushti/pkg/errors"
)

// wireTask is the structured form's on-disk task shape (§4.1). A
// parameter value of the form `*{expr}` carries the same parametric
// expansion meaning it has in the line-oriented forms.
type wireTask struct {
	ID                        string            `yaml:"id" json:"id"`
	Instance                  string            `yaml:"instance" json:"instance"`
	Process                   string            `yaml:"process" json:"process"`
	Parameters                map[string]string `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	Predecessors              []string          `yaml:"predecessors,omitempty" json:"predecessors,omitempty"`
	Stage                     string            `yaml:"stage,omitempty" json:"stage,omitempty"`
	TimeoutSec                float64           `yaml:"timeout_sec,omitempty" json:"timeout_sec,omitempty"`
	CancelAtTimeout           bool              `yaml:"cancel_at_timeout,omitempty" json:"cancel_at_timeout,omitempty"`
	RequirePredecessorSuccess *bool             `yaml:"require_predecessor_success,omitempty" json:"require_predecessor_success,omitempty"`
	SafeRetry                 bool              `yaml:"safe_retry,omitempty" json:"safe_retry,omitempty"`
	SucceedOnMinorErrors      bool              `yaml:"succeed_on_minor_errors,omitempty" json:"succeed_on_minor_errors,omitempty"`
}

// wireDocument is the structured form's root shape.
type wireDocument struct {
	Version  string     `yaml:"version,omitempty" json:"version,omitempty"`
	Metadata Metadata   `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	Settings Settings   `yaml:"settings,omitempty" json:"settings,omitempty"`
	Tasks    []wireTask `yaml:"tasks" json:"tasks"`
}

// parseStructuredForm decodes a YAML or JSON structured task file.
func parseStructuredForm(path string, content []byte, isJSON bool) (*Document, map[string][]ExpandDirective, error) {
	var wd wireDocument
	var err error
	if isJSON {
		err = json.Unmarshal(content, &wd)
	} else {
		err = yaml.Unmarshal(content, &wd)
	}
	if err != nil {
		return nil, nil, &rerrors.ParseError{File: path, Message: "structured decode: " + err.Error()}
	}

	doc := &Document{Version: wd.Version, Metadata: wd.Metadata, Settings: wd.Settings}
	directives := make(map[string][]ExpandDirective)

	for i, wt := range wd.Tasks {
		if wt.ID == "" {
			return nil, nil, &rerrors.ParseError{File: path, Message: "tasks[" + strconv.Itoa(i) + "] missing id"}
		}
		if wt.Process == "" {
			return nil, nil, &rerrors.ParseError{File: path, Message: "task " + wt.ID + " missing process"}
		}

		td := TaskDef{
			ID:                   wt.ID,
			Instance:             wt.Instance,
			Process:              wt.Process,
			Predecessors:         wt.Predecessors,
			Stage:                wt.Stage,
			TimeoutSec:           wt.TimeoutSec,
			CancelAtTimeout:      wt.CancelAtTimeout,
			SafeRetry:            wt.SafeRetry,
			SucceedOnMinorErrors: wt.SucceedOnMinorErrors,
			DeclOrder:            i,
		}
		if wt.RequirePredecessorSuccess == nil {
			td.RequirePredecessorSuccess = true
		} else {
			td.RequirePredecessorSuccess = *wt.RequirePredecessorSuccess
		}

		names := make([]string, 0, len(wt.Parameters))
		for name := range wt.Parameters {
			names = append(names, name)
		}
		sort.Strings(names)

		var dirs []ExpandDirective
		for _, name := range names {
			val := wt.Parameters[name]
			if expr, ok := stripExpandMarker(val); ok {
				dirs = append(dirs, ExpandDirective{ParamName: name, Expression: expr})
				continue
			}
			td.Parameters = append(td.Parameters, ParamDef{Name: name, Value: val})
		}

		doc.Tasks = append(doc.Tasks, td)
		if len(dirs) > 0 {
			directives[td.ID] = dirs
		}
	}

	return doc, directives, nil
}
