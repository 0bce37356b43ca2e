package parser

import (
	"strconv"
	"strings"
)

// reserved line-token keys never treated as task parameters.
const (
	keyID              = "id"
	keyInstance        = "instance"
	keyProcess         = "process"
	keyPredecessors    = "predecessors"
	keyStage           = "stage"
	keyTimeout         = "timeout"
	keyCancelAtTimeout = "cancel_at_timeout"
	keyRequirePredOK   = "require_predecessor_success"
	keySafeRetry       = "safe_retry"
	keySucceedOnMinor  = "succeed_on_minor_errors"
)

func isReservedKey(k string) bool {
	switch k {
	case keyID, keyInstance, keyProcess, keyPredecessors, keyStage, keyTimeout,
		keyCancelAtTimeout, keyRequirePredOK, keySafeRetry, keySucceedOnMinor:
		return true
	default:
		return false
	}
}

// buildTaskDef assembles a TaskDef (and any pending expansion directives)
// from one tokenized line's key/value pairs and declaration order.
func buildTaskDef(tokens map[string]string, order []string, declOrder int) (TaskDef, []ExpandDirective) {
	td := TaskDef{
		ID:                        tokens[keyID],
		Instance:                  tokens[keyInstance],
		Process:                   tokens[keyProcess],
		Stage:                     tokens[keyStage],
		RequirePredecessorSuccess: true,
		DeclOrder:                 declOrder,
	}

	if v, ok := tokens[keyPredecessors]; ok && v != "" {
		for _, p := range strings.Split(v, ",") {
			p = strings.TrimSpace(p)
			if p != "" {
				td.Predecessors = append(td.Predecessors, p)
			}
		}
	}
	if v, ok := tokens[keyTimeout]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			td.TimeoutSec = f
		}
	}
	if v, ok := tokens[keyCancelAtTimeout]; ok {
		td.CancelAtTimeout = parseBool(v)
	}
	if v, ok := tokens[keyRequirePredOK]; ok {
		td.RequirePredecessorSuccess = parseBool(v)
	}
	if v, ok := tokens[keySafeRetry]; ok {
		td.SafeRetry = parseBool(v)
	}
	if v, ok := tokens[keySucceedOnMinor]; ok {
		td.SucceedOnMinorErrors = parseBool(v)
	}

	var directives []ExpandDirective
	for _, k := range order {
		if isReservedKey(k) {
			continue
		}
		v := tokens[k]
		if strings.HasSuffix(k, "*") {
			name := strings.TrimSuffix(k, "*")
			if expr, ok := stripExpandMarker(v); ok {
				directives = append(directives, ExpandDirective{ParamName: name, Expression: expr})
				continue
			}
			// A trailing '*' without the *{...} wrapper is just an
			// unusual parameter name; fall through to a literal param.
			td.Parameters = append(td.Parameters, ParamDef{Name: k, Value: v})
			continue
		}
		td.Parameters = append(td.Parameters, ParamDef{Name: k, Value: v})
	}

	return td, directives
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// stripExpandMarker reports whether v is of the form `*{expr}` and, if
// so, returns expr.
func stripExpandMarker(v string) (string, bool) {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, "*{") && strings.HasSuffix(v, "}") {
		return strings.TrimSuffix(strings.TrimPrefix(v, "*{"), "}"), true
	}
	return "", false
}
