package parser

import (
	"context"
	"sort"
	"strings"

	rerrors "github.com/cubewise-code/rushti/pkg/errors"
	"github.com/cubewise-code/rushti/pkg/remoteclient"
)

// expandTemplates resolves every `*{expr}` directive against the remote
// instance's member list and materializes one concrete TaskDef per
// member (§3 "parametric template", §4.1). Directives on the same
// template are expanded as a cross product, in the directive's
// declaration order, so expansion is deterministic regardless of map
// iteration elsewhere in the pipeline. Predecessor references to a
// template id fan out to every id it expanded into.
func expandTemplates(ctx context.Context, client remoteclient.Client, tasks []TaskDef, directives map[string][]ExpandDirective) ([]TaskDef, error) {
	if len(directives) == 0 {
		return tasks, nil
	}

	generated := make(map[string][]string, len(directives)) // template id -> expanded ids
	var out []TaskDef
	decl := 0

	for _, td := range tasks {
		dirs, isTemplate := directives[td.ID]
		if !isTemplate {
			td.DeclOrder = decl
			decl++
			out = append(out, td)
			continue
		}

		combos, err := crossProduct(ctx, client, td.Instance, dirs)
		if err != nil {
			return nil, &rerrors.ExpansionError{TemplateID: td.ID, Expression: dirs[0].Expression, Cause: err}
		}
		sortCombos(combos)

		var ids []string
		for _, combo := range combos {
			clone := td
			clone.Parameters = append(append([]ParamDef(nil), td.Parameters...), combo...)
			clone.ID = expandedID(td.ID, combo)
			clone.DeclOrder = decl
			decl++
			ids = append(ids, clone.ID)
			out = append(out, clone)
		}
		generated[td.ID] = ids
	}

	for i := range out {
		if len(out[i].Predecessors) == 0 {
			continue
		}
		var resolved []string
		for _, pred := range out[i].Predecessors {
			if ids, ok := generated[pred]; ok {
				resolved = append(resolved, ids...)
			} else {
				resolved = append(resolved, pred)
			}
		}
		out[i].Predecessors = resolved
	}

	return out, nil
}

// crossProduct evaluates every directive's remote member list and
// returns the ordered cross product of (name, member) ParamDef
// combinations.
func crossProduct(ctx context.Context, client remoteclient.Client, instance string, dirs []ExpandDirective) ([][]ParamDef, error) {
	memberLists := make([][]ParamDef, len(dirs))
	for i, d := range dirs {
		members, err := client.ExpandMembers(ctx, instance, d.Expression)
		if err != nil {
			return nil, err
		}
		params := make([]ParamDef, len(members))
		for j, m := range members {
			params[j] = ParamDef{Name: d.ParamName, Value: m}
		}
		memberLists[i] = params
	}

	combos := [][]ParamDef{{}}
	for _, list := range memberLists {
		var next [][]ParamDef
		for _, prefix := range combos {
			for _, p := range list {
				row := append(append([]ParamDef(nil), prefix...), p)
				next = append(next, row)
			}
		}
		combos = next
	}
	return combos, nil
}

// sortCombos orders the cross product lexicographically by member
// tuple (§4.1 expansion protocol step 3: "Ordering: lexicographic by
// the member tuple, so expansion is deterministic").
func sortCombos(combos [][]ParamDef) {
	sort.Slice(combos, func(i, j int) bool {
		a, b := combos[i], combos[j]
		for k := 0; k < len(a) && k < len(b); k++ {
			if a[k].Value != b[k].Value {
				return a[k].Value < b[k].Value
			}
		}
		return len(a) < len(b)
	})
}

// expandedID builds the `<template_id>_<joined_member_names>` id.
func expandedID(templateID string, combo []ParamDef) string {
	parts := make([]string, len(combo))
	for i, p := range combo {
		parts[i] = p.Value
	}
	return templateID + "_" + strings.Join(parts, "_")
}
