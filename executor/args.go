// Package executor dispatches a planned workflow.Step to either an MCP
// tool (through the Session Manager) or an LLM capability call, filling in
// argument placeholders from the run's data store and retrying transient
// failures per the classified error group.
package executor

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/taskforge/agentcore/workflow"
)

// stepRefPattern matches the {{step_N_result}} sentinel placeholder.
var stepRefPattern = regexp.MustCompile(`^\{\{step_(\d+)_result\}\}$`)

// ResolveArgs fills in empty or sentinel-valued arguments from the data
// store: a literal {{step_N_result}} reference resolves to that step's raw
// result; otherwise a small set of semantic heuristics, keyed by the action
// name, pulls a field out of dataStore.lastResult. Arguments already
// present with a concrete, non-sentinel value are left untouched.
func ResolveArgs(tool string, args map[string]any, store *workflow.DataStore) map[string]any {
	resolved := make(map[string]any, len(args))
	for k, v := range args {
		resolved[k] = resolveValue(v, store)
	}
	applySemanticHeuristics(tool, resolved, store)
	return resolved
}

func resolveValue(v any, store *workflow.DataStore) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	m := stepRefPattern.FindStringSubmatch(s)
	if m == nil {
		return v
	}
	idx, err := strconv.Atoi(m[1])
	if err != nil {
		return v
	}
	if raw, ok := store.StepResult(idx); ok {
		return raw
	}
	return v
}

// applySemanticHeuristics fills in a small set of conventionally-named
// fields when the Planner left them empty, based on the action name. These
// are additive: an existing non-empty value always wins. New heuristics may
// be appended here without changing the contract.
func applySemanticHeuristics(tool string, args map[string]any, store *workflow.DataStore) {
	lower := strings.ToLower(tool)
	last, hasLast := store.Semantic(workflow.KeyLastResult)
	if !hasLast {
		return
	}

	switch {
	case strings.Contains(lower, "tweet") || strings.Contains(lower, "post"):
		fillFromField(args, "content", last, "text")
	case strings.Contains(lower, "search"):
		fillFromField(args, "query", last, "query")
	}
}

// fillFromField sets args[argKey] from field within src (a map[string]any,
// typically a prior raw tool result) when args[argKey] is absent or empty.
func fillFromField(args map[string]any, argKey string, src any, field string) {
	if existing, ok := args[argKey]; ok {
		if s, isStr := existing.(string); !isStr || s != "" {
			return
		}
	}
	m, ok := src.(map[string]any)
	if !ok {
		return
	}
	if v, ok := m[field]; ok {
		args[argKey] = v
	}
}
