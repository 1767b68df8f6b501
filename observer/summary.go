package observer

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/taskforge/agentcore/workflow"
)

// coreFields is the priority-ordered set of JSON object keys Summarize
// extracts from an unstructured raw result when no MCP content[].text
// convention applies.
var coreFields = []string{"data", "result", "results", "items", "content", "value", "price", "amount"}

// Summarize renders a size-classified, truncated textual summary of a raw
// step result for the Observer's prompt: a plain string is truncated
// as-is; an MCP-shaped `content: [{text: ...}]` envelope has its text parts
// concatenated; anything else falls back to the first populated core field,
// or the full JSON encoding.
func Summarize(raw any) string {
	return truncate(summarize(raw))
}

func summarize(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any:
		if text, ok := extractMCPContentText(v); ok {
			return text
		}
		for _, field := range coreFields {
			if val, ok := v[field]; ok {
				if s, ok := val.(string); ok {
					return s
				}
				if enc, err := json.Marshal(val); err == nil {
					return string(enc)
				}
			}
		}
		if enc, err := json.Marshal(v); err == nil {
			return string(enc)
		}
		return ""
	default:
		if enc, err := json.Marshal(v); err == nil {
			return string(enc)
		}
		return ""
	}
}

// extractMCPContentText concatenates the text fields of an MCP-shaped
// content array: {"content": [{"text": "..."}, ...]}.
func extractMCPContentText(v map[string]any) (string, bool) {
	content, ok := v["content"].([]any)
	if !ok {
		return "", false
	}
	var b strings.Builder
	found := false
	for _, item := range content {
		block, ok := item.(map[string]any)
		if !ok {
			continue
		}
		text, ok := block["text"].(string)
		if !ok {
			continue
		}
		if found {
			b.WriteString(" ")
		}
		b.WriteString(text)
		found = true
	}
	return b.String(), found
}

func truncate(s string) string {
	if len(s) <= maxSummaryChars {
		return s
	}
	return s[:maxSummaryChars] + "..."
}

// identifierPattern matches @-handle style identifiers the multi-target
// heuristic tracks; other semantic classes (ticker symbols, contract
// addresses) can be added here without changing the contract.
var identifierPattern = regexp.MustCompile(`@\w+`)

// CoversAllTargets reports whether every distinct identifier mentioned in
// query appears in the textual representation of at least one successfully
// completed step in history. Queries with fewer than two identifiers are
// trivially covered (the single-target case has no coverage ambiguity).
func CoversAllTargets(query string, history []*workflow.Step) bool {
	targets := identifierPattern.FindAllString(query, -1)
	if len(targets) < 2 {
		return true
	}

	unique := make(map[string]bool, len(targets))
	for _, t := range targets {
		unique[t] = true
	}

	var haystack strings.Builder
	for _, step := range history {
		if step.Status != workflow.StatusCompleted {
			continue
		}
		haystack.WriteString(strings.ToLower(summarize(step.RawResult)))
		haystack.WriteString(" ")
	}
	corpus := haystack.String()

	for t := range unique {
		if !strings.Contains(corpus, strings.ToLower(t)) {
			return false
		}
	}
	return true
}
