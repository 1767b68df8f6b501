// Package retry defines shared types and helpers for producing standardized
// retryable errors and compact repair prompts used by the Executor's
// argument-repair path.
//
// When an MCP tool reports invalid parameters, the Executor wraps the
// failure in a RetryableError with a Prompt intended for LLM-driven
// correction. The LLM is expected to redo the same operation with valid
// parameters based on the prompt's constraints.
package retry

import (
	"fmt"

	"github.com/taskforge/agentcore/mcp"
)

// promptTemplate is the canonical format for repair prompts. Keep this
// concise and deterministic: the schema (when provided) is injected above
// the Error line, and the LLM must return only the corrected params JSON.
const promptTemplate = `
Operation: %s
%sError: %s
Redo the operation now with valid parameters.
Use only valid schema fields and ensure required fields and types/enums are valid.
Example params: %s`

// RetryableError is returned when a server reports invalid parameters and a
// structured repair prompt is available.
type RetryableError struct {
	Prompt string
	Cause  error
}

// Error implements the error interface.
func (e *RetryableError) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause == nil {
		return e.Prompt
	}
	return fmt.Sprintf("%s: %v", e.Prompt, e.Cause)
}

// Unwrap exposes the cause for errors.Is/As.
func (e *RetryableError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsRepairable reports whether a classified failure is the kind a repair
// prompt can plausibly fix: the server rejected the call's shape, not its
// credentials or availability.
func IsRepairable(class mcp.Classification) bool {
	switch class {
	case mcp.ClassConfigInvalid, mcp.ClassConfigInvalidCommand:
		return true
	default:
		return false
	}
}

// BuildRepairPrompt constructs a deterministic, compact repair instruction.
// schema is an optional compact JSON schema excerpt; exampleJSON is a
// minimal valid example of the params payload.
func BuildRepairPrompt(op, errMsg, exampleJSON, schema string) string {
	schemaPart := ""
	if schema != "" {
		schemaPart = "Schema: " + schema + "\n"
	}
	return fmt.Sprintf(promptTemplate, op, schemaPart, errMsg, exampleJSON)
}
