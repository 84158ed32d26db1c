// Package tool implements the tool calling subsystem: structured capabilities
// an agent may invoke with schema-validated arguments, a per-task liveness
// gate, and credential resolution for scoped tools.
package tool

import "fmt"

// Tool defines a callable capability exposed to the model.
//
// Implementations should provide a descriptive snake_case name, a JSON schema
// for arguments, handle errors gracefully and be safe for concurrent use.
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description is shown to the model to guide tool selection.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Call executes the tool. Arguments arrive parsed and validated against
	// the declared schema.
	Call(tc *Context, args map[string]any) (any, error)
}

// HealthChecker is implemented by tools that support an explicit liveness
// probe. Tools without it are treated as always reachable.
type HealthChecker interface {
	CheckHealth(tc *Context) error
}

// CredentialScoped is implemented by tools that require a resolved credential
// before invocation. The scope names the capability being exercised.
type CredentialScoped interface {
	CredentialScope() string
}

// Error is the uniform failure shape for tool execution. Code values:
// VALIDATION_ERROR for schema mismatches, EXECUTION_ERROR for wrapped
// failures; custom codes pass through unchanged.
type Error struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewError creates an Error with the given classification.
func NewError(tool, message, code string) *Error {
	return &Error{Tool: tool, Message: message, Code: code}
}
