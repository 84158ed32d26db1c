package tool

import (
	"fmt"
	"time"

	"github.com/taskmesh/taskmesh/internal/schema"
)

// FunctionTool adapts a plain Go function into a Tool. It validates model
// supplied arguments against the declared schema before execution and
// normalizes failures into *Error values.
//
// A FunctionTool has no mutable state after construction and is safe for
// concurrent use.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	scope       string
	health      func(tc *Context) error
	fn          func(tc *Context, args map[string]any) (any, error)
}

// FunctionToolOptions configure optional FunctionTool behavior.
type FunctionToolOptions struct {
	// CredentialScope marks the tool as requiring a resolved credential.
	CredentialScope string
	// HealthCheck is the liveness probe run by the invoker's per-task gate.
	HealthCheck func(tc *Context) error
}

// NewFunctionTool constructs a FunctionTool from explicit schema and function.
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(tc *Context, args map[string]any) (any, error),
	optFns ...func(o *FunctionToolOptions),
) *FunctionTool {
	opts := FunctionToolOptions{}
	for _, f := range optFns {
		f(&opts)
	}
	return &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		scope:       opts.CredentialScope,
		health:      opts.HealthCheck,
		fn:          fn,
	}
}

// NewFunctionToolFromStruct derives the parameter schema from a struct.
func NewFunctionToolFromStruct(
	name, description string,
	structType any,
	fn func(tc *Context, args map[string]any) (any, error),
	optFns ...func(o *FunctionToolOptions),
) *FunctionTool {
	return NewFunctionTool(name, description, schema.FromStruct(structType), fn, optFns...)
}

// Name returns the unique tool name.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the model-facing description.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the declared argument schema.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// CredentialScope implements CredentialScoped when configured.
func (t *FunctionTool) CredentialScope() string { return t.scope }

// CheckHealth implements HealthChecker when a probe is configured; tools
// without one report healthy.
func (t *FunctionTool) CheckHealth(tc *Context) error {
	if t.health == nil {
		return nil
	}
	return t.health(tc)
}

// Call validates args against the schema then invokes the wrapped function.
func (t *FunctionTool) Call(tc *Context, args map[string]any) (any, error) {
	logger := tc.Logger()
	start := time.Now()

	if err := schema.Validate(args, t.parameters); err != nil {
		logger.Warn("tool.call.validation_failed", "tool", t.name, "error", err.Error())
		return nil, &Error{
			Tool:    t.name,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    "VALIDATION_ERROR",
			Details: err,
		}
	}

	result, err := t.fn(tc, args)
	if err != nil {
		if toolErr, ok := err.(*Error); ok {
			logger.Error("tool.call.error", "tool", t.name, "error", toolErr.Message)
			return nil, toolErr
		}
		logger.Error("tool.call.error", "tool", t.name, "error", err.Error())
		return nil, &Error{Tool: t.name, Message: err.Error(), Code: "EXECUTION_ERROR"}
	}

	logger.Debug("tool.call.success", "tool", t.name, "duration_ms", time.Since(start).Milliseconds())

	return result, nil
}
