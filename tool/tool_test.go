package tool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/core"
)

func newTestContext(taskID string) *Context {
	return NewContext(context.Background(), taskID, "conv-1", "agent-1", "call-1", nil)
}

func echoTool(optFns ...func(o *FunctionToolOptions)) *FunctionTool {
	return NewFunctionTool(
		"echo",
		"Echo the input back.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []string{"text"},
		},
		func(tc *Context, args map[string]any) (any, error) {
			return args["text"], nil
		},
		optFns...,
	)
}

func TestFunctionToolCall(t *testing.T) {
	tc := newTestContext("task_t1")

	result, err := echoTool().Call(tc, map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", result)
}

func TestFunctionToolValidation(t *testing.T) {
	tc := newTestContext("task_t1")

	_, err := echoTool().Call(tc, map[string]any{})
	require.Error(t, err)

	var toolErr *Error
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "VALIDATION_ERROR", toolErr.Code)
	assert.Equal(t, "echo", toolErr.Tool)
}

func TestFunctionToolWrapsPlainError(t *testing.T) {
	boom := NewFunctionTool("boom", "Always fails.",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(tc *Context, args map[string]any) (any, error) {
			return nil, errors.New("kaput")
		},
	)

	_, err := boom.Call(newTestContext("task_t1"), map[string]any{})
	var toolErr *Error
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "EXECUTION_ERROR", toolErr.Code)
	assert.Equal(t, "kaput", toolErr.Message)
}

func TestInvokerHealthGateProbesOncePerTask(t *testing.T) {
	probes := 0
	tool := echoTool(func(o *FunctionToolOptions) {
		o.HealthCheck = func(tc *Context) error {
			probes++
			return nil
		}
	})

	inv := NewInvoker()

	tc := newTestContext("task_a")
	_, err := inv.Invoke(tc, tool, `{"text":"one"}`)
	require.NoError(t, err)
	_, err = inv.Invoke(tc, tool, `{"text":"two"}`)
	require.NoError(t, err)
	assert.Equal(t, 1, probes, "second call within TTL must reuse the cached probe")

	// A different task gets its own probe.
	_, err = inv.Invoke(newTestContext("task_b"), tool, `{"text":"three"}`)
	require.NoError(t, err)
	assert.Equal(t, 2, probes)
}

func TestInvokerHealthGateExpires(t *testing.T) {
	probes := 0
	tool := echoTool(func(o *FunctionToolOptions) {
		o.HealthCheck = func(tc *Context) error {
			probes++
			return nil
		}
	})

	inv := NewInvoker(func(o *InvokerOptions) {
		o.HealthTTL = 20 * time.Millisecond
	})

	tc := newTestContext("task_a")
	_, err := inv.Invoke(tc, tool, `{"text":"one"}`)
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)

	_, err = inv.Invoke(tc, tool, `{"text":"two"}`)
	require.NoError(t, err)
	assert.Equal(t, 2, probes)
}

func TestInvokerUnhealthyToolSurfacedNotFatal(t *testing.T) {
	tool := echoTool(func(o *FunctionToolOptions) {
		o.HealthCheck = func(tc *Context) error {
			return errors.New("connection refused")
		}
	})

	inv := NewInvoker()
	_, err := inv.Invoke(newTestContext("task_a"), tool, `{"text":"x"}`)
	require.Error(t, err)

	var toolErr *Error
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, string(core.CodeToolUnavailable), toolErr.Code)
	assert.Contains(t, toolErr.Message, "connection refused")

	// The failed probe is cached too.
	_, err = inv.Invoke(newTestContext("task_a"), tool, `{"text":"x"}`)
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, string(core.CodeToolUnavailable), toolErr.Code)
}

func TestInvokerMalformedArguments(t *testing.T) {
	inv := NewInvoker()
	_, err := inv.Invoke(newTestContext("task_a"), echoTool(), `{not json`)

	var toolErr *Error
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "VALIDATION_ERROR", toolErr.Code)
}

func TestInvokerCredentialResolution(t *testing.T) {
	var seen *Credential
	scoped := NewFunctionTool("billing_lookup", "Look up a bill.",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(tc *Context, args map[string]any) (any, error) {
			seen = tc.Credential()
			return "ok", nil
		},
		func(o *FunctionToolOptions) { o.CredentialScope = "billing" },
	)

	inv := NewInvoker(func(o *InvokerOptions) {
		o.Credentials = NewStaticCredentialResolver(map[string]string{"billing": "tok-123"})
	})

	_, err := inv.Invoke(newTestContext("task_a"), scoped, `{}`)
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, "billing", seen.Scope)
	assert.Equal(t, "tok-123", seen.Token)
}

func TestInvokerCredentialMissing(t *testing.T) {
	scoped := NewFunctionTool("billing_lookup", "Look up a bill.",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(tc *Context, args map[string]any) (any, error) { return "ok", nil },
		func(o *FunctionToolOptions) { o.CredentialScope = "billing" },
	)

	inv := NewInvoker(func(o *InvokerOptions) {
		o.Credentials = NewStaticCredentialResolver(nil)
	})

	_, err := inv.Invoke(newTestContext("task_a"), scoped, `{}`)
	var toolErr *Error
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, string(core.CodeToolUnavailable), toolErr.Code)
}

func TestControlToolsRecordDirectives(t *testing.T) {
	tc := newTestContext("task_a")
	_, err := NewTransferTool().Call(tc, map[string]any{"agent": "billing"})
	require.NoError(t, err)
	require.NotNil(t, tc.Directive())
	assert.Equal(t, core.DirectiveTransfer, tc.Directive().Kind)
	assert.Equal(t, "billing", tc.Directive().Target)

	tc = newTestContext("task_a")
	_, err = NewDelegateTool().Call(tc, map[string]any{"agent": "math", "input": "2+2"})
	require.NoError(t, err)
	require.NotNil(t, tc.Directive())
	assert.Equal(t, core.DirectiveDelegate, tc.Directive().Kind)
	assert.Equal(t, "math", tc.Directive().Target)
	assert.Equal(t, "2+2", tc.Directive().Input)
}

func TestControlToolRejectsMissingTarget(t *testing.T) {
	tc := newTestContext("task_a")
	_, err := NewTransferTool().Call(tc, map[string]any{})
	require.Error(t, err)
	assert.Nil(t, tc.Directive())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(echoTool())

	_, ok := r.Lookup("echo")
	assert.True(t, ok)
	_, ok = r.Lookup(TransferToolName)
	assert.True(t, ok)
	_, ok = r.Lookup("nope")
	assert.False(t, ok)

	assert.Error(t, r.Register(echoTool()))
	assert.Equal(t, []string{DelegateToolName, "echo", TransferToolName}, r.Names())
}
