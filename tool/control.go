package tool

import "fmt"

// Control tool names. The execution loop intercepts calls to these and feeds
// the recorded directive to the delegation router instead of treating the
// result as ordinary tool output.
const (
	TransferToolName = "transfer_to_agent"
	DelegateToolName = "delegate_to_agent"
)

// IsControlTool reports whether name is one of the routing control tools.
func IsControlTool(name string) bool {
	return name == TransferToolName || name == DelegateToolName
}

// transferToAgentTool requests a permanent handoff to another agent.
type transferToAgentTool struct{}

// NewTransferTool constructs the transfer control tool.
func NewTransferTool() Tool { return &transferToAgentTool{} }

func (t *transferToAgentTool) Name() string { return TransferToolName }

func (t *transferToAgentTool) Description() string {
	return "Permanently hand the conversation to another agent by id. Use when that agent owns the rest of the conversation; no result is returned to you."
}

func (t *transferToAgentTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent": map[string]any{"type": "string", "description": "Target agent id"},
		},
		"required": []string{"agent"},
	}
}

func (t *transferToAgentTool) Call(tc *Context, args map[string]any) (any, error) {
	target, err := stringArg(args, "agent")
	if err != nil {
		return nil, err
	}
	tc.RequestTransfer(target)
	return map[string]any{"transferred": true, "agent": target}, nil
}

// delegateToAgentTool requests spawning an awaited child task.
type delegateToAgentTool struct{}

// NewDelegateTool constructs the delegate control tool.
func NewDelegateTool() Tool { return &delegateToAgentTool{} }

func (t *delegateToAgentTool) Name() string { return DelegateToolName }

func (t *delegateToAgentTool) Description() string {
	return "Delegate a sub-task to another agent by id and wait for its result. The child's outcome is returned to you as a tool result."
}

func (t *delegateToAgentTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent": map[string]any{"type": "string", "description": "Target agent id"},
			"input": map[string]any{"type": "string", "description": "Sub-task input text"},
		},
		"required": []string{"agent", "input"},
	}
}

func (t *delegateToAgentTool) Call(tc *Context, args map[string]any) (any, error) {
	target, err := stringArg(args, "agent")
	if err != nil {
		return nil, err
	}
	input, err := stringArg(args, "input")
	if err != nil {
		return nil, err
	}
	tc.RequestDelegate(target, input)
	return map[string]any{"delegated": true, "agent": target}, nil
}

func stringArg(args map[string]any, key string) (string, error) {
	raw, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required field %q", key)
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("field %q must be a non-empty string", key)
	}
	return s, nil
}
