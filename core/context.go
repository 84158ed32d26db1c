package core

// DeriveConversationID returns the durable conversation identity for a task.
// An explicitly set ConversationID always wins; otherwise the id is parsed
// out of the task id via the documented strip-suffix rule. The operation is
// idempotent: deriving twice yields the same value.
//
// A CodeContextUnresolvable failure is recoverable: the caller starts a
// fresh, unlinked context and logs a warning rather than failing the task.
func DeriveConversationID(t *Task) (string, error) {
	if t.ConversationID != "" {
		return t.ConversationID, nil
	}
	return ParseConversationID(t.ID)
}

// PropagateContext stamps the parent's conversation identity onto a child
// task before dispatch. Every delegation edge must pass through here:
// omitting propagation orphans the child's history and breaks transfer
// continuity for the whole chain.
func PropagateContext(parent, child *Task) {
	child.ConversationID = parent.ConversationID
}

// Directive is the model's structured routing decision, parsed against a
// fixed schema. Anything that does not parse as a known variant is rejected
// before it reaches the router.
type Directive struct {
	Kind   DirectiveKind `json:"kind"`
	Target string        `json:"target"`          // agent id
	Input  string        `json:"input,omitempty"` // delegation sub-input text
}

// DirectiveKind tags the routing variant requested by the model.
type DirectiveKind string

const (
	// DirectiveTransfer requests a permanent handoff of the active agent.
	DirectiveTransfer DirectiveKind = "transfer"
	// DirectiveDelegate requests spawning an awaited child task.
	DirectiveDelegate DirectiveKind = "delegate"
)
