package tool

import (
	"context"

	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/logging"
)

// Context is the constrained surface handed to tool implementations. It
// carries identifiers for auditing, the cancellation context, the resolved
// credential (for scoped tools) and accumulates at most one routing
// directive for the execution loop to interpret after the call returns.
type Context struct {
	ctx            context.Context
	taskID         string
	conversationID string
	agentID        string
	callID         string
	credential     *Credential
	logger         logging.Logger

	directive *core.Directive
}

// NewContext builds a tool context bound to one function call of one task.
func NewContext(ctx context.Context, taskID, conversationID, agentID, callID string, logger logging.Logger) *Context {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Context{
		ctx:            ctx,
		taskID:         taskID,
		conversationID: conversationID,
		agentID:        agentID,
		callID:         callID,
		logger:         logger,
	}
}

// Context returns the ambient cancellation context.
func (c *Context) Context() context.Context { return c.ctx }

// TaskID returns the invoking task's id.
func (c *Context) TaskID() string { return c.taskID }

// ConversationID returns the durable conversation identity.
func (c *Context) ConversationID() string { return c.conversationID }

// AgentID returns the acting agent.
func (c *Context) AgentID() string { return c.agentID }

// CallID returns the function call id correlating request and result.
func (c *Context) CallID() string { return c.callID }

// Logger returns the structured logger.
func (c *Context) Logger() logging.Logger { return c.logger }

// Credential returns the resolved credential for scoped tools, or nil.
func (c *Context) Credential() *Credential { return c.credential }

// RequestTransfer records a transfer directive for the router. The last
// directive recorded in a call wins; the router validates the target.
func (c *Context) RequestTransfer(target string) {
	c.directive = &core.Directive{Kind: core.DirectiveTransfer, Target: target}
	c.logger.Info("tool.transfer.request", "from_agent", c.agentID, "to_agent", target, "call_id", c.callID)
}

// RequestDelegate records a delegate directive for the router.
func (c *Context) RequestDelegate(target, input string) {
	c.directive = &core.Directive{Kind: core.DirectiveDelegate, Target: target, Input: input}
	c.logger.Info("tool.delegate.request", "from_agent", c.agentID, "to_agent", target, "call_id", c.callID)
}

// Directive returns the routing directive recorded during the call, if any.
func (c *Context) Directive() *core.Directive { return c.directive }
