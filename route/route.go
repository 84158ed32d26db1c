// Package route decides where a task goes next. The model expresses intent
// through control tools; the router is the policy layer that validates that
// intent against the agent graph before the engine acts on it.
package route

import (
	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/graph"
	"github.com/taskmesh/taskmesh/logging"
)

// DecisionKind tags the routing outcome.
type DecisionKind string

const (
	// DecisionHandle keeps the task with the current agent.
	DecisionHandle DecisionKind = "handle"
	// DecisionTransfer hands the conversation to TargetAgentID permanently.
	DecisionTransfer DecisionKind = "transfer"
	// DecisionDelegate spawns an awaited child task for TargetAgentID.
	DecisionDelegate DecisionKind = "delegate"
)

// Decision is the validated routing outcome for one model turn.
type Decision struct {
	Kind          DecisionKind
	TargetAgentID string
	// Input carries the child task input for delegate decisions.
	Input string
}

// RouterOptions configure the Router.
type RouterOptions struct {
	Logger logging.Logger
	// MaxDelegationDepth bounds delegation nesting at runtime. Resolution
	// time cycle checks catch static cycles; this backstop catches depth
	// built up across dynamic delegate chains.
	MaxDelegationDepth int
}

// DefaultMaxDelegationDepth bounds runaway delegate chains.
const DefaultMaxDelegationDepth = 8

// Router validates model routing directives against graph permissions.
type Router struct {
	logger   logging.Logger
	maxDepth int
}

// NewRouter constructs a Router.
func NewRouter(optFns ...func(o *RouterOptions)) *Router {
	opts := RouterOptions{
		Logger:             logging.NoOpLogger{},
		MaxDelegationDepth: DefaultMaxDelegationDepth,
	}
	for _, f := range optFns {
		f(&opts)
	}
	return &Router{logger: opts.Logger, maxDepth: opts.MaxDelegationDepth}
}

// Route validates a directive recorded during tool execution. A nil directive
// means the agent handles the turn itself. Denials return routing_denied and
// are surfaced to the model as tool errors, never as task failures.
func (r *Router) Route(task *core.Task, node *graph.AgentNode, directive *core.Directive) (Decision, error) {
	if directive == nil {
		return Decision{Kind: DecisionHandle}, nil
	}

	switch directive.Kind {
	case core.DirectiveTransfer:
		if !node.MayTransferTo(directive.Target) {
			r.logger.Warn("route.transfer.denied",
				"task_id", task.ID, "from_agent", node.ID, "to_agent", directive.Target)
			return Decision{}, core.Errorf(core.CodeRoutingDenied,
				"agent %q may not transfer to %q", node.ID, directive.Target)
		}
		return Decision{Kind: DecisionTransfer, TargetAgentID: directive.Target}, nil

	case core.DirectiveDelegate:
		if !node.MayDelegateTo(directive.Target) {
			r.logger.Warn("route.delegate.denied",
				"task_id", task.ID, "from_agent", node.ID, "to_agent", directive.Target)
			return Decision{}, core.Errorf(core.CodeRoutingDenied,
				"agent %q may not delegate to %q", node.ID, directive.Target)
		}
		if task.DelegationDepth+1 > r.maxDepth {
			r.logger.Warn("route.delegate.depth_exceeded",
				"task_id", task.ID, "depth", task.DelegationDepth, "max", r.maxDepth)
			return Decision{}, core.Errorf(core.CodeDelegationDepth,
				"delegation depth %d exceeds limit %d", task.DelegationDepth+1, r.maxDepth)
		}
		return Decision{Kind: DecisionDelegate, TargetAgentID: directive.Target, Input: directive.Input}, nil

	default:
		return Decision{}, core.Errorf(core.CodeInternal, "unknown directive kind %q", directive.Kind)
	}
}
