package route

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/graph"
)

func triageNode() *graph.AgentNode {
	return &graph.AgentNode{
		ID:                    "triage",
		DefaultTransferTarget: "billing",
		AllowedDelegates:      []string{"math"},
	}
}

func TestRouteHandleWithoutDirective(t *testing.T) {
	r := NewRouter()
	task := core.NewTask("conv-1", "triage", core.NewUserMessage("hi"))

	d, err := r.Route(task, triageNode(), nil)
	require.NoError(t, err)
	assert.Equal(t, DecisionHandle, d.Kind)
}

func TestRouteTransferAllowed(t *testing.T) {
	r := NewRouter()
	task := core.NewTask("conv-1", "triage", core.NewUserMessage("hi"))

	d, err := r.Route(task, triageNode(), &core.Directive{Kind: core.DirectiveTransfer, Target: "billing"})
	require.NoError(t, err)
	assert.Equal(t, DecisionTransfer, d.Kind)
	assert.Equal(t, "billing", d.TargetAgentID)
}

func TestRouteTransferDenied(t *testing.T) {
	r := NewRouter()
	task := core.NewTask("conv-1", "triage", core.NewUserMessage("hi"))

	_, err := r.Route(task, triageNode(), &core.Directive{Kind: core.DirectiveTransfer, Target: "math"})
	require.Error(t, err)
	assert.True(t, core.IsCode(err, core.CodeRoutingDenied))
}

func TestRouteDelegateAllowed(t *testing.T) {
	r := NewRouter()
	task := core.NewTask("conv-1", "triage", core.NewUserMessage("hi"))

	d, err := r.Route(task, triageNode(), &core.Directive{Kind: core.DirectiveDelegate, Target: "math", Input: "2+2"})
	require.NoError(t, err)
	assert.Equal(t, DecisionDelegate, d.Kind)
	assert.Equal(t, "math", d.TargetAgentID)
	assert.Equal(t, "2+2", d.Input)
}

func TestRouteDelegateDenied(t *testing.T) {
	r := NewRouter()
	task := core.NewTask("conv-1", "triage", core.NewUserMessage("hi"))

	_, err := r.Route(task, triageNode(), &core.Directive{Kind: core.DirectiveDelegate, Target: "billing"})
	require.Error(t, err)
	assert.True(t, core.IsCode(err, core.CodeRoutingDenied))
}

func TestRouteDelegationDepthBackstop(t *testing.T) {
	r := NewRouter(func(o *RouterOptions) { o.MaxDelegationDepth = 2 })

	task := core.NewTask("conv-1", "triage", core.NewUserMessage("hi"))
	task.DelegationDepth = 2

	_, err := r.Route(task, triageNode(), &core.Directive{Kind: core.DirectiveDelegate, Target: "math"})
	require.Error(t, err)
	assert.True(t, core.IsCode(err, core.CodeDelegationDepth))

	task.DelegationDepth = 1
	_, err = r.Route(task, triageNode(), &core.Directive{Kind: core.DirectiveDelegate, Target: "math"})
	assert.NoError(t, err)
}
