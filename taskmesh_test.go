package taskmesh

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/engine"
	"github.com/taskmesh/taskmesh/graph"
	"github.com/taskmesh/taskmesh/model"
	"github.com/taskmesh/taskmesh/tool"
)

func newMesh(t *testing.T, m model.Model) *Mesh {
	t.Helper()

	store := graph.NewInMemoryStore()
	store.Put(&graph.ProjectDefinition{
		ID:         "support",
		EntryAgent: "triage",
		Agents: []graph.AgentDefinition{
			{ID: "triage", Instruction: "Route the request.", Delegates: []string{"math"}},
			{ID: "math", Instruction: "Solve arithmetic."},
		},
	})

	mesh := New("support", m, func(o *Options) {
		o.ProjectStore = store
		o.Registerer = prometheus.NewRegistry()
	})
	t.Cleanup(mesh.Shutdown)
	return mesh
}

func TestSubmitSync(t *testing.T) {
	mesh := newMesh(t, model.NewScriptedModel(model.Turn{Tokens: []string{"All set."}}))

	task, events, err := mesh.SubmitSync(context.Background(), engine.SubmitRequest{
		Input: core.NewUserMessage("help me"),
	})
	require.NoError(t, err)
	assert.Equal(t, core.TaskCompleted, task.State)
	require.NotEmpty(t, events)
	assert.Equal(t, core.EventFinal, events[len(events)-1].Kind)
	assert.Equal(t, "All set.", events[len(events)-1].Text)
}

func TestSubmitSyncDelegation(t *testing.T) {
	mesh := newMesh(t, model.NewScriptedModel(
		model.Turn{Calls: []core.FunctionCall{{
			ID: "c1", Name: tool.DelegateToolName, Arguments: `{"agent":"math","input":"6*7"}`,
		}}},
		model.Turn{Tokens: []string{"42"}},
		model.Turn{Tokens: []string{"It is 42."}},
	))

	task, events, err := mesh.SubmitSync(context.Background(), engine.SubmitRequest{
		Input: core.NewUserMessage("what is 6*7?"),
	})
	require.NoError(t, err)
	assert.Equal(t, core.TaskCompleted, task.State)

	var sawDelegate bool
	for _, ev := range events {
		if ev.Kind == core.EventDelegateResult {
			sawDelegate = true
			assert.Equal(t, "42", ev.Delegate.Result)
		}
	}
	assert.True(t, sawDelegate)
}

func TestRegisterTool(t *testing.T) {
	mesh := newMesh(t, model.NewScriptedModel())

	echo := tool.NewFunctionTool("echo", "Echo.",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(tc *tool.Context, args map[string]any) (any, error) { return "ok", nil },
	)
	require.NoError(t, mesh.RegisterTool(echo))
	assert.Error(t, mesh.RegisterTool(echo), "duplicate names are rejected")
}
