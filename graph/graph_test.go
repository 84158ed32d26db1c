package graph

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/core"
)

func demoProject() *ProjectDefinition {
	return &ProjectDefinition{
		ID:         "demo",
		EntryAgent: "triage",
		Agents: []AgentDefinition{
			{ID: "triage", Name: "Triage", Description: "routes work", TransferTarget: "billing", Delegates: []string{"math"}},
			{ID: "billing", Name: "Billing", Description: "handles invoices"},
			{ID: "math", Name: "Math", Description: "does arithmetic", Tools: []string{"calculate_sum"}},
		},
	}
}

func TestResolve(t *testing.T) {
	store := NewInMemoryStore()
	store.Put(demoProject())

	r := NewResolver(store)
	g, err := r.Resolve("demo")
	require.NoError(t, err)

	assert.Equal(t, "triage", g.EntryAgentID)
	node, ok := g.Node("triage")
	require.True(t, ok)
	assert.True(t, node.MayTransferTo("billing"))
	assert.False(t, node.MayTransferTo("math"))
	assert.True(t, node.MayDelegateTo("math"))
	assert.False(t, node.MayDelegateTo("billing"))
}

func TestResolveUnknownProject(t *testing.T) {
	r := NewResolver(NewInMemoryStore())
	_, err := r.Resolve("nope")
	require.Error(t, err)
	assert.Equal(t, core.CodeNotFound, core.CodeOf(err))
}

func TestResolveMissingEntryAgent(t *testing.T) {
	store := NewInMemoryStore()
	store.Put(&ProjectDefinition{
		ID:         "bad",
		EntryAgent: "ghost",
		Agents:     []AgentDefinition{{ID: "only"}},
	})

	_, err := NewResolver(store).Resolve("bad")
	require.Error(t, err)
	assert.Equal(t, core.CodeConfigInvalid, core.CodeOf(err))
}

func TestResolveDanglingReferences(t *testing.T) {
	store := NewInMemoryStore()
	store.Put(&ProjectDefinition{
		ID:         "dangling",
		EntryAgent: "a",
		Agents: []AgentDefinition{
			{ID: "a", TransferTarget: "missing"},
		},
	})

	_, err := NewResolver(store).Resolve("dangling")
	require.Error(t, err)
	assert.Equal(t, core.CodeConfigInvalid, core.CodeOf(err))
}

func TestResolveRejectsDelegationCycle(t *testing.T) {
	store := NewInMemoryStore()
	store.Put(&ProjectDefinition{
		ID:         "cyclic",
		EntryAgent: "a",
		Agents: []AgentDefinition{
			{ID: "a", Delegates: []string{"b"}},
			{ID: "b", Delegates: []string{"c"}},
			{ID: "c", Delegates: []string{"a"}},
		},
	})

	_, err := NewResolver(store).Resolve("cyclic")
	require.Error(t, err)
	assert.Equal(t, core.CodeConfigInvalid, core.CodeOf(err))
}

func TestResolveCachesUntilInvalidate(t *testing.T) {
	store := NewInMemoryStore()
	store.Put(demoProject())

	r := NewResolver(store)
	first, err := r.Resolve("demo")
	require.NoError(t, err)

	// Changing the store is invisible until an explicit invalidation.
	updated := demoProject()
	updated.Agents = append(updated.Agents, AgentDefinition{ID: "extra"})
	store.Put(updated)

	cached, err := r.Resolve("demo")
	require.NoError(t, err)
	assert.Same(t, first, cached)

	r.Invalidate("demo")
	fresh, err := r.Resolve("demo")
	require.NoError(t, err)
	assert.Len(t, fresh.Nodes(), 4)
}

func TestCards(t *testing.T) {
	store := NewInMemoryStore()
	store.Put(demoProject())

	g, err := NewResolver(store).Resolve("demo")
	require.NoError(t, err)

	cards := g.Cards()
	require.Len(t, cards, 3)
	assert.Equal(t, "billing", cards[0].ID) // sorted by id
	assert.Equal(t, "math", cards[1].ID)
	assert.Equal(t, "billing", cards[2].TransferTarget)
	assert.Equal(t, []string{"math"}, cards[2].DelegateTargets)
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	data := []byte(`
id: demo
entry_agent: triage
agents:
  - id: triage
    name: Triage
    delegates: [math]
  - id: math
    name: Math
    tools: [calculate_sum]
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "demo.yaml"), data, 0o600))

	g, err := NewResolver(NewFileStore(dir)).Resolve("demo")
	require.NoError(t, err)
	node, ok := g.Node("math")
	require.True(t, ok)
	assert.Equal(t, []string{"calculate_sum"}, node.Tools)

	_, err = NewFileStore(dir).Project("absent")
	assert.Equal(t, core.CodeNotFound, core.CodeOf(err))
}
