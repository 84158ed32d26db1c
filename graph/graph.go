// Package graph loads a project's agent, sub-agent and tool definitions into
// an in-memory directed graph. The graph is immutable after resolution and is
// safely shared without locking; reloading is an explicit new resolve.
package graph

import (
	"sort"

	"github.com/taskmesh/taskmesh/core"
)

// AgentNode is one vertex of the agent graph. Edges come in two kinds:
// transfers-to (irreversible handoff, at most one target, no return value)
// and delegates-to (spawns an awaited child task).
type AgentNode struct {
	ID          string
	Name        string
	Description string
	// Instruction is the opaque behavior descriptor handed to inference as
	// the system prompt. The engine never interprets it.
	Instruction           string
	DefaultTransferTarget string
	AllowedDelegates      []string
	Tools                 []string
}

// MayTransferTo reports whether target is the node's permitted transfer
// target.
func (n *AgentNode) MayTransferTo(target string) bool {
	return n.DefaultTransferTarget != "" && n.DefaultTransferTarget == target
}

// MayDelegateTo reports whether target is in the node's delegate permission
// set.
func (n *AgentNode) MayDelegateTo(target string) bool {
	for _, id := range n.AllowedDelegates {
		if id == target {
			return true
		}
	}
	return false
}

// AgentGraph is the resolved, read-only view of a project's agents.
type AgentGraph struct {
	ProjectID    string
	EntryAgentID string
	nodes        map[string]*AgentNode
}

// Node returns the node with the given id.
func (g *AgentGraph) Node(id string) (*AgentNode, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes sorted by id for deterministic iteration.
func (g *AgentGraph) Nodes() []*AgentNode {
	out := make([]*AgentNode, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AgentCard is the read-only discovery descriptor for one agent, consumed by
// peers to validate delegate/transfer targets before trusting configuration.
type AgentCard struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Summary          string   `json:"summary"`
	TransferTarget   string   `json:"transfer_target,omitempty"`
	DelegateTargets  []string `json:"delegate_targets,omitempty"`
	ToolCapabilities []string `json:"tool_capabilities,omitempty"`
}

// Cards returns discovery descriptors for every agent in the graph.
func (g *AgentGraph) Cards() []AgentCard {
	nodes := g.Nodes()
	cards := make([]AgentCard, 0, len(nodes))
	for _, n := range nodes {
		cards = append(cards, AgentCard{
			ID:               n.ID,
			Name:             n.Name,
			Summary:          n.Description,
			TransferTarget:   n.DefaultTransferTarget,
			DelegateTargets:  append([]string(nil), n.AllowedDelegates...),
			ToolCapabilities: append([]string(nil), n.Tools...),
		})
	}
	return cards
}

// validate enforces structural invariants at resolution time: a reachable
// entry agent, no dangling transfer/delegate references and no delegation
// cycles (unbounded mutual delegation is rejected up front; the runtime depth
// counter is only a backstop).
func (g *AgentGraph) validate() error {
	if g.EntryAgentID == "" {
		return core.Errorf(core.CodeConfigInvalid, "project %s: missing entry agent", g.ProjectID)
	}
	if _, ok := g.nodes[g.EntryAgentID]; !ok {
		return core.Errorf(core.CodeConfigInvalid, "project %s: entry agent %q not defined", g.ProjectID, g.EntryAgentID)
	}
	for _, n := range g.nodes {
		if t := n.DefaultTransferTarget; t != "" {
			if _, ok := g.nodes[t]; !ok {
				return core.Errorf(core.CodeConfigInvalid, "agent %s: dangling transfer target %q", n.ID, t)
			}
		}
		for _, d := range n.AllowedDelegates {
			if _, ok := g.nodes[d]; !ok {
				return core.Errorf(core.CodeConfigInvalid, "agent %s: dangling delegate target %q", n.ID, d)
			}
		}
	}
	return g.checkDelegationCycles()
}

// checkDelegationCycles runs a three-color DFS over delegate edges.
func (g *AgentGraph) checkDelegationCycles() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.nodes))

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, next := range g.nodes[id].AllowedDelegates {
			switch color[next] {
			case gray:
				return core.Errorf(core.CodeConfigInvalid, "delegation cycle through agents %s and %s", id, next)
			case white:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for id := range g.nodes {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}
