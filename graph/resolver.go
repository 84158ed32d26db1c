package graph

import (
	"sync"

	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/logging"
)

// ProjectDefinition is the raw configuration shape handed to the resolver by
// the configuration store.
type ProjectDefinition struct {
	ID         string            `yaml:"id" json:"id"`
	EntryAgent string            `yaml:"entry_agent" json:"entry_agent"`
	Agents     []AgentDefinition `yaml:"agents" json:"agents"`
}

// AgentDefinition is one agent row of a project definition.
type AgentDefinition struct {
	ID             string   `yaml:"id" json:"id"`
	Name           string   `yaml:"name" json:"name"`
	Description    string   `yaml:"description" json:"description"`
	Instruction    string   `yaml:"instruction" json:"instruction"`
	TransferTarget string   `yaml:"transfer_target" json:"transfer_target"`
	Delegates      []string `yaml:"delegates" json:"delegates"`
	Tools          []string `yaml:"tools" json:"tools"`
}

// ProjectStore supplies raw project definitions. Implementations back onto
// the external configuration store; this package ships a YAML file store and
// an in-memory store.
type ProjectStore interface {
	Project(projectID string) (*ProjectDefinition, error)
}

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	Logger logging.Logger
}

// Resolver loads and validates agent graphs. Resolve is a pure read; results
// are cached until Invalidate is called with an explicit change notification.
type Resolver struct {
	store  ProjectStore
	logger logging.Logger

	mu    sync.RWMutex
	cache map[string]*AgentGraph
}

// NewResolver constructs a Resolver over the given store.
func NewResolver(store ProjectStore, optFns ...func(o *ResolverOptions)) *Resolver {
	opts := ResolverOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Resolver{store: store, logger: opts.Logger, cache: make(map[string]*AgentGraph)}
}

// Resolve returns the validated agent graph for a project. It fails with
// CodeNotFound for unknown projects and CodeConfigInvalid for dangling
// references, a missing entry agent or delegation cycles.
func (r *Resolver) Resolve(projectID string) (*AgentGraph, error) {
	r.mu.RLock()
	if g, ok := r.cache[projectID]; ok {
		r.mu.RUnlock()
		return g, nil
	}
	r.mu.RUnlock()

	def, err := r.store.Project(projectID)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, core.Errorf(core.CodeNotFound, "project %q not found", projectID)
	}

	g := &AgentGraph{
		ProjectID:    projectID,
		EntryAgentID: def.EntryAgent,
		nodes:        make(map[string]*AgentNode, len(def.Agents)),
	}
	for _, a := range def.Agents {
		if a.ID == "" {
			return nil, core.Errorf(core.CodeConfigInvalid, "project %s: agent with empty id", projectID)
		}
		if _, dup := g.nodes[a.ID]; dup {
			return nil, core.Errorf(core.CodeConfigInvalid, "project %s: duplicate agent id %q", projectID, a.ID)
		}
		g.nodes[a.ID] = &AgentNode{
			ID:                    a.ID,
			Name:                  a.Name,
			Description:           a.Description,
			Instruction:           a.Instruction,
			DefaultTransferTarget: a.TransferTarget,
			AllowedDelegates:      append([]string(nil), a.Delegates...),
			Tools:                 append([]string(nil), a.Tools...),
		}
	}

	if err := g.validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[projectID] = g
	r.mu.Unlock()

	r.logger.Info("graph.resolved", "project_id", projectID, "agents", len(def.Agents), "entry", def.EntryAgent)

	return g, nil
}

// Invalidate drops the cached graph for a project. Call on explicit change
// notification from the configuration store.
func (r *Resolver) Invalidate(projectID string) {
	r.mu.Lock()
	delete(r.cache, projectID)
	r.mu.Unlock()
}
