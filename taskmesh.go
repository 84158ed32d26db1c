// Package taskmesh provides a high-level façade over the task engine for
// embedding multi-agent delegation in Go programs. Most applications interact
// with this package by:
//  1. Creating a Mesh via New() with a project store and a model
//  2. Registering tools agents may call
//  3. Submitting tasks asynchronously (Submit) or synchronously (SubmitSync)
//
// The façade delegates execution to engine.Engine while keeping setup
// concise. Defaults are in-memory and safe for local development; the HTTP
// surface in package server is the production front.
package taskmesh

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/taskmesh/taskmesh/conversation"
	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/engine"
	"github.com/taskmesh/taskmesh/graph"
	"github.com/taskmesh/taskmesh/logging"
	"github.com/taskmesh/taskmesh/model"
	"github.com/taskmesh/taskmesh/tool"
)

// Options configure a Mesh.
type Options struct {
	// ProjectStore supplies agent graph definitions; defaults to an empty
	// in-memory store.
	ProjectStore graph.ProjectStore
	// Conversations defaults to an in-memory store.
	Conversations conversation.Store
	// Tools seeds the tool registry beyond the built-in control tools.
	Tools []tool.Tool
	// Logger defaults to NoOp.
	Logger logging.Logger
	// Registerer receives engine metrics; defaults to the global registry.
	Registerer prometheus.Registerer
}

// Mesh aggregates the engine and its collaborators behind a small API.
type Mesh struct {
	engine *engine.Engine
	tools  *tool.Registry
}

// New creates a Mesh executing the given project against m.
func New(projectID string, m model.Model, optFns ...func(o *Options)) *Mesh {
	opts := Options{
		ProjectStore:  graph.NewInMemoryStore(),
		Conversations: conversation.NewInMemoryStore(),
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	registry := tool.NewRegistry(opts.Tools...)
	resolver := graph.NewResolver(opts.ProjectStore, func(o *graph.ResolverOptions) {
		o.Logger = opts.Logger
	})

	eng := engine.New(projectID, resolver, m, func(o *engine.Options) {
		o.Logger = opts.Logger
		o.Tools = registry
		o.Conversations = opts.Conversations
		if opts.Registerer != nil {
			o.Registerer = opts.Registerer
		}
	})

	return &Mesh{engine: eng, tools: registry}
}

// Engine exposes the underlying engine, e.g. for mounting the HTTP server.
func (m *Mesh) Engine() *engine.Engine { return m.engine }

// RegisterTool adds a tool after construction.
func (m *Mesh) RegisterTool(t tool.Tool) error { return m.tools.Register(t) }

// Submit starts a task and returns it with its event channel.
func (m *Mesh) Submit(ctx context.Context, req engine.SubmitRequest) (*core.Task, <-chan core.Event, error) {
	task, ch, err := m.engine.Submit(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	return task, ch.Events(), nil
}

// SubmitSync runs a task to its terminal state and returns all events.
func (m *Mesh) SubmitSync(ctx context.Context, req engine.SubmitRequest) (*core.Task, []core.Event, error) {
	task, events, err := m.Submit(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	var collected []core.Event
	for {
		select {
		case <-ctx.Done():
			return task, collected, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return task, collected, nil
			}
			collected = append(collected, ev)
		}
	}
}

// Shutdown cancels active tasks and releases engine resources.
func (m *Mesh) Shutdown() { m.engine.Shutdown() }
