// Package engine drives task execution: it accepts submissions, runs the
// model-driven loop of inference, tool dispatch and routing, and delivers
// typed events over per-task streams until a terminal state is reached.
package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/taskmesh/taskmesh/conversation"
	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/graph"
	"github.com/taskmesh/taskmesh/logging"
	"github.com/taskmesh/taskmesh/model"
	"github.com/taskmesh/taskmesh/route"
	"github.com/taskmesh/taskmesh/stream"
	"github.com/taskmesh/taskmesh/tool"
)

const (
	defaultMaxIterations    = 32
	defaultInferenceRetries = 2
	defaultRetryBackoff     = 250 * time.Millisecond
	recentTaskWindow        = 512
)

// Options configure the Engine.
type Options struct {
	Logger logging.Logger
	// Tools is the registry agent tool names resolve against.
	Tools *tool.Registry
	// Invoker overrides the default tool invoker.
	Invoker *tool.Invoker
	// Router overrides the default delegation router.
	Router *route.Router
	// Streams overrides the default stream registry.
	Streams *stream.Registry
	// Conversations overrides the default in-memory conversation store.
	Conversations conversation.Store
	// Registerer receives engine metrics; defaults to the global registry.
	Registerer prometheus.Registerer
	// MaxIterations bounds inference calls per task.
	MaxIterations int
	// InferenceRetries bounds transparent retries per inference turn.
	InferenceRetries int
	// RetryBackoff is the base delay between inference retries.
	RetryBackoff time.Duration
}

// SubmitRequest describes one task submission.
type SubmitRequest struct {
	// TaskID is an optional externally minted task id. When set and no
	// explicit ConversationID is given, the conversation identity is derived
	// from it.
	TaskID string
	// ConversationID explicitly binds the task to a conversation and always
	// wins over derivation.
	ConversationID string
	// Input is the user message starting the task.
	Input core.Message
}

type activeTask struct {
	task   *core.Task
	cancel context.CancelFunc
}

// Engine owns task execution for one project.
type Engine struct {
	projectID     string
	resolver      *graph.Resolver
	model         model.Model
	tools         *tool.Registry
	invoker       *tool.Invoker
	router        *route.Router
	streams       *stream.Registry
	conversations conversation.Store
	metrics       *Metrics
	logger        logging.Logger

	maxIterations int
	retries       int
	backoff       time.Duration

	mu     sync.Mutex
	active map[string]*activeTask
	recent *lru.Cache[string, *core.Task]
}

// New constructs an Engine for projectID.
func New(projectID string, resolver *graph.Resolver, m model.Model, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Logger:           logging.NewDefaultLogger(),
		Registerer:       prometheus.DefaultRegisterer,
		MaxIterations:    defaultMaxIterations,
		InferenceRetries: defaultInferenceRetries,
		RetryBackoff:     defaultRetryBackoff,
	}
	for _, f := range optFns {
		f(&opts)
	}
	if opts.Tools == nil {
		opts.Tools = tool.NewRegistry()
	}
	if opts.Invoker == nil {
		opts.Invoker = tool.NewInvoker(func(o *tool.InvokerOptions) { o.Logger = opts.Logger })
	}
	if opts.Router == nil {
		opts.Router = route.NewRouter(func(o *route.RouterOptions) { o.Logger = opts.Logger })
	}
	if opts.Streams == nil {
		opts.Streams = stream.NewRegistry(func(o *stream.RegistryOptions) { o.Logger = opts.Logger })
	}
	if opts.Conversations == nil {
		opts.Conversations = conversation.NewInMemoryStore()
	}

	recent, _ := lru.New[string, *core.Task](recentTaskWindow)

	return &Engine{
		projectID:     projectID,
		resolver:      resolver,
		model:         m,
		tools:         opts.Tools,
		invoker:       opts.Invoker,
		router:        opts.Router,
		streams:       opts.Streams,
		conversations: opts.Conversations,
		metrics:       NewMetrics(opts.Registerer),
		logger:        opts.Logger,
		maxIterations: opts.MaxIterations,
		retries:       opts.InferenceRetries,
		backoff:       opts.RetryBackoff,
		active:        map[string]*activeTask{},
		recent:        recent,
	}
}

// Streams exposes the stream registry for continuation lookups.
func (e *Engine) Streams() *stream.Registry { return e.streams }

// Cards returns the agent discovery descriptors for the project.
func (e *Engine) Cards() ([]graph.AgentCard, error) {
	g, err := e.resolver.Resolve(e.projectID)
	if err != nil {
		return nil, err
	}
	return g.Cards(), nil
}

// Task returns an active or recently terminal task.
func (e *Engine) Task(taskID string) (*core.Task, bool) {
	e.mu.Lock()
	if at, ok := e.active[taskID]; ok {
		e.mu.Unlock()
		return at.task, true
	}
	e.mu.Unlock()
	return e.recent.Get(taskID)
}

// Submit validates a request, opens the task's stream and starts execution.
// The returned channel delivers the task's events; it is closed exactly once
// after the final event.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*core.Task, *stream.Channel, error) {
	if strings.TrimSpace(req.Input.Text()) == "" {
		return nil, nil, core.Errorf(core.CodeEmptyMessage, "input message is empty")
	}

	g, err := e.resolver.Resolve(e.projectID)
	if err != nil {
		return nil, nil, err
	}

	convID := e.resolveConversationID(req)
	conv := e.conversations.GetOrCreate(convID, g.EntryAgentID)

	agentID := conv.ActiveAgentID()
	if _, ok := g.Node(agentID); !ok {
		e.logger.Warn("engine.submit.active_agent_missing",
			"conversation_id", convID, "agent_id", agentID, "fallback", g.EntryAgentID)
		agentID = g.EntryAgentID
		conv.SetActiveAgent(agentID)
	}

	task := core.NewTask(convID, agentID, req.Input)
	if req.TaskID != "" {
		task.ID = req.TaskID
	}

	ch, err := e.streams.Open(task.ID)
	if err != nil {
		return nil, nil, err
	}
	// The submitter owns the consumer side; continuations must wait for an
	// explicit detach.
	if err := ch.Attach(); err != nil {
		e.streams.Close(task.ID)
		return nil, nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.mu.Lock()
	e.active[task.ID] = &activeTask{task: task, cancel: cancel}
	e.mu.Unlock()

	e.metrics.TasksStarted.Inc()
	e.metrics.ActiveTasks.Inc()
	e.logger.Info("engine.submit", "task_id", task.ID, "conversation_id", convID, "agent_id", agentID)

	go e.run(runCtx, task, conv, g, ch)

	return task, ch, nil
}

// resolveConversationID applies the context derivation rules: an explicit id
// wins, then derivation from the task id grammar. An unresolvable id is
// recoverable; the task proceeds in a fresh, unlinked conversation.
func (e *Engine) resolveConversationID(req SubmitRequest) string {
	if req.ConversationID != "" {
		return req.ConversationID
	}
	if req.TaskID != "" {
		convID, err := core.ParseConversationID(req.TaskID)
		if err == nil {
			return convID
		}
		e.logger.Warn("engine.submit.context_unresolvable",
			"task_id", req.TaskID, "error", err.Error())
	}
	return core.NewConversationID()
}

// Cancel aborts an active task.
func (e *Engine) Cancel(taskID string) error {
	e.mu.Lock()
	at, ok := e.active[taskID]
	e.mu.Unlock()
	if !ok {
		return core.Errorf(core.CodeNotFound, "task %s is not active", taskID)
	}
	at.cancel()
	e.logger.Info("engine.cancel", "task_id", taskID)
	return nil
}

// Shutdown cancels all active tasks and closes all streams.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	for _, at := range e.active {
		at.cancel()
	}
	e.mu.Unlock()
	e.streams.Shutdown()
}

func (e *Engine) run(ctx context.Context, task *core.Task, conv *conversation.Conversation, g *graph.AgentGraph, ch *stream.Channel) {
	defer func() {
		e.mu.Lock()
		delete(e.active, task.ID)
		e.mu.Unlock()
		e.recent.Add(task.ID, task)
		e.streams.Close(task.ID)
		e.metrics.ActiveTasks.Dec()
	}()

	conv.Append(task.Input)
	e.execute(ctx, task, conv, g, ch)

	switch task.State {
	case core.TaskCompleted:
		e.metrics.TasksCompleted.Inc()
	case core.TaskCancelled:
		e.metrics.TasksCancelled.Inc()
	case core.TaskFailed:
		e.metrics.TasksFailed.WithLabelValues(string(task.ErrorCode)).Inc()
	}
}
