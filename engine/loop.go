package engine

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/taskmesh/taskmesh/conversation"
	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/graph"
	"github.com/taskmesh/taskmesh/model"
	"github.com/taskmesh/taskmesh/route"
	"github.com/taskmesh/taskmesh/stream"
	"github.com/taskmesh/taskmesh/tool"
)

// execute drives a task to a terminal state. Every exit path emits the
// terminal events: a failed or cancelled task carries exactly one error event
// immediately before the single final event that closes the stream.
func (e *Engine) execute(ctx context.Context, task *core.Task, conv *conversation.Conversation, g *graph.AgentGraph, ch *stream.Channel) {
	limiter := core.NewCallLimiter(e.maxIterations)

	for {
		if ctx.Err() != nil {
			e.fail(ctx, task, ch, core.Errorf(core.CodeCancelled, "task cancelled"))
			return
		}
		if err := limiter.Increment(); err != nil {
			e.fail(ctx, task, ch, err)
			return
		}

		node, ok := g.Node(task.CurrentAgentID)
		if !ok {
			e.fail(ctx, task, ch, core.Errorf(core.CodeNotFound, "agent %q not in graph", task.CurrentAgentID))
			return
		}

		if task.State != core.TaskRouting {
			if err := task.Transition(core.TaskRouting); err != nil {
				e.fail(ctx, task, ch, err)
				return
			}
		}

		final, err := e.infer(ctx, task, node, conv, ch)
		if err != nil {
			e.fail(ctx, task, ch, err)
			return
		}

		calls := final.FunctionCalls()
		if len(calls) == 0 {
			e.finalize(ctx, task, conv, ch, final)
			return
		}

		if err := task.Transition(core.TaskHandling); err != nil {
			e.fail(ctx, task, ch, err)
			return
		}
		conv.Append(final)

		outcomes := e.dispatchTools(ctx, task, node, ch, calls)

		if err := task.Transition(core.TaskRouting); err != nil {
			e.fail(ctx, task, ch, err)
			return
		}

		if err := e.settleOutcomes(ctx, task, conv, g, node, ch, outcomes); err != nil {
			e.fail(ctx, task, ch, err)
			return
		}
	}
}

// infer runs one model turn with bounded retry. Partial text is streamed as
// token events; on retry, already-streamed tokens are not re-emitted.
func (e *Engine) infer(ctx context.Context, task *core.Task, node *graph.AgentNode, conv *conversation.Conversation, ch *stream.Channel) (core.Message, error) {
	req := model.Request{
		Instructions: node.Instruction,
		Contents:     conv.Messages(),
		Tools:        e.toolDefinitions(node),
		Stream:       true,
	}

	emitted := 0
	var lastErr error

	for attempt := 0; attempt <= e.retries; attempt++ {
		if attempt > 0 {
			e.metrics.InferenceRetries.Inc()
			e.logger.Warn("engine.infer.retry",
				"task_id", task.ID, "attempt", attempt, "error", lastErr.Error())
			select {
			case <-time.After(e.backoff * time.Duration(attempt)):
			case <-ctx.Done():
				return core.Message{}, core.Errorf(core.CodeCancelled, "task cancelled")
			}
		}

		responses, errs := e.model.Generate(ctx, req)

		var final *core.Message
		streamed := 0
		for r := range responses {
			if r.Partial {
				if text := r.Content.Text(); text != "" {
					streamed++
					if streamed > emitted {
						emitted = streamed
						if err := ch.Send(ctx, core.NewTokenEvent(task, text)); err != nil {
							return core.Message{}, core.Errorf(core.CodeCancelled, "task cancelled")
						}
					}
				}
				continue
			}
			msg := r.Content
			final = &msg
		}
		if err := <-errs; err != nil {
			if ctx.Err() != nil {
				return core.Message{}, core.Errorf(core.CodeCancelled, "task cancelled")
			}
			lastErr = err
			continue
		}
		if final == nil {
			lastErr = core.Errorf(core.CodeInferenceUnavailable, "model produced no final response")
			continue
		}
		return *final, nil
	}

	return core.Message{}, core.WrapError(core.CodeInferenceUnavailable, lastErr,
		"inference failed after %d attempts", e.retries+1)
}

// toolDefinitions builds the tool surface for a turn: the agent's configured
// tools plus the control tools its permissions admit.
func (e *Engine) toolDefinitions(node *graph.AgentNode) []model.ToolDefinition {
	var defs []model.ToolDefinition
	add := func(t tool.Tool) {
		defs = append(defs, model.ToolDefinition{Function: model.FunctionDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		}})
	}
	for _, name := range node.Tools {
		if t, ok := e.tools.Lookup(name); ok {
			add(t)
		} else {
			e.logger.Warn("engine.tool.unregistered", "agent_id", node.ID, "tool", name)
		}
	}
	if node.DefaultTransferTarget != "" {
		if t, ok := e.tools.Lookup(tool.TransferToolName); ok {
			add(t)
		}
	}
	if len(node.AllowedDelegates) > 0 {
		if t, ok := e.tools.Lookup(tool.DelegateToolName); ok {
			add(t)
		}
	}
	return defs
}

type toolOutcome struct {
	call      core.FunctionCall
	result    any
	err       error
	directive *core.Directive
}

// dispatchTools announces and executes the turn's tool calls. Execution is
// concurrent but results keep request order; tool_call events are emitted in
// request order before any execution starts.
func (e *Engine) dispatchTools(ctx context.Context, task *core.Task, node *graph.AgentNode, ch *stream.Channel, calls []core.FunctionCall) []toolOutcome {
	for _, call := range calls {
		_ = ch.Send(ctx, core.NewToolCallEvent(task, call))
	}

	outcomes := make([]toolOutcome, len(calls))
	grp, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		i, call := i, call
		grp.Go(func() error {
			tc := tool.NewContext(gctx, task.ID, task.ConversationID, node.ID, call.ID, e.logger)
			out := toolOutcome{call: call}

			t, ok := e.tools.Lookup(call.Name)
			if !ok {
				out.err = tool.NewError(call.Name, "unknown tool", string(core.CodeToolUnavailable))
			} else {
				out.result, out.err = e.invoker.Invoke(tc, t, call.Arguments)
			}
			out.directive = tc.Directive()

			outcome := "ok"
			if out.err != nil {
				outcome = "error"
			}
			e.metrics.ToolInvocations.WithLabelValues(call.Name, outcome).Inc()

			outcomes[i] = out
			return nil
		})
	}
	_ = grp.Wait()
	return outcomes
}

// settleOutcomes emits tool results in request order and applies at most one
// routing directive. Denied directives become tool errors the model sees on
// its next turn; they never fail the task.
func (e *Engine) settleOutcomes(ctx context.Context, task *core.Task, conv *conversation.Conversation, g *graph.AgentGraph, node *graph.AgentNode, ch *stream.Channel, outcomes []toolOutcome) error {
	directiveIdx := -1
	for i, out := range outcomes {
		if out.directive != nil && directiveIdx == -1 {
			directiveIdx = i
		}
	}

	for i, out := range outcomes {
		if i == directiveIdx {
			if err := e.settleDirective(ctx, task, conv, g, node, ch, out); err != nil {
				return err
			}
			continue
		}
		if out.directive != nil {
			// The control tool reported success, but only one routing action
			// is applied per turn; the model must not believe this one was.
			ignored := core.Errorf(core.CodeRoutingDenied, "directive ignored: one routing action per turn")
			_ = ch.Send(ctx, core.NewToolResultEvent(task, out.call.ID, out.call.Name, nil, ignored))
			conv.Append(core.NewToolMessage(out.call.ID, out.call.Name, nil, ignored))
			continue
		}
		_ = ch.Send(ctx, core.NewToolResultEvent(task, out.call.ID, out.call.Name, out.result, out.err))
		conv.Append(core.NewToolMessage(out.call.ID, out.call.Name, out.result, out.err))
	}
	return nil
}

// settleDirective validates and applies a routing directive recorded during
// tool execution.
func (e *Engine) settleDirective(ctx context.Context, task *core.Task, conv *conversation.Conversation, g *graph.AgentGraph, node *graph.AgentNode, ch *stream.Channel, out toolOutcome) error {
	decision, err := e.router.Route(task, node, out.directive)
	if err != nil {
		_ = ch.Send(ctx, core.NewToolResultEvent(task, out.call.ID, out.call.Name, nil, err))
		conv.Append(core.NewToolMessage(out.call.ID, out.call.Name, nil, err))
		return nil
	}

	switch decision.Kind {
	case route.DecisionTransfer:
		_ = ch.Send(ctx, core.NewToolResultEvent(task, out.call.ID, out.call.Name, out.result, nil))
		conv.Append(core.NewToolMessage(out.call.ID, out.call.Name, out.result, nil))

		if err := task.Transition(core.TaskTransferring); err != nil {
			return err
		}
		from := task.CurrentAgentID
		task.CurrentAgentID = decision.TargetAgentID
		conv.SetActiveAgent(decision.TargetAgentID)
		_ = ch.Send(ctx, core.NewTransferEvent(task, from, decision.TargetAgentID))
		e.metrics.Transfers.Inc()
		e.logger.Info("engine.transfer",
			"task_id", task.ID, "from_agent", from, "to_agent", decision.TargetAgentID)
		return nil

	case route.DecisionDelegate:
		return e.delegate(ctx, task, conv, g, ch, out, decision)

	default:
		return core.Errorf(core.CodeInternal, "unexpected routing decision %q", decision.Kind)
	}
}

// delegate spawns an awaited child task and feeds its terminal outcome back
// to the parent as the delegate call's tool result. A failed child is a
// structured child_task_failed result, never an automatic parent failure.
func (e *Engine) delegate(ctx context.Context, task *core.Task, conv *conversation.Conversation, g *graph.AgentGraph, ch *stream.Channel, out toolOutcome, decision route.Decision) error {
	if err := task.Transition(core.TaskDelegating); err != nil {
		return err
	}

	child := core.NewChildTask(task, decision.TargetAgentID, core.NewUserMessage(decision.Input))
	_ = ch.Send(ctx, core.NewDelegateStartEvent(task, child))
	e.metrics.Delegations.Inc()
	e.logger.Info("engine.delegate.start",
		"task_id", task.ID, "child_task_id", child.ID, "agent_id", child.CurrentAgentID)

	if err := task.Transition(core.TaskAwaitingChild); err != nil {
		return err
	}

	childText := e.runChild(ctx, child, g)

	// The outcome events must still flow when cancellation arrived while the
	// child was in flight; the loop's next iteration settles the parent.
	sendCtx := ctx
	if sendCtx.Err() != nil {
		sendCtx = context.WithoutCancel(ctx)
	}
	_ = ch.Send(sendCtx, core.NewDelegateResultEvent(task, child, childText))

	var result any
	var resultErr error
	if child.State == core.TaskCompleted {
		result = childText
	} else {
		result = map[string]any{
			"child_task_id": child.ID,
			"state":         string(child.State),
			"error_code":    string(child.ErrorCode),
		}
		resultErr = core.Errorf(core.CodeChildTaskFailed,
			"delegated task %s ended %s (%s)", child.ID, child.State, child.ErrorCode)
	}
	_ = ch.Send(sendCtx, core.NewToolResultEvent(task, out.call.ID, out.call.Name, result, resultErr))
	conv.Append(core.NewToolMessage(out.call.ID, out.call.Name, result, resultErr))

	e.logger.Info("engine.delegate.result",
		"task_id", task.ID, "child_task_id", child.ID, "state", string(child.State))
	return nil
}

// runChild executes a delegated child to a terminal state and returns its
// final text. The child has its own registered stream so it can be cancelled
// and observed like any task; its events are drained here since the parent
// relays the outcome as delegate_result.
func (e *Engine) runChild(ctx context.Context, child *core.Task, g *graph.AgentGraph) string {
	childConv := conversation.New(child.ConversationID, child.CurrentAgentID)

	childCh, err := e.streams.Open(child.ID)
	registered := err == nil
	if err != nil {
		// Stream id collision; run detached and leave the foreign stream alone.
		childCh = stream.NewChannel(child.ID)
	}
	// The parent's drain is the child's one consumer; a continuation on the
	// child's id must not steal its final event.
	if err := childCh.Attach(); err != nil {
		if registered {
			e.streams.Close(child.ID)
			registered = false
		}
		childCh = stream.NewChannel(child.ID)
		_ = childCh.Attach()
	}

	e.mu.Lock()
	childCtx, cancel := context.WithCancel(ctx)
	e.active[child.ID] = &activeTask{task: child, cancel: cancel}
	e.mu.Unlock()

	finalText := make(chan string, 1)
	go func() {
		var text string
		for ev := range childCh.Events() {
			if ev.Kind == core.EventFinal {
				text = ev.Text
			}
		}
		finalText <- text
	}()

	childConv.Append(child.Input)
	e.execute(childCtx, child, childConv, g, childCh)

	e.mu.Lock()
	delete(e.active, child.ID)
	e.mu.Unlock()
	e.recent.Add(child.ID, child)
	if registered {
		e.streams.Close(child.ID)
	}
	childCh.Close()
	cancel()

	return <-finalText
}

// finalize streams the turn's answer and completes the task.
func (e *Engine) finalize(ctx context.Context, task *core.Task, conv *conversation.Conversation, ch *stream.Channel, final core.Message) {
	if err := task.Transition(core.TaskStreaming); err != nil {
		e.fail(ctx, task, ch, err)
		return
	}
	conv.Append(final)

	if err := task.Transition(core.TaskCompleted); err != nil {
		e.fail(ctx, task, ch, err)
		return
	}
	_ = ch.Send(ctx, core.NewFinalEvent(task, final.Text()))
	e.logger.Info("engine.complete", "task_id", task.ID)
}

// fail drives the task to its failure terminal and emits the error/final
// pair. Cancellation maps to the cancelled state, everything else to failed.
func (e *Engine) fail(ctx context.Context, task *core.Task, ch *stream.Channel, err error) {
	code := core.CodeOf(err)
	task.ErrorCode = code

	terminal := core.TaskFailed
	if code == core.CodeCancelled {
		terminal = core.TaskCancelled
	}
	if !task.State.Terminal() {
		_ = task.Transition(terminal)
	}

	// Error events must still flow after the run context is cancelled.
	sendCtx := ctx
	if sendCtx.Err() != nil {
		sendCtx = context.WithoutCancel(ctx)
	}
	_ = ch.Send(sendCtx, core.NewErrorEvent(task, code, err.Error()))
	_ = ch.Send(sendCtx, core.NewFinalEvent(task, ""))

	e.logger.Error("engine.fail", "task_id", task.ID, "code", string(code), "error", err.Error())
}
