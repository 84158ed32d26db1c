package core

import "time"

// EventKind enumerates the typed stream events delivered to clients, in
// delivery order per task: token, tool_call, tool_result, transfer,
// delegate_start, delegate_result, final, error. A final event is always
// last; a failed task carries exactly one error event immediately before it.
type EventKind string

const (
	// EventToken is an incremental chunk of the final answer.
	EventToken EventKind = "token"
	// EventToolCall announces a tool invocation in request order.
	EventToolCall EventKind = "tool_call"
	// EventToolResult reports a tool outcome, re-injected in request order.
	EventToolResult EventKind = "tool_result"
	// EventTransfer reports a permanent handoff of the active agent.
	EventTransfer EventKind = "transfer"
	// EventDelegateStart reports a spawned child task.
	EventDelegateStart EventKind = "delegate_start"
	// EventDelegateResult reports the child's terminal outcome.
	EventDelegateResult EventKind = "delegate_result"
	// EventFinal closes every stream; carries the aggregated answer text and
	// the terminal task state.
	EventFinal EventKind = "final"
	// EventError carries the stable machine-readable failure code.
	EventError EventKind = "error"
)

// Event is the unit of stream delivery. After emission it is immutable.
type Event struct {
	ID             string    `json:"id"`
	TaskID         string    `json:"task_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	AgentID        string    `json:"agent_id,omitempty"`
	Kind           EventKind `json:"kind"`
	Timestamp      time.Time `json:"timestamp"`

	Text       string          `json:"text,omitempty"`        // token / final
	ToolCall   *ToolCallInfo   `json:"tool_call,omitempty"`   // tool_call
	ToolResult *ToolResultInfo `json:"tool_result,omitempty"` // tool_result
	Transfer   *TransferInfo   `json:"transfer,omitempty"`    // transfer
	Delegate   *DelegateInfo   `json:"delegate,omitempty"`    // delegate_*
	TaskState  TaskState       `json:"task_state,omitempty"`  // final
	ErrorCode  Code            `json:"error_code,omitempty"`  // error
	ErrorMsg   string          `json:"error_message,omitempty"`
}

// ToolCallInfo describes an announced tool invocation.
type ToolCallInfo struct {
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

// ToolResultInfo describes a completed tool invocation.
type ToolResultInfo struct {
	CallID string `json:"call_id"`
	Name   string `json:"name"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// TransferInfo describes a permanent agent handoff.
type TransferInfo struct {
	FromAgentID string `json:"from_agent_id"`
	ToAgentID   string `json:"to_agent_id"`
}

// DelegateInfo describes a delegation edge event.
type DelegateInfo struct {
	ChildTaskID string    `json:"child_task_id"`
	AgentID     string    `json:"agent_id"`
	State       TaskState `json:"state,omitempty"`  // delegate_result
	Result      string    `json:"result,omitempty"` // child final text
	ErrorCode   Code      `json:"error_code,omitempty"`
}

func newEvent(t *Task, kind EventKind) Event {
	return Event{
		ID:             NewID(),
		TaskID:         t.ID,
		ConversationID: t.ConversationID,
		AgentID:        t.CurrentAgentID,
		Kind:           kind,
		Timestamp:      time.Now().UTC(),
	}
}

// NewTokenEvent wraps an incremental answer chunk.
func NewTokenEvent(t *Task, text string) Event {
	ev := newEvent(t, EventToken)
	ev.Text = text
	return ev
}

// NewToolCallEvent announces a tool invocation.
func NewToolCallEvent(t *Task, call FunctionCall) Event {
	ev := newEvent(t, EventToolCall)
	ev.ToolCall = &ToolCallInfo{CallID: call.ID, Name: call.Name, Arguments: call.Arguments}
	return ev
}

// NewToolResultEvent reports a tool outcome; err may be nil.
func NewToolResultEvent(t *Task, callID, name string, result any, err error) Event {
	ev := newEvent(t, EventToolResult)
	info := &ToolResultInfo{CallID: callID, Name: name, Result: result}
	if err != nil {
		info.Error = err.Error()
	}
	ev.ToolResult = info
	return ev
}

// NewTransferEvent reports a permanent handoff.
func NewTransferEvent(t *Task, from, to string) Event {
	ev := newEvent(t, EventTransfer)
	ev.Transfer = &TransferInfo{FromAgentID: from, ToAgentID: to}
	return ev
}

// NewDelegateStartEvent reports a spawned child task.
func NewDelegateStartEvent(t *Task, child *Task) Event {
	ev := newEvent(t, EventDelegateStart)
	ev.Delegate = &DelegateInfo{ChildTaskID: child.ID, AgentID: child.CurrentAgentID}
	return ev
}

// NewDelegateResultEvent reports a child's terminal outcome.
func NewDelegateResultEvent(t *Task, child *Task, result string) Event {
	ev := newEvent(t, EventDelegateResult)
	ev.Delegate = &DelegateInfo{
		ChildTaskID: child.ID,
		AgentID:     child.CurrentAgentID,
		State:       child.State,
		Result:      result,
		ErrorCode:   child.ErrorCode,
	}
	return ev
}

// NewFinalEvent closes a stream with the terminal state and aggregated text.
func NewFinalEvent(t *Task, text string) Event {
	ev := newEvent(t, EventFinal)
	ev.Text = text
	ev.TaskState = t.State
	return ev
}

// NewErrorEvent carries the stable failure code for a failed task.
func NewErrorEvent(t *Task, code Code, msg string) Event {
	ev := newEvent(t, EventError)
	ev.ErrorCode = code
	ev.ErrorMsg = msg
	return ev
}
