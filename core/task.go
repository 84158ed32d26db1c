package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskState enumerates the per-task lifecycle states.
//
//	Created → Routing → {Handling | Transferring | Delegating}
//	Delegating → AwaitingChild → Routing
//	Routing → Streaming → Completed
//	any non-terminal → Failed | Cancelled
type TaskState string

const (
	// TaskCreated is the initial state after submission or delegation fan-out.
	TaskCreated TaskState = "created"
	// TaskRouting means the loop is consulting inference and the router for
	// the next step.
	TaskRouting TaskState = "routing"
	// TaskHandling means the acting agent is executing tool calls locally.
	TaskHandling TaskState = "handling"
	// TaskTransferring means the conversation's active agent is being handed
	// off permanently.
	TaskTransferring TaskState = "transferring"
	// TaskDelegating means a child task is being spawned.
	TaskDelegating TaskState = "delegating"
	// TaskAwaitingChild means the parent is suspended until the child reaches
	// a terminal state.
	TaskAwaitingChild TaskState = "awaiting_child"
	// TaskStreaming means the final answer is being streamed to the client.
	TaskStreaming TaskState = "streaming"
	// TaskCompleted is the successful terminal state.
	TaskCompleted TaskState = "completed"
	// TaskFailed is the unrecovered-error terminal state.
	TaskFailed TaskState = "failed"
	// TaskCancelled is the terminal state for explicit cancellation.
	TaskCancelled TaskState = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// transitions is the allowed successor set per state. Failed and Cancelled
// are reachable from every non-terminal state and are therefore handled in
// CanTransition rather than listed per state.
var transitions = map[TaskState][]TaskState{
	TaskCreated:       {TaskRouting},
	TaskRouting:       {TaskHandling, TaskTransferring, TaskDelegating, TaskStreaming},
	TaskHandling:      {TaskRouting},
	TaskTransferring:  {TaskRouting},
	TaskDelegating:    {TaskAwaitingChild},
	TaskAwaitingChild: {TaskRouting},
	TaskStreaming:     {TaskCompleted},
}

// CanTransition reports whether next is a legal successor of s.
func (s TaskState) CanTransition(next TaskState) bool {
	if s.Terminal() {
		return false
	}
	if next == TaskFailed || next == TaskCancelled {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Task is one unit of agent work tied to a request or delegation. It is
// created on submission or delegation fan-out and mutated only by the
// execution loop; terminal tasks are retained for a bounded replay window.
type Task struct {
	ID              string    `json:"id"`
	ConversationID  string    `json:"conversation_id"`
	CurrentAgentID  string    `json:"current_agent_id"`
	State           TaskState `json:"state"`
	CreatedAt       time.Time `json:"created_at"`
	ParentTaskID    string    `json:"parent_task_id,omitempty"`
	Input           Message   `json:"input"`
	DelegationDepth int       `json:"delegation_depth,omitempty"`
	ErrorCode       Code      `json:"error_code,omitempty"`
}

// NewTask creates a Created task bound to a conversation and agent. The id
// follows the external task id grammar.
func NewTask(conversationID, agentID string, input Message) *Task {
	return &Task{
		ID:             NewTaskID(conversationID),
		ConversationID: conversationID,
		CurrentAgentID: agentID,
		State:          TaskCreated,
		CreatedAt:      time.Now().UTC(),
		Input:          input,
	}
}

// NewChildTask spawns a delegation child of parent targeting agentID. The
// conversation identity is propagated before dispatch; see PropagateContext
// for the invariant this protects.
func NewChildTask(parent *Task, agentID string, input Message) *Task {
	child := NewTask(parent.ConversationID, agentID, input)
	child.ParentTaskID = parent.ID
	child.DelegationDepth = parent.DelegationDepth + 1
	PropagateContext(parent, child)
	return child
}

// Transition advances the task state, enforcing the lifecycle table.
func (t *Task) Transition(next TaskState) error {
	if !t.State.CanTransition(next) {
		return Errorf(CodeInternal, "illegal task transition %s -> %s for %s", t.State, next, t.ID)
	}
	t.State = next
	return nil
}

// Task id grammar (stable external contract, v1):
//
//	task_<conversation-slug>-<turn-token>
//
// where <turn-token> is the inference turn identifier of the shape
// "chatcmpl-<alnum>". The conversation slug may itself contain hyphens; the
// documented derivation rule strips exactly the trailing "-chatcmpl-<alnum>"
// suffix. Other suffix shapes are deliberately not recognized; extending the
// grammar is a versioned contract change.
const (
	taskIDPrefix   = "task_"
	turnTokenMark  = "chatcmpl-"
	turnTokenChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// NewTaskID mints a task id for a conversation using a fresh turn token.
func NewTaskID(conversationID string) string {
	turn := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s%s-%s%s", taskIDPrefix, conversationID, turnTokenMark, turn)
}

// NewConversationID mints a fresh, unlinked conversation slug.
func NewConversationID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// NewID generates a unique identifier for events and tool calls.
func NewID() string { return uuid.NewString() }

// ParseConversationID applies the documented strip-suffix rule to a task id.
// It fails with CodeContextUnresolvable when the id does not match the v1
// grammar.
func ParseConversationID(taskID string) (string, error) {
	rest, ok := strings.CutPrefix(taskID, taskIDPrefix)
	if !ok {
		return "", Errorf(CodeContextUnresolvable, "task id %q lacks %q prefix", taskID, taskIDPrefix)
	}
	idx := strings.LastIndex(rest, "-"+turnTokenMark)
	if idx <= 0 {
		return "", Errorf(CodeContextUnresolvable, "task id %q has no turn token", taskID)
	}
	token := rest[idx+1+len(turnTokenMark):]
	if token == "" || strings.Trim(token, turnTokenChars) != "" {
		return "", Errorf(CodeContextUnresolvable, "task id %q has malformed turn token", taskID)
	}
	return rest[:idx], nil
}
