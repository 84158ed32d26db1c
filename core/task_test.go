package core

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConversationID(t *testing.T) {
	// Observed example pattern from the external contract.
	conv, err := ParseConversationID("task_math-demo-123456-chatcmpl-789")
	require.NoError(t, err)
	assert.Equal(t, "math-demo-123456", conv)
}

func TestParseConversationIDRejectsUnknownShapes(t *testing.T) {
	tests := []struct {
		name   string
		taskID string
	}{
		{"missing prefix", "math-demo-chatcmpl-789"},
		{"no turn token", "task_math-demo-123456"},
		{"empty slug", "task_-chatcmpl-789"},
		{"malformed token", "task_math-demo-chatcmpl-!!"},
		{"foreign suffix", "task_math-demo-turn-789"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConversationID(tt.taskID)
			require.Error(t, err)
			assert.Equal(t, CodeContextUnresolvable, CodeOf(err))
		})
	}
}

func TestDeriveConversationIDPrefersExplicit(t *testing.T) {
	task := &Task{ID: "task_other-chatcmpl-1", ConversationID: "explicit"}
	conv, err := DeriveConversationID(task)
	require.NoError(t, err)
	assert.Equal(t, "explicit", conv)
}

func TestDeriveConversationIDIdempotent(t *testing.T) {
	task := NewTask("demo-42", "triage", NewUserMessage("hi"))
	first, err := DeriveConversationID(task)
	require.NoError(t, err)
	second, err := DeriveConversationID(task)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, "demo-42", first)
}

func TestNewTaskIDRoundTrips(t *testing.T) {
	id := NewTaskID("proj-a-77")
	require.True(t, strings.HasPrefix(id, "task_proj-a-77-chatcmpl-"))
	conv, err := ParseConversationID(id)
	require.NoError(t, err)
	assert.Equal(t, "proj-a-77", conv)
}

func TestPropagateContext(t *testing.T) {
	parent := NewTask("conv-1", "a", NewUserMessage("root"))
	child := NewChildTask(parent, "b", NewUserMessage("sub"))
	assert.Equal(t, parent.ConversationID, child.ConversationID)
	assert.Equal(t, parent.ID, child.ParentTaskID)
	assert.Equal(t, 1, child.DelegationDepth)
}

func TestTaskTransitions(t *testing.T) {
	task := NewTask("conv-1", "a", NewUserMessage("hi"))
	require.NoError(t, task.Transition(TaskRouting))
	require.NoError(t, task.Transition(TaskHandling))
	require.NoError(t, task.Transition(TaskRouting))
	require.NoError(t, task.Transition(TaskStreaming))
	require.NoError(t, task.Transition(TaskCompleted))

	// Terminal states admit nothing further.
	assert.Error(t, task.Transition(TaskRouting))
	assert.Error(t, task.Transition(TaskFailed))
}

func TestTaskTransitionsToFailureFromAnywhere(t *testing.T) {
	for _, state := range []TaskState{TaskCreated, TaskRouting, TaskHandling, TaskAwaitingChild, TaskStreaming} {
		task := &Task{State: state}
		assert.NoError(t, task.Transition(TaskFailed), "from %s", state)
	}
}

func TestTaskIllegalTransition(t *testing.T) {
	task := NewTask("conv-1", "a", NewUserMessage("hi"))
	err := task.Transition(TaskStreaming) // must pass through routing first
	assert.Error(t, err)
}

func TestErrorCodes(t *testing.T) {
	inner := Errorf(CodeToolUnavailable, "probe failed")
	wrapped := WrapError(CodeChildTaskFailed, inner, "child %s", "task_x-chatcmpl-1")

	assert.Equal(t, CodeChildTaskFailed, CodeOf(wrapped))
	assert.True(t, IsCode(wrapped, CodeChildTaskFailed))
	assert.True(t, errors.Is(wrapped, inner))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
}
