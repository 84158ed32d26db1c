package model

import (
	"context"
	"strings"
	"sync"

	"github.com/taskmesh/taskmesh/core"
)

// Turn scripts one inference turn for the ScriptedModel.
type Turn struct {
	// Tokens are streamed as partial responses before the final message.
	Tokens []string
	// Calls are function calls attached to the final message.
	Calls []core.FunctionCall
	// Err aborts the turn with an inference failure instead of a response.
	Err error
}

// ScriptedModel replays a fixed sequence of turns. Each Generate call
// consumes the next turn; calls past the script return an empty final
// message. It records every request for assertions.
type ScriptedModel struct {
	mu       sync.Mutex
	turns    []Turn
	next     int
	requests []Request
}

// NewScriptedModel builds a model that replays turns in order.
func NewScriptedModel(turns ...Turn) *ScriptedModel {
	return &ScriptedModel{turns: turns}
}

// Requests returns a copy of every request seen so far.
func (m *ScriptedModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Calls reports how many turns have been consumed.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.next
}

// Generate implements Model.
func (m *ScriptedModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	var turn Turn
	if m.next < len(m.turns) {
		turn = m.turns[m.next]
	}
	m.next++
	m.mu.Unlock()

	responses := make(chan Response)
	errs := make(chan error, 1)

	go func() {
		defer close(responses)
		defer close(errs)

		if ctx.Err() != nil {
			errs <- ctx.Err()
			return
		}
		if turn.Err != nil {
			errs <- turn.Err
			return
		}

		if req.Stream {
			for _, tok := range turn.Tokens {
				select {
				case responses <- Response{ID: core.NewID(), Partial: true, Content: core.NewAssistantMessage(tok)}:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}
		}

		final := core.Message{Role: "assistant"}
		if text := strings.Join(turn.Tokens, ""); text != "" {
			final.Parts = append(final.Parts, core.TextPart{Text: text})
		}
		for _, call := range turn.Calls {
			final.Parts = append(final.Parts, core.FunctionCallPart{FunctionCall: call})
		}

		finish := "stop"
		if len(turn.Calls) > 0 {
			finish = "tool_calls"
		}

		select {
		case responses <- Response{ID: core.NewID(), Content: final, FinishReason: finish}:
		case <-ctx.Done():
			errs <- ctx.Err()
		}
	}()

	return responses, errs
}

// FlakyModel fails the first n Generate calls, then defers to the wrapped
// model. It exercises the bounded retry path.
type FlakyModel struct {
	mu       sync.Mutex
	failures int
	err      error
	inner    Model
}

// NewFlakyModel wraps inner with n leading failures returning err.
func NewFlakyModel(inner Model, n int, err error) *FlakyModel {
	return &FlakyModel{inner: inner, failures: n, err: err}
}

// Generate implements Model.
func (m *FlakyModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	m.mu.Lock()
	fail := m.failures > 0
	if fail {
		m.failures--
	}
	m.mu.Unlock()

	if !fail {
		return m.inner.Generate(ctx, req)
	}

	responses := make(chan Response)
	errs := make(chan error, 1)
	errs <- m.err
	close(responses)
	close(errs)
	return responses, errs
}
