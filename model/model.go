// Package model defines the inference abstraction the execution loop runs
// against, plus test doubles. Provider adapters live in subpackages.
package model

import (
	"context"

	"github.com/taskmesh/taskmesh/core"
)

// Request is one inference turn: the acting agent's instruction, the
// conversation contents and the tool surface exposed for this turn.
type Request struct {
	// Instructions is the opaque behavior descriptor of the acting agent.
	Instructions string
	// Contents is the ordered conversation history including tool results.
	Contents []core.Message
	// Tools declares the callable surface for this turn.
	Tools []ToolDefinition
	// Stream requests incremental token responses.
	Stream bool
}

// ToolDefinition describes one callable tool to the provider.
type ToolDefinition struct {
	Function FunctionDefinition
}

// FunctionDefinition is the provider-neutral function schema.
type FunctionDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Response is one chunk (Partial) or the turn's final message.
type Response struct {
	ID string
	// Partial marks an incremental streaming chunk; the last response of a
	// turn always has Partial false and carries the complete message.
	Partial bool
	// Content holds text parts and any function calls the model requested.
	Content core.Message
	// FinishReason is the provider's stop reason for the final response.
	FinishReason string
	// Usage is populated on the final response when the provider reports it.
	Usage *Usage
}

// Usage reports token accounting for one turn.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Model generates responses for a request. Implementations stream responses
// on the first channel and report a terminal failure on the second; both
// channels are closed when the turn ends. At most one error is sent.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)
}
