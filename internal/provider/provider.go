// Package provider defines the inbound contract the agent loop depends on
// to talk to a language model. No concrete wire client ships here — wiring
// an actual Anthropic/OpenAI/Gemini client is out of scope for the harness
// core — but the contract and a retry wrapper are, so internal/loop has
// something real to call and test against.
package provider

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/rscheiwe/deepharness/internal/message"
	"github.com/rscheiwe/deepharness/internal/toolkit"
)

// EventKind discriminates the tagged union carried by StreamEvent.
type EventKind string

const (
	EventTextDelta           EventKind = "text_delta"
	EventToolInputStart      EventKind = "tool_input_start"
	EventToolInputDelta      EventKind = "tool_input_delta"
	EventToolInputAvailable  EventKind = "tool_input_available"
	EventToolOutputAvailable EventKind = "tool_output_available"
	EventResponseMetadata    EventKind = "response_metadata"
	EventError               EventKind = "error"
	EventEnd                 EventKind = "end"
)

// StreamEvent is one inbound event from a streaming provider call.
type StreamEvent struct {
	Kind EventKind

	// EventTextDelta
	TextDelta string

	// EventToolInputStart / EventToolInputDelta / EventToolInputAvailable
	ToolCallID   string
	ToolName     string
	ArgsFragment string                 // raw partial JSON for Delta events
	Args         map[string]interface{} // fully parsed, only set on ToolInputAvailable

	// EventToolOutputAvailable. Emitted by the agent loop after it dispatches
	// a tool call, not by the provider itself; folded into the same stream so
	// a consumer sees inputs and outputs in causal order.
	Output string

	// EventResponseMetadata
	ModelUsed  string
	TokensUsed int

	// EventError
	Err error
}

// Request is what the agent loop sends the provider each turn.
type Request struct {
	Messages    []message.Message
	Tools       []toolkit.Definition
	Model       string
	MaxTokens   int
	Temperature float64
}

// Response is the fully-accumulated result of one provider call, whether it
// arrived in one shot (Generate) or was assembled from a stream
// (GenerateStream).
type Response struct {
	Content    string
	ToolCalls  []toolkit.Call
	ModelUsed  string
	TokensUsed int
}

// Provider is the contract the agent loop depends on.
type Provider interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	GenerateStream(ctx context.Context, req Request, events chan<- StreamEvent) (*Response, error)
}

// RetryingProvider wraps any Provider with cenkalti/backoff retry for the
// ProviderError-then-fail-the-run policy: transient provider errors are
// retried with exponential backoff up to maxElapsed before the loop gives
// up and fails the run.
type RetryingProvider struct {
	inner      Provider
	maxElapsed time.Duration
}

// NewRetryingProvider wraps inner.
func NewRetryingProvider(inner Provider, maxElapsed time.Duration) *RetryingProvider {
	if maxElapsed <= 0 {
		maxElapsed = 30 * time.Second
	}
	return &RetryingProvider{inner: inner, maxElapsed: maxElapsed}
}

func (p *RetryingProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	op := func() (*Response, error) {
		return p.inner.Generate(ctx, req)
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(p.maxElapsed),
	)
}

// GenerateStream retries the whole stream attempt on failure. Events already
// pushed to the channel from a failed attempt are not retracted — callers
// that need exactly-once stream semantics should drain events into a fresh
// buffer per attempt rather than reading directly off a shared channel.
func (p *RetryingProvider) GenerateStream(ctx context.Context, req Request, events chan<- StreamEvent) (*Response, error) {
	op := func() (*Response, error) {
		return p.inner.GenerateStream(ctx, req, events)
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(p.maxElapsed),
	)
}

var _ Provider = (*RetryingProvider)(nil)
