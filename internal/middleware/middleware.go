// Package middleware defines the harness's pluggable capability contract
// and the pipeline that composes many middlewares into the agent loop's
// BeforeTurn/AfterAssistant/OnToolResult lifecycle, unifying prompt/tool
// contribution (BeforeModel/AfterModel) and tool-call veto
// (BeforeToolCall/AfterToolCall) into one named-operations
// contract.
package middleware

import (
	"context"

	"github.com/rscheiwe/deepharness/internal/message"
	"github.com/rscheiwe/deepharness/internal/toolkit"
)

// Middleware is the interface every capability provider implements. All
// methods have safe no-op defaults via NoOp, embedded by concrete
// middlewares that only care about a subset.
type Middleware interface {
	Name() string

	// Tools returns the executable tools this middleware contributes; the
	// harness registers them into its toolkit.Registry at session start.
	Tools() []toolkit.Tool

	// GetSystemPromptSegment returns a fragment appended to the system
	// prompt, or "" to contribute nothing.
	GetSystemPromptSegment(ctx context.Context) string

	// BeforeTurn runs once per agent-loop turn before the provider call,
	// and may rewrite the outgoing message slice (e.g. to inject a
	// progress reminder or trigger compaction).
	BeforeTurn(ctx context.Context, msgs []message.Message) ([]message.Message, error)

	// AfterAssistant runs once per turn after the provider responds, in
	// the reverse of BeforeTurn's registration order (HTTP-middleware
	// unwind semantics), and may append follow-up messages.
	AfterAssistant(ctx context.Context, response message.Message) ([]message.Message, error)

	// BeforeToolCall may veto a pending tool call by returning false.
	BeforeToolCall(ctx context.Context, call toolkit.Call) (bool, error)

	// OnToolResult observes a completed tool call's result.
	OnToolResult(ctx context.Context, call toolkit.Call, result *toolkit.Result)

	// ToJSON/FromJSON (de)serialize any session-scoped state the
	// middleware carries. harness.Session.GetState/LoadState do not call
	// them; a session's saved state holds only its message history and
	// loop snapshot.
	ToJSON() (map[string]interface{}, error)
	FromJSON(data map[string]interface{}) error
}

// NoOp implements every Middleware method as a harmless default; concrete
// middlewares embed it and override only what they need.
type NoOp struct{}

func (NoOp) Tools() []toolkit.Tool                                  { return nil }
func (NoOp) GetSystemPromptSegment(ctx context.Context) string     { return "" }
func (NoOp) BeforeTurn(ctx context.Context, msgs []message.Message) ([]message.Message, error) {
	return msgs, nil
}
func (NoOp) AfterAssistant(ctx context.Context, response message.Message) ([]message.Message, error) {
	return nil, nil
}
func (NoOp) BeforeToolCall(ctx context.Context, call toolkit.Call) (bool, error) { return true, nil }
func (NoOp) OnToolResult(ctx context.Context, call toolkit.Call, result *toolkit.Result) {}
func (NoOp) ToJSON() (map[string]interface{}, error)                     { return nil, nil }
func (NoOp) FromJSON(data map[string]interface{}) error                  { return nil }

// Pipeline composes many middlewares into the agent loop's lifecycle.
type Pipeline struct {
	middlewares []Middleware
}

// NewPipeline builds an empty pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{}
}

// Use appends mw to the pipeline, in the order BeforeTurn will run.
func (p *Pipeline) Use(mw Middleware) {
	p.middlewares = append(p.middlewares, mw)
}

// All returns every registered middleware, in registration order.
func (p *Pipeline) All() []Middleware {
	return p.middlewares
}

// Tools aggregates every middleware's contributed executable tools.
func (p *Pipeline) Tools() []toolkit.Tool {
	var out []toolkit.Tool
	for _, mw := range p.middlewares {
		out = append(out, mw.Tools()...)
	}
	return out
}

// SystemPrompt joins every middleware's non-empty prompt segment.
func (p *Pipeline) SystemPrompt(ctx context.Context) string {
	var out string
	for _, mw := range p.middlewares {
		seg := mw.GetSystemPromptSegment(ctx)
		if seg == "" {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += seg
	}
	return out
}

// RunBeforeTurn runs every middleware's BeforeTurn in registration order,
// threading the (possibly rewritten) message slice through each.
func (p *Pipeline) RunBeforeTurn(ctx context.Context, msgs []message.Message) ([]message.Message, error) {
	for _, mw := range p.middlewares {
		next, err := mw.BeforeTurn(ctx, msgs)
		if err != nil {
			return nil, err
		}
		msgs = next
	}
	return msgs, nil
}

// RunAfterAssistant runs every middleware's AfterAssistant in reverse
// registration order — the same HTTP-middleware "unwind" semantics — and
// collects every follow-up message any middleware appends.
func (p *Pipeline) RunAfterAssistant(ctx context.Context, response message.Message) ([]message.Message, error) {
	var extra []message.Message
	for i := len(p.middlewares) - 1; i >= 0; i-- {
		msgs, err := p.middlewares[i].AfterAssistant(ctx, response)
		if err != nil {
			return nil, err
		}
		extra = append(extra, msgs...)
	}
	return extra, nil
}

// RunBeforeToolCall returns false if any middleware vetoes the call: any
// hook can veto.
func (p *Pipeline) RunBeforeToolCall(ctx context.Context, call toolkit.Call) (bool, error) {
	for _, mw := range p.middlewares {
		ok, err := mw.BeforeToolCall(ctx, call)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// RunOnToolResult notifies every middleware of a completed tool call.
func (p *Pipeline) RunOnToolResult(ctx context.Context, call toolkit.Call, result *toolkit.Result) {
	for _, mw := range p.middlewares {
		mw.OnToolResult(ctx, call, result)
	}
}
