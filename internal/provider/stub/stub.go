// Package stub implements a deterministic provider.Provider for tests and
// the demo command: no network calls, scripted responses keyed by turn
// index, so the agent loop can be exercised without a real model.
package stub

import (
	"context"
	"sync/atomic"

	"github.com/rscheiwe/deepharness/internal/provider"
	"github.com/rscheiwe/deepharness/internal/toolkit"
)

// Turn is one scripted response the stub hands back in order.
type Turn struct {
	Content    string
	ToolCalls  []toolkit.Call
	TokensUsed int
}

// Provider replays Turns in order, looping the final one if the agent loop
// runs longer than the script.
type Provider struct {
	turns []Turn
	calls int64
}

// New builds a stub provider that replays turns in sequence.
func New(turns ...Turn) *Provider {
	return &Provider{turns: turns}
}

func (p *Provider) next() Turn {
	i := atomic.AddInt64(&p.calls, 1) - 1
	if len(p.turns) == 0 {
		return Turn{Content: "done"}
	}
	if int(i) >= len(p.turns) {
		return p.turns[len(p.turns)-1]
	}
	return p.turns[i]
}

func (p *Provider) Generate(_ context.Context, req provider.Request) (*provider.Response, error) {
	turn := p.next()
	return &provider.Response{
		Content:    turn.Content,
		ToolCalls:  turn.ToolCalls,
		ModelUsed:  req.Model,
		TokensUsed: turn.TokensUsed,
	}, nil
}

func (p *Provider) GenerateStream(ctx context.Context, req provider.Request, events chan<- provider.StreamEvent) (*provider.Response, error) {
	turn := p.next()

	if turn.Content != "" {
		select {
		case events <- provider.StreamEvent{Kind: provider.EventTextDelta, TextDelta: turn.Content}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	for _, call := range turn.ToolCalls {
		select {
		case events <- provider.StreamEvent{
			Kind:       provider.EventToolInputAvailable,
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Args:       call.Args,
		}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	select {
	case events <- provider.StreamEvent{Kind: provider.EventResponseMetadata, ModelUsed: req.Model, TokensUsed: turn.TokensUsed}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case events <- provider.StreamEvent{Kind: provider.EventEnd}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return &provider.Response{
		Content:    turn.Content,
		ToolCalls:  turn.ToolCalls,
		ModelUsed:  req.Model,
		TokensUsed: turn.TokensUsed,
	}, nil
}

var _ provider.Provider = (*Provider)(nil)
