package middleware

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/rscheiwe/deepharness/internal/toolkit"
)

// retryableTool wraps a toolkit.Tool so transient handler failures (a
// non-nil error from Execute, as opposed to a domain-level
// Result{Success:false}) are retried with exponential backoff before
// surfacing to the agent loop as a HandlerError.
type retryableTool struct {
	toolkit.Tool
	maxElapsed time.Duration
}

// WithRetry wraps tool so Execute errors are retried via
// github.com/cenkalti/backoff/v5 before giving up, for handlers that call
// flaky external resources (network fetches, subprocess execution).
func WithRetry(tool toolkit.Tool, maxElapsed time.Duration) toolkit.Tool {
	if maxElapsed <= 0 {
		maxElapsed = 10 * time.Second
	}
	return &retryableTool{Tool: tool, maxElapsed: maxElapsed}
}

func (t *retryableTool) Execute(ctx context.Context, args map[string]interface{}) (*toolkit.Result, error) {
	op := func() (*toolkit.Result, error) {
		return t.Tool.Execute(ctx, args)
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(t.maxElapsed),
	)
}

var _ toolkit.Tool = (*retryableTool)(nil)
