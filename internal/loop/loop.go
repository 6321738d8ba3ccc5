package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rscheiwe/deepharness/internal/approval"
	"github.com/rscheiwe/deepharness/internal/contextmgr"
	"github.com/rscheiwe/deepharness/internal/message"
	"github.com/rscheiwe/deepharness/internal/middleware"
	"github.com/rscheiwe/deepharness/internal/provider"
	"github.com/rscheiwe/deepharness/internal/toolkit"
	apperrors "github.com/rscheiwe/deepharness/pkg/errors"
)

// Config bounds a single Run of the agent loop.
type Config struct {
	MaxSteps     int
	MaxTokens    int64
	MaxDuration  time.Duration
	Model        string
	SystemPrompt string

	LoopWindowSize    int
	LoopThreshold     int
	LoopNameThreshold int
	MaxLoopFlags      int
}

// DefaultConfig returns sane bounds for an interactive session.
func DefaultConfig() Config {
	return Config{
		MaxSteps:          50,
		MaxTokens:         200_000,
		MaxDuration:       10 * time.Minute,
		LoopWindowSize:    12,
		LoopThreshold:     3,
		LoopNameThreshold: 8,
		MaxLoopFlags:      3,
	}
}

// Loop drives one session's ReAct cycle: plan (BeforeTurn + context
// management), call the provider, execute any resulting tool calls (gated
// by approval where the policy demands it), fold results back in, and
// repeat until the provider stops requesting tools, a guardrail trips, or
// the caller cancels.
type Loop struct {
	cfg Config

	provider provider.Provider
	registry toolkit.Registry
	policy   *toolkit.Policy
	pipeline *middleware.Pipeline
	approval *approval.Manager
	ctxmgr   *contextmgr.Manager

	sm    *StateMachine
	cost  *CostGuard
	loops *LoopDetector

	logger *zap.Logger
}

// New builds a Loop for one session.
func New(
	cfg Config,
	prov provider.Provider,
	registry toolkit.Registry,
	policy *toolkit.Policy,
	pipeline *middleware.Pipeline,
	approvalMgr *approval.Manager,
	ctxmgr *contextmgr.Manager,
	logger *zap.Logger,
) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		cfg:      cfg,
		provider: prov,
		registry: registry,
		policy:   policy,
		pipeline: pipeline,
		approval: approvalMgr,
		ctxmgr:   ctxmgr,
		sm:       NewStateMachine(cfg.MaxSteps, logger),
		cost:     NewCostGuard(cfg.MaxTokens, cfg.MaxDuration, logger),
		loops:    NewLoopDetector(cfg.LoopWindowSize, cfg.LoopThreshold, cfg.LoopNameThreshold, logger),
		logger:   logger,
	}
}

// State returns the run's current state machine.
func (l *Loop) State() *StateMachine { return l.sm }

// Run drives history forward until the run reaches a terminal state,
// returning the final assistant message.
func (l *Loop) Run(ctx context.Context, sessionID string, history *message.History) (message.Message, error) {
	return l.run(ctx, sessionID, history, nil)
}

// RunStream behaves like Run but forwards provider.StreamEvent as each turn
// streams in, in addition to returning the final assistant message once the
// run completes. Callers own events and must keep draining it until Run
// returns or risk blocking the loop.
func (l *Loop) RunStream(ctx context.Context, sessionID string, history *message.History, events chan<- provider.StreamEvent) (message.Message, error) {
	return l.run(ctx, sessionID, history, events)
}

func (l *Loop) run(ctx context.Context, sessionID string, history *message.History, events chan<- provider.StreamEvent) (message.Message, error) {
	if err := l.sm.Transition(StatePlanning); err != nil {
		return message.Message{}, err
	}

	for step := 0; ; step++ {
		l.sm.SetStep(step)

		if err := ctx.Err(); err != nil {
			l.sm.Transition(StateCancelled)
			return message.Message{}, apperrors.NewCancelledError("run context cancelled")
		}
		if err := l.cost.CheckBudget(); err != nil {
			l.sm.Transition(StateFailed)
			return message.Message{}, err
		}
		if l.cfg.MaxSteps > 0 && step >= l.cfg.MaxSteps {
			l.sm.Transition(StateFailed)
			return message.Message{}, apperrors.NewBudgetExceededError(fmt.Sprintf("exceeded max steps: %d", l.cfg.MaxSteps))
		}

		final, cont, err := l.turn(ctx, sessionID, history, events)
		if err != nil {
			l.sm.Transition(StateFailed)
			return message.Message{}, err
		}
		if !cont {
			l.sm.Transition(StateDone)
			return final, nil
		}
		if l.cfg.MaxLoopFlags > 0 && l.loops.Flagged() >= l.cfg.MaxLoopFlags {
			l.sm.Transition(StateFailed)
			return message.Message{}, apperrors.NewBudgetExceededError(
				fmt.Sprintf("loop detector flagged unbounded recursion %d times", l.loops.Flagged()))
		}
	}
}

// turn runs one planning->provider->tools cycle. cont reports whether
// another turn is needed (the provider requested tool calls). events is nil
// for a non-streaming Run.
func (l *Loop) turn(ctx context.Context, sessionID string, history *message.History, events chan<- provider.StreamEvent) (message.Message, bool, error) {
	msgs, err := l.pipeline.RunBeforeTurn(ctx, history.Messages())
	if err != nil {
		return message.Message{}, false, fmt.Errorf("loop: BeforeTurn: %w", err)
	}

	if l.ctxmgr != nil && l.ctxmgr.NeedsReduction(msgs) {
		reduced, record, err := l.ctxmgr.Process(ctx, sessionID, msgs)
		if err != nil {
			return message.Message{}, false, fmt.Errorf("loop: context reduction: %w", err)
		}
		l.logger.Info("context reduced", zap.String("strategy", string(record.Strategy)),
			zap.Int("before", record.OriginalTokens), zap.Int("after", record.CompactedTokens))
		msgs = reduced
		history.Replace(reduced)
	}

	if err := l.sm.Transition(StateAwaitingProvider); err != nil {
		return message.Message{}, false, err
	}

	tools := l.registry.List()
	if l.policy != nil {
		tools = l.policy.Filter(tools)
	}
	req := provider.Request{
		Messages: prependSystem(msgs, l.pipeline.SystemPrompt(ctx)),
		Tools:    tools,
		Model:    l.cfg.Model,
	}

	var resp *provider.Response
	if events != nil {
		resp, err = l.provider.GenerateStream(ctx, req, events)
	} else {
		resp, err = l.provider.Generate(ctx, req)
	}
	if err != nil {
		l.sm.RecordError()
		return message.Message{}, false, apperrors.NewProviderError("provider generate failed", err)
	}
	l.sm.AddTokens(resp.TokensUsed)
	l.sm.SetModel(resp.ModelUsed)
	if err := l.cost.AddTokens(int64(resp.TokensUsed)); err != nil {
		return message.Message{}, false, err
	}

	assistantMsg := assistantMessage(resp)
	history.Append(assistantMsg)

	extra, err := l.pipeline.RunAfterAssistant(ctx, assistantMsg)
	if err != nil {
		return message.Message{}, false, fmt.Errorf("loop: AfterAssistant: %w", err)
	}
	for _, m := range extra {
		history.Append(m)
	}

	if len(resp.ToolCalls) == 0 {
		return assistantMsg, false, nil
	}

	if err := l.sm.Transition(StateExecutingTools); err != nil {
		return message.Message{}, false, err
	}

	for _, call := range resp.ToolCalls {
		if call.ID == "" {
			call.ID = uuid.New().String()
		}
		if call.State == "" {
			call.State = toolkit.CallPendingInput
		}
		resultMsg, reflection, err := l.dispatch(ctx, &call)
		if err != nil {
			return message.Message{}, false, err
		}
		history.Append(resultMsg)
		if events != nil && len(resultMsg.Parts) > 0 {
			p := resultMsg.Parts[0]
			out := p.Output
			if !p.Success && p.ErrorText != "" {
				out = p.ErrorText
			}
			events <- provider.StreamEvent{
				Kind:       provider.EventToolOutputAvailable,
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Output:     out,
			}
		}
		if reflection != "" {
			history.Append(message.Text(message.RoleSystem, reflection))
		}
	}

	if err := l.sm.Transition(StatePlanning); err != nil {
		return message.Message{}, false, err
	}
	return message.Message{}, true, nil
}

// dispatch runs one tool call through approval (if required), execution,
// tier-1 context offload, and the loop detector, returning the tool-result
// message to append and a non-empty reflection prompt when the loop
// detector fired on this call. Unknown tools, schema mismatches, and
// handler failures are recovered here: each becomes an error tool-result
// the model can react to on the next turn, never a run-fatal error. Only
// errors from a middleware's BeforeToolCall hook, approval-gate
// cancellation, and state-machine violations propagate up.
func (l *Loop) dispatch(ctx context.Context, call *toolkit.Call) (message.Message, string, error) {
	tool, ok := l.registry.Get(call.Name)
	if !ok {
		l.sm.RecordError()
		return message.ToolResult(call.ID, "", false, apperrors.NewUnknownToolError(call.Name).Error()), "", nil
	}
	if l.policy != nil && !l.policy.IsAllowed(call.Name) {
		_ = call.Transition(toolkit.CallDenied)
		return message.ToolResult(call.ID, "", false, "tool not allowed by policy"), "", nil
	}
	if err := l.registry.Validate(call.Name, call.Args); err != nil {
		l.sm.RecordError()
		return message.ToolResult(call.ID, "", false, apperrors.NewValidationError("invalid tool arguments", err).Error()), "", nil
	}

	if ok, err := l.pipeline.RunBeforeToolCall(ctx, *call); err != nil {
		return message.Message{}, "", err
	} else if !ok {
		_ = call.Transition(toolkit.CallDenied)
		return message.ToolResult(call.ID, "", false, "denied by middleware"), "", nil
	}

	if l.policy != nil && l.policy.RequiresApproval(call.Name, tool.Kind()) {
		if err := l.sm.Transition(StateAwaitingApproval); err != nil {
			return message.Message{}, "", err
		}
		decision, err := l.awaitApproval(ctx, call, tool)
		if err != nil {
			return message.Message{}, "", err
		}
		if err := l.sm.Transition(StateExecutingTools); err != nil {
			return message.Message{}, "", err
		}
		if !decision.Approved {
			_ = call.Transition(toolkit.CallDenied)
			reason := decision.Reason
			if reason == "" {
				reason = "denied"
			}
			return message.ToolResult(call.ID, "", false, reason), "", nil
		}
	}

	_ = call.Transition(toolkit.CallApproved)
	_ = call.Transition(toolkit.CallRunning)

	var reflection string
	if sig := l.loops.RecordName(call.Name); sig != "" {
		reflection = sig
	}
	if sig := l.loops.Record(call.Name, argsSignature(call.Args)); sig != "" {
		reflection = sig
	}

	result, err := func() (res *toolkit.Result, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return tool.Execute(ctx, call.Args)
	}()
	l.sm.RecordToolExec(call.Name)
	if err != nil {
		_ = call.Transition(toolkit.CallFailed)
		l.sm.RecordError()
		l.pipeline.RunOnToolResult(ctx, *call, &toolkit.Result{Success: false, Error: err.Error()})
		return message.ToolResult(call.ID, "", false, apperrors.NewHandlerError(call.Name, err).Error()), reflection, nil
	}
	_ = call.Transition(toolkit.CallCompleted)

	l.pipeline.RunOnToolResult(ctx, *call, result)

	if l.ctxmgr != nil {
		if offloaded, record, err := l.ctxmgr.OffloadResult(ctx, call.Name, call.ID, result.Output, time.Now().UTC()); err != nil {
			l.logger.Warn("tier-1 offload failed", zap.String("tool", call.Name), zap.Error(err))
		} else if record != nil {
			result.Output = offloaded
			l.logger.Info("tier-1 offload applied",
				zap.String("tool", call.Name), zap.Int("tokens", record.OriginalTokens))
		}
	}

	return message.ToolResult(call.ID, result.Output, result.Success, result.Error), reflection, nil
}

func (l *Loop) awaitApproval(ctx context.Context, call *toolkit.Call, tool toolkit.Tool) (approval.Decision, error) {
	ch, err := l.approval.Request(approval.Request{CallID: call.ID, ToolName: call.Name, Args: call.Args})
	if err != nil {
		return approval.Decision{}, fmt.Errorf("loop: requesting approval: %w", err)
	}
	select {
	case decision := <-ch:
		return decision, nil
	case <-ctx.Done():
		return approval.Decision{}, apperrors.NewCancelledError("cancelled while awaiting approval")
	}
}

func assistantMessage(resp *provider.Response) message.Message {
	parts := []message.Part{{Kind: message.PartText, Text: resp.Content}}
	for _, call := range resp.ToolCalls {
		parts = append(parts, message.Part{
			Kind:       message.PartToolCall,
			ToolCallID: call.ID,
			ToolName:   call.Name,
			ToolArgs:   call.Args,
		})
	}
	return message.Message{Role: message.RoleAssistant, Parts: parts}
}

func prependSystem(msgs []message.Message, system string) []message.Message {
	if system == "" {
		return msgs
	}
	out := make([]message.Message, 0, len(msgs)+1)
	out = append(out, message.Text(message.RoleSystem, system))
	out = append(out, msgs...)
	return out
}

func argsSignature(args map[string]interface{}) string {
	if len(args) == 0 {
		return ""
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return string(raw)
}
