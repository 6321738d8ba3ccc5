// Package loop drives the agent's ReAct cycle: plan, call the provider,
// execute tools, gate on approval, repeat until the run finishes, fails, or
// is cancelled.
package loop

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is a run's position in the agent loop state machine.
type State string

const (
	StateIdle             State = "idle"
	StatePlanning         State = "planning"
	StateAwaitingProvider State = "awaiting_provider"
	StateExecutingTools   State = "executing_tools"
	StateAwaitingApproval State = "awaiting_approval"
	StateDone             State = "done"
	StateFailed           State = "failed"
	StateCancelled        State = "cancelled"
)

// Terminal reports whether no transition can ever leave s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}

// canMove reports whether the loop may move from s to next. planning covers
// BeforeTurn hook execution (context-manager compaction included);
// awaiting_approval is a suspension state entered whenever a mutator tool
// call needs a decision from the approval manager before executing_tools
// can proceed. Any started run may fail or be cancelled from wherever it
// stands; everything else follows the cycle.
func (s State) canMove(next State) bool {
	if s.Terminal() {
		return false
	}
	if next == StateFailed || next == StateCancelled {
		return s != StateIdle
	}
	switch s {
	case StateIdle:
		return next == StatePlanning
	case StatePlanning:
		return next == StateAwaitingProvider
	case StateAwaitingProvider:
		return next == StateExecutingTools || next == StateDone
	case StateExecutingTools:
		// awaiting_approval suspends mid-dispatch; planning starts the next
		// provider turn once every call in this batch has its result.
		return next == StateAwaitingApproval || next == StatePlanning
	case StateAwaitingApproval:
		// approved resumes execution; denied folds the denial into the next
		// turn.
		return next == StateExecutingTools || next == StatePlanning
	}
	return false
}

// Snapshot captures a run's counters at a point in time.
type Snapshot struct {
	State         State         `json:"state"`
	Step          int           `json:"step"`
	MaxSteps      int           `json:"max_steps"`
	TokensUsed    int           `json:"tokens_used"`
	ToolsExecuted int           `json:"tools_executed"`
	RetryCount    int           `json:"retry_count"`
	ErrorCount    int           `json:"error_count"`
	Elapsed       time.Duration `json:"elapsed"`
	ModelUsed     string        `json:"model_used,omitempty"`
	LastTool      string        `json:"last_tool,omitempty"`
}

// TransitionListener observes every state change. Listeners run outside the
// machine's lock with a point-in-time snapshot, so one may call back into
// the machine without deadlocking.
type TransitionListener func(from, to State, snap Snapshot)

// StateMachine tracks one run's state and counters. The counters live in a
// Snapshot value so reading the machine is a copy plus the two
// point-in-time fields; reads are safe from any goroutine, and the loop
// itself is the only writer.
type StateMachine struct {
	mu        sync.RWMutex
	state     State
	counters  Snapshot
	startTime time.Time
	listeners []TransitionListener
	logger    *zap.Logger
}

// NewStateMachine creates a StateMachine starting in StateIdle.
func NewStateMachine(maxSteps int, logger *zap.Logger) *StateMachine {
	if logger == nil {
		logger = zap.NewNop()
	}
	sm := &StateMachine{state: StateIdle, startTime: time.Now(), logger: logger}
	sm.counters.MaxSteps = maxSteps
	return sm
}

// State returns the current state.
func (sm *StateMachine) State() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

// Snapshot returns a copy of the run's counters as of now.
func (sm *StateMachine) Snapshot() Snapshot {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.read()
}

// read copies the counters and fills the point-in-time fields. Callers hold
// at least a read lock.
func (sm *StateMachine) read() Snapshot {
	snap := sm.counters
	snap.State = sm.state
	snap.Elapsed = time.Since(sm.startTime)
	return snap
}

// Transition moves the machine to next, rejecting moves canMove forbids.
func (sm *StateMachine) Transition(next State) error {
	sm.mu.Lock()
	from := sm.state
	if !from.canMove(next) {
		sm.mu.Unlock()
		err := fmt.Errorf("loop: invalid state transition %s -> %s", from, next)
		sm.logger.Error("state machine violation", zap.Error(err))
		return err
	}
	sm.state = next
	snap := sm.read()
	listeners := append([]TransitionListener(nil), sm.listeners...)
	sm.mu.Unlock()

	sm.logger.Debug("state transition",
		zap.String("from", string(from)),
		zap.String("to", string(next)),
		zap.Int("step", snap.Step),
	)
	for _, fn := range listeners {
		fn(from, next, snap)
	}
	return nil
}

// OnTransition registers a listener invoked on every state change.
func (sm *StateMachine) OnTransition(fn TransitionListener) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.listeners = append(sm.listeners, fn)
}

// update applies one counter mutation under the write lock.
func (sm *StateMachine) update(fn func(c *Snapshot)) {
	sm.mu.Lock()
	fn(&sm.counters)
	sm.mu.Unlock()
}

func (sm *StateMachine) SetStep(step int) { sm.update(func(c *Snapshot) { c.Step = step }) }

func (sm *StateMachine) AddTokens(n int) { sm.update(func(c *Snapshot) { c.TokensUsed += n }) }

func (sm *StateMachine) RecordToolExec(toolName string) {
	sm.update(func(c *Snapshot) {
		c.ToolsExecuted++
		c.LastTool = toolName
	})
}

func (sm *StateMachine) RecordRetry() { sm.update(func(c *Snapshot) { c.RetryCount++ }) }

func (sm *StateMachine) RecordError() { sm.update(func(c *Snapshot) { c.ErrorCount++ }) }

func (sm *StateMachine) SetModel(model string) {
	sm.update(func(c *Snapshot) { c.ModelUsed = model })
}

// IsTerminal reports whether the run has reached Done, Failed, or Cancelled.
func (sm *StateMachine) IsTerminal() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state.Terminal()
}
