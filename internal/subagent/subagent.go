// Package subagent implements the scheduler that spawns, bounds, and
// collects isolated child agent loops. It never runs a loop itself — the
// harness injects a RunFunc callback at wiring time — which keeps this
// package free of an import cycle with internal/loop.
package subagent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	harnesserrors "github.com/rscheiwe/deepharness/pkg/errors"
	"github.com/rscheiwe/deepharness/pkg/safego"
)

// Status is a subagent run's lifecycle stage.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Config describes one subagent to spawn.
type Config struct {
	ID               string
	ParentID         string
	Kind             string // selects a registered agent template, e.g. "researcher"
	Task             string
	SystemPrompt     string
	AllowedTools     []string
	MaxSteps         int
	MaxTokens        int64
	InheritedAskMode bool
}

// Result is what a completed subagent run produced.
type Result struct {
	Output     string
	TokensUsed int64
	Steps      int
}

// Run tracks one spawned subagent's lifecycle.
type Run struct {
	mu        sync.Mutex
	Config    Config
	Status    Status
	Result    *Result
	Err       error
	StartedAt time.Time
	EndedAt   time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

func (r *Run) setStatus(s Status) {
	r.mu.Lock()
	r.Status = s
	r.mu.Unlock()
}

// GetStatus reads the run's status (thread-safe).
func (r *Run) GetStatus() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Status
}

// RunFunc executes a single subagent's isolated agent loop and returns its
// result. Supplied by the harness facade, which owns the actual loop.Loop.
type RunFunc func(ctx context.Context, cfg Config) (*Result, error)

// EventKind discriminates the subagent lifecycle events a Scheduler
// publishes to its listeners, for a harness facade to merge into the
// parent's output stream tagged with SubagentID.
type EventKind string

const (
	EventSubagentStart    EventKind = "subagent-start"
	EventSubagentComplete EventKind = "subagent-complete"
	EventSubagentError    EventKind = "subagent-error"
)

// Event is one lifecycle notification about a spawned subagent.
type Event struct {
	Kind       EventKind
	SubagentID string
	AgentType  string
	Task       string
	Result     *Result
	Err        error
}

// Listener receives every Event a Scheduler publishes. Implementations must
// not block significantly — listeners run synchronously, without any
// scheduler lock held, on the run goroutine that publishes its start,
// complete, or error event, so a slow listener delays that run; a
// listener that never returns stalls that one subagent's completion
// notification to every other listener.
type Listener func(Event)

// Scheduler bounds and tracks every subagent spawned within one root
// session. A single Scheduler instance must be shared by a root run and all
// of its descendants so depth and total-count limits apply across the whole
// tree, not per-parent — this resolves the open question of whether a
// grandchild's spawns count against the root's budget: they do, because the
// root and every descendant share this one Scheduler.
type Scheduler struct {
	runFn RunFunc
	sem   *semaphore.Weighted
	log   *zap.Logger

	maxDepth          int
	maxTotalSubagents int

	mu       sync.Mutex
	runs     map[string]*Run
	children map[string][]string // parent id -> child ids
	depth    map[string]int
	total    int

	listenersMu  sync.Mutex
	nextListener int
	listeners    map[int]Listener
}

// NewScheduler builds a Scheduler bounded by maxConcurrent simultaneous
// children, maxDepth nesting levels, and maxTotalSubagents spawns for the
// lifetime of the root run.
func NewScheduler(runFn RunFunc, maxConcurrent, maxDepth, maxTotalSubagents int, log *zap.Logger) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		runFn:             runFn,
		sem:               semaphore.NewWeighted(int64(maxConcurrent)),
		log:               log,
		maxDepth:          maxDepth,
		maxTotalSubagents: maxTotalSubagents,
		runs:              make(map[string]*Run),
		children:          make(map[string][]string),
		depth:             make(map[string]int),
		listeners:         make(map[int]Listener),
	}
}

// OnEvent registers fn to receive every subagent lifecycle event published
// by this Scheduler, returning a handle for OffEvent.
func (s *Scheduler) OnEvent(fn Listener) int {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.nextListener++
	id := s.nextListener
	s.listeners[id] = fn
	return id
}

// OffEvent unregisters a listener previously added via OnEvent.
func (s *Scheduler) OffEvent(handle int) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	delete(s.listeners, handle)
}

func (s *Scheduler) publish(ev Event) {
	s.listenersMu.Lock()
	fns := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Spawn starts one subagent asynchronously and returns its Run immediately;
// callers use Wait/WaitAll to block for completion.
func (s *Scheduler) Spawn(ctx context.Context, cfg Config) (*Run, error) {
	s.mu.Lock()
	parentDepth := s.depth[cfg.ParentID]
	childDepth := parentDepth + 1
	if s.maxDepth > 0 && childDepth > s.maxDepth {
		s.mu.Unlock()
		return nil, fmt.Errorf("subagent: max depth %d exceeded", s.maxDepth)
	}
	if s.maxTotalSubagents > 0 && s.total >= s.maxTotalSubagents {
		s.mu.Unlock()
		return nil, harnesserrors.NewBudgetExceededError(fmt.Sprintf("subagent: max total subagents %d exceeded", s.maxTotalSubagents))
	}
	s.total++
	s.depth[cfg.ID] = childDepth
	s.children[cfg.ParentID] = append(s.children[cfg.ParentID], cfg.ID)

	runCtx, cancel := context.WithCancel(ctx)
	run := &Run{Config: cfg, Status: StatusPending, cancel: cancel, done: make(chan struct{})}
	s.runs[cfg.ID] = run
	s.mu.Unlock()

	safego.Go(s.log, "subagent-"+cfg.ID, func() { s.execute(runCtx, run) })
	return run, nil
}

// SpawnMany spawns every cfg concurrently (bounded by the scheduler's
// semaphore) and blocks until all have finished, returning their Runs in
// input order.
func (s *Scheduler) SpawnMany(ctx context.Context, cfgs []Config) ([]*Run, error) {
	runs := make([]*Run, len(cfgs))
	for i, cfg := range cfgs {
		run, err := s.Spawn(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("subagent: spawn %s: %w", cfg.ID, err)
		}
		runs[i] = run
	}
	for _, run := range runs {
		<-run.done
	}
	return runs, nil
}

func (s *Scheduler) execute(ctx context.Context, run *Run) {
	defer func() {
		if r := recover(); r != nil {
			run.mu.Lock()
			if run.Status != StatusCompleted && run.Status != StatusFailed && run.Status != StatusCancelled {
				run.Err = fmt.Errorf("subagent: panic: %v", r)
				run.Status = StatusFailed
				close(run.done)
			}
			run.mu.Unlock()
			panic(r)
		}
	}()
	if err := s.sem.Acquire(ctx, 1); err != nil {
		run.mu.Lock()
		run.Err = err
		run.Status = StatusCancelled
		run.mu.Unlock()
		close(run.done)
		return
	}
	defer s.sem.Release(1)

	run.mu.Lock()
	run.StartedAt = time.Now().UTC()
	run.Status = StatusRunning
	run.mu.Unlock()
	s.publish(Event{Kind: EventSubagentStart, SubagentID: run.Config.ID, AgentType: run.Config.Kind, Task: run.Config.Task})

	result, err := s.runFn(ctx, run.Config)

	run.mu.Lock()
	run.EndedAt = time.Now().UTC()
	run.Result = result
	if err != nil {
		run.Err = err
		if ctx.Err() != nil {
			run.Status = StatusCancelled
		} else {
			run.Status = StatusFailed
		}
	} else {
		run.Status = StatusCompleted
	}
	run.mu.Unlock()
	close(run.done)

	if err != nil {
		s.publish(Event{Kind: EventSubagentError, SubagentID: run.Config.ID, AgentType: run.Config.Kind, Task: run.Config.Task, Err: err})
	} else {
		s.publish(Event{Kind: EventSubagentComplete, SubagentID: run.Config.ID, AgentType: run.Config.Kind, Task: run.Config.Task, Result: result})
	}
}

// Wait blocks until run finishes and returns its terminal error, if any.
func (s *Scheduler) Wait(run *Run) error {
	<-run.done
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.Err
}

// WaitAll blocks until every run in runs finishes.
func (s *Scheduler) WaitAll(runs []*Run) {
	for _, run := range runs {
		<-run.done
	}
}

// Cancel stops a running or pending subagent and every descendant it has
// already spawned, terminating the whole cancelled subtree.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	run, ok := s.runs[id]
	children := append([]string(nil), s.children[id]...)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("subagent: run %s not found", id)
	}
	run.cancel()
	for _, childID := range children {
		_ = s.Cancel(childID)
	}
	return nil
}

// Get returns the Run for id, if known.
func (s *Scheduler) Get(id string) (*Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	return run, ok
}

// ListChildren returns the direct child ids of parentID.
func (s *Scheduler) ListChildren(parentID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.children[parentID]...)
}

// Active returns every run not yet in a terminal state.
func (s *Scheduler) Active() []*Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	var active []*Run
	for _, run := range s.runs {
		switch run.GetStatus() {
		case StatusPending, StatusRunning:
			active = append(active, run)
		}
	}
	return active
}

// GetResult returns id's terminal Result, if it has completed.
func (s *Scheduler) GetResult(id string) (*Result, bool) {
	s.mu.Lock()
	run, ok := s.runs[id]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	if run.Result == nil {
		return nil, false
	}
	return run.Result, true
}

// AllResults returns every run that has reached a terminal status, keyed by
// subagent id.
func (s *Scheduler) AllResults() map[string]*Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*Run)
	for id, run := range s.runs {
		switch run.GetStatus() {
		case StatusCompleted, StatusFailed, StatusCancelled:
			out[id] = run
		}
	}
	return out
}

// TotalSpawned returns how many subagents have been spawned against this
// scheduler's lifetime budget so far.
func (s *Scheduler) TotalSpawned() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}
