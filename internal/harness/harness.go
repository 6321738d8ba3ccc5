// Package harness is the deep agent harness's facade: one Harness holds the
// immutable tool/skill registries and middleware stack assembled once at
// construction, and vends per-session Sessions that each own their own
// message history, todo list, subagent scheduler, and eviction log. It is a
// library facade with no transport opinions of its own.
package harness

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rscheiwe/deepharness/internal/approval"
	"github.com/rscheiwe/deepharness/internal/contextmgr"
	"github.com/rscheiwe/deepharness/internal/fsbackend"
	"github.com/rscheiwe/deepharness/internal/loop"
	"github.com/rscheiwe/deepharness/internal/message"
	"github.com/rscheiwe/deepharness/internal/middleware"
	"github.com/rscheiwe/deepharness/internal/provider"
	"github.com/rscheiwe/deepharness/internal/skill"
	"github.com/rscheiwe/deepharness/internal/subagent"
	"github.com/rscheiwe/deepharness/internal/todo"
	"github.com/rscheiwe/deepharness/internal/toolkit"
)

// Config bounds every Session vended by a Harness.
type Config struct {
	Loop                loop.Config
	ContextManager      contextmgr.Config
	Policy              toolkit.Policy
	SubagentMaxConc     int
	SubagentMaxDepth    int
	SubagentMaxTotal    int
	SubagentMaxParallel int
}

// DefaultConfig returns sane bounds for an interactive harness.
func DefaultConfig() Config {
	return Config{
		Loop:                loop.DefaultConfig(),
		ContextManager:      contextmgr.DefaultConfig(),
		Policy:              toolkit.Policy{AskMode: true},
		SubagentMaxConc:     3,
		SubagentMaxDepth:    2,
		SubagentMaxTotal:    10,
		SubagentMaxParallel: 5,
	}
}

// Harness holds every resource shared across sessions: the tool registry,
// skill registry, middleware pipeline, provider, and filesystem backend.
// None of this is session-scoped — it is assembled once and handed to
// every Session unchanged.
type Harness struct {
	cfg Config

	registry *toolkit.InMemoryRegistry
	skills   skill.Registry
	pipeline *middleware.Pipeline
	backend  fsbackend.Backend
	prov     provider.Provider
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	agentTypesMu sync.RWMutex
	agentTypes   map[string]subagent.Config
}

// New builds a Harness from already-wired collaborators. Concrete tool
// registration, skill loading, and provider construction are the caller's
// responsibility — see cmd/deepharness-demo for a complete wiring example.
func New(cfg Config, registry *toolkit.InMemoryRegistry, skills skill.Registry, pipeline *middleware.Pipeline, backend fsbackend.Backend, prov provider.Provider, logger *zap.Logger) *Harness {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Harness{
		cfg:        cfg,
		registry:   registry,
		skills:     skills,
		pipeline:   pipeline,
		backend:    backend,
		prov:       prov,
		logger:     logger,
		sessions:   make(map[string]*Session),
		agentTypes: make(map[string]subagent.Config),
	}
}

// RegisterAgent saves a named subagent configuration template (system
// prompt, allowed tools, step/token budget) so callers can spawn by
// agentType instead of re-specifying every Config field per call. Templates
// are shared across sessions, consistent with the rest of the harness's
// boot-time-immutable shared state.
func (h *Harness) RegisterAgent(agentType string, cfg subagent.Config) {
	h.agentTypesMu.Lock()
	defer h.agentTypesMu.Unlock()
	h.agentTypes[agentType] = cfg
}

// ListAgentTypes returns every registered agent type name.
func (h *Harness) ListAgentTypes() []string {
	h.agentTypesMu.RLock()
	defer h.agentTypesMu.RUnlock()
	types := make([]string, 0, len(h.agentTypes))
	for name := range h.agentTypes {
		types = append(types, name)
	}
	return types
}

// AgentConfig returns the registered template for agentType, if any.
func (h *Harness) AgentConfig(agentType string) (subagent.Config, bool) {
	h.agentTypesMu.RLock()
	defer h.agentTypesMu.RUnlock()
	cfg, ok := h.agentTypes[agentType]
	return cfg, ok
}

// NewSession creates and registers a new Session under sessionID, seeded
// with systemPrompt.
func (h *Harness) NewSession(sessionID, systemPrompt string) *Session {
	h.mu.Lock()
	defer h.mu.Unlock()

	history := message.NewHistory(systemPrompt)
	approvalMgr := approval.NewManager()
	estimator := contextmgr.NewHeuristicEstimator()
	ctxCfg := h.cfg.ContextManager
	if ctxCfg.MaxTokens <= 0 {
		ctxCfg.MaxTokens = contextmgr.DefaultWindows.Lookup(h.cfg.Loop.Model)
	}
	ctxMgr := contextmgr.NewManager(ctxCfg, estimator, h.backend, nil)
	todoStore := todo.NewStore(h.backend, sessionID)

	sess := &Session{
		id:           sessionID,
		systemPrompt: systemPrompt,
		history:      history,
		approval:     approvalMgr,
		ctxmgr:       ctxMgr,
		todo:         todoStore,
		harness:      h,
	}

	sess.scheduler = subagent.NewScheduler(sess.runSubagent, h.cfg.SubagentMaxConc, h.cfg.SubagentMaxDepth, h.cfg.SubagentMaxTotal, h.logger)

	// The Harness-level pipeline carries every session-agnostic middleware
	// (filesystem, skills, memory, sandbox, caching). Planning and
	// Subagents hold per-session state (a todo.Store, a Scheduler) so each
	// session composes its own pipeline: the shared base plus its own
	// instances of those two.
	sessPipeline := middleware.NewPipeline()
	for _, mw := range h.pipeline.All() {
		sessPipeline.Use(mw)
	}
	sessPipeline.Use(middleware.NewPlanning(todoStore))
	sessPipeline.Use(middleware.NewSubagents(sess.scheduler, sessionID, h.cfg.SubagentMaxParallel))
	sess.pipeline = sessPipeline

	policy := h.cfg.Policy
	sess.loop = loop.New(h.cfg.Loop, h.prov, h.registry, &policy, sessPipeline, approvalMgr, ctxMgr, h.logger)

	h.sessions[sessionID] = sess
	return sess
}

// GetSession returns a previously created session, if any.
func (h *Harness) GetSession(sessionID string) (*Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[sessionID]
	return s, ok
}

// CloseSession tears down a session, cancelling any pending approvals and
// active subagents so no goroutine is left blocked forever.
func (h *Harness) CloseSession(sessionID string) {
	h.mu.Lock()
	sess, ok := h.sessions[sessionID]
	delete(h.sessions, sessionID)
	h.mu.Unlock()
	if !ok {
		return
	}
	sess.approval.Cancel()
	for _, run := range sess.scheduler.Active() {
		_ = sess.scheduler.Cancel(run.Config.ID)
	}
}

// Session is one conversation's isolated state: message history, todo list,
// approval gate, context manager, and subagent scheduler. The tool
// registry, skill registry, and middleware pipeline are shared with the
// owning Harness.
type Session struct {
	id           string
	systemPrompt string

	history   *message.History
	approval  *approval.Manager
	ctxmgr    *contextmgr.Manager
	todo      *todo.Store
	scheduler *subagent.Scheduler
	pipeline  *middleware.Pipeline
	loop      *loop.Loop

	harness *Harness
}

// ID returns the session's identifier.
func (s *Session) ID() string { return s.id }

// Approvals returns the session's approval gate, so a caller driving the
// harness from outside this package (a CLI prompt, a chat integration) can
// list and resolve pending tool-call approvals while Run blocks on them.
func (s *Session) Approvals() *approval.Manager { return s.approval }

// OnSubagentEvent registers fn to receive subagent-start/subagent-complete/
// subagent-error events for every subagent spawned in this session (and any
// of their descendants, since they share one Scheduler), so a caller can
// merge them into its own output stream tagged by SubagentID the way
// RunStream merges the parent's own provider events. Returns a handle for
// OffSubagentEvent.
func (s *Session) OnSubagentEvent(fn subagent.Listener) int {
	return s.scheduler.OnEvent(fn)
}

// OffSubagentEvent unregisters a listener previously added via
// OnSubagentEvent.
func (s *Session) OffSubagentEvent(handle int) {
	s.scheduler.OffEvent(handle)
}

// Run appends userInput to history and drives the agent loop to completion,
// returning the final assistant message.
func (s *Session) Run(ctx context.Context, userInput string) (message.Message, error) {
	s.history.Append(message.Text(message.RoleUser, userInput))
	return s.loop.Run(ctx, s.id, s.history)
}

// RunStream behaves like Run but emits a merged harness.Event stream:
// session-start/session-end bracketing the run, the
// parent's own provider events translated 1:1, and every subagent this run
// spawns (directly or transitively) tagged by SubagentID, interleaved in
// arrival order. Callers must keep draining events until RunStream returns
// or risk blocking the run.
func (s *Session) RunStream(ctx context.Context, userInput string, events chan<- Event) (message.Message, error) {
	// Listeners are registered before the session-start event is sent, so a
	// caller that has received session-start off the channel is guaranteed
	// (by the channel send/receive happens-before relation) that both
	// listeners are already live — safe to act on the session immediately.
	subHandle := s.scheduler.OnEvent(func(ev subagent.Event) {
		events <- fromSubagentEvent(s.id, ev)
	})
	defer s.scheduler.OffEvent(subHandle)

	approvalHandle := s.approval.OnRequest(func(req approval.Request) {
		events <- fromApprovalRequest(s.id, req)
	})
	defer s.approval.OffRequest(approvalHandle)

	events <- Event{Kind: EventSessionStart, SessionID: s.id}
	defer func() { events <- Event{Kind: EventSessionEnd, SessionID: s.id} }()

	providerEvents := make(chan provider.StreamEvent)
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		for ev := range providerEvents {
			events <- fromProviderEvent(s.id, ev)
		}
	}()

	s.history.Append(message.Text(message.RoleUser, userInput))
	final, err := s.loop.RunStream(ctx, s.id, s.history, providerEvents)
	close(providerEvents)
	<-relayDone

	return final, err
}

// State is the JSON-serializable snapshot GetState/LoadState round-trip.
type State struct {
	ID           string             `json:"id"`
	SystemPrompt string            `json:"system_prompt"`
	Messages     []message.Message `json:"messages"`
	Snapshot     loop.Snapshot     `json:"loop_snapshot"`
}

// GetState serializes the session's message history and loop snapshot.
func (s *Session) GetState() State {
	return State{
		ID:           s.id,
		SystemPrompt: s.systemPrompt,
		Messages:     s.history.Messages(),
		Snapshot:     s.loop.State().Snapshot(),
	}
}

// LoadState restores a previously serialized history into this session.
// The loop's own step/token counters are NOT restored — a reloaded session
// resumes with a fresh StateMachine, since resuming mid-turn across process
// restarts is out of scope.
func (s *Session) LoadState(state State) {
	s.history.Replace(state.Messages)
}

// runSubagent is the subagent.RunFunc the Session's scheduler invokes to
// execute one subagent's isolated agent loop. It shares this session's tool
// registry, skill registry, and this session's Scheduler (so grandchild
// spawns count against the same root budget) but gets its own message
// history and approval gate.
func (s *Session) runSubagent(ctx context.Context, cfg subagent.Config) (*subagent.Result, error) {
	// A spawn that reached the scheduler without passing through
	// SpawnSubagent (the model-facing spawn tools go straight to the
	// scheduler) still inherits its registered agent template here.
	// mergeAgentTemplate only fills zero-valued fields, so an already
	// merged config passes through unchanged.
	if cfg.Kind != "" {
		if template, ok := s.harness.AgentConfig(cfg.Kind); ok {
			cfg = mergeAgentTemplate(template, cfg)
		}
	}

	childHistory := message.NewHistory(cfg.SystemPrompt)
	childHistory.Append(message.Text(message.RoleUser, cfg.Task))

	childApproval := approval.NewManager()
	defer childApproval.Cancel()

	policy := s.harness.cfg.Policy
	policy.AskMode = cfg.InheritedAskMode
	if len(cfg.AllowedTools) > 0 {
		policy.AllowList = cfg.AllowedTools
	}

	loopCfg := s.harness.cfg.Loop
	if cfg.MaxSteps > 0 {
		loopCfg.MaxSteps = cfg.MaxSteps
	}
	if cfg.MaxTokens > 0 {
		loopCfg.MaxTokens = cfg.MaxTokens
	}

	childLoop := loop.New(loopCfg, s.harness.prov, s.harness.registry, &policy, s.pipeline, childApproval, s.ctxmgr, s.harness.logger)

	final, err := childLoop.Run(ctx, fmt.Sprintf("%s/%s", s.id, cfg.ID), childHistory)
	snap := childLoop.State().Snapshot()
	if err != nil {
		return nil, err
	}
	return &subagent.Result{
		Output:     final.TextContent(),
		TokensUsed: int64(snap.TokensUsed),
		Steps:      snap.Step,
	}, nil
}

// SpawnSubagent schedules a subagent run under this session, assigning it a
// fresh ID if cfg.ID is empty.
func (s *Session) SpawnSubagent(ctx context.Context, cfg subagent.Config) (*subagent.Run, error) {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	if cfg.Kind != "" {
		if template, ok := s.harness.AgentConfig(cfg.Kind); ok {
			cfg = mergeAgentTemplate(template, cfg)
		}
	}
	return s.scheduler.Spawn(ctx, cfg)
}

// mergeAgentTemplate fills any zero-valued field of override from the
// registered agentType template, letting a caller spawn with just
// {Task, Kind} and inherit the template's system prompt, allowed tools, and
// budget — while still being able to override any one field per call.
func mergeAgentTemplate(template, override subagent.Config) subagent.Config {
	merged := override
	if merged.SystemPrompt == "" {
		merged.SystemPrompt = template.SystemPrompt
	}
	if len(merged.AllowedTools) == 0 {
		merged.AllowedTools = template.AllowedTools
	}
	if merged.MaxSteps == 0 {
		merged.MaxSteps = template.MaxSteps
	}
	if merged.MaxTokens == 0 {
		merged.MaxTokens = template.MaxTokens
	}
	return merged
}
