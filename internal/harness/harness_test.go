package harness

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rscheiwe/deepharness/internal/fsbackend"
	"github.com/rscheiwe/deepharness/internal/middleware"
	"github.com/rscheiwe/deepharness/internal/provider/stub"
	"github.com/rscheiwe/deepharness/internal/skill"
	"github.com/rscheiwe/deepharness/internal/subagent"
	"github.com/rscheiwe/deepharness/internal/toolkit"
)

func newTestHarness(t *testing.T, turns ...stub.Turn) *Harness {
	t.Helper()
	registry := toolkit.NewInMemoryRegistry()
	pipeline := middleware.NewPipeline()
	backend, err := fsbackend.NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatalf("new local backend: %v", err)
	}
	skills := skill.NewInMemoryRegistry()
	prov := stub.New(turns...)

	cfg := DefaultConfig()
	cfg.Policy.AskMode = false
	return New(cfg, registry, skills, pipeline, backend, prov, zap.NewNop())
}

func TestHarness_RunSimpleSession(t *testing.T) {
	h := newTestHarness(t, stub.Turn{Content: "hi there"})
	sess := h.NewSession("sess-1", "you are a test harness agent")

	final, err := sess.Run(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if final.TextContent() != "hi there" {
		t.Errorf("expected %q, got %q", "hi there", final.TextContent())
	}

	state := sess.GetState()
	if len(state.Messages) < 3 {
		t.Errorf("expected system+user+assistant in history, got %d messages", len(state.Messages))
	}
}

func TestHarness_SessionLookupAndClose(t *testing.T) {
	h := newTestHarness(t, stub.Turn{Content: "ok"})
	h.NewSession("sess-2", "")

	if _, ok := h.GetSession("sess-2"); !ok {
		t.Fatal("expected session to be registered")
	}

	h.CloseSession("sess-2")
	if _, ok := h.GetSession("sess-2"); ok {
		t.Fatal("expected session to be removed after close")
	}
}

func TestHarness_LoadStateRestoresHistory(t *testing.T) {
	h := newTestHarness(t, stub.Turn{Content: "first"})
	sess := h.NewSession("sess-3", "")
	if _, err := sess.Run(context.Background(), "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	saved := sess.GetState()

	h2 := newTestHarness(t, stub.Turn{Content: "second"})
	restored := h2.NewSession("sess-3", "")
	restored.LoadState(saved)

	if len(restored.GetState().Messages) != len(saved.Messages) {
		t.Errorf("expected restored history to match saved history length")
	}
}

func TestSession_ApprovalsResolvesBlockedToolCall(t *testing.T) {
	registry := toolkit.NewInMemoryRegistry()
	pipeline := middleware.NewPipeline()
	backend, err := fsbackend.NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatalf("new local backend: %v", err)
	}
	pipeline.Use(middleware.NewFilesystem(backend))
	for _, tool := range pipeline.Tools() {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("register tool: %v", err)
		}
	}
	skills := skill.NewInMemoryRegistry()
	prov := stub.New(
		stub.Turn{ToolCalls: []toolkit.Call{{ID: "call-1", Name: "write_file", Args: map[string]interface{}{"path": "/note.txt", "content": "hi"}}}},
		stub.Turn{Content: "wrote it"},
	)

	cfg := DefaultConfig()
	cfg.Policy.AskMode = true
	h := New(cfg, registry, skills, pipeline, backend, prov, zap.NewNop())
	sess := h.NewSession("sess-approve", "")

	type runOutcome struct {
		text string
		err  error
	}
	done := make(chan runOutcome, 1)
	go func() {
		final, err := sess.Run(context.Background(), "write a note")
		done <- runOutcome{text: final.TextContent(), err: err}
	}()

	deadline := time.After(2 * time.Second)
	for !sess.Approvals().HasPending() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for a pending approval")
		case <-time.After(time.Millisecond):
		}
	}

	req, ok := sess.Approvals().GetNext()
	if !ok || req.ToolName != "write_file" {
		t.Fatalf("expected a pending write_file approval, got %+v ok=%v", req, ok)
	}
	if err := sess.Approvals().RespondByToolName("write_file", true); err != nil {
		t.Fatalf("unexpected error approving: %v", err)
	}

	select {
	case outcome := <-done:
		if outcome.err != nil {
			t.Fatalf("unexpected error: %v", outcome.err)
		}
		if outcome.text != "wrote it" {
			t.Errorf("expected %q, got %q", "wrote it", outcome.text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session run to complete after approval")
	}
}

func TestHarness_RegisterAgentListAndLookup(t *testing.T) {
	h := newTestHarness(t, stub.Turn{Content: "ok"})

	if types := h.ListAgentTypes(); len(types) != 0 {
		t.Fatalf("expected no agent types registered yet, got %v", types)
	}

	template := subagent.Config{
		SystemPrompt: "you are a careful researcher",
		AllowedTools: []string{"read_file", "glob_files"},
		MaxSteps:     5,
		MaxTokens:    10_000,
	}
	h.RegisterAgent("researcher", template)

	types := h.ListAgentTypes()
	if len(types) != 1 || types[0] != "researcher" {
		t.Fatalf("expected [researcher], got %v", types)
	}

	got, ok := h.AgentConfig("researcher")
	if !ok {
		t.Fatal("expected AgentConfig to find the registered template")
	}
	if got.SystemPrompt != template.SystemPrompt || got.MaxSteps != template.MaxSteps {
		t.Fatalf("expected template to round-trip unchanged, got %+v", got)
	}

	if _, ok := h.AgentConfig("unknown"); ok {
		t.Fatal("expected AgentConfig to report false for an unregistered type")
	}
}

func TestSession_SpawnSubagentInheritsRegisteredAgentTemplate(t *testing.T) {
	h := newTestHarness(t, stub.Turn{Content: "child done"})
	h.RegisterAgent("researcher", subagent.Config{
		SystemPrompt: "you are a careful researcher",
		AllowedTools: []string{"read_file"},
		MaxSteps:     7,
		MaxTokens:    5_000,
	})

	sess := h.NewSession("sess-template", "")
	run, err := sess.SpawnSubagent(context.Background(), subagent.Config{Kind: "researcher", Task: "look into X"})
	if err != nil {
		t.Fatalf("unexpected error spawning: %v", err)
	}
	if err := sess.scheduler.Wait(run); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}

	if run.Config.SystemPrompt != "you are a careful researcher" {
		t.Errorf("expected inherited system prompt, got %q", run.Config.SystemPrompt)
	}
	if run.Config.MaxSteps != 7 || run.Config.MaxTokens != 5_000 {
		t.Errorf("expected inherited step/token budget, got steps=%d tokens=%d", run.Config.MaxSteps, run.Config.MaxTokens)
	}
	if len(run.Config.AllowedTools) != 1 || run.Config.AllowedTools[0] != "read_file" {
		t.Errorf("expected inherited allowed tools, got %v", run.Config.AllowedTools)
	}
}

func TestSession_SpawnSubagentOverrideWinsOverTemplate(t *testing.T) {
	h := newTestHarness(t, stub.Turn{Content: "child done"})
	h.RegisterAgent("researcher", subagent.Config{SystemPrompt: "template prompt", MaxSteps: 7})

	sess := h.NewSession("sess-override", "")
	run, err := sess.SpawnSubagent(context.Background(), subagent.Config{
		Kind:         "researcher",
		Task:         "look into Y",
		SystemPrompt: "custom prompt",
		MaxSteps:     2,
	})
	if err != nil {
		t.Fatalf("unexpected error spawning: %v", err)
	}
	_ = sess.scheduler.Wait(run)

	if run.Config.SystemPrompt != "custom prompt" {
		t.Errorf("expected caller-supplied system prompt to win, got %q", run.Config.SystemPrompt)
	}
	if run.Config.MaxSteps != 2 {
		t.Errorf("expected caller-supplied max steps to win, got %d", run.Config.MaxSteps)
	}
}

func TestSession_OnSubagentEventReceivesLifecycle(t *testing.T) {
	h := newTestHarness(t, stub.Turn{Content: "child done"})
	sess := h.NewSession("sess-events", "")

	var mu sync.Mutex
	var kinds []subagent.EventKind
	handle := sess.OnSubagentEvent(func(ev subagent.Event) {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
	})
	defer sess.OffSubagentEvent(handle)

	run, err := sess.SpawnSubagent(context.Background(), subagent.Config{Task: "quick task"})
	if err != nil {
		t.Fatalf("unexpected error spawning: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		done := len(kinds) >= 2
		mu.Unlock()
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for subagent lifecycle events")
		case <-time.After(time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if kinds[0] != subagent.EventSubagentStart || kinds[1] != subagent.EventSubagentComplete {
		t.Fatalf("expected [start complete], got %v", kinds)
	}
	_ = run
}

func TestSession_RunStreamEmitsSessionBracketAndProviderEvents(t *testing.T) {
	h := newTestHarness(t, stub.Turn{Content: "streamed reply"})
	sess := h.NewSession("sess-stream", "")

	events := make(chan Event, 32)
	var collected []Event
	done := make(chan error, 1)
	go func() {
		_, err := sess.RunStream(context.Background(), "hello", events)
		close(events)
		done <- err
	}()
	for ev := range events {
		collected = append(collected, ev)
	}
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(collected) < 2 {
		t.Fatalf("expected at least a session-start and session-end event, got %d", len(collected))
	}
	if collected[0].Kind != EventSessionStart {
		t.Errorf("expected first event to be session-start, got %v", collected[0].Kind)
	}
	if collected[len(collected)-1].Kind != EventSessionEnd {
		t.Errorf("expected last event to be session-end, got %v", collected[len(collected)-1].Kind)
	}

	var sawText bool
	for _, ev := range collected {
		if ev.Kind == EventTextDelta {
			sawText = true
		}
		if ev.SessionID != "sess-stream" {
			t.Errorf("expected every event tagged with the session id, got %+v", ev)
		}
	}
	if !sawText {
		t.Error("expected at least one text_delta event from the stubbed provider's reply")
	}
}

func TestSession_RunStreamSurfacesSubagentEvents(t *testing.T) {
	// The parent run is put under AskMode and parked at the approval gate
	// for its whole duration, so RunStream's listeners stay registered
	// deterministically while a subagent is spawned and finishes, instead
	// of racing the parent's own (near-instant) completion.
	registry := toolkit.NewInMemoryRegistry()
	pipeline := middleware.NewPipeline()
	backend, err := fsbackend.NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatalf("new local backend: %v", err)
	}
	pipeline.Use(middleware.NewFilesystem(backend))
	for _, tool := range pipeline.Tools() {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("register tool: %v", err)
		}
	}
	skills := skill.NewInMemoryRegistry()
	prov := stub.New(
		stub.Turn{ToolCalls: []toolkit.Call{{ID: "call-1", Name: "write_file", Args: map[string]interface{}{"path": "/note.txt", "content": "hi"}}}},
		stub.Turn{Content: "wrote it"},
	)

	cfg := DefaultConfig()
	cfg.Policy.AskMode = true
	h := New(cfg, registry, skills, pipeline, backend, prov, zap.NewNop())
	sess := h.NewSession("sess-stream-sub", "")

	events := make(chan Event, 64)
	done := make(chan error, 1)
	go func() {
		_, err := sess.RunStream(context.Background(), "write a note", events)
		close(events)
		done <- err
	}()

	first := <-events
	if first.Kind != EventSessionStart {
		t.Fatalf("expected first event to be session-start, got %v", first.Kind)
	}

	deadline := time.After(2 * time.Second)
	for !sess.Approvals().HasPending() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for a pending approval")
		case <-time.After(time.Millisecond):
		}
	}

	run, err := sess.SpawnSubagent(context.Background(), subagent.Config{Task: "do a thing"})
	if err != nil {
		t.Fatalf("unexpected error spawning: %v", err)
	}
	if err := sess.scheduler.Wait(run); err != nil {
		t.Fatalf("unexpected subagent error: %v", err)
	}

	if err := sess.Approvals().RespondByToolName("write_file", true); err != nil {
		t.Fatalf("unexpected error approving: %v", err)
	}

	var collected []Event
	collected = append(collected, first)
	for ev := range events {
		collected = append(collected, ev)
	}
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sawSubagentComplete, sawToolOutput bool
	for _, ev := range collected {
		if ev.Kind == EventSubagentComplete && ev.SubagentID == run.Config.ID {
			sawSubagentComplete = true
		}
		if ev.Kind == EventToolOutputAvailable && ev.ToolName == "write_file" {
			sawToolOutput = true
		}
	}
	if !sawSubagentComplete {
		t.Fatalf("expected a subagent-complete event tagged with %s, got %+v", run.Config.ID, collected)
	}
	if !sawToolOutput {
		t.Fatalf("expected a tool_output_available event for the approved write_file call, got %+v", collected)
	}
}
