package subagent

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func echoRunFn(ctx context.Context, cfg Config) (*Result, error) {
	return &Result{Output: "done: " + cfg.Task, Steps: 1}, nil
}

func TestScheduler_SpawnAndWait(t *testing.T) {
	s := NewScheduler(echoRunFn, 2, 3, 10, nil)

	run, err := s.Spawn(context.Background(), Config{ID: "child-1", Task: "research X"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Wait(run); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if run.GetStatus() != StatusCompleted {
		t.Fatalf("expected completed status, got %s", run.GetStatus())
	}
	if run.Result.Output != "done: research X" {
		t.Fatalf("unexpected result: %+v", run.Result)
	}
}

func TestScheduler_MaxTotalSubagentsEnforced(t *testing.T) {
	s := NewScheduler(echoRunFn, 2, 3, 1, nil)

	run1, err := s.Spawn(context.Background(), Config{ID: "a", Task: "t1"})
	if err != nil {
		t.Fatalf("unexpected error spawning first: %v", err)
	}
	_ = s.Wait(run1)

	if _, err := s.Spawn(context.Background(), Config{ID: "b", Task: "t2"}); err == nil {
		t.Fatal("expected second spawn to fail the total-subagent budget")
	}
}

func TestScheduler_SpawnManyRunsAllAndPreservesOrder(t *testing.T) {
	s := NewScheduler(echoRunFn, 5, 3, 10, nil)

	cfgs := []Config{
		{ID: "x", Task: "topic X"},
		{ID: "y", Task: "topic Y"},
		{ID: "z", Task: "topic Z"},
	}
	runs, err := s.SpawnMany(context.Background(), cfgs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	for i, run := range runs {
		want := "done: " + cfgs[i].Task
		if run.Result == nil || run.Result.Output != want {
			t.Errorf("run %d: expected output %q, got %+v", i, want, run.Result)
		}
	}
}

func TestScheduler_MaxDepthEnforcedAcrossTree(t *testing.T) {
	s := NewScheduler(echoRunFn, 5, 2, 10, nil)

	// A spawn without a known parent sits one level below the session, at
	// depth 1, so root is depth 1, child depth 2 and grandchild depth 3.
	root, err := s.Spawn(context.Background(), Config{ID: "root", Task: "root task"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = s.Wait(root)

	// the grandchild (depth 3) must be rejected when maxDepth is 2.
	if _, err := s.Spawn(context.Background(), Config{ID: "child", ParentID: "root", Task: "child task"}); err != nil {
		t.Fatalf("expected depth-2 child to succeed: %v", err)
	}
	if _, err := s.Spawn(context.Background(), Config{ID: "grandchild", ParentID: "child", Task: "grandchild task"}); err == nil {
		t.Fatal("expected depth-3 grandchild to be rejected by maxDepth=2")
	}
}

func TestScheduler_CancelPropagatesToChildren(t *testing.T) {
	blockUntil := make(chan struct{})
	blocking := func(ctx context.Context, cfg Config) (*Result, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-blockUntil:
			return &Result{Output: "finished"}, nil
		}
	}
	s := NewScheduler(blocking, 5, 5, 10, nil)

	parent, err := s.Spawn(context.Background(), Config{ID: "p", Task: "parent"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	child, err := s.Spawn(context.Background(), Config{ID: "c", ParentID: "p", Task: "child"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.Cancel("p"); err != nil {
		t.Fatalf("unexpected error cancelling: %v", err)
	}

	s.WaitAll([]*Run{parent, child})
	if parent.GetStatus() != StatusCancelled {
		t.Errorf("expected parent cancelled, got %s", parent.GetStatus())
	}
	if child.GetStatus() != StatusCancelled {
		t.Errorf("expected child cancelled, got %s", child.GetStatus())
	}
	close(blockUntil)
}

func TestScheduler_TotalSpawnedAndActive(t *testing.T) {
	gate := make(chan struct{})
	blocking := func(ctx context.Context, cfg Config) (*Result, error) {
		<-gate
		return &Result{Output: "ok"}, nil
	}
	s := NewScheduler(blocking, 5, 5, 10, nil)

	run, err := s.Spawn(context.Background(), Config{ID: "a", Task: "t"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for len(s.Active()) != 1 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for run to become active")
		case <-time.After(time.Millisecond):
		}
	}
	if s.TotalSpawned() != 1 {
		t.Fatalf("expected 1 total spawned, got %d", s.TotalSpawned())
	}

	close(gate)
	_ = s.Wait(run)
	if len(s.Active()) != 0 {
		t.Fatalf("expected no active runs after completion, got %d", len(s.Active()))
	}
}

func TestScheduler_ListChildren(t *testing.T) {
	s := NewScheduler(echoRunFn, 5, 5, 10, nil)
	root, _ := s.Spawn(context.Background(), Config{ID: "root", Task: "root"})
	_ = s.Wait(root)

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("child-%d", i)
		run, err := s.Spawn(context.Background(), Config{ID: id, ParentID: "root", Task: id})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		_ = s.Wait(run)
	}

	children := s.ListChildren("root")
	if len(children) != 3 {
		t.Fatalf("expected 3 children, got %v", children)
	}
}

func TestScheduler_OnEventDeliversStartThenCompleteInOrder(t *testing.T) {
	s := NewScheduler(echoRunFn, 2, 3, 10, nil)

	var mu sync.Mutex
	var kinds []EventKind
	s.OnEvent(func(ev Event) {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
	})

	run, err := s.Spawn(context.Background(), Config{ID: "ev-1", Task: "research Y"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Wait(run); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(kinds) != 2 || kinds[0] != EventSubagentStart || kinds[1] != EventSubagentComplete {
		t.Fatalf("expected [start complete], got %v", kinds)
	}
}

func TestScheduler_OnEventReportsError(t *testing.T) {
	failing := func(ctx context.Context, cfg Config) (*Result, error) {
		return nil, fmt.Errorf("boom")
	}
	s := NewScheduler(failing, 2, 3, 10, nil)

	var mu sync.Mutex
	var last Event
	s.OnEvent(func(ev Event) {
		mu.Lock()
		if ev.Kind == EventSubagentError {
			last = ev
		}
		mu.Unlock()
	})

	run, _ := s.Spawn(context.Background(), Config{ID: "ev-err", Task: "doomed"})
	_ = s.Wait(run)

	mu.Lock()
	defer mu.Unlock()
	if last.SubagentID != "ev-err" || last.Err == nil {
		t.Fatalf("expected an error event for ev-err, got %+v", last)
	}
}

func TestScheduler_OffEventStopsDelivery(t *testing.T) {
	s := NewScheduler(echoRunFn, 2, 3, 10, nil)

	var count int
	var mu sync.Mutex
	handle := s.OnEvent(func(ev Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	s.OffEvent(handle)

	run, _ := s.Spawn(context.Background(), Config{ID: "ev-off", Task: "quiet"})
	_ = s.Wait(run)

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Fatalf("expected no events after OffEvent, got %d", count)
	}
}

func TestScheduler_GetResultReturnsTerminalResult(t *testing.T) {
	gate := make(chan struct{})
	gated := func(ctx context.Context, cfg Config) (*Result, error) {
		<-gate
		return echoRunFn(ctx, cfg)
	}
	s := NewScheduler(gated, 2, 3, 10, nil)

	if _, ok := s.GetResult("missing"); ok {
		t.Fatal("expected GetResult to report false for an unknown id")
	}

	run, _ := s.Spawn(context.Background(), Config{ID: "gr-1", Task: "task A"})
	if _, ok := s.GetResult(run.Config.ID); ok {
		t.Fatal("expected GetResult to report false before the run completes")
	}
	close(gate)
	_ = s.Wait(run)

	result, ok := s.GetResult("gr-1")
	if !ok || result.Output != "done: task A" {
		t.Fatalf("expected terminal result for gr-1, got %+v ok=%v", result, ok)
	}
}

func TestScheduler_AllResultsOnlyIncludesTerminalRuns(t *testing.T) {
	gate := make(chan struct{})
	blocking := func(ctx context.Context, cfg Config) (*Result, error) {
		<-gate
		return &Result{Output: "ok"}, nil
	}
	s := NewScheduler(blocking, 5, 5, 10, nil)

	pending, _ := s.Spawn(context.Background(), Config{ID: "pending", Task: "t"})
	done, _ := s.Spawn(context.Background(), Config{ID: "done", Task: "t"})
	if got := len(s.AllResults()); got != 0 {
		t.Fatalf("expected no entries while both runs are blocked, got %d", got)
	}
	close(gate)
	s.WaitAll([]*Run{pending, done})

	all := s.AllResults()
	if _, ok := all["done"]; !ok {
		t.Fatal("expected completed run to appear in AllResults")
	}
	if len(all) != 2 {
		t.Fatalf("expected both runs terminal, got %d entries: %+v", len(all), all)
	}
}
