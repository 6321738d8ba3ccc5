package middleware

import (
	"context"
	"strings"
	"testing"

	"github.com/rscheiwe/deepharness/internal/subagent"
)

func echoRunFn(ctx context.Context, cfg subagent.Config) (*subagent.Result, error) {
	return &subagent.Result{Output: "result for " + cfg.Task}, nil
}

func newSubagentsFixture(t *testing.T, maxParallel int) *Subagents {
	t.Helper()
	scheduler := subagent.NewScheduler(echoRunFn, 5, 3, 20, nil)
	return NewSubagents(scheduler, "session-1", maxParallel)
}

func TestSpawnSubagentTool_SpawnThenWait(t *testing.T) {
	mw := newSubagentsFixture(t, 5)
	var spawn *spawnSubagentTool
	var waitT *waitSubagentTool
	for _, tl := range mw.Tools() {
		switch v := tl.(type) {
		case *spawnSubagentTool:
			spawn = v
		case *waitSubagentTool:
			waitT = v
		}
	}
	ctx := context.Background()

	res, err := spawn.Execute(ctx, map[string]interface{}{"task": "research X"})
	if err != nil || !res.Success {
		t.Fatalf("unexpected spawn result: %+v err=%v", res, err)
	}
	id := res.Metadata["subagent_id"].(string)

	waitRes, err := waitT.Execute(ctx, map[string]interface{}{"subagent_id": id})
	if err != nil || !waitRes.Success {
		t.Fatalf("unexpected wait result: %+v err=%v", waitRes, err)
	}
	if waitRes.Output != "result for research X" {
		t.Fatalf("unexpected wait output: %q", waitRes.Output)
	}
}

func TestSpawnSubagentTool_RequiresTask(t *testing.T) {
	mw := newSubagentsFixture(t, 5)
	var spawn *spawnSubagentTool
	for _, tl := range mw.Tools() {
		if v, ok := tl.(*spawnSubagentTool); ok {
			spawn = v
		}
	}
	res, _ := spawn.Execute(context.Background(), map[string]interface{}{})
	if res.Success {
		t.Fatal("expected spawn without task to fail")
	}
}

func TestSpawnParallelTool_SpawnsAllWithinLimit(t *testing.T) {
	mw := newSubagentsFixture(t, 5)
	var parallel *spawnParallelTool
	var waitAll *waitAllSubagentsTool
	for _, tl := range mw.Tools() {
		switch v := tl.(type) {
		case *spawnParallelTool:
			parallel = v
		case *waitAllSubagentsTool:
			waitAll = v
		}
	}
	ctx := context.Background()

	res, err := parallel.Execute(ctx, map[string]interface{}{"tasks": []interface{}{"topic X", "topic Y", "topic Z"}})
	if err != nil || !res.Success {
		t.Fatalf("unexpected spawn_parallel result: %+v err=%v", res, err)
	}
	ids := res.Metadata["subagent_ids"].([]string)
	if len(ids) != 3 {
		t.Fatalf("expected 3 subagent ids, got %v", ids)
	}

	allRes, err := waitAll.Execute(ctx, map[string]interface{}{})
	if err != nil || !allRes.Success {
		t.Fatalf("unexpected wait_all result: %+v err=%v", allRes, err)
	}
	for _, task := range []string{"topic X", "topic Y", "topic Z"} {
		if !strings.Contains(allRes.Output, "result for "+task) {
			t.Errorf("expected result for %q in %q", task, allRes.Output)
		}
	}
}

func TestSpawnParallelTool_OverLimitSpawnsNone(t *testing.T) {
	mw := newSubagentsFixture(t, 2)
	var parallel *spawnParallelTool
	for _, tl := range mw.Tools() {
		if v, ok := tl.(*spawnParallelTool); ok {
			parallel = v
		}
	}
	res, err := parallel.Execute(context.Background(), map[string]interface{}{
		"tasks": []interface{}{"a", "b", "c"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Fatal("expected spawn_parallel to reject a batch exceeding maxParallelTasks")
	}
	if mw.scheduler.TotalSpawned() != 0 {
		t.Fatalf("expected zero subagents spawned when over limit, got %d", mw.scheduler.TotalSpawned())
	}
}

func TestSpawnParallelTool_AtLimitSucceeds(t *testing.T) {
	mw := newSubagentsFixture(t, 3)
	var parallel *spawnParallelTool
	for _, tl := range mw.Tools() {
		if v, ok := tl.(*spawnParallelTool); ok {
			parallel = v
		}
	}
	res, err := parallel.Execute(context.Background(), map[string]interface{}{
		"tasks": []interface{}{"a", "b", "c"},
	})
	if err != nil || !res.Success {
		t.Fatalf("expected spawn_parallel at exactly the limit to succeed, got %+v err=%v", res, err)
	}
}

func TestCancelSubagentTool(t *testing.T) {
	gate := make(chan struct{})
	blocking := func(ctx context.Context, cfg subagent.Config) (*subagent.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	scheduler := subagent.NewScheduler(blocking, 5, 3, 20, nil)
	mw := NewSubagents(scheduler, "session-1", 5)
	var spawn *spawnSubagentTool
	var cancel *cancelSubagentTool
	for _, tl := range mw.Tools() {
		switch v := tl.(type) {
		case *spawnSubagentTool:
			spawn = v
		case *cancelSubagentTool:
			cancel = v
		}
	}
	ctx := context.Background()
	res, _ := spawn.Execute(ctx, map[string]interface{}{"task": "long task"})
	id := res.Metadata["subagent_id"].(string)

	cancelRes, err := cancel.Execute(ctx, map[string]interface{}{"subagent_id": id})
	if err != nil || !cancelRes.Success {
		t.Fatalf("unexpected cancel result: %+v err=%v", cancelRes, err)
	}
	close(gate)
}

func TestWaitSubagentTool_UnknownIDFails(t *testing.T) {
	mw := newSubagentsFixture(t, 5)
	var waitT *waitSubagentTool
	for _, tl := range mw.Tools() {
		if v, ok := tl.(*waitSubagentTool); ok {
			waitT = v
		}
	}
	res, _ := waitT.Execute(context.Background(), map[string]interface{}{"subagent_id": "nope"})
	if res.Success {
		t.Fatal("expected waiting on an unknown subagent id to fail")
	}
}
