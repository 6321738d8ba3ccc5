package loop

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestCostGuard_TokenBudget(t *testing.T) {
	cg := NewCostGuard(1000, 0, zap.NewNop())

	if err := cg.AddTokens(500); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cg.AddTokens(600); err == nil {
		t.Fatal("expected budget exceeded error from AddTokens")
	}
}

func TestCostGuard_NoBudget(t *testing.T) {
	cg := NewCostGuard(0, 0, zap.NewNop())

	if err := cg.AddTokens(999999); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cg.CheckBudget(); err != nil {
		t.Fatalf("expected no error when budget disabled: %v", err)
	}
}

func TestCostGuard_TimeoutBudget(t *testing.T) {
	cg := NewCostGuard(0, 10*time.Millisecond, zap.NewNop())

	if err := cg.CheckBudget(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(15 * time.Millisecond)
	if err := cg.CheckBudget(); err == nil {
		t.Fatal("expected time budget exceeded error")
	}
}

func TestCostGuard_Usage(t *testing.T) {
	cg := NewCostGuard(0, 0, zap.NewNop())
	_ = cg.AddTokens(150)
	_ = cg.AddTokens(50)

	tokens, elapsed := cg.Usage()
	if tokens != 200 {
		t.Errorf("expected 200 tokens used, got %d", tokens)
	}
	if elapsed < 0 {
		t.Error("elapsed should not be negative")
	}
}

func TestLoopDetector_NoLoop(t *testing.T) {
	ld := NewLoopDetector(5, 3, 8, zap.NewNop())

	if ld.Record("read_file", "") != "" {
		t.Fatal("should not detect loop on first call")
	}
	if ld.Record("write_file", "") != "" {
		t.Fatal("should not detect loop on different tool")
	}
	if ld.Record("search", "") != "" {
		t.Fatal("should not detect loop on different tool")
	}
}

func TestLoopDetector_DetectsExactRepeat(t *testing.T) {
	ld := NewLoopDetector(5, 3, 8, zap.NewNop())

	ld.Record("read_file", `{"path":"a.txt"}`)
	ld.Record("read_file", `{"path":"a.txt"}`)
	if ld.Record("read_file", `{"path":"a.txt"}`) == "" {
		t.Fatal("should detect loop after 3 identical calls")
	}
}

func TestLoopDetector_DifferentArgsDoNotTrigger(t *testing.T) {
	ld := NewLoopDetector(5, 3, 8, zap.NewNop())

	ld.Record("read_file", `{"path":"a.txt"}`)
	ld.Record("read_file", `{"path":"b.txt"}`)
	if ld.Record("read_file", `{"path":"c.txt"}`) != "" {
		t.Fatal("different args should not count as an exact repeat")
	}
}

func TestLoopDetector_SlidingWindow(t *testing.T) {
	ld := NewLoopDetector(3, 2, 8, zap.NewNop())

	ld.Record("read_file", "")
	ld.Record("write_file", "")
	ld.Record("search", "")

	if ld.Record("read_file", "") != "" {
		t.Fatal("should not trigger — read_file only once in current window")
	}
}

func TestLoopDetector_NameFrequencyAcrossInterleavedCalls(t *testing.T) {
	ld := NewLoopDetector(10, 10, 3, zap.NewNop())

	ld.RecordName("bash")
	ld.RecordName("web_search")
	if ld.RecordName("bash") != "" {
		t.Fatal("should not trigger before name threshold is reached")
	}
	if ld.RecordName("bash") == "" {
		t.Fatal("should trigger once bash dominates the window even with interleaving")
	}
}

func TestLoopDetector_Reset(t *testing.T) {
	ld := NewLoopDetector(5, 3, 8, zap.NewNop())
	ld.Record("read_file", "")
	ld.Record("read_file", "")
	ld.RecordName("read_file")

	ld.Reset()

	if ld.Record("read_file", "") != "" {
		t.Fatal("reset should clear exact-match history")
	}
}
