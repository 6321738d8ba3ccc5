package middleware

import (
	"context"
	"strings"
	"testing"
	"time"
)

func findExecuteTool(t *testing.T, s *Sandbox) func(context.Context, map[string]interface{}) (string, bool) {
	t.Helper()
	tools := s.Tools()
	if len(tools) != 1 {
		t.Fatalf("expected exactly 1 tool from Sandbox, got %d", len(tools))
	}
	tool := tools[0]
	if tool.Name() != "execute" {
		t.Fatalf("expected tool named 'execute', got %q", tool.Name())
	}
	return func(ctx context.Context, args map[string]interface{}) (string, bool) {
		res, err := tool.Execute(ctx, args)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return res.Output, res.Success
	}
}

func TestSandbox_RunsAllowedCommand(t *testing.T) {
	s := NewSandbox([]string{"echo"}, time.Second)
	run := findExecuteTool(t, s)

	out, ok := run(context.Background(), map[string]interface{}{
		"command": "echo",
		"args":    []interface{}{"hello"},
	})
	if !ok {
		t.Fatalf("expected success, got output %q", out)
	}
	if !strings.Contains(out, "hello") {
		t.Errorf("expected output to contain 'hello', got %q", out)
	}
}

func TestSandbox_RejectsCommandNotInAllowList(t *testing.T) {
	s := NewSandbox([]string{"echo"}, time.Second)
	run := findExecuteTool(t, s)

	_, ok := run(context.Background(), map[string]interface{}{"command": "rm"})
	if ok {
		t.Fatal("expected a non-allow-listed command to be rejected")
	}
}

func TestSandbox_RequiresCommand(t *testing.T) {
	s := NewSandbox([]string{"echo"}, time.Second)
	run := findExecuteTool(t, s)

	_, ok := run(context.Background(), map[string]interface{}{})
	if ok {
		t.Fatal("expected a missing command to fail")
	}
}

func TestSandbox_EmptyAllowListPermitsAnyCommand(t *testing.T) {
	s := NewSandbox(nil, time.Second)
	run := findExecuteTool(t, s)

	_, ok := run(context.Background(), map[string]interface{}{"command": "true"})
	if !ok {
		t.Fatal("expected an empty allow list to permit any command")
	}
}
