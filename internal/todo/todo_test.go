package todo

import (
	"context"
	"strings"
	"testing"

	"github.com/rscheiwe/deepharness/internal/fsbackend"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	backend, err := fsbackend.NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatalf("backend: %v", err)
	}
	return NewStore(backend, "session-1")
}

func TestStore_CreateAndGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	list, err := s.Create(ctx, "Ship the feature", []string{"write tests", "wire middleware"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list.Items) != 2 || list.Items[0].Status != StatusPending {
		t.Fatalf("expected two pending items, got %+v", list.Items)
	}

	got, err := s.Get(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || len(got.Items) != 2 {
		t.Fatalf("expected persisted list with 2 items, got %+v", got)
	}
}

func TestStore_GetBeforeCreateReturnsNil(t *testing.T) {
	s := newStore(t)
	list, err := s.Get(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if list != nil {
		t.Fatalf("expected nil list before Create, got %+v", list)
	}
}

func TestStore_UpdateStatus(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, _ = s.Create(ctx, "goal", []string{"first task"})

	list, err := s.UpdateStatus(ctx, 1, StatusInProgress, "started")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if list.Items[0].Status != StatusInProgress || list.Items[0].Notes != "started" {
		t.Fatalf("unexpected item state: %+v", list.Items[0])
	}
}

func TestStore_UpdateStatusUnknownItemFails(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, _ = s.Create(ctx, "goal", []string{"only task"})

	if _, err := s.UpdateStatus(ctx, 99, StatusCompleted, ""); err == nil {
		t.Fatal("expected unknown item id to error")
	}
}

func TestStore_UpdateStatusBeforeCreateFails(t *testing.T) {
	s := newStore(t)
	if _, err := s.UpdateStatus(context.Background(), 1, StatusCompleted, ""); err == nil {
		t.Fatal("expected updating before Create to error")
	}
}

func TestList_RenderShowsProgress(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, _ = s.Create(ctx, "Ship it", []string{"a", "b"})
	list, _ := s.UpdateStatus(ctx, 1, StatusCompleted, "")

	out := list.Render()
	if !strings.Contains(out, "[x] 1. a") {
		t.Errorf("expected completed marker for item 1, got:\n%s", out)
	}
	if !strings.Contains(out, "[ ] 2. b") {
		t.Errorf("expected pending marker for item 2, got:\n%s", out)
	}
	if !strings.Contains(out, "Progress: 1/2") {
		t.Errorf("expected progress summary, got:\n%s", out)
	}
}
