// Package todo implements the harness's shared todo list: a small,
// session-scoped planning surface the Planning middleware exposes as tools,
// persisted through fsbackend with the harness's own status vocabulary.
package todo

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rscheiwe/deepharness/internal/fsbackend"
)

// Status is a todo item's lifecycle stage.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusBlocked    Status = "blocked"
)

// Item is one entry in a session's todo list.
type Item struct {
	ID        int       `json:"id"`
	Content   string    `json:"content"`
	Status    Status    `json:"status"`
	Notes     string    `json:"notes,omitempty"`
	Priority  int       `json:"priority,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// List is the full ordered todo list for one session.
type List struct {
	Goal      string    `json:"goal"`
	Items     []Item    `json:"items"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists one session's List via a fsbackend.Backend.
type Store struct {
	mu      sync.Mutex
	backend fsbackend.Backend
	path    string
}

// NewStore binds a Store to a session's virtual storage path, e.g.
// "/todo/<sessionID>.json".
func NewStore(backend fsbackend.Backend, sessionID string) *Store {
	return &Store{backend: backend, path: fmt.Sprintf("/todo/%s.json", sessionID)}
}

// Create replaces the session's list with a fresh one built from item
// contents, all starting Pending.
func (s *Store) Create(ctx context.Context, goal string, contents []string) (*List, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	list := &List{Goal: goal, CreatedAt: now, UpdatedAt: now}
	for i, content := range contents {
		list.Items = append(list.Items, Item{
			ID: i + 1, Content: content, Status: StatusPending,
			CreatedAt: now, UpdatedAt: now,
		})
	}
	if err := s.save(ctx, list); err != nil {
		return nil, err
	}
	return list, nil
}

// UpdateStatus sets one item's status and optional notes.
func (s *Store) UpdateStatus(ctx context.Context, itemID int, status Status, notes string) (*List, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if list == nil {
		return nil, fmt.Errorf("todo: no active list, call Create first")
	}

	idx := -1
	for i, item := range list.Items {
		if item.ID == itemID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("todo: item %d not found (1-%d)", itemID, len(list.Items))
	}

	now := time.Now().UTC()
	list.Items[idx].Status = status
	list.Items[idx].UpdatedAt = now
	if notes != "" {
		list.Items[idx].Notes = notes
	}
	list.UpdatedAt = now

	if err := s.save(ctx, list); err != nil {
		return nil, err
	}
	return list, nil
}

// Get returns the current list, or nil if none exists yet.
func (s *Store) Get(ctx context.Context) (*List, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

func (s *Store) load(ctx context.Context) (*List, error) {
	exists, err := s.backend.Exists(ctx, s.path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	data, err := s.backend.Read(ctx, s.path)
	if err != nil {
		return nil, err
	}
	var list List
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (s *Store) save(ctx context.Context, list *List) error {
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	return s.backend.Write(ctx, s.path, data)
}

// Render produces a compact human-readable progress summary, used for the
// tool's Display field.
func (list *List) Render() string {
	done := 0
	out := fmt.Sprintf("Goal: %s\n", list.Goal)
	for _, item := range list.Items {
		mark := "[ ]"
		switch item.Status {
		case StatusCompleted:
			mark = "[x]"
			done++
		case StatusInProgress:
			mark = "[~]"
		case StatusBlocked:
			mark = "[!]"
		}
		line := fmt.Sprintf("%s %d. %s", mark, item.ID, item.Content)
		if item.Notes != "" {
			line += fmt.Sprintf(" (%s)", item.Notes)
		}
		out += line + "\n"
	}
	if len(list.Items) > 0 {
		out += fmt.Sprintf("\nProgress: %d/%d", done, len(list.Items))
	}
	return out
}
