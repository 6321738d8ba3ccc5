package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rscheiwe/deepharness/internal/subagent"
	"github.com/rscheiwe/deepharness/internal/toolkit"
)

// Subagents exposes spawn_subagent/spawn_parallel/wait_subagent/
// wait_all_subagents/cancel_subagent tools over a subagent.Scheduler.
type Subagents struct {
	NoOp
	scheduler        *subagent.Scheduler
	sessionID        string
	maxParallelTasks int

	// idMu guards nextID: a session shares one Subagents instance between
	// its parent loop and every child loop, so a child spawning a
	// grandchild races the parent's own spawns.
	idMu   sync.Mutex
	nextID int
}

// NewSubagents builds the Subagents middleware over scheduler, tagging every
// spawned child with sessionID as its root parent. maxParallelTasks bounds
// a single spawn_parallel call's task count; 0 means unbounded.
func NewSubagents(scheduler *subagent.Scheduler, sessionID string, maxParallelTasks int) *Subagents {
	return &Subagents{scheduler: scheduler, sessionID: sessionID, maxParallelTasks: maxParallelTasks}
}

func (s *Subagents) Name() string { return "subagents" }

func (s *Subagents) Tools() []toolkit.Tool {
	return []toolkit.Tool{
		&spawnSubagentTool{parent: s},
		&spawnParallelTool{parent: s},
		&waitSubagentTool{scheduler: s.scheduler},
		&waitAllSubagentsTool{scheduler: s.scheduler},
		&cancelSubagentTool{scheduler: s.scheduler},
	}
}

func (s *Subagents) nextChildID() string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	s.nextID++
	return fmt.Sprintf("%s-child-%d", s.sessionID, s.nextID)
}

type spawnSubagentTool struct{ parent *Subagents }

func (spawnSubagentTool) Name() string       { return "spawn_subagent" }
func (spawnSubagentTool) Kind() toolkit.Kind { return toolkit.KindExecute }
func (spawnSubagentTool) Description() string {
	return "Spawn an isolated child agent to work on a subtask; returns its id for wait_subagent."
}
func (spawnSubagentTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"kind": map[string]interface{}{"type": "string"},
			"task": map[string]interface{}{"type": "string"},
		},
		"required": []string{"task"},
	}
}
func (t *spawnSubagentTool) Execute(ctx context.Context, args map[string]interface{}) (*toolkit.Result, error) {
	task, _ := args["task"].(string)
	kind, _ := args["kind"].(string)
	if task == "" {
		return &toolkit.Result{Output: "Error: 'task' is required", Success: false}, nil
	}
	id := t.parent.nextChildID()
	_, err := t.parent.scheduler.Spawn(ctx, subagent.Config{ID: id, ParentID: t.parent.sessionID, Kind: kind, Task: task})
	if err != nil {
		return &toolkit.Result{Output: fmt.Sprintf("Failed to spawn: %v", err), Success: false}, nil
	}
	return &toolkit.Result{Output: id, Success: true, Metadata: map[string]interface{}{"subagent_id": id}}, nil
}

// spawnParallelTool spawns many subagents from one call, rejecting the
// whole batch (spawning none of them) if the task count exceeds the
// configured maxParallelTasks bound — each spawned child still runs
// independently and asynchronously, exactly like spawn_subagent; callers
// use wait_all_subagents to collect every result.
type spawnParallelTool struct{ parent *Subagents }

func (spawnParallelTool) Name() string       { return "spawn_parallel" }
func (spawnParallelTool) Kind() toolkit.Kind { return toolkit.KindExecute }
func (spawnParallelTool) Description() string {
	return "Spawn several isolated child agents in parallel, one per task; returns their ids for wait_all_subagents."
}
func (spawnParallelTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"kind":  map[string]interface{}{"type": "string"},
			"tasks": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
		},
		"required": []string{"tasks"},
	}
}
func (t *spawnParallelTool) Execute(ctx context.Context, args map[string]interface{}) (*toolkit.Result, error) {
	rawTasks, _ := args["tasks"].([]interface{})
	kind, _ := args["kind"].(string)
	if len(rawTasks) == 0 {
		return &toolkit.Result{Output: "Error: 'tasks' must be a non-empty array", Success: false}, nil
	}
	if limit := t.parent.maxParallelTasks; limit > 0 && len(rawTasks) > limit {
		return &toolkit.Result{
			Output:  fmt.Sprintf("Error: %d tasks exceeds max parallel tasks %d; spawned none", len(rawTasks), limit),
			Success: false,
		}, nil
	}

	ids := make([]string, 0, len(rawTasks))
	for i, raw := range rawTasks {
		task := fmt.Sprintf("%v", raw)
		id := t.parent.nextChildID()
		if _, err := t.parent.scheduler.Spawn(ctx, subagent.Config{ID: id, ParentID: t.parent.sessionID, Kind: kind, Task: task}); err != nil {
			return &toolkit.Result{
				Output:   fmt.Sprintf("Failed to spawn task %d: %v", i, err),
				Success:  false,
				Metadata: map[string]interface{}{"subagent_ids": ids},
			}, nil
		}
		ids = append(ids, id)
	}

	data, err := json.Marshal(ids)
	if err != nil {
		return &toolkit.Result{Output: fmt.Sprintf("Error: %v", err), Success: false}, nil
	}
	return &toolkit.Result{Output: string(data), Success: true, Metadata: map[string]interface{}{"subagent_ids": ids}}, nil
}

type waitSubagentTool struct{ scheduler *subagent.Scheduler }

func (waitSubagentTool) Name() string        { return "wait_subagent" }
func (waitSubagentTool) Kind() toolkit.Kind  { return toolkit.KindThink }
func (waitSubagentTool) Description() string { return "Block until a spawned subagent finishes and return its output." }
func (waitSubagentTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"subagent_id": map[string]interface{}{"type": "string"}},
		"required":   []string{"subagent_id"},
	}
}
func (t *waitSubagentTool) Execute(ctx context.Context, args map[string]interface{}) (*toolkit.Result, error) {
	id, _ := args["subagent_id"].(string)
	run, ok := t.scheduler.Get(id)
	if !ok {
		return &toolkit.Result{Output: fmt.Sprintf("Error: subagent %q not found", id), Success: false}, nil
	}
	err := t.scheduler.Wait(run)
	if err != nil {
		return &toolkit.Result{Output: fmt.Sprintf("Subagent %s failed: %v", id, err), Success: false}, nil
	}
	out := ""
	if run.Result != nil {
		out = run.Result.Output
	}
	return &toolkit.Result{Output: out, Success: true}, nil
}

// waitAllSubagentsTool blocks until every named subagent (or, if none are
// named, every currently active one) reaches a terminal state, returning
// each one's outcome tagged by id regardless of completion order.
type waitAllSubagentsTool struct{ scheduler *subagent.Scheduler }

func (waitAllSubagentsTool) Name() string       { return "wait_all_subagents" }
func (waitAllSubagentsTool) Kind() toolkit.Kind { return toolkit.KindThink }
func (waitAllSubagentsTool) Description() string {
	return "Block until every given (or, if omitted, every currently running) subagent finishes; returns all results."
}
func (waitAllSubagentsTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"subagent_ids": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
		},
	}
}
func (t *waitAllSubagentsTool) Execute(ctx context.Context, args map[string]interface{}) (*toolkit.Result, error) {
	rawIDs, _ := args["subagent_ids"].([]interface{})

	var runs []*subagent.Run
	if len(rawIDs) > 0 {
		for _, raw := range rawIDs {
			id := fmt.Sprintf("%v", raw)
			run, ok := t.scheduler.Get(id)
			if !ok {
				return &toolkit.Result{Output: fmt.Sprintf("Error: subagent %q not found", id), Success: false}, nil
			}
			runs = append(runs, run)
		}
	} else {
		runs = t.scheduler.Active()
	}

	t.scheduler.WaitAll(runs)

	results := make([]map[string]interface{}, len(runs))
	for i, run := range runs {
		entry := map[string]interface{}{
			"subagent_id": run.Config.ID,
			"status":      string(run.GetStatus()),
		}
		if run.Result != nil {
			entry["output"] = run.Result.Output
		}
		if run.Err != nil {
			entry["error"] = run.Err.Error()
		}
		results[i] = entry
	}

	data, err := json.Marshal(results)
	if err != nil {
		return &toolkit.Result{Output: fmt.Sprintf("Error: %v", err), Success: false}, nil
	}
	return &toolkit.Result{Output: string(data), Success: true, Metadata: map[string]interface{}{"count": len(results)}}, nil
}

type cancelSubagentTool struct{ scheduler *subagent.Scheduler }

func (cancelSubagentTool) Name() string        { return "cancel_subagent" }
func (cancelSubagentTool) Kind() toolkit.Kind  { return toolkit.KindExecute }
func (cancelSubagentTool) Description() string { return "Cancel a running subagent and its descendants." }
func (cancelSubagentTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"subagent_id": map[string]interface{}{"type": "string"}},
		"required":   []string{"subagent_id"},
	}
}
func (t *cancelSubagentTool) Execute(ctx context.Context, args map[string]interface{}) (*toolkit.Result, error) {
	id, _ := args["subagent_id"].(string)
	if err := t.scheduler.Cancel(id); err != nil {
		return &toolkit.Result{Output: err.Error(), Success: false}, nil
	}
	return &toolkit.Result{Output: fmt.Sprintf("Cancelled %s", id), Success: true}, nil
}
