package middleware

import (
	"context"
	"fmt"

	"github.com/rscheiwe/deepharness/internal/todo"
	"github.com/rscheiwe/deepharness/internal/toolkit"
)

// Planning exposes the session's todo list as the update_plan tool, backed
// by todo.Status and persisted through the fsbackend-backed todo.Store.
type Planning struct {
	NoOp
	store *todo.Store
}

// NewPlanning builds the Planning middleware over a session's todo.Store.
func NewPlanning(store *todo.Store) *Planning {
	return &Planning{store: store}
}

func (p *Planning) Name() string { return "planning" }

func (p *Planning) Tools() []toolkit.Tool {
	return []toolkit.Tool{&updatePlanTool{store: p.store}}
}

func (p *Planning) GetSystemPromptSegment(ctx context.Context) string {
	list, err := p.store.Get(ctx)
	if err != nil || list == nil {
		return ""
	}
	return "Current plan:\n" + list.Render()
}

// updatePlanTool is the concrete toolkit.Tool backing the Planning middleware.
type updatePlanTool struct {
	store *todo.Store
}

func (t *updatePlanTool) Name() string          { return "update_plan" }
func (t *updatePlanTool) Kind() toolkit.Kind    { return toolkit.KindThink }
func (t *updatePlanTool) Description() string {
	return "Create or update the shared todo list. " +
		"Use action='create' with a goal and items to start a new list; " +
		"action='update' with item_id and status to report progress."
}

func (t *updatePlanTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type": "string",
				"enum": []string{"create", "update"},
			},
			"goal": map[string]interface{}{"type": "string"},
			"items": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string"},
			},
			"item_id": map[string]interface{}{"type": "number"},
			"status": map[string]interface{}{
				"type": "string",
				"enum": []string{"pending", "in_progress", "completed", "blocked"},
			},
			"notes": map[string]interface{}{"type": "string"},
		},
		"required": []string{"action"},
	}
}

func (t *updatePlanTool) Execute(ctx context.Context, args map[string]interface{}) (*toolkit.Result, error) {
	action, _ := args["action"].(string)
	switch action {
	case "create":
		goal, _ := args["goal"].(string)
		rawItems, _ := args["items"].([]interface{})
		if goal == "" || len(rawItems) == 0 {
			return &toolkit.Result{Output: "Error: 'goal' and non-empty 'items' are required for create", Success: false}, nil
		}
		contents := make([]string, len(rawItems))
		for i, v := range rawItems {
			contents[i] = fmt.Sprintf("%v", v)
		}
		list, err := t.store.Create(ctx, goal, contents)
		if err != nil {
			return &toolkit.Result{Output: fmt.Sprintf("Failed to create list: %v", err), Success: false}, nil
		}
		return &toolkit.Result{Output: fmt.Sprintf("Plan created with %d items", len(list.Items)), Display: list.Render(), Success: true}, nil

	case "update":
		idF, ok := args["item_id"].(float64)
		status, _ := args["status"].(string)
		if !ok || status == "" {
			return &toolkit.Result{Output: "Error: 'item_id' and 'status' are required for update", Success: false}, nil
		}
		notes, _ := args["notes"].(string)
		list, err := t.store.UpdateStatus(ctx, int(idF), todo.Status(status), notes)
		if err != nil {
			return &toolkit.Result{Output: fmt.Sprintf("Failed to update item: %v", err), Success: false}, nil
		}
		return &toolkit.Result{Output: fmt.Sprintf("Item %d -> %s", int(idF), status), Display: list.Render(), Success: true}, nil

	default:
		return &toolkit.Result{Output: "Error: action must be 'create' or 'update'", Success: false}, nil
	}
}
