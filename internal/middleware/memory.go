package middleware

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rscheiwe/deepharness/internal/fsbackend"
	"github.com/rscheiwe/deepharness/internal/toolkit"
)

// memoryPath is the one file every session's Memory middleware reads at
// startup and appends to via save_memory.
const memoryPath = "/memories/AGENTS.md"

// Memory loads a persistent facts file into the system prompt at session
// start and exposes save_memory so the model can append new facts to it
// via a direct append rather than a debounced background LLM extraction
// pass.
type Memory struct {
	NoOp
	backend fsbackend.Backend
	cached  string
	loaded  bool
}

// NewMemory builds the Memory middleware over backend.
func NewMemory(backend fsbackend.Backend) *Memory {
	return &Memory{backend: backend}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Tools() []toolkit.Tool {
	return []toolkit.Tool{&saveMemoryTool{backend: m.backend}}
}

func (m *Memory) GetSystemPromptSegment(ctx context.Context) string {
	if !m.loaded {
		data, err := m.backend.Read(ctx, memoryPath)
		if err == nil {
			m.cached = string(data)
		}
		m.loaded = true
	}
	if m.cached == "" {
		return ""
	}
	return "Remembered facts from prior sessions:\n" + m.cached
}

type saveMemoryTool struct{ backend fsbackend.Backend }

func (saveMemoryTool) Name() string        { return "save_memory" }
func (saveMemoryTool) Kind() toolkit.Kind  { return toolkit.KindThink }
func (saveMemoryTool) Description() string { return "Append a durable fact to long-term memory." }
func (saveMemoryTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"fact": map[string]interface{}{"type": "string"}},
		"required":   []string{"fact"},
	}
}
func (t *saveMemoryTool) Execute(ctx context.Context, args map[string]interface{}) (*toolkit.Result, error) {
	fact, _ := args["fact"].(string)
	fact = strings.TrimSpace(fact)
	if fact == "" {
		return &toolkit.Result{Output: "Error: 'fact' is required", Success: false}, nil
	}

	existing, _ := t.backend.Read(ctx, memoryPath)
	line := fmt.Sprintf("- [%s] %s\n", time.Now().UTC().Format("2006-01-02"), fact)
	updated := append(existing, []byte(line)...)

	if err := t.backend.Write(ctx, memoryPath, updated); err != nil {
		return &toolkit.Result{Output: fmt.Sprintf("Failed to save memory: %v", err), Success: false}, nil
	}
	return &toolkit.Result{Output: "Saved.", Success: true}, nil
}
