package contextmgr

import "strings"

// WindowTable maps model names to context-window token limits. Lookup
// falls back to the longest matching prefix so a dated model id (e.g.
// "claude-sonnet-4-20250514") resolves through its family entry without the
// table having to enumerate every snapshot.
type WindowTable struct {
	Exact   map[string]int
	Default int
}

// DefaultWindows covers the model families the harness is commonly pointed
// at; callers with other providers supply their own table.
var DefaultWindows = WindowTable{
	Exact: map[string]int{
		"claude-opus-4":   200000,
		"claude-sonnet-4": 200000,
		"claude-haiku-4":  200000,
		"gpt-4o":          128000,
		"gpt-4.1":         1000000,
		"gemini-2.5":      1000000,
	},
	Default: 128000,
}

// Lookup resolves model to a token limit: an exact entry wins, then the
// longest entry that prefixes model, then Default.
func (t WindowTable) Lookup(model string) int {
	if limit, ok := t.Exact[model]; ok {
		return limit
	}
	bestLen, bestLimit := 0, 0
	for name, limit := range t.Exact {
		if strings.HasPrefix(model, name) && len(name) > bestLen {
			bestLen, bestLimit = len(name), limit
		}
	}
	if bestLen > 0 {
		return bestLimit
	}
	return t.Default
}
