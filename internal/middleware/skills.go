package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rscheiwe/deepharness/internal/skill"
	"github.com/rscheiwe/deepharness/internal/toolkit"
)

// Skills exposes progressive-disclosure skill discovery: the system prompt
// segment lists every enabled skill's Summary, and load_skill/
// list_skill_assets fetch the full content only when the model asks.
type Skills struct {
	NoOp
	registry skill.Registry
}

// NewSkills builds the Skills middleware over a skill.Registry.
func NewSkills(registry skill.Registry) *Skills {
	return &Skills{registry: registry}
}

func (s *Skills) Name() string { return "skills" }

func (s *Skills) Tools() []toolkit.Tool {
	return []toolkit.Tool{
		&listSkillsTool{registry: s.registry},
		&loadSkillTool{registry: s.registry},
		&listSkillAssetsTool{registry: s.registry},
	}
}

func (s *Skills) GetSystemPromptSegment(ctx context.Context) string {
	summaries := s.registry.List()
	if len(summaries) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Available skills (use load_skill to read one in full):\n")
	for _, sm := range summaries {
		fmt.Fprintf(&b, "- %s: %s\n", sm.Name, sm.Description)
	}
	return b.String()
}

// listSkillsTool returns every enabled skill's progressive-disclosure
// summary (name, description, tags — never content), the same data the
// system-prompt segment carries, for a model that wants to re-query the
// active set mid-conversation instead of relying on the cached prompt.
type listSkillsTool struct{ registry skill.Registry }

func (listSkillsTool) Name() string        { return "list_skills" }
func (listSkillsTool) Kind() toolkit.Kind  { return toolkit.KindRead }
func (listSkillsTool) Description() string { return "List every available skill's name, description, and tags." }
func (listSkillsTool) Schema() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}
func (t *listSkillsTool) Execute(ctx context.Context, args map[string]interface{}) (*toolkit.Result, error) {
	summaries := t.registry.List()
	entries := make([]map[string]interface{}, 0, len(summaries))
	for _, sm := range summaries {
		entries = append(entries, map[string]interface{}{
			"name":        sm.Name,
			"description": sm.Description,
			"tags":        sm.Tags,
		})
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return &toolkit.Result{Output: fmt.Sprintf("Error: %v", err), Success: false}, nil
	}
	return &toolkit.Result{Output: string(data), Success: true, Metadata: map[string]interface{}{"count": len(entries)}}, nil
}

type loadSkillTool struct{ registry skill.Registry }

func (loadSkillTool) Name() string        { return "load_skill" }
func (loadSkillTool) Kind() toolkit.Kind  { return toolkit.KindRead }
func (loadSkillTool) Description() string { return "Load a skill's full content by name." }
func (loadSkillTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"name": map[string]interface{}{"type": "string"}},
		"required":   []string{"name"},
	}
}
func (t *loadSkillTool) Execute(ctx context.Context, args map[string]interface{}) (*toolkit.Result, error) {
	name, _ := args["name"].(string)
	s, ok := t.registry.Get(name)
	if !ok {
		return &toolkit.Result{Output: fmt.Sprintf("Error: skill %q not found", name), Success: false}, nil
	}
	wrapped := fmt.Sprintf("<skill-loaded name=%q>\n%s\n</skill-loaded>\nFollow the instructions above.", s.Name, s.Content)
	return &toolkit.Result{Output: wrapped, Success: true, Metadata: map[string]interface{}{"version": s.Version}}, nil
}

type listSkillAssetsTool struct{ registry skill.Registry }

func (listSkillAssetsTool) Name() string        { return "list_skill_assets" }
func (listSkillAssetsTool) Kind() toolkit.Kind  { return toolkit.KindRead }
func (listSkillAssetsTool) Description() string { return "List the asset files bundled with a skill." }
func (listSkillAssetsTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"name": map[string]interface{}{"type": "string"}},
		"required":   []string{"name"},
	}
}
func (t *listSkillAssetsTool) Execute(ctx context.Context, args map[string]interface{}) (*toolkit.Result, error) {
	name, _ := args["name"].(string)
	assets, err := t.registry.Assets(name)
	if err != nil {
		return &toolkit.Result{Output: err.Error(), Success: false}, nil
	}
	return &toolkit.Result{Output: strings.Join(assets, "\n"), Success: true}, nil
}
