// Package skill implements progressive-disclosure skill discovery: only a
// skill's name and description are loaded into the system prompt up front; its full content is fetched on demand via
// load_skill, keeping the prompt small regardless of how many skills exist.
package skill

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Skill is one loaded capability bundle.
type Skill struct {
	Name        string
	Description string
	Content     string
	Triggers    []string
	Tags        []string
	Priority    int
	Enabled     bool
	Requires    []string
	Author      string
	Version     string
	Assets      []string // sibling markdown files discoverable via list_skill_assets
}

// NewSkill builds a Skill in its enabled state.
func NewSkill(name, description, content string) *Skill {
	return &Skill{Name: name, Description: description, Content: content, Enabled: true}
}

// Enable marks the skill available for discovery.
func (s *Skill) Enable() { s.Enabled = true }

// Disable hides the skill from discovery without deleting it.
func (s *Skill) Disable() { s.Enabled = false }

// Summary is the progressive-disclosure entry surfaced in the system prompt:
// name, description, triggers, and tags only — never Content.
type Summary struct {
	Name        string
	Description string
	Triggers    []string
	Tags        []string
}

// Registry holds every loaded skill and answers progressive-disclosure
// queries without ever handing out full Content until asked.
type Registry interface {
	Register(s *Skill) error
	Get(name string) (*Skill, bool)
	List() []Summary
	Search(query string) []Summary
	MatchTriggers(text string) []Summary
	Assets(name string) ([]string, error)
	Asset(name, assetName string) (string, error)
}

// InMemoryRegistry is the default Registry implementation.
type InMemoryRegistry struct {
	mu     sync.RWMutex
	skills map[string]*Skill
	assets map[string]map[string]string // skill name -> asset name -> content
}

// NewInMemoryRegistry creates an empty skill registry.
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		skills: make(map[string]*Skill),
		assets: make(map[string]map[string]string),
	}
}

// Register adds s to the registry.
func (r *InMemoryRegistry) Register(s *Skill) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.skills[s.Name]; exists {
		return fmt.Errorf("skill %s already registered", s.Name)
	}
	r.skills[s.Name] = s
	return nil
}

// Get returns the named skill, including its full Content — this is the
// load_skill operation's backing call.
func (r *InMemoryRegistry) Get(name string) (*Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[name]
	return s, ok
}

// List returns every enabled skill's progressive-disclosure summary.
func (r *InMemoryRegistry) List() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Summary, 0, len(r.skills))
	for _, s := range r.skills {
		if !s.Enabled {
			continue
		}
		out = append(out, Summary{Name: s.Name, Description: s.Description, Triggers: s.Triggers, Tags: s.Tags})
	}
	return out
}

// Search returns every enabled skill whose name, description, or tags
// contain query as a case-insensitive substring.
func (r *InMemoryRegistry) Search(query string) []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q := strings.ToLower(query)
	var out []Summary
	for _, s := range r.skills {
		if !s.Enabled {
			continue
		}
		if strings.Contains(strings.ToLower(s.Name), q) ||
			strings.Contains(strings.ToLower(s.Description), q) ||
			tagsMatch(s.Tags, q) {
			out = append(out, Summary{Name: s.Name, Description: s.Description, Triggers: s.Triggers, Tags: s.Tags})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func tagsMatch(tags []string, q string) bool {
	for _, tag := range tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}

// MatchTriggers returns every enabled skill with at least one trigger
// pattern present in text (case-insensitive substring match), sorted by
// Priority descending so the caller can pick the highest-priority match
// first when more than one skill's triggers fire on the same input.
func (r *InMemoryRegistry) MatchTriggers(text string) []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lower := strings.ToLower(text)
	type scored struct {
		summary  Summary
		priority int
	}
	var matches []scored
	for _, s := range r.skills {
		if !s.Enabled {
			continue
		}
		for _, trigger := range s.Triggers {
			if trigger == "" {
				continue
			}
			if strings.Contains(lower, strings.ToLower(trigger)) {
				matches = append(matches, scored{
					summary:  Summary{Name: s.Name, Description: s.Description, Triggers: s.Triggers, Tags: s.Tags},
					priority: s.Priority,
				})
				break
			}
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].priority > matches[j].priority })

	out := make([]Summary, len(matches))
	for i, m := range matches {
		out[i] = m.summary
	}
	return out
}

// RegisterAsset attaches a named asset's content to a skill, discoverable
// via Assets/Asset but never surfaced in List.
func (r *InMemoryRegistry) RegisterAsset(skillName, assetName, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.assets[skillName] == nil {
		r.assets[skillName] = make(map[string]string)
	}
	r.assets[skillName][assetName] = content
	if s, ok := r.skills[skillName]; ok {
		s.Assets = append(s.Assets, assetName)
	}
}

// Assets lists the asset file names available under a skill.
func (r *InMemoryRegistry) Assets(name string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[name]
	if !ok {
		return nil, fmt.Errorf("skill %s not found", name)
	}
	return append([]string(nil), s.Assets...), nil
}

// Asset returns one named asset's content.
func (r *InMemoryRegistry) Asset(name, assetName string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byName, ok := r.assets[name]
	if !ok {
		return "", fmt.Errorf("skill %s has no assets", name)
	}
	content, ok := byName[assetName]
	if !ok {
		return "", fmt.Errorf("skill %s has no asset %s", name, assetName)
	}
	return content, nil
}
