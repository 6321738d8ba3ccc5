// Package toolkit is the harness's tool registry: tool definitions, schema
// validation, Kind-driven approval policy, and the monotonic tool-call
// lifecycle the agent loop drives tool execution through.
package toolkit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Kind classifies what a tool does, driving automatic approval decisions.
type Kind string

const (
	KindRead        Kind = "read"
	KindEdit        Kind = "edit"
	KindExecute     Kind = "execute"
	KindDelete      Kind = "delete"
	KindSearch      Kind = "search"
	KindFetch       Kind = "fetch"
	KindThink       Kind = "think"
	KindCommunicate Kind = "communicate"
)

// Mutates reports whether tools of this kind change state outside the
// conversation. Reads, searches, fetches, and thinking are observation
// only; everything that writes, deletes, or executes suspends at the
// approval gate while the policy's AskMode is on.
func (k Kind) Mutates() bool {
	switch k {
	case KindEdit, KindDelete, KindExecute:
		return true
	}
	return false
}

// Tool is the interface every registered capability implements.
type Tool interface {
	Name() string
	Description() string
	Kind() Kind
	Schema() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (*Result, error)
}

// Result is what a tool handler returns: a compact Output for the model and
// an optional richer Display for a UI.
type Result struct {
	Output   string
	Display  string
	Success  bool
	Metadata map[string]interface{}
	Error    string
}

// DisplayOrOutput returns Display if set, else falls back to Output.
func (r *Result) DisplayOrOutput() string {
	if r.Display != "" {
		return r.Display
	}
	return r.Output
}

// MarshalJSON renders a Result for transcript/event serialization.
func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"output":   r.Output,
		"display":  r.Display,
		"success":  r.Success,
		"metadata": r.Metadata,
		"error":    r.Error,
	})
}

// Definition is the wire-shape handed to the LLM provider as a callable tool.
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Registry holds every tool available to a session.
type Registry interface {
	Register(tool Tool) error
	Unregister(name string) error
	Get(name string) (Tool, bool)
	List() []Definition
	Has(name string) bool
	// Validate checks args against the tool's compiled JSON Schema.
	Validate(name string, args map[string]interface{}) error
}

// InMemoryRegistry is the default Registry: a mutex-guarded map plus one
// compiled jsonschema validator per tool, compiled at Register time so a
// malformed schema fails fast instead of on first dispatch.
type InMemoryRegistry struct {
	mu         sync.RWMutex
	tools      map[string]Tool
	validators map[string]*jsonschema.Schema
	order      []string // registration order, since List() is contractually insertion-ordered
}

// NewInMemoryRegistry creates an empty registry.
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		tools:      make(map[string]Tool),
		validators: make(map[string]*jsonschema.Schema),
	}
}

// Register adds tool to the registry and compiles its schema.
func (r *InMemoryRegistry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}

	validator, err := compileSchema(name, tool.Schema())
	if err != nil {
		return fmt.Errorf("tool %s: %w", name, err)
	}

	r.tools[name] = tool
	r.order = append(r.order, name)
	if validator != nil {
		r.validators[name] = validator
	}
	return nil
}

// Unregister removes a tool and its compiled schema.
func (r *InMemoryRegistry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return fmt.Errorf("tool %s not found", name)
	}
	delete(r.tools, name)
	delete(r.validators, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Get returns the tool registered under name, if any.
func (r *InMemoryRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, exists := r.tools[name]
	return tool, exists
}

// List returns every tool's wire Definition in registration order.
func (r *InMemoryRegistry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name]
		defs = append(defs, Definition{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Schema(),
		})
	}
	return defs
}

// Has reports whether name is registered.
func (r *InMemoryRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.tools[name]
	return exists
}

// Validate checks args against name's compiled JSON Schema, if one exists.
func (r *InMemoryRegistry) Validate(name string, args map[string]interface{}) error {
	r.mu.RLock()
	validator, ok := r.validators[name]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	// jsonschema validates against decoded-JSON-shaped values (map/slice/
	// primitives); args already satisfies that shape for tool call arguments.
	return validator.Validate(args)
}

func compileSchema(name string, schema map[string]interface{}) (*jsonschema.Schema, error) {
	if len(schema) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	resourceName := name + ".json"
	if err := c.AddResource(resourceName, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile(resourceName)
}

// Policy decides which tools a session may call and which calls must stop
// at the approval gate before executing. The agent loop consults it in
// three places: Filter shapes the provider-facing tool menu each turn,
// IsAllowed rejects a disallowed call before it runs, and RequiresApproval
// decides per call whether to suspend on the session's approval manager. A subagent's isolation contract is enforced by handing
// its loop a Policy whose AllowList is the subagent's allowed-tool set.
type Policy struct {
	Profile   string
	AllowList []string // empty means every non-denied tool
	DenyList  []string
	AskMode   bool

	// AlwaysAsk and NeverAsk override the kind-derived gate per tool name,
	// for tools whose risk does not follow their Kind (a read tool that
	// exfiltrates, an edit tool scoped to a scratch directory).
	AlwaysAsk []string
	NeverAsk  []string
}

// IsAllowed reports whether toolName passes the deny list and, when one is
// set, the allow list.
func (p *Policy) IsAllowed(toolName string) bool {
	if slices.Contains(p.DenyList, toolName) {
		return false
	}
	return len(p.AllowList) == 0 || slices.Contains(p.AllowList, toolName)
}

// RequiresApproval reports whether a call to toolName must resolve through
// the approval manager before its handler runs. Outside AskMode nothing
// gates; inside it, per-name overrides win over the kind classification.
func (p *Policy) RequiresApproval(toolName string, kind Kind) bool {
	if !p.AskMode || slices.Contains(p.NeverAsk, toolName) {
		return false
	}
	if slices.Contains(p.AlwaysAsk, toolName) {
		return true
	}
	return kind.Mutates()
}

// Filter returns the definitions the policy allows, preserving order, for
// the provider-facing tool menu.
func (p *Policy) Filter(defs []Definition) []Definition {
	out := make([]Definition, 0, len(defs))
	for _, def := range defs {
		if p.IsAllowed(def.Name) {
			out = append(out, def)
		}
	}
	return out
}
