// Package message defines the harness's append-only conversation log: roles,
// multimodal parts, and the tool-call/tool-result pairing the agent loop and
// context manager both operate over.
package message

import (
	"strings"
)

// Role identifies who produced a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartKind discriminates the tagged union carried by Part.
type PartKind string

const (
	PartText       PartKind = "text"
	PartToolCall   PartKind = "tool_call"
	PartToolResult PartKind = "tool_result"
	PartMedia      PartKind = "media"
)

// Part is one fragment of a Message's content. Exactly the fields matching
// Kind are meaningful; callers should switch on Kind rather than checking for
// zero values, since a legitimate empty-string text part is possible.
type Part struct {
	Kind PartKind

	// PartText
	Text string

	// PartToolCall
	ToolCallID string
	ToolName   string
	ToolArgs   map[string]interface{}

	// PartToolResult
	ResultForID string
	Output      string
	Success     bool
	ErrorText   string

	// PartMedia
	MediaURL string
	MimeType string
	Data     []byte
}

// Message is one entry in a session's append-only history.
type Message struct {
	Role  Role
	Parts []Part
}

// Text builds a plain single-text-part Message.
func Text(role Role, text string) Message {
	return Message{Role: role, Parts: []Part{{Kind: PartText, Text: text}}}
}

// ToolResult builds a tool-role Message carrying one tool result.
func ToolResult(callID string, output string, success bool, errText string) Message {
	return Message{Role: RoleTool, Parts: []Part{{
		Kind:        PartToolResult,
		ResultForID: callID,
		Output:      output,
		Success:     success,
		ErrorText:   errText,
	}}}
}

// TextContent joins the message's non-empty text parts with newlines;
// non-text parts are skipped.
func (m Message) TextContent() string {
	var texts []string
	for _, p := range m.Parts {
		if p.Kind == PartText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// HasMedia reports whether m carries any non-text part.
func (m Message) HasMedia() bool {
	for _, p := range m.Parts {
		if p.Kind == PartMedia {
			return true
		}
	}
	return false
}

// ToolCalls returns every tool-call part in m, in emission order.
func (m Message) ToolCalls() []Part {
	var calls []Part
	for _, p := range m.Parts {
		if p.Kind == PartToolCall {
			calls = append(calls, p)
		}
	}
	return calls
}

// History is an append-only message log. Callers must never mutate or
// reorder entries once appended — the prompt-cache-stability invariant in
// the concurrency model depends on it.
type History struct {
	messages []Message
}

// NewHistory builds a History, optionally seeded with a system message.
func NewHistory(system string) *History {
	h := &History{}
	if system != "" {
		h.messages = append(h.messages, Text(RoleSystem, system))
	}
	return h
}

// Append adds msg to the end of the log.
func (h *History) Append(msg Message) {
	h.messages = append(h.messages, msg)
}

// Messages returns the log's current snapshot. The returned slice must be
// treated as read-only by the caller.
func (h *History) Messages() []Message {
	return h.messages
}

// Len returns the number of messages currently in the log.
func (h *History) Len() int {
	return len(h.messages)
}

// Replace swaps the entire log contents, used by the context manager after
// compaction/summarization produces a new, shorter log.
func (h *History) Replace(messages []Message) {
	h.messages = messages
}
