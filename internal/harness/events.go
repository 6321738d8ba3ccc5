package harness

import (
	"github.com/rscheiwe/deepharness/internal/approval"
	"github.com/rscheiwe/deepharness/internal/provider"
	"github.com/rscheiwe/deepharness/internal/subagent"
)

// EventKind discriminates the harness's outbound event vocabulary: the
// provider's own streaming events, plus session and subagent lifecycle
// notifications a caller of RunStream needs to render a merged timeline
// without separately polling Approvals()/OnSubagentEvent.
type EventKind string

const (
	EventSessionStart        EventKind = "session-start"
	EventSessionEnd          EventKind = "session-end"
	EventTextDelta           EventKind = "text_delta"
	EventToolInputStart      EventKind = "tool_input_start"
	EventToolInputDelta      EventKind = "tool_input_delta"
	EventToolInputAvailable  EventKind = "tool_input_available"
	EventToolOutputAvailable EventKind = "tool_output_available"
	EventResponseMetadata    EventKind = "response_metadata"
	EventProviderError       EventKind = "error"
	EventApprovalRequired    EventKind = "approval-required"
	EventSubagentStart       EventKind = "subagent-start"
	EventSubagentComplete    EventKind = "subagent-complete"
	EventSubagentError       EventKind = "subagent-error"
)

// Event is one entry in the merged stream RunStream emits: the parent
// session's own provider events interleaved, in arrival order, with
// lifecycle notifications about every subagent spawned from it. Every
// subagent-tagged event carries SubagentID so a consumer can demultiplex:
// parent and child events are interleaved in arrival order on the output
// stream but tagged with their originating subagent id.
type Event struct {
	Kind      EventKind
	SessionID string

	// Provider-sourced fields, set when Kind mirrors a provider.StreamEvent.
	TextDelta    string
	ToolCallID   string
	ToolName     string
	ArgsFragment string
	Args         map[string]interface{}
	Output       string
	ModelUsed    string
	TokensUsed   int
	Err          error

	// EventSubagentStart / EventSubagentComplete / EventSubagentError
	SubagentID string
	AgentType  string
	Task       string
	Result     *subagent.Result
}

// fromProviderEvent translates a provider.StreamEvent into the harness's
// outbound vocabulary, tagging it with the owning session.
func fromProviderEvent(sessionID string, ev provider.StreamEvent) Event {
	return Event{
		Kind:         EventKind(ev.Kind),
		SessionID:    sessionID,
		TextDelta:    ev.TextDelta,
		ToolCallID:   ev.ToolCallID,
		ToolName:     ev.ToolName,
		ArgsFragment: ev.ArgsFragment,
		Args:         ev.Args,
		Output:       ev.Output,
		ModelUsed:    ev.ModelUsed,
		TokensUsed:   ev.TokensUsed,
		Err:          ev.Err,
	}
}

// fromSubagentEvent translates a subagent.Event into the harness's outbound
// vocabulary; the EventKind values line up one-to-one by construction.
func fromSubagentEvent(sessionID string, ev subagent.Event) Event {
	return Event{
		Kind:       EventKind(ev.Kind),
		SessionID:  sessionID,
		SubagentID: ev.SubagentID,
		AgentType:  ev.AgentType,
		Task:       ev.Task,
		Result:     ev.Result,
		Err:        ev.Err,
	}
}

// fromApprovalRequest translates a pending approval.Request into an
// approval-required event.
func fromApprovalRequest(sessionID string, req approval.Request) Event {
	return Event{
		Kind:       EventApprovalRequired,
		SessionID:  sessionID,
		ToolCallID: req.CallID,
		ToolName:   req.ToolName,
		Args:       req.Args,
	}
}
