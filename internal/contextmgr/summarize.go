package contextmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rscheiwe/deepharness/internal/message"
)

// SummaryModel is the minimal LLM surface tier-3 summarization depends on —
// deliberately narrower than the full provider.Provider contract so the
// context manager never needs a streaming client, just one completion call.
type SummaryModel interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Summarizer reduces a message slice to a short synthetic summary message.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []message.Message) (message.Message, error)
}

// LLMSummarizer asks the model for a structured state snapshot and falls
// back to TruncationSummary if the call errors or times out.
type LLMSummarizer struct {
	model   SummaryModel
	timeout time.Duration
}

// NewLLMSummarizer builds a Summarizer backed by model.
func NewLLMSummarizer(model SummaryModel, timeout time.Duration) *LLMSummarizer {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &LLMSummarizer{model: model, timeout: timeout}
}

const summarizePrompt = `Summarize the conversation so far into a compact state snapshot. Respond using exactly this structure:

<state_snapshot>
<task_description>...</task_description>
<progress>...</progress>
<key_decisions>...</key_decisions>
<modified_files>...</modified_files>
<current_context>...</current_context>
</state_snapshot>`

// Summarize produces a single system-role message carrying the snapshot, or
// falls back to TruncationSummary if model is nil or the call fails.
func (s *LLMSummarizer) Summarize(ctx context.Context, msgs []message.Message) (message.Message, error) {
	if s.model == nil {
		return TruncationSummary(msgs), nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	transcript := renderTranscript(msgs)
	text, err := s.model.Complete(ctx, summarizePrompt, transcript)
	if err != nil || strings.TrimSpace(text) == "" {
		return TruncationSummary(msgs), nil
	}

	snapshot := extractXMLTag(text, "state_snapshot")
	if snapshot == "" {
		snapshot = text
	}
	return message.Text(message.RoleSystem, "Prior conversation summary:\n"+snapshot), nil
}

func renderTranscript(msgs []message.Message) string {
	var b strings.Builder
	for _, msg := range msgs {
		fmt.Fprintf(&b, "[%s] %s\n", msg.Role, msg.TextContent())
	}
	return b.String()
}

// extractXMLTag pulls the content between <tag>...</tag>, using fixed-tag
// parsing rather than a general XML parser.
func extractXMLTag(text, tag string) string {
	open := "<" + tag + ">"
	close := "</" + tag + ">"
	start := strings.Index(text, open)
	if start < 0 {
		return ""
	}
	start += len(open)
	end := strings.Index(text[start:], close)
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(text[start : start+end])
}

// TruncationSummary is the non-LLM tier-3 fallback: a one-line count of
// user/assistant/tool messages dropped, used when no SummaryModel is wired
// or the call fails.
func TruncationSummary(msgs []message.Message) message.Message {
	var user, assistant, tool int
	for _, msg := range msgs {
		switch msg.Role {
		case message.RoleUser:
			user++
		case message.RoleAssistant:
			assistant++
		case message.RoleTool:
			tool++
		}
	}
	summary := fmt.Sprintf(
		"Prior conversation summary (truncated, no model available): %d user messages, %d assistant messages, %d tool results omitted.",
		user, assistant, tool,
	)
	return message.Text(message.RoleSystem, summary)
}

// summarize is the Manager-internal tier-3 entry point: it persists every
// message older than PreserveRecent to the filesystem backend as a
// grep-able JSON transcript, then keeps every system message and the last
// PreserveRecent messages verbatim and replaces everything else with one
// summary message followed by a short assistant acknowledgement. It returns the
// reduced slice and the transcript file path it wrote, if any.
func (m *Manager) summarize(ctx context.Context, sessionID string, msgs []message.Message) ([]message.Message, []string, error) {
	if len(msgs) <= m.cfg.PreserveRecent {
		return msgs, nil, nil
	}

	recentStart := len(msgs) - m.cfg.PreserveRecent
	var system, older, recent []message.Message
	for i, msg := range msgs {
		switch {
		case msg.Role == message.RoleSystem:
			system = append(system, msg)
		case i >= recentStart:
			recent = append(recent, msg)
		default:
			older = append(older, msg)
		}
	}

	if len(older) == 0 {
		return msgs, nil, nil
	}

	var files []string
	if m.backend != nil {
		transcript, err := json.MarshalIndent(older, "", "  ")
		if err == nil {
			path := fmt.Sprintf("/context/transcripts/%s_%d.json", sessionID, time.Now().UnixNano())
			if werr := m.backend.Write(ctx, path, transcript); werr == nil {
				files = append(files, path)
			}
		}
	}

	var summaryMsg message.Message
	var err error
	if m.summarizer != nil {
		summaryMsg, err = m.summarizer.Summarize(ctx, older)
	} else {
		summaryMsg = TruncationSummary(older)
	}
	if err != nil {
		return nil, nil, err
	}
	ack := message.Text(message.RoleAssistant, "Understood. Continuing from the summarized state above.")

	out := make([]message.Message, 0, len(system)+2+len(recent))
	out = append(out, system...)
	out = append(out, summaryMsg, ack)
	out = append(out, recent...)
	return out, files, nil
}
