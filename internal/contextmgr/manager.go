// Package contextmgr implements the harness's three-tier context manager:
// large tool results are offloaded to the filesystem backend first, then
// file-writing tool calls and their results in the middle of the history
// are shrunk to path placeholders (no message is removed), and only as a
// last resort is the remaining history replaced with
// an LLM (or fallback heuristic) summary. Each tier is tried in order and
// the ladder stops as soon as the token ratio drops back under budget.
package contextmgr

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rscheiwe/deepharness/internal/fsbackend"
	"github.com/rscheiwe/deepharness/internal/message"
)

// Strategy names which tier last touched a history.
type Strategy string

const (
	StrategyNone      Strategy = "none"
	StrategyOffload   Strategy = "offload"
	StrategyCompact   Strategy = "compact"
	StrategySummarize Strategy = "summarize"
)

// EvictionRecord documents one context-reduction pass for observability and
// the Scenario-E/F style regression tests that assert compaction happened.
type EvictionRecord struct {
	Timestamp       time.Time
	Strategy        Strategy
	Estimator       string
	OriginalTokens  int
	CompactedTokens int
	FilesCreated    []string
}

// Config bounds when each tier engages, as ratios of MaxTokens.
type Config struct {
	MaxTokens          int
	OffloadThreshold   float64 // not read by Manager; tier 1 runs per result via OffloadResult
	CompactThreshold   float64 // tier 2 engages above this ratio
	SummarizeThreshold float64 // tier 3 engages above this ratio
	PreserveRecent     int     // messages always kept verbatim at the tail

	// LargeResultTokenLimit is tier 1's per-result trigger: any single tool
	// result estimated above this many tokens is offloaded to the filesystem
	// backend the instant it is produced, independent of the overall window
	// ratio.
	LargeResultTokenLimit int
	// PreviewLines is how many lines of an offloaded result are kept inline
	// as a preview alongside the file reference.
	PreviewLines int
	// ExcludedTools names tools whose results are never offloaded (e.g.
	// planning/skill-listing tools whose output is already short and whose
	// structure the model relies on staying inline).
	ExcludedTools map[string]bool
}

// DefaultConfig sets the default compaction ratios: tool-call compaction at
// 85% of the window, summarization at 95%, the 20 most recent messages
// always kept verbatim.
func DefaultConfig() Config {
	return Config{
		MaxTokens:             128000,
		OffloadThreshold:      0.6,
		CompactThreshold:      0.85,
		SummarizeThreshold:    0.95,
		PreserveRecent:        20,
		LargeResultTokenLimit: 20000,
		PreviewLines:          10,
		ExcludedTools:         map[string]bool{"update_plan": true, "list_skills": true},
	}
}

// Manager runs the three-tier reduction ladder over a session's history.
type Manager struct {
	cfg        Config
	estimator  Estimator
	backend    fsbackend.Backend
	summarizer Summarizer

	mu      sync.Mutex
	records []EvictionRecord
}

// NewManager builds a Manager. summarizer may be nil, in which case tier 3
// always falls back to the non-LLM truncation summary.
func NewManager(cfg Config, estimator Estimator, backend fsbackend.Backend, summarizer Summarizer) *Manager {
	if estimator == nil {
		estimator = NewHeuristicEstimator()
	}
	return &Manager{cfg: cfg, estimator: estimator, backend: backend, summarizer: summarizer}
}

// EstimateTokens sums the estimator's count across every message.
func (m *Manager) EstimateTokens(msgs []message.Message) int {
	total := 0
	for _, msg := range msgs {
		for _, p := range msg.Parts {
			switch p.Kind {
			case message.PartText:
				total += m.estimator.Count(p.Text)
			case message.PartToolResult:
				total += m.estimator.Count(p.Output)
			case message.PartToolCall:
				total += m.estimator.Count(p.ToolName) + 50
			case message.PartMedia:
				total += 85
			}
			total += 4 // per-part overhead
		}
	}
	return total
}

// Ratio returns the current token count divided by MaxTokens.
func (m *Manager) Ratio(msgs []message.Message) float64 {
	if m.cfg.MaxTokens <= 0 {
		return 0
	}
	return float64(m.EstimateTokens(msgs)) / float64(m.cfg.MaxTokens)
}

// NeedsReduction reports whether tier 2 or tier 3 should run. Tier 1 does
// not gate on the overall ratio at all — it runs per-result via
// OffloadResult as each tool call completes.
func (m *Manager) NeedsReduction(msgs []message.Message) bool {
	return m.Ratio(msgs) >= m.cfg.CompactThreshold
}

// Process runs the tier-2/tier-3 reduction ladder once: compact the middle
// of the history if still over CompactThreshold, then (if still over
// SummarizeThreshold) summarize everything older than PreserveRecent. Tier
// 1 (large-result offload) is applied separately, per-result, by
// OffloadResult as each tool call completes — by the time Process runs,
// any oversized individual result has already been replaced with a
// file-backed reference, so this ladder only has to deal with aggregate
// history size. It returns the new message slice and a record of whatever
// it did — the record's Strategy is StrategyNone if no tier engaged.
func (m *Manager) Process(ctx context.Context, sessionID string, msgs []message.Message) ([]message.Message, EvictionRecord, error) {
	before := m.EstimateTokens(msgs)
	ratio := float64(before) / float64(maxInt(m.cfg.MaxTokens, 1))

	record := EvictionRecord{Timestamp: time.Now().UTC(), Strategy: StrategyNone, Estimator: m.estimator.Name(), OriginalTokens: before}

	if ratio < m.cfg.CompactThreshold {
		record.CompactedTokens = before
		return msgs, record, nil
	}

	out := msgs
	var filesCreated []string

	if ratio >= m.cfg.CompactThreshold {
		out = m.compact(out)
		record.Strategy = StrategyCompact
	}

	ratio = float64(m.EstimateTokens(out)) / float64(maxInt(m.cfg.MaxTokens, 1))
	if ratio >= m.cfg.SummarizeThreshold {
		summarized, files, err := m.summarize(ctx, sessionID, out)
		if err != nil {
			return nil, record, fmt.Errorf("contextmgr: summarize: %w", err)
		}
		out = summarized
		filesCreated = append(filesCreated, files...)
		record.Strategy = StrategySummarize
	}

	record.CompactedTokens = m.EstimateTokens(out)
	record.FilesCreated = filesCreated

	m.mu.Lock()
	m.records = append(m.records, record)
	m.mu.Unlock()

	return out, record, nil
}

// OffloadResult implements tier 1: called on each tool result as it is
// produced, not gated by the overall window ratio. A result under
// LargeResultTokenLimit tokens, or belonging to an
// excluded tool, passes through unchanged. Otherwise the full result is
// written to the filesystem backend at a path deterministic in
// (toolName, content, timestamp, callID) and the returned string carries
// the path, a PreviewLines-line prefix, and an instruction to read the file
// for the rest.
func (m *Manager) OffloadResult(ctx context.Context, toolName, callID, output string, at time.Time) (string, *EvictionRecord, error) {
	if m.cfg.ExcludedTools[toolName] {
		return output, nil, nil
	}
	tokens := m.estimator.Count(output)
	if tokens <= m.cfg.LargeResultTokenLimit {
		return output, nil, nil
	}
	if m.backend == nil {
		return output, nil, nil
	}

	callIDPrefix := callID
	if len(callIDPrefix) > 8 {
		callIDPrefix = callIDPrefix[:8]
	}
	path := fmt.Sprintf("/context/tool_results/%s_%d_%s.txt", toolName, at.UnixNano(), callIDPrefix)
	if err := m.backend.Write(ctx, path, []byte(output)); err != nil {
		return output, nil, fmt.Errorf("contextmgr: offload result: %w", err)
	}

	preview := previewLines(output, m.cfg.PreviewLines)
	replacement := fmt.Sprintf(
		"[Result too large: %d tokens. Full content written to %s]\n\n%s\n\n... (truncated; use the read-file tool on %q for the complete content)",
		tokens, path, preview, path,
	)

	record := EvictionRecord{
		Timestamp:       at,
		Strategy:        StrategyOffload,
		Estimator:       m.estimator.Name(),
		OriginalTokens:  tokens,
		CompactedTokens: m.estimator.Count(replacement),
		FilesCreated:    []string{path},
	}
	m.mu.Lock()
	m.records = append(m.records, record)
	m.mu.Unlock()

	return replacement, &record, nil
}

func previewLines(text string, n int) string {
	lines := strings.SplitAfter(text, "\n")
	if len(lines) <= n {
		return text
	}
	return strings.Join(lines[:n], "")
}

// Records returns every EvictionRecord produced so far, oldest first.
func (m *Manager) Records() []EvictionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EvictionRecord(nil), m.records...)
}

// fileWritingTools names the tools whose call arguments carry the full
// written content and are therefore safe to replace with a short
// reference — the content is recoverable by reading the file back off
// disk.
var fileWritingTools = map[string]bool{"write_file": true, "edit_file": true}

// fileWritingArgKeys are the argument names tier 2 shortens when present.
var fileWritingArgKeys = []string{"content", "new_text"}

// compact replaces a file-writing tool call's content argument (and its
// matching tool-result's output) with a short path reference, implementing
// tier 2: it never removes a message or breaks a tool-call/tool-result
// pairing, it only shrinks what the pair
// carries. Messages are never reordered or dropped — only the
// PreserveRecent-exempt middle is eligible, and eligibility is keyed off
// tool name, not position, so compact applied twice is a no-op: the second
// pass sees the same placeholder already in place and writes the same
// placeholder back.
func (m *Manager) compact(msgs []message.Message) []message.Message {
	if len(msgs) <= m.cfg.PreserveRecent {
		return msgs
	}
	recentStart := len(msgs) - m.cfg.PreserveRecent
	if recentStart < 0 {
		recentStart = 0
	}

	out := make([]message.Message, len(msgs))
	copy(out, msgs)

	compactedPaths := make(map[string]string, 4) // tool-call id -> path placeholder

	for i := 0; i < recentStart; i++ {
		msg := out[i]
		if msg.Role != message.RoleAssistant {
			continue
		}
		parts, changed := compactToolCallParts(msg.Parts, compactedPaths)
		if changed {
			out[i] = message.Message{Role: msg.Role, Parts: parts}
		}
	}
	if len(compactedPaths) == 0 {
		return out
	}

	for i := 0; i < recentStart; i++ {
		msg := out[i]
		if msg.Role != message.RoleTool {
			continue
		}
		parts, changed := compactToolResultParts(msg.Parts, compactedPaths)
		if changed {
			out[i] = message.Message{Role: msg.Role, Parts: parts}
		}
	}
	return out
}

func compactToolCallParts(in []message.Part, compactedPaths map[string]string) ([]message.Part, bool) {
	changed := false
	parts := make([]message.Part, len(in))
	copy(parts, in)
	for j, p := range parts {
		if p.Kind != message.PartToolCall || !fileWritingTools[p.ToolName] {
			continue
		}
		path, _ := p.ToolArgs["path"].(string)
		if path == "" {
			path, _ = p.ToolArgs["file_path"].(string)
		}
		placeholder := fmt.Sprintf("[Content written to %s]", path)

		newArgs := make(map[string]interface{}, len(p.ToolArgs))
		for k, v := range p.ToolArgs {
			newArgs[k] = v
		}
		for _, key := range fileWritingArgKeys {
			if _, ok := newArgs[key]; ok {
				newArgs[key] = placeholder
			}
		}
		parts[j].ToolArgs = newArgs
		compactedPaths[p.ToolCallID] = path
		changed = true
	}
	return parts, changed
}

func compactToolResultParts(in []message.Part, compactedPaths map[string]string) ([]message.Part, bool) {
	changed := false
	parts := make([]message.Part, len(in))
	copy(parts, in)
	for j, p := range parts {
		if p.Kind != message.PartToolResult {
			continue
		}
		path, ok := compactedPaths[p.ResultForID]
		if !ok {
			continue
		}
		parts[j].Output = fmt.Sprintf("status: written to %s", path)
		changed = true
	}
	return parts, changed
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
