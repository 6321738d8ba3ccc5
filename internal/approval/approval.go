// Package approval implements the harness's approval gate: the agent loop
// suspends a tool call here whenever toolkit.Policy.RequiresApproval
// returns true, and resumes once the caller responds.
package approval

import (
	"fmt"
	"sync"

	harnesserrors "github.com/rscheiwe/deepharness/pkg/errors"
)

// Decision is the caller's verdict on a pending approval request.
type Decision struct {
	Approved bool
	Reason   string
}

// Request describes one tool call awaiting approval.
type Request struct {
	CallID   string
	ToolName string
	Args     map[string]interface{}
}

// entry pairs a pending Request with the channel its eventual Decision is
// delivered on, kept in a slice alongside the map so requests can be served
// in FIFO order by GetNext/RespondByToolName.
type entry struct {
	req Request
	ch  chan Decision
}

// Listener receives every Request as it becomes pending, so a caller
// driving the harness can surface an approval-required notification (a UI
// prompt, a merged event stream) without polling GetNext.
type Listener func(Request)

// Manager gates tool calls behind caller approval. One Manager is scoped to
// a single session; Respond resolves a pending call's channel exactly once.
type Manager struct {
	mu      sync.Mutex
	pending map[string]*entry
	order   []string // call ids in arrival order, for FIFO observers
	closed  bool

	listenersMu  sync.Mutex
	nextListener int
	listeners    map[int]Listener
}

// NewManager creates an empty approval gate.
func NewManager() *Manager {
	return &Manager{pending: make(map[string]*entry), listeners: make(map[int]Listener)}
}

// OnRequest registers fn to receive every Request this Manager gates,
// returning a handle for OffRequest.
func (m *Manager) OnRequest(fn Listener) int {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.nextListener++
	id := m.nextListener
	m.listeners[id] = fn
	return id
}

// OffRequest unregisters a listener previously added via OnRequest.
func (m *Manager) OffRequest(handle int) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	delete(m.listeners, handle)
}

func (m *Manager) publish(req Request) {
	m.listenersMu.Lock()
	fns := make([]Listener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.listenersMu.Unlock()
	for _, fn := range fns {
		fn(req)
	}
}

// Request registers callID as pending and returns a channel that receives
// exactly one Decision once Respond is called (or the session is closed).
func (m *Manager) Request(req Request) (<-chan Decision, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, harnesserrors.NewCancelledError("approval manager closed")
	}
	if _, exists := m.pending[req.CallID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("approval: call %s already pending", req.CallID)
	}

	ch := make(chan Decision, 1)
	m.pending[req.CallID] = &entry{req: req, ch: ch}
	m.order = append(m.order, req.CallID)
	m.mu.Unlock()

	m.publish(req)
	return ch, nil
}

// Respond resolves callID's pending request exactly once. A second Respond
// for the same call id is an error, not a silent no-op, since it usually
// indicates a race the caller needs to know about.
func (m *Manager) Respond(callID string, decision Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolveLocked(callID, decision)
}

// RespondByToolName resolves the oldest pending request for toolName,
// serving requests FIFO when more than one call to the same tool is
// outstanding. It fails if no request for that tool is pending.
func (m *Manager) RespondByToolName(toolName string, approved bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.order {
		e, exists := m.pending[id]
		if !exists {
			continue
		}
		if e.req.ToolName == toolName {
			return m.resolveLocked(id, Decision{Approved: approved})
		}
	}
	return fmt.Errorf("approval: no pending request for tool %s", toolName)
}

// resolveLocked delivers decision on callID's channel and removes it from
// the pending set. Callers must hold m.mu.
func (m *Manager) resolveLocked(callID string, decision Decision) error {
	e, exists := m.pending[callID]
	if !exists {
		return fmt.Errorf("approval: no pending request for call %s", callID)
	}
	delete(m.pending, callID)
	e.ch <- decision
	close(e.ch)
	return nil
}

// Cancel aborts every pending approval in this session, used on session
// teardown so a waiting agent loop does not block forever.
func (m *Manager) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for _, id := range m.order {
		e, exists := m.pending[id]
		if !exists {
			continue
		}
		e.ch <- Decision{Approved: false, Reason: "session cancelled"}
		close(e.ch)
		delete(m.pending, id)
	}
	m.order = nil
}

// HasPending reports whether any approval is currently outstanding.
func (m *Manager) HasPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending) > 0
}

// GetNext returns the oldest outstanding request without resolving it, for a
// caller that wants to surface one approval at a time (e.g. a UI prompt).
// The second return value is false when nothing is pending.
func (m *Manager) GetNext() (Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.order {
		if e, exists := m.pending[id]; exists {
			return e.req, true
		}
	}
	return Request{}, false
}

// PendingCount reports how many approvals are currently outstanding.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Pending is a legacy alias for PendingCount, kept for existing callers.
func (m *Manager) Pending() int {
	return m.PendingCount()
}
