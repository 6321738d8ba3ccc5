package toolkit

import "fmt"

// CallState is a tool call's position in its monotonic lifecycle.
type CallState string

const (
	CallPendingInput CallState = "pending_input"
	CallApproved     CallState = "approved"
	CallDenied       CallState = "denied"
	CallRunning      CallState = "running"
	CallCompleted    CallState = "completed"
	CallFailed       CallState = "failed"
)

var callTransitions = map[CallState][]CallState{
	CallPendingInput: {CallApproved, CallDenied},
	CallApproved:     {CallRunning},
	CallRunning:      {CallCompleted, CallFailed},
	CallDenied:       {},
	CallCompleted:    {},
	CallFailed:       {},
}

// Call tracks one tool invocation's id, name, arguments, and lifecycle state.
type Call struct {
	ID    string
	Name  string
	Args  map[string]interface{}
	State CallState
}

// NewCall creates a Call in its initial PendingInput state.
func NewCall(id, name string, args map[string]interface{}) *Call {
	return &Call{ID: id, Name: name, Args: args, State: CallPendingInput}
}

// Transition moves the call to next, rejecting any move not in
// callTransitions — terminal states (Denied, Completed, Failed) have no
// outgoing transitions at all.
func (c *Call) Transition(next CallState) error {
	for _, allowed := range callTransitions[c.State] {
		if allowed == next {
			c.State = next
			return nil
		}
	}
	return fmt.Errorf("toolkit: invalid call transition %s -> %s for %s", c.State, next, c.ID)
}

// IsTerminal reports whether the call has reached a terminal state.
func (c *Call) IsTerminal() bool {
	return len(callTransitions[c.State]) == 0
}
