package approval

import "testing"

func TestManager_RequestThenRespond(t *testing.T) {
	m := NewManager()

	ch, err := m.Request(Request{CallID: "call-1", ToolName: "execute", Args: map[string]interface{}{"cmd": "rm -rf /"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Pending() != 1 {
		t.Fatalf("expected 1 pending, got %d", m.Pending())
	}

	if err := m.Respond("call-1", Decision{Approved: false, Reason: "Denied by user"}); err != nil {
		t.Fatalf("unexpected error responding: %v", err)
	}

	decision := <-ch
	if decision.Approved {
		t.Error("expected denial to be delivered")
	}
	if m.Pending() != 0 {
		t.Errorf("expected 0 pending after response, got %d", m.Pending())
	}
}

func TestManager_DuplicateCallIDRejected(t *testing.T) {
	m := NewManager()
	if _, err := m.Request(Request{CallID: "dup", ToolName: "t"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.Request(Request{CallID: "dup", ToolName: "t"}); err == nil {
		t.Fatal("expected second request with same call id to fail")
	}
}

func TestManager_RespondUnknownCallFails(t *testing.T) {
	m := NewManager()
	if err := m.Respond("never-requested", Decision{Approved: true}); err == nil {
		t.Fatal("expected responding to an unknown call id to fail")
	}
}

func TestManager_RespondTwiceFails(t *testing.T) {
	m := NewManager()
	if _, err := m.Request(Request{CallID: "call-1", ToolName: "t"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Respond("call-1", Decision{Approved: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Respond("call-1", Decision{Approved: true}); err == nil {
		t.Fatal("expected second response to the same call to fail")
	}
}

func TestManager_CancelResolvesAllPendingAsDenied(t *testing.T) {
	m := NewManager()
	ch1, _ := m.Request(Request{CallID: "a", ToolName: "t"})
	ch2, _ := m.Request(Request{CallID: "b", ToolName: "t"})

	m.Cancel()

	d1 := <-ch1
	d2 := <-ch2
	if d1.Approved || d2.Approved {
		t.Fatal("expected all pending approvals to resolve denied on cancel")
	}
	if m.Pending() != 0 {
		t.Fatalf("expected 0 pending after cancel, got %d", m.Pending())
	}
}

func TestManager_RequestAfterCancelFails(t *testing.T) {
	m := NewManager()
	m.Cancel()
	if _, err := m.Request(Request{CallID: "late", ToolName: "t"}); err == nil {
		t.Fatal("expected request after cancel to fail")
	}
}

func TestManager_GetNextReturnsOldestPending(t *testing.T) {
	m := NewManager()
	if _, ok := m.GetNext(); ok {
		t.Fatal("expected no next request when nothing is pending")
	}
	if _, err := m.Request(Request{CallID: "a", ToolName: "read_file"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.Request(Request{CallID: "b", ToolName: "write_file"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req, ok := m.GetNext()
	if !ok || req.CallID != "a" {
		t.Fatalf("expected oldest pending request 'a', got %+v ok=%v", req, ok)
	}
	if !m.HasPending() {
		t.Fatal("expected HasPending to report true with requests outstanding")
	}
	if m.PendingCount() != 2 {
		t.Fatalf("expected 2 pending, got %d", m.PendingCount())
	}
}

func TestManager_RespondByToolNameServesFIFO(t *testing.T) {
	m := NewManager()
	ch1, _ := m.Request(Request{CallID: "a", ToolName: "execute"})
	ch2, _ := m.Request(Request{CallID: "b", ToolName: "execute"})

	if err := m.RespondByToolName("execute", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case d := <-ch1:
		if !d.Approved {
			t.Fatal("expected the oldest pending 'execute' call to be approved")
		}
	default:
		t.Fatal("expected the oldest pending call's channel to resolve")
	}

	select {
	case <-ch2:
		t.Fatal("expected the second 'execute' call to remain pending")
	default:
	}

	if err := m.RespondByToolName("execute", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d2 := <-ch2
	if d2.Approved {
		t.Fatal("expected the second call to be denied")
	}
}

func TestManager_RespondByToolNameNoMatchFails(t *testing.T) {
	m := NewManager()
	if err := m.RespondByToolName("nonexistent", true); err == nil {
		t.Fatal("expected RespondByToolName to fail when no matching tool is pending")
	}
}

func TestManager_HasPendingFalseInitially(t *testing.T) {
	m := NewManager()
	if m.HasPending() {
		t.Fatal("expected a fresh manager to have no pending approvals")
	}
}

func TestManager_OnRequestReceivesNewRequest(t *testing.T) {
	m := NewManager()

	var got Request
	m.OnRequest(func(req Request) { got = req })

	if _, err := m.Request(Request{CallID: "call-ev", ToolName: "write_file"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.CallID != "call-ev" || got.ToolName != "write_file" {
		t.Fatalf("expected listener to observe the new request, got %+v", got)
	}
}

func TestManager_OffRequestStopsDelivery(t *testing.T) {
	m := NewManager()

	count := 0
	handle := m.OnRequest(func(req Request) { count++ })
	m.OffRequest(handle)

	if _, err := m.Request(Request{CallID: "call-quiet", ToolName: "write_file"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no listener calls after OffRequest, got %d", count)
	}
}
