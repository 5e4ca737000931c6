package session

import (
	"context"
	"errors"
	"testing"

	"github.com/chatgrid-ai/chatgrid/internal/tokens"
)

func testOrchestrator(t *testing.T, maxSessions int) (*Orchestrator, *fakeDispatcher) {
	t.Helper()
	d := &fakeDispatcher{reply: "ok", summary: "sum"}
	o, err := NewOrchestrator(d, tokens.NewMonitor(), nil, maxSessions)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return o, d
}

func TestNewOrchestratorRejectsBadCap(t *testing.T) {
	d := &fakeDispatcher{}
	for _, cap := range []int{0, -1} {
		if _, err := NewOrchestrator(d, tokens.NewMonitor(), nil, cap); err == nil {
			t.Errorf("NewOrchestrator(%d) did not error", cap)
		}
	}
}

func TestCreateSession(t *testing.T) {
	o, _ := testOrchestrator(t, 3)

	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		id, err := o.CreateSession()
		if err != nil {
			t.Fatalf("CreateSession #%d: %v", i, err)
		}
		if seen[id] {
			t.Fatalf("duplicate session id %q", id)
		}
		seen[id] = true
	}

	if _, err := o.CreateSession(); !errors.Is(err, ErrPoolFull) {
		t.Errorf("CreateSession past the cap error = %v, want ErrPoolFull", err)
	}
}

func TestSessionLookup(t *testing.T) {
	o, _ := testOrchestrator(t, 2)
	id, err := o.CreateSession()
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	s, err := o.Session(id)
	if err != nil {
		t.Fatalf("Session(%q): %v", id, err)
	}
	if s.ID() != id {
		t.Errorf("looked-up session has id %q, want %q", s.ID(), id)
	}
	if s.Status() != StatusIdle {
		t.Errorf("fresh session status = %q, want idle", s.Status())
	}

	if _, err := o.Session("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("unknown id error = %v, want ErrSessionNotFound", err)
	}
}

func TestFill(t *testing.T) {
	o, _ := testOrchestrator(t, 5)
	o.Fill()
	if got := len(o.Sessions()); got != 5 {
		t.Errorf("pool has %d sessions after Fill, want 5", got)
	}
	// Fill is idempotent.
	o.Fill()
	if got := len(o.Sessions()); got != 5 {
		t.Errorf("pool has %d sessions after second Fill, want 5", got)
	}
}

func TestResizeRoundTrip(t *testing.T) {
	o, _ := testOrchestrator(t, 5)
	o.Fill()

	before := o.Sessions()
	// Give the survivors some distinguishing state.
	for i, s := range before[:2] {
		seedMessages(s, i+1)
	}

	if err := o.Resize(2); err != nil {
		t.Fatalf("Resize(2): %v", err)
	}
	if got := o.MaxSessions(); got != 2 {
		t.Errorf("MaxSessions = %d after shrink, want 2", got)
	}

	shrunk := o.Sessions()
	if len(shrunk) != 2 {
		t.Fatalf("pool has %d sessions after shrink, want 2", len(shrunk))
	}
	for i := range shrunk {
		if shrunk[i].ID() != before[i].ID() {
			t.Errorf("survivor %d has id %q, want %q (shrink must drop from the tail)", i, shrunk[i].ID(), before[i].ID())
		}
		if got := len(shrunk[i].Messages()); got != i+1 {
			t.Errorf("survivor %d has %d messages, want %d", i, got, i+1)
		}
	}

	if err := o.Resize(5); err != nil {
		t.Fatalf("Resize(5): %v", err)
	}
	regrown := o.Sessions()
	if len(regrown) != 5 {
		t.Fatalf("pool has %d sessions after regrow, want 5", len(regrown))
	}
	for i := 0; i < 2; i++ {
		if regrown[i].ID() != before[i].ID() {
			t.Errorf("survivor %d lost its id across the round trip", i)
		}
	}
	// Regrown slots are brand-new sessions, not resurrected ones.
	for i := 2; i < 5; i++ {
		if regrown[i].ID() == before[i].ID() {
			t.Errorf("slot %d reused the dropped session id %q", i, before[i].ID())
		}
		if len(regrown[i].Messages()) != 0 || regrown[i].Status() != StatusIdle {
			t.Errorf("regrown session %d is not empty and idle", i)
		}
	}
}

func TestResizeRejectsBadCap(t *testing.T) {
	o, _ := testOrchestrator(t, 3)
	o.Fill()
	for _, cap := range []int{0, -2} {
		if err := o.Resize(cap); err == nil {
			t.Errorf("Resize(%d) did not error", cap)
		}
	}
	if got := len(o.Sessions()); got != 3 {
		t.Errorf("rejected resize changed the pool to %d sessions", got)
	}
}

func TestResizeClosesDroppedSessions(t *testing.T) {
	o, _ := testOrchestrator(t, 2)
	o.Fill()
	dropped := o.Sessions()[1]
	dropped.SetModel("fake:model")

	if err := o.Resize(1); err != nil {
		t.Fatalf("Resize(1): %v", err)
	}
	if _, err := dropped.Submit(context.Background(), "hi"); !errors.Is(err, ErrClosed) {
		t.Errorf("dropped session accepted a submit: %v", err)
	}
}

func TestResizeCancelsInFlightCall(t *testing.T) {
	d := &fakeDispatcher{reply: "stale", block: make(chan struct{})}
	o, err := NewOrchestrator(d, tokens.NewMonitor(), nil, 2)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	o.Fill()

	tail := o.Sessions()[1]
	tail.SetModel("fake:model")

	done := make(chan error, 1)
	go func() {
		_, err := tail.Submit(context.Background(), "hello")
		done <- err
	}()
	waitForStatus(t, tail, StatusAwaitingResponse)

	if err := o.Resize(1); err != nil {
		t.Fatalf("Resize(1): %v", err)
	}

	if err := <-done; !errors.Is(err, ErrClosed) {
		t.Errorf("in-flight submit on dropped session = %v, want ErrClosed", err)
	}
	if got := len(tail.Messages()); got != 1 {
		t.Errorf("dropped session kept %d messages, stale reply must be discarded", got)
	}
}

func TestActiveSession(t *testing.T) {
	o, _ := testOrchestrator(t, 3)
	o.Fill()
	ids := o.Sessions()

	if o.Active() != nil {
		t.Error("fresh pool has an active session")
	}
	if err := o.SetActive("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("SetActive(missing) error = %v, want ErrSessionNotFound", err)
	}

	if err := o.SetActive(ids[2].ID()); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if got := o.Active(); got == nil || got.ID() != ids[2].ID() {
		t.Errorf("Active = %v, want session %q", got, ids[2].ID())
	}

	// Shrinking past the active session clears the marker.
	if err := o.Resize(1); err != nil {
		t.Fatalf("Resize(1): %v", err)
	}
	if o.Active() != nil {
		t.Error("dropped session still marked active")
	}
}
