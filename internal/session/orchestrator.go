package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/chatgrid-ai/chatgrid/internal/tokens"
)

var (
	ErrPoolFull        = errors.New("session pool is full")
	ErrSessionNotFound = errors.New("session not found")
)

// Orchestrator owns the ordered, bounded pool of sessions. Sessions are
// created in order and a shrink always drops from the tail, so surviving
// sessions keep their identifiers and history across any resize sequence.
type Orchestrator struct {
	dispatcher Dispatcher
	monitor    *tokens.Monitor
	archive    Archive

	mu          sync.Mutex
	sessions    []*Session
	maxSessions int
	activeID    string
}

// NewOrchestrator creates an empty pool capped at maxSessions. archive may
// be nil to disable transcript archiving on compaction.
func NewOrchestrator(d Dispatcher, m *tokens.Monitor, a Archive, maxSessions int) (*Orchestrator, error) {
	if maxSessions < 1 {
		return nil, fmt.Errorf("max sessions must be at least 1, got %d", maxSessions)
	}
	return &Orchestrator{
		dispatcher:  d,
		monitor:     m,
		archive:     a,
		maxSessions: maxSessions,
	}, nil
}

// CreateSession appends a new empty idle session and returns its identifier.
func (o *Orchestrator) CreateSession() (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.sessions) >= o.maxSessions {
		return "", ErrPoolFull
	}
	s := newSession(uuid.NewString(), o.dispatcher, o.monitor, o.archive)
	o.sessions = append(o.sessions, s)
	return s.id, nil
}

// Fill creates sessions until the pool is at capacity. Used at startup so
// every window the configuration allows exists from the beginning.
func (o *Orchestrator) Fill() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for len(o.sessions) < o.maxSessions {
		o.sessions = append(o.sessions, newSession(uuid.NewString(), o.dispatcher, o.monitor, o.archive))
	}
}

// Session returns the session with the given identifier.
func (o *Orchestrator) Session(id string) (*Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.sessions {
		if s.id == id {
			return s, nil
		}
	}
	return nil, ErrSessionNotFound
}

// Sessions returns the pool in creation order.
func (o *Orchestrator) Sessions() []*Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Session(nil), o.sessions...)
}

// MaxSessions returns the current pool cap.
func (o *Orchestrator) MaxSessions() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.maxSessions
}

// Resize changes the pool cap. Growing fills the pool up to the new cap with
// fresh empty sessions; shrinking drops sessions from the tail (newest
// first), cancelling any call they have in flight. Surviving sessions are
// untouched.
func (o *Orchestrator) Resize(newMax int) error {
	if newMax < 1 {
		return fmt.Errorf("max sessions must be at least 1, got %d", newMax)
	}

	o.mu.Lock()
	var dropped []*Session
	if newMax < len(o.sessions) {
		dropped = append(dropped, o.sessions[newMax:]...)
		o.sessions = o.sessions[:newMax:newMax]
	}
	o.maxSessions = newMax
	for len(o.sessions) < newMax {
		o.sessions = append(o.sessions, newSession(uuid.NewString(), o.dispatcher, o.monitor, o.archive))
	}
	for _, s := range dropped {
		if s.id == o.activeID {
			o.activeID = ""
		}
	}
	o.mu.Unlock()

	// Close outside the pool lock: Close takes the session lock and may race
	// a Submit that is about to retake it.
	for _, s := range dropped {
		s.Close()
	}
	return nil
}

// SetActive records the session the caller last interacted with. Only used
// to route session-scoped feedback; it has no effect on scheduling.
func (o *Orchestrator) SetActive(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.sessions {
		if s.id == id {
			o.activeID = id
			return nil
		}
	}
	return ErrSessionNotFound
}

// Active returns the active session, or nil when none is set.
func (o *Orchestrator) Active() *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.sessions {
		if s.id == o.activeID {
			return s
		}
	}
	return nil
}
