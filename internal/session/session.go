// Package session holds the per-conversation state machine and the bounded
// pool that owns every live conversation.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chatgrid-ai/chatgrid/internal/provider"
	"github.com/chatgrid-ai/chatgrid/internal/tokens"
)

// Status is the session state machine. A session is AwaitingResponse only
// while exactly one provider call is in flight; every exit path returns it
// to Idle.
type Status string

const (
	StatusIdle             Status = "idle"
	StatusAwaitingResponse Status = "awaiting_response"
)

// Validation errors: rejected before any state mutation.
var (
	ErrBusy           = errors.New("session is awaiting a response")
	ErrNoModel        = errors.New("no model selected")
	ErrEmptyMessage   = errors.New("message is empty")
	ErrTooFewMessages = errors.New("not enough messages to summarize")
	ErrClosed         = errors.New("session is closed")
)

// Dispatcher routes a session's network turns to the backend named by the
// composite model identifier. *provider.Router satisfies this.
type Dispatcher interface {
	SendMessage(ctx context.Context, sessionID string, messages []provider.Message, modelRef, systemPrompt string) (string, error)
	Summarize(ctx context.Context, sessionID string, messages []provider.Message, modelRef string) (string, error)
	ContextLimit(modelRef string) int
}

// Session is one independent conversation: its own message history, model
// selection, and optional system prompt. A Session is exclusively owned by
// the Orchestrator for its lifetime; the ID never changes.
type Session struct {
	id          string
	dispatcher  Dispatcher
	monitor     *tokens.Monitor
	archive     Archive

	mu           sync.Mutex
	messages     []provider.Message
	modelRef     string
	systemPrompt string
	status       Status
	cancel       context.CancelFunc
	closed       bool
}

func newSession(id string, d Dispatcher, m *tokens.Monitor, a Archive) *Session {
	return &Session{
		id:         id,
		dispatcher: d,
		monitor:    m,
		archive:    a,
		status:     StatusIdle,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Messages returns a copy of the conversation history.
func (s *Session) Messages() []provider.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]provider.Message(nil), s.messages...)
}

func (s *Session) ModelRef() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modelRef
}

func (s *Session) SystemPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.systemPrompt
}

// SetModel selects the composite model identifier for subsequent turns.
// Valid in either state; never triggers a network call. An empty ref clears
// the selection.
func (s *Session) SetModel(ref string) error {
	if ref != "" {
		if _, _, err := provider.ParseModelRef(ref); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modelRef = ref
	return nil
}

// SetSystemPrompt sets or clears (empty string) the session's system prompt.
// Valid in either state; never triggers a network call.
func (s *Session) SetSystemPrompt(prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systemPrompt = prompt
}

// Submit performs one chat turn: append the user message, dispatch exactly
// one provider call, and append the outcome.
//
// A non-nil error is always a validation rejection (ErrBusy, ErrNoModel,
// ErrEmptyMessage, ErrClosed) and guarantees the history was not touched.
// Provider failures do not escape: they are recorded as a system-role
// message in the history, and the returned message's role tells the caller
// which case occurred. The session is back in Idle on every return.
func (s *Session) Submit(ctx context.Context, content string) (provider.Message, error) {
	if strings.TrimSpace(content) == "" {
		return provider.Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return provider.Message{}, ErrClosed
	}
	if s.status != StatusIdle {
		s.mu.Unlock()
		return provider.Message{}, ErrBusy
	}
	if s.modelRef == "" {
		s.mu.Unlock()
		return provider.Message{}, ErrNoModel
	}

	// The user message is appended before dispatch so the turn is causally
	// ordered even if the provider call fails.
	userMsg := provider.Message{Role: provider.RoleUser, Content: content, Timestamp: time.Now()}
	s.messages = append(s.messages, userMsg)
	s.status = StatusAwaitingResponse

	callCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	history := append([]provider.Message(nil), s.messages...)
	ref, sysPrompt, id := s.modelRef, s.systemPrompt, s.id
	s.mu.Unlock()

	reply, err := s.dispatcher.SendMessage(callCtx, id, history, ref, sysPrompt)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusIdle
	s.cancel = nil
	if s.closed {
		// The session was dropped while the call was in flight; the stale
		// response must not mutate it.
		return provider.Message{}, ErrClosed
	}

	var msg provider.Message
	if err != nil {
		msg = provider.Message{
			Role:      provider.RoleSystem,
			Content:   "Error: " + err.Error(),
			Timestamp: time.Now(),
		}
	} else {
		msg = provider.Message{
			Role:      provider.RoleAssistant,
			Content:   reply,
			Timestamp: time.Now(),
		}
	}
	s.messages = append(s.messages, msg)
	return msg, nil
}

// Compact replaces the whole conversation with a single system message
// wrapping a provider-generated summary, reclaiming token budget. Requires
// at least two messages and an idle session; compaction and chat turns share
// the busy flag, so the two can never race.
//
// On provider failure the history is left untouched and the error is
// returned to the caller: unlike a turn failure, no user-visible exchange
// occurred, so nothing belongs in the history.
func (s *Session) Compact(ctx context.Context) (provider.Message, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return provider.Message{}, ErrClosed
	}
	if s.status != StatusIdle {
		s.mu.Unlock()
		return provider.Message{}, ErrBusy
	}
	if len(s.messages) < 2 {
		s.mu.Unlock()
		return provider.Message{}, ErrTooFewMessages
	}
	if s.modelRef == "" {
		s.mu.Unlock()
		return provider.Message{}, ErrNoModel
	}

	s.status = StatusAwaitingResponse
	callCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	history := append([]provider.Message(nil), s.messages...)
	ref, id := s.modelRef, s.id
	s.mu.Unlock()

	summary, err := s.dispatcher.Summarize(callCtx, id, history, ref)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusIdle
	s.cancel = nil
	if s.closed {
		return provider.Message{}, ErrClosed
	}
	if err != nil {
		return provider.Message{}, fmt.Errorf("summarize conversation: %w", err)
	}

	// Archive the transcript before discarding it; if archiving fails the
	// compaction is aborted so the transcript is not silently lost.
	if s.archive != nil {
		rec := Transcript{
			SessionID:   id,
			ModelRef:    ref,
			Summary:     summary,
			Messages:    history,
			CompactedAt: time.Now(),
		}
		if aerr := s.archive.SaveTranscript(ctx, rec); aerr != nil {
			return provider.Message{}, fmt.Errorf("archive transcript: %w", aerr)
		}
	}

	summaryMsg := provider.Message{
		Role:      provider.RoleSystem,
		Content:   "Summary of the previous conversation: " + summary,
		Timestamp: time.Now(),
	}
	s.messages = []provider.Message{summaryMsg}
	return summaryMsg, nil
}

// Report computes the session's current token budget: estimated conversation
// tokens (including the system prompt, when set) against the selected
// model's context limit.
func (s *Session) Report() tokens.Report {
	s.mu.Lock()
	msgs := make([]provider.Message, 0, len(s.messages)+1)
	if s.systemPrompt != "" {
		msgs = append(msgs, provider.Message{Role: provider.RoleSystem, Content: s.systemPrompt})
	}
	msgs = append(msgs, s.messages...)
	ref := s.modelRef
	s.mu.Unlock()

	modelName := ""
	limit := provider.DefaultContextLength
	if ref != "" {
		if _, name, err := provider.ParseModelRef(ref); err == nil {
			modelName = name
		}
		limit = s.dispatcher.ContextLimit(ref)
	}
	count := tokens.EstimateConversationTokens(msgs, modelName)
	return s.monitor.Check(count, limit)
}

// Close marks the session dropped and cancels any in-flight provider call.
// Called by the orchestrator when a resize removes the session.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
}
