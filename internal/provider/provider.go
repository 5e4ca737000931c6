// Package provider defines the unified capability interface and shared types
// for all chat backends. Each adapter (ollama.go, openai.go, anthropic.go)
// implements the Client interface, normalizing vendor-specific APIs into the
// flat message model the engine works with.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ── Message types ────────────────────────────────────────────────────────────

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single message in a conversation. Messages are immutable once
// created; a session only ever appends them (or replaces the whole history on
// compaction).
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ModelDescriptor describes one model offered by a backend.
type ModelDescriptor struct {
	Provider      string `json:"provider"`
	Name          string `json:"name"`
	ContextLength int    `json:"context_length"`
}

// Ref returns the composite model identifier ("provider:name") used to route
// a session's turn to the right backend.
func (m ModelDescriptor) Ref() string {
	return m.Provider + ":" + m.Name
}

// DefaultContextLength is assumed when a backend cannot report a model's
// context window.
const DefaultContextLength = 4096

// ── Errors ───────────────────────────────────────────────────────────────────

var (
	// ErrUnavailable covers missing credentials and failed connectivity.
	ErrUnavailable = errors.New("provider unavailable")

	// ErrTimeout means the backend exceeded the bounded request timeout.
	// Retryable: the session returns to idle so the user may resubmit.
	ErrTimeout = errors.New("provider request timed out")

	// ErrBadResponse means the backend returned a payload we cannot interpret.
	ErrBadResponse = errors.New("unexpected provider response")
)

// ── Client interface ─────────────────────────────────────────────────────────

// Client is the capability set one backend exposes to the engine.
// Implementors are responsible for:
//  1. Converting the flat message history into the backend's request format
//  2. Classifying transport failures into ErrUnavailable / ErrTimeout /
//     ErrBadResponse so the session layer can react uniformly
//  3. Bounding every network call with the context deadline it is given
type Client interface {
	// Name returns the provider tag, e.g. "ollama", "openai", "anthropic".
	Name() string

	// FetchModels lists the models this backend currently offers.
	// A backend without credentials returns ErrUnavailable; it must not
	// report models it cannot serve.
	FetchModels(ctx context.Context) ([]ModelDescriptor, error)

	// SendMessage performs one chat turn and returns the assistant reply.
	// systemPrompt may be empty.
	SendMessage(ctx context.Context, sessionID string, messages []Message, model, systemPrompt string) (string, error)

	// Summarize condenses the given conversation into a single text blob,
	// using a fixed summarization instruction (not the session's own system
	// prompt).
	Summarize(ctx context.Context, sessionID string, messages []Message, model string) (string, error)

	// CheckConnection reports whether the backend is reachable and usable.
	// It must return false (not an error) for missing credentials.
	CheckConnection(ctx context.Context) bool

	// ContextLimit returns the context window for a model, falling back to
	// DefaultContextLength when unknown.
	ContextLimit(model string) int
}

// ── Summarization prompt ─────────────────────────────────────────────────────

const summarizeInstruction = `Please provide a concise summary of this conversation that captures the key points, context, and any important decisions or conclusions. This summary will be used to continue the conversation in a new chat window.`

// buildSummaryPrompt renders the transcript under the fixed summarization
// instruction as a single user prompt. Shared by all adapters so every
// backend summarizes the same way.
func buildSummaryPrompt(messages []Message) string {
	var b strings.Builder
	b.WriteString(summarizeInstruction)
	b.WriteString("\n\nConversation to summarize:\n")
	for _, msg := range messages {
		fmt.Fprintf(&b, "%s: %s\n\n", msg.Role, msg.Content)
	}
	b.WriteString("Summary:")
	return b.String()
}
