// Package prompts is the system-prompt library: named, categorized prompts a
// session can select as its system prompt.
package prompts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("system prompt not found")

// Prompt is one library entry.
type Prompt struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Prompt    string    `json:"prompt"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Library is a file-backed prompt collection, seeded with defaults when the
// file does not exist yet.
type Library struct {
	path string

	mu      sync.RWMutex
	prompts []Prompt
}

func defaultPrompts() []Prompt {
	now := time.Now()
	return []Prompt{
		{
			ID:        uuid.NewString(),
			Name:      "Standard Assistant",
			Prompt:    "You are a helpful AI assistant. Provide clear, accurate, and concise responses.",
			Category:  "General",
			CreatedAt: now,
		},
		{
			ID:        uuid.NewString(),
			Name:      "Code Expert",
			Prompt:    "You are an expert software developer. Help with coding questions, debugging, and best practices.",
			Category:  "Development",
			CreatedAt: now,
		},
		{
			ID:        uuid.NewString(),
			Name:      "Creative Writer",
			Prompt:    "You are a creative writing assistant. Help with storytelling, character development, and narrative structure.",
			Category:  "Creative",
			CreatedAt: now,
		},
	}
}

// NewLibrary loads the prompt library from path, creating it with the
// default prompt set when missing.
func NewLibrary(path string) (*Library, error) {
	l := &Library{path: path}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &l.prompts); err != nil {
			return nil, fmt.Errorf("parse prompts file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		l.prompts = defaultPrompts()
		if err := l.persist(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("read prompts file %s: %w", path, err)
	}

	return l, nil
}

// List returns all prompts.
func (l *Library) List() []Prompt {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Prompt(nil), l.prompts...)
}

// Get returns the prompt with the given ID.
func (l *Library) Get(id string) (Prompt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, p := range l.prompts {
		if p.ID == id {
			return p, nil
		}
	}
	return Prompt{}, ErrNotFound
}

// Create adds a new prompt and returns it with a generated ID.
func (l *Library) Create(name, prompt, category string) (Prompt, error) {
	if name == "" || prompt == "" {
		return Prompt{}, errors.New("prompt name and text are required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	p := Prompt{
		ID:        uuid.NewString(),
		Name:      name,
		Prompt:    prompt,
		Category:  category,
		CreatedAt: time.Now(),
	}
	l.prompts = append(l.prompts, p)
	if err := l.persist(); err != nil {
		l.prompts = l.prompts[:len(l.prompts)-1]
		return Prompt{}, err
	}
	return p, nil
}

// Update modifies an existing prompt. Empty fields keep their current value.
func (l *Library) Update(id, name, prompt, category string) (Prompt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.prompts {
		if l.prompts[i].ID != id {
			continue
		}
		updated := l.prompts[i]
		if name != "" {
			updated.Name = name
		}
		if prompt != "" {
			updated.Prompt = prompt
		}
		if category != "" {
			updated.Category = category
		}
		updated.UpdatedAt = time.Now()

		previous := l.prompts[i]
		l.prompts[i] = updated
		if err := l.persist(); err != nil {
			l.prompts[i] = previous
			return Prompt{}, err
		}
		return updated, nil
	}
	return Prompt{}, ErrNotFound
}

// Delete removes a prompt by ID. Deleting an unknown ID is not an error,
// matching idempotent delete semantics.
func (l *Library) Delete(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.prompts[:0]
	for _, p := range l.prompts {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	l.prompts = kept
	return l.persist()
}

func (l *Library) persist() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create prompts directory: %w", err)
	}
	data, err := json.MarshalIndent(l.prompts, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal prompts: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write prompts: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("replace prompts file: %w", err)
	}
	return nil
}
