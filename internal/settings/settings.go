// Package settings holds the process-wide runtime settings shared by every
// session: the token warning threshold, the session pool cap, and provider
// credentials. Updates are load-merge-store under a lock, so concurrent
// readers see either the pre- or post-update value, never a partial merge.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/chatgrid-ai/chatgrid/internal/tokens"
)

// Session pool bounds.
const (
	MinSessions    = 1
	MaxSessionsCap = 10

	DefaultMaxSessions = 5
)

var (
	ErrThresholdOutOfRange   = fmt.Errorf("token warning threshold must be between %d and %d", tokens.MinWarningThreshold, tokens.MaxWarningThreshold)
	ErrMaxSessionsOutOfRange = fmt.Errorf("max sessions must be between %d and %d", MinSessions, MaxSessionsCap)
)

// Settings is the persisted settings document.
type Settings struct {
	TokenWarningThreshold int    `json:"tokenWarningThreshold"`
	MaxSessions           int    `json:"maxSessions"`
	OpenAIAPIKey          string `json:"openaiApiKey,omitempty"`
	AnthropicAPIKey       string `json:"anthropicApiKey,omitempty"`
}

// Update is a partial settings change; nil fields are left as they are.
type Update struct {
	TokenWarningThreshold *int    `json:"tokenWarningThreshold"`
	MaxSessions           *int    `json:"maxSessions"`
	OpenAIAPIKey          *string `json:"openaiApiKey"`
	AnthropicAPIKey       *string `json:"anthropicApiKey"`
}

func defaults() Settings {
	return Settings{
		TokenWarningThreshold: tokens.DefaultWarningThreshold,
		MaxSessions:           DefaultMaxSessions,
	}
}

// Store is the file-backed settings service.
type Store struct {
	path string

	mu      sync.RWMutex
	current Settings
}

// NewStore loads settings from path, writing defaults there when the file
// does not exist yet. Out-of-range persisted values are clamped into range
// rather than rejected, so a hand-edited file cannot wedge startup.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path, current: defaults()}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var loaded Settings
		if err := json.Unmarshal(data, &loaded); err != nil {
			return nil, fmt.Errorf("parse settings file %s: %w", path, err)
		}
		s.current = sanitize(loaded)
	case errors.Is(err, os.ErrNotExist):
		if err := s.persist(s.current); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("read settings file %s: %w", path, err)
	}

	return s, nil
}

func sanitize(in Settings) Settings {
	in.TokenWarningThreshold = tokens.ClampWarningThreshold(in.TokenWarningThreshold)
	if in.MaxSessions < MinSessions {
		in.MaxSessions = DefaultMaxSessions
	}
	if in.MaxSessions > MaxSessionsCap {
		in.MaxSessions = MaxSessionsCap
	}
	return in
}

// Get returns the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Apply validates a partial update, merges it over the current settings,
// persists, and returns the result. Out-of-range values reject the whole
// update with no mutation.
func (s *Store) Apply(u Update) (Settings, error) {
	if u.TokenWarningThreshold != nil {
		v := *u.TokenWarningThreshold
		if v < tokens.MinWarningThreshold || v > tokens.MaxWarningThreshold {
			return Settings{}, ErrThresholdOutOfRange
		}
	}
	if u.MaxSessions != nil {
		v := *u.MaxSessions
		if v < MinSessions || v > MaxSessionsCap {
			return Settings{}, ErrMaxSessionsOutOfRange
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	merged := s.current
	if u.TokenWarningThreshold != nil {
		merged.TokenWarningThreshold = *u.TokenWarningThreshold
	}
	if u.MaxSessions != nil {
		merged.MaxSessions = *u.MaxSessions
	}
	if u.OpenAIAPIKey != nil {
		merged.OpenAIAPIKey = *u.OpenAIAPIKey
	}
	if u.AnthropicAPIKey != nil {
		merged.AnthropicAPIKey = *u.AnthropicAPIKey
	}

	if err := s.persist(merged); err != nil {
		return Settings{}, err
	}
	s.current = merged
	return merged, nil
}

// persist writes the settings file atomically (temp file + rename) so a
// crash mid-write cannot leave a truncated document.
func (s *Store) persist(v Settings) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace settings file: %w", err)
	}
	return nil
}
