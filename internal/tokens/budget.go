package tokens

import (
	"math"
	"sync"

	"github.com/chatgrid-ai/chatgrid/internal/provider"
)

// Warning threshold bounds, in percent of the context window.
const (
	MinWarningThreshold     = 50
	MaxWarningThreshold     = 95
	DefaultWarningThreshold = 90
)

// Report is a session's token budget at a point in time. It is derived fresh
// from session state on every query, never persisted.
type Report struct {
	TokenCount int  `json:"token_count"`
	Limit      int  `json:"limit"`
	Percentage int  `json:"percentage"`
	Warning    bool `json:"warning"`
}

// ClampWarningThreshold forces a requested threshold into the valid range.
func ClampWarningThreshold(v int) int {
	if v < MinWarningThreshold {
		return MinWarningThreshold
	}
	if v > MaxWarningThreshold {
		return MaxWarningThreshold
	}
	return v
}

// CheckTokenWarning classifies a token count against a limit. threshold must
// already be within [MinWarningThreshold, MaxWarningThreshold]; call sites
// clamp via SetWarningThreshold, and passing anything else is a contract
// violation by the caller.
func CheckTokenWarning(tokenCount, limit, threshold int) Report {
	percentage := int(math.Round(float64(tokenCount) / float64(limit) * 100))
	return Report{
		TokenCount: tokenCount,
		Limit:      limit,
		Percentage: percentage,
		Warning:    percentage >= threshold,
	}
}

// Monitor maps model identifiers to context-length limits and classifies
// token counts against the current warning threshold.
type Monitor struct {
	mu        sync.RWMutex
	limits    map[string]int
	threshold int
}

func NewMonitor() *Monitor {
	return &Monitor{
		limits:    make(map[string]int),
		threshold: DefaultWarningThreshold,
	}
}

// SetModelContextLimits replaces the known model→limit table, typically from
// a fresh provider model listing.
func (m *Monitor) SetModelContextLimits(limits map[string]int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits = make(map[string]int, len(limits))
	for model, limit := range limits {
		m.limits[model] = limit
	}
}

// ContextLimit returns the known limit for a model, falling back to the
// provider default when unknown.
func (m *Monitor) ContextLimit(model string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit, ok := m.limits[model]; ok && limit > 0 {
		return limit
	}
	return provider.DefaultContextLength
}

// SetWarningThreshold clamps the requested threshold into range and stores it
// for subsequent checks.
func (m *Monitor) SetWarningThreshold(v int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threshold = ClampWarningThreshold(v)
}

// WarningThreshold returns the current threshold.
func (m *Monitor) WarningThreshold() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.threshold
}

// Check classifies a token count against a limit using the stored threshold.
func (m *Monitor) Check(tokenCount, limit int) Report {
	return CheckTokenWarning(tokenCount, limit, m.WarningThreshold())
}
