package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Router resolves composite model identifiers ("tag:model") to a registered
// backend and dispatches chat, summarize, and connection calls. An unknown or
// unconfigured tag makes the provider unavailable; the router never
// substitutes a different backend.
type Router struct {
	mu           sync.RWMutex
	clients      map[string]Client
	checkTimeout time.Duration
}

func NewRouter() *Router {
	return &Router{
		clients:      make(map[string]Client),
		checkTimeout: 5 * time.Second,
	}
}

// Register adds a backend under its tag. Later registrations replace earlier
// ones.
func (r *Router) Register(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.Name()] = c
}

// Client returns the backend for a tag.
func (r *Router) Client(tag string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[tag]
	return c, ok
}

// Tags returns the registered provider tags in stable order.
func (r *Router) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.clients))
	for tag := range r.clients {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// ParseModelRef splits a composite model identifier into provider tag and
// model name.
func ParseModelRef(ref string) (tag, model string, err error) {
	tag, model, ok := strings.Cut(ref, ":")
	if !ok || tag == "" || model == "" {
		return "", "", fmt.Errorf("invalid model identifier %q: want \"provider:model\"", ref)
	}
	return tag, model, nil
}

// resolve parses ref and looks up the backend, reporting unavailability for
// unknown tags.
func (r *Router) resolve(ref string) (Client, string, error) {
	tag, model, err := ParseModelRef(ref)
	if err != nil {
		return nil, "", err
	}
	c, ok := r.Client(tag)
	if !ok {
		return nil, "", fmt.Errorf("%w: no provider registered for tag %q", ErrUnavailable, tag)
	}
	return c, model, nil
}

// ListModels aggregates the model listings of every available backend.
// Backends that error (missing credentials, unreachable) are skipped, not
// surfaced; callers must only offer models from this list.
func (r *Router) ListModels(ctx context.Context) []ModelDescriptor {
	var all []ModelDescriptor
	for _, tag := range r.Tags() {
		c, _ := r.Client(tag)
		models, err := c.FetchModels(ctx)
		if err != nil {
			continue
		}
		all = append(all, models...)
	}
	return all
}

// SendMessage routes one chat turn to the backend named by ref.
func (r *Router) SendMessage(ctx context.Context, sessionID string, messages []Message, ref, systemPrompt string) (string, error) {
	c, model, err := r.resolve(ref)
	if err != nil {
		return "", err
	}
	return c.SendMessage(ctx, sessionID, messages, model, systemPrompt)
}

// Summarize routes a summarization call to the backend named by ref.
func (r *Router) Summarize(ctx context.Context, sessionID string, messages []Message, ref string) (string, error) {
	c, model, err := r.resolve(ref)
	if err != nil {
		return "", err
	}
	return c.Summarize(ctx, sessionID, messages, model)
}

// ContextLimit returns the context window for a composite model identifier,
// falling back to the default for unparseable or unknown refs.
func (r *Router) ContextLimit(ref string) int {
	c, model, err := r.resolve(ref)
	if err != nil {
		return DefaultContextLength
	}
	return c.ContextLimit(model)
}

// CheckAll probes every registered backend concurrently, each under its own
// bounded timeout, so one slow provider cannot delay the status of the
// others. The result maps provider tag to reachability.
func (r *Router) CheckAll(ctx context.Context) map[string]bool {
	r.mu.RLock()
	clients := make(map[string]Client, len(r.clients))
	for tag, c := range r.clients {
		clients[tag] = c
	}
	timeout := r.checkTimeout
	r.mu.RUnlock()

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	status := make(map[string]bool, len(clients))
	for tag, c := range clients {
		wg.Add(1)
		go func(tag string, c Client) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			ok := c.CheckConnection(probeCtx)
			mu.Lock()
			status[tag] = ok
			mu.Unlock()
		}(tag, c)
	}
	wg.Wait()
	return status
}
