package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// OllamaClient talks to a local Ollama server over its HTTP API.
type OllamaClient struct {
	baseURL string
	http    *http.Client
	timeout time.Duration

	mu     sync.RWMutex
	limits map[string]int // model → context length, from the last FetchModels
}

// NewOllamaClient creates a client for the Ollama server at baseURL.
// timeout bounds each chat/summarize call; zero means 120s.
func NewOllamaClient(baseURL string, timeout time.Duration) *OllamaClient {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		timeout: timeout,
		limits:  make(map[string]int),
	}
}

func (c *OllamaClient) Name() string { return "ollama" }

// ── wire types ───────────────────────────────────────────────────────────────

type ollamaTagsResponse struct {
	Models []struct {
		Name       string    `json:"name"`
		Size       int64     `json:"size"`
		ModifiedAt time.Time `json:"modified_at"`
	} `json:"models"`
}

type ollamaShowResponse struct {
	ModelInfo map[string]any `json:"model_info"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Error string `json:"error"`
}

// ── capabilities ─────────────────────────────────────────────────────────────

// FetchModels lists the installed models and resolves each one's context
// length via /api/show. Models whose show call fails are still listed with
// the default context length.
func (c *OllamaClient) FetchModels(ctx context.Context) ([]ModelDescriptor, error) {
	var tags ollamaTagsResponse
	if err := c.getJSON(ctx, "/api/tags", &tags); err != nil {
		return nil, err
	}

	models := make([]ModelDescriptor, 0, len(tags.Models))
	limits := make(map[string]int, len(tags.Models))
	for _, m := range tags.Models {
		length := c.showContextLength(ctx, m.Name)
		models = append(models, ModelDescriptor{
			Provider:      c.Name(),
			Name:          m.Name,
			ContextLength: length,
		})
		limits[m.Name] = length
	}

	c.mu.Lock()
	c.limits = limits
	c.mu.Unlock()
	return models, nil
}

// showContextLength asks /api/show for a model's context window. The key in
// model_info is architecture-prefixed ("llama.context_length",
// "qwen2.context_length", ...), so match on the suffix.
func (c *OllamaClient) showContextLength(ctx context.Context, model string) int {
	var show ollamaShowResponse
	if err := c.postJSON(ctx, "/api/show", map[string]string{"name": model}, &show); err != nil {
		return DefaultContextLength
	}
	for key, val := range show.ModelInfo {
		if !strings.HasSuffix(key, ".context_length") {
			continue
		}
		if f, ok := val.(float64); ok && f > 0 {
			return int(f)
		}
	}
	return DefaultContextLength
}

func (c *OllamaClient) SendMessage(ctx context.Context, sessionID string, messages []Message, model, systemPrompt string) (string, error) {
	chatMsgs := make([]ollamaChatMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		chatMsgs = append(chatMsgs, ollamaChatMessage{Role: string(RoleSystem), Content: systemPrompt})
	}
	for _, msg := range messages {
		chatMsgs = append(chatMsgs, ollamaChatMessage{Role: string(msg.Role), Content: msg.Content})
	}
	return c.chat(ctx, model, chatMsgs)
}

func (c *OllamaClient) Summarize(ctx context.Context, sessionID string, messages []Message, model string) (string, error) {
	prompt := buildSummaryPrompt(messages)
	return c.chat(ctx, model, []ollamaChatMessage{{Role: string(RoleUser), Content: prompt}})
}

func (c *OllamaClient) chat(ctx context.Context, model string, msgs []ollamaChatMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp ollamaChatResponse
	if err := c.postJSON(ctx, "/api/chat", ollamaChatRequest{
		Model:    model,
		Messages: msgs,
		Stream:   false,
	}, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrBadResponse, resp.Error)
	}
	if resp.Message.Content == "" {
		return "", fmt.Errorf("%w: empty message content", ErrBadResponse)
	}
	return resp.Message.Content, nil
}

func (c *OllamaClient) CheckConnection(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var tags ollamaTagsResponse
	return c.getJSON(ctx, "/api/tags", &tags) == nil
}

func (c *OllamaClient) ContextLimit(model string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if limit, ok := c.limits[model]; ok && limit > 0 {
		return limit
	}
	return DefaultContextLength
}

// Pull downloads a model onto the Ollama server. This can take minutes for
// large models, so the caller's context is used as-is instead of the chat
// timeout.
func (c *OllamaClient) Pull(ctx context.Context, model string) error {
	var resp struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := c.postJSON(ctx, "/api/pull", map[string]any{"model": model, "stream": false}, &resp); err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("%w: %s", ErrBadResponse, resp.Error)
	}
	return nil
}

// ── HTTP plumbing ────────────────────────────────────────────────────────────

func (c *OllamaClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *OllamaClient) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *OllamaClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: %s returned %d", ErrUnavailable, req.URL.Path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return nil
}

// classifyTransportError maps raw transport failures onto the provider error
// taxonomy.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
