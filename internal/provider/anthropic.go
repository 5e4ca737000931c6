package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
)

var anthropicModels = []ModelDescriptor{
	{Provider: "anthropic", Name: "claude-haiku-4-5-20251001", ContextLength: 200000},
	{Provider: "anthropic", Name: "claude-sonnet-4-20250514", ContextLength: 200000},
	{Provider: "anthropic", Name: "claude-opus-4-20250514", ContextLength: 200000},
}

// AnthropicClient implements Client against the hosted Anthropic API.
type AnthropicClient struct {
	mu      sync.RWMutex
	client  anthropic.Client
	apiKey  string
	timeout time.Duration
}

func NewAnthropicClient(apiKey string, timeout time.Duration) *AnthropicClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &AnthropicClient{
		client:  anthropic.NewClient(anthropicoption.WithAPIKey(apiKey)),
		apiKey:  apiKey,
		timeout: timeout,
	}
}

func (c *AnthropicClient) Name() string { return "anthropic" }

// SetAPIKey swaps the credential at runtime (settings updates).
func (c *AnthropicClient) SetAPIKey(apiKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = apiKey
	c.client = anthropic.NewClient(anthropicoption.WithAPIKey(apiKey))
}

func (c *AnthropicClient) snapshot() (anthropic.Client, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client, c.apiKey
}

func (c *AnthropicClient) FetchModels(ctx context.Context) ([]ModelDescriptor, error) {
	if _, key := c.snapshot(); key == "" {
		return nil, fmt.Errorf("%w: Anthropic API key not configured", ErrUnavailable)
	}
	models := make([]ModelDescriptor, len(anthropicModels))
	copy(models, anthropicModels)
	return models, nil
}

func (c *AnthropicClient) SendMessage(ctx context.Context, sessionID string, messages []Message, model, systemPrompt string) (string, error) {
	// The Messages API only accepts user/assistant roles in the history, so
	// system-role entries (compaction summaries, inline error notes) are sent
	// as user messages.
	params := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == RoleAssistant {
			params = append(params, anthropic.NewAssistantMessage(block))
		} else {
			params = append(params, anthropic.NewUserMessage(block))
		}
	}
	return c.complete(ctx, model, params, systemPrompt)
}

func (c *AnthropicClient) Summarize(ctx context.Context, sessionID string, messages []Message, model string) (string, error) {
	prompt := buildSummaryPrompt(messages)
	return c.complete(ctx, model, []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
	}, "")
}

func (c *AnthropicClient) complete(ctx context.Context, model string, msgs []anthropic.MessageParam, systemPrompt string) (string, error) {
	client, key := c.snapshot()
	if key == "" {
		return "", fmt.Errorf("%w: Anthropic API key not configured", ErrUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  msgs,
		MaxTokens: 4096,
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return "", classifyAnthropicError(err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		text.WriteString(block.Text)
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("%w: message has no text content", ErrBadResponse)
	}
	return text.String(), nil
}

func (c *AnthropicClient) CheckConnection(ctx context.Context) bool {
	client, key := c.snapshot()
	if key == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := client.Models.List(ctx, anthropic.ModelListParams{})
	return err == nil
}

func (c *AnthropicClient) ContextLimit(model string) int {
	for _, m := range anthropicModels {
		if m.Name == model {
			return m.ContextLength
		}
	}
	if strings.HasPrefix(model, "claude") {
		return 200000
	}
	return DefaultContextLength
}

func classifyAnthropicError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return fmt.Errorf("%w: anthropic returned %d", ErrUnavailable, apierr.StatusCode)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
