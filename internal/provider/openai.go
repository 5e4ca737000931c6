package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// openaiModels is the fixed catalogue offered to sessions. The chat
// completions API serves far more models, but these are the ones with known
// context windows.
var openaiModels = []ModelDescriptor{
	{Provider: "openai", Name: "gpt-3.5-turbo", ContextLength: 4096},
	{Provider: "openai", Name: "gpt-4", ContextLength: 8192},
	{Provider: "openai", Name: "gpt-4-turbo", ContextLength: 128000},
	{Provider: "openai", Name: "gpt-4o", ContextLength: 128000},
}

// OpenAIClient implements Client against the hosted OpenAI API.
type OpenAIClient struct {
	mu      sync.RWMutex
	client  openai.Client
	apiKey  string
	timeout time.Duration
}

// NewOpenAIClient creates an OpenAI-backed client. apiKey may be empty, in
// which case the provider reports itself unavailable until SetAPIKey is
// called.
func NewOpenAIClient(apiKey string, timeout time.Duration) *OpenAIClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIClient{
		client:  openai.NewClient(option.WithAPIKey(apiKey)),
		apiKey:  apiKey,
		timeout: timeout,
	}
}

func (c *OpenAIClient) Name() string { return "openai" }

// SetAPIKey swaps the credential at runtime (settings updates).
func (c *OpenAIClient) SetAPIKey(apiKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = apiKey
	c.client = openai.NewClient(option.WithAPIKey(apiKey))
}

func (c *OpenAIClient) snapshot() (openai.Client, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client, c.apiKey
}

func (c *OpenAIClient) FetchModels(ctx context.Context) ([]ModelDescriptor, error) {
	if _, key := c.snapshot(); key == "" {
		return nil, fmt.Errorf("%w: OpenAI API key not configured", ErrUnavailable)
	}
	models := make([]ModelDescriptor, len(openaiModels))
	copy(models, openaiModels)
	return models, nil
}

func (c *OpenAIClient) SendMessage(ctx context.Context, sessionID string, messages []Message, model, systemPrompt string) (string, error) {
	var params []openai.ChatCompletionMessageParamUnion
	if systemPrompt != "" {
		params = append(params, openai.SystemMessage(systemPrompt))
	}
	for _, msg := range messages {
		switch msg.Role {
		case RoleAssistant:
			params = append(params, openai.AssistantMessage(msg.Content))
		case RoleSystem:
			params = append(params, openai.SystemMessage(msg.Content))
		default:
			params = append(params, openai.UserMessage(msg.Content))
		}
	}
	return c.complete(ctx, model, params)
}

func (c *OpenAIClient) Summarize(ctx context.Context, sessionID string, messages []Message, model string) (string, error) {
	prompt := buildSummaryPrompt(messages)
	return c.complete(ctx, model, []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)})
}

func (c *OpenAIClient) complete(ctx context.Context, model string, msgs []openai.ChatCompletionMessageParamUnion) (string, error) {
	client, key := c.snapshot()
	if key == "" {
		return "", fmt.Errorf("%w: OpenAI API key not configured", ErrUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: msgs,
	})
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%w: completion has no content", ErrBadResponse)
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) CheckConnection(ctx context.Context) bool {
	client, key := c.snapshot()
	if key == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := client.Models.List(ctx)
	return err == nil
}

func (c *OpenAIClient) ContextLimit(model string) int {
	for _, m := range openaiModels {
		if m.Name == model {
			return m.ContextLength
		}
	}
	// Unknown but plausible family names still get a sensible window.
	if strings.HasPrefix(model, "gpt-4o") || strings.HasPrefix(model, "gpt-4-turbo") {
		return 128000
	}
	return DefaultContextLength
}

func classifyOpenAIError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return fmt.Errorf("%w: openai returned %d", ErrUnavailable, apierr.StatusCode)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
