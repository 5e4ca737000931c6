// Package tokens estimates conversation token usage and classifies it
// against a model's context window. The estimator is a heuristic, not a real
// tokenizer: it only needs to be close enough to warn before a context
// overflow.
package tokens

import (
	"math"
	"strings"
	"unicode"

	"github.com/chatgrid-ai/chatgrid/internal/provider"
)

// defaultCharsPerToken is roughly right for English text on most tokenizers.
const defaultCharsPerToken = 4.0

// familyRatios maps known model-family substrings to measured
// characters-per-token ratios. First match wins.
var familyRatios = []struct {
	family string
	ratio  float64
}{
	{"llama", 3.8},
	{"mistral", 3.5},
	{"gemma", 3.7},
	{"phi", 4.2},
}

// Conversation framing costs: models need a handful of extra tokens to frame
// a conversation, plus a role marker and separator per message.
const (
	conversationOverhead = 10
	perMessageRoleCost   = 4
	perMessageSeparator  = 2
)

// charsPerToken selects the ratio for a model by case-insensitive substring
// match against the known families.
func charsPerToken(model string) float64 {
	m := strings.ToLower(model)
	for _, fr := range familyRatios {
		if strings.Contains(m, fr.family) {
			return fr.ratio
		}
	}
	return defaultCharsPerToken
}

// EstimateTokenCount estimates the token count of text for the given model.
// Whitespace contributes less than a full character to real tokenizers and
// punctuation/symbols contribute more, so the raw character count is adjusted
// by half a token-equivalent per character in each class before dividing by
// the family ratio. Pure: identical inputs give identical output.
func EstimateTokenCount(text, model string) int {
	if text == "" {
		return 0
	}

	var chars, whitespace, symbols int
	for _, r := range text {
		chars++
		switch {
		case unicode.IsSpace(r):
			whitespace++
		case !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_':
			symbols++
		}
	}

	adjusted := float64(chars) - float64(whitespace)*0.5 + float64(symbols)*0.5
	if adjusted < 0 {
		adjusted = 0
	}
	return int(math.Ceil(adjusted / charsPerToken(model)))
}

// EstimateConversationTokens estimates the token count of a full message
// sequence, including per-conversation and per-message framing overhead.
// Empty sequences cost nothing; appending a message never decreases the
// total.
func EstimateConversationTokens(messages []provider.Message, model string) int {
	if len(messages) == 0 {
		return 0
	}

	total := conversationOverhead
	for _, msg := range messages {
		total += perMessageRoleCost + perMessageSeparator
		total += EstimateTokenCount(msg.Content, model)
	}
	return total
}
