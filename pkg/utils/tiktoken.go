// Package utils provides small shared helpers: token counting for cost
// logging and filesystem primitives.
package utils

import (
	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter estimates prompt token usage for cost logging. All vision
// providers are approximated with the GPT-4 encoding; exact counts are
// not needed, only consistent ones.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a counter. A codec initialization failure is
// not fatal: counting falls back to character-based estimation.
func NewTokenCounter() *TokenCounter {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return &TokenCounter{}
	}
	return &TokenCounter{codec: codec}
}

// Count returns the number of tokens in text, falling back to the
// 4-chars-per-token estimate when no codec is available.
func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.codec == nil {
		return len(text) / 4
	}
	count, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// EstimateTokens counts tokens without constructing a TokenCounter.
func EstimateTokens(text string) int {
	return NewTokenCounter().Count(text)
}
