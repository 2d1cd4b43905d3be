package utils

import (
	"strings"
	"testing"
)

func TestNewTokenCounter(t *testing.T) {
	counter := NewTokenCounter()
	if counter == nil {
		t.Fatal("NewTokenCounter returned nil")
	}
}

func TestCount(t *testing.T) {
	counter := NewTokenCounter()

	tests := []struct {
		text      string
		minTokens int
		maxTokens int
	}{
		{"", 0, 0},
		{"Hello", 1, 2},
		{"Hello world", 2, 3},
		{"This is a longer sentence with more words.", 8, 12},
		{strings.Repeat("word ", 100), 90, 110}, // ~100 tokens
	}

	for _, tt := range tests {
		got := counter.Count(tt.text)
		if got < tt.minTokens || got > tt.maxTokens {
			t.Errorf("Count(%.20q) = %d, want between %d and %d",
				tt.text, got, tt.minTokens, tt.maxTokens)
		}
	}
}

func TestCountFallsBackWithoutCodec(t *testing.T) {
	text := strings.Repeat("a", 400)

	counter := &TokenCounter{}
	if got := counter.Count(text); got != 100 {
		t.Errorf("expected 4-chars-per-token fallback of 100, got %d", got)
	}

	var nilCounter *TokenCounter
	if got := nilCounter.Count(text); got != 100 {
		t.Errorf("nil counter should fall back, got %d", got)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens("Hello world"); got < 1 {
		t.Errorf("expected a positive estimate, got %d", got)
	}
}
