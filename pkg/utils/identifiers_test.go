package utils

import "testing"

func TestSanitizeIdentifier(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "ref with colon",
			input:    "screens:hero",
			expected: "screens-hero",
		},
		{
			name:     "ref with spaces",
			input:    "landing page v2",
			expected: "landing-page-v2",
		},
		{
			name:     "path ref",
			input:    "shots/mobile/home.png",
			expected: "shots-mobile-home.png",
		},
		{
			name:     "windows path ref",
			input:    "shots\\mobile\\home.png",
			expected: "shots-mobile-home.png",
		},
		{
			name:     "url ref with query",
			input:    "hero.png?v=2",
			expected: "hero.png-v=2",
		},
		{
			name:     "url ref with fragment",
			input:    "hero.png#main",
			expected: "hero.png-main",
		},
		{
			name:     "already clean ID",
			input:    "task-001-home.png",
			expected: "task-001-home.png",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeIdentifier(tt.input)
			if result != tt.expected {
				t.Errorf("SanitizeIdentifier(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
