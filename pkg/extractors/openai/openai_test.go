package openai

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenforge/pkg/extract"
	"tokenforge/pkg/token"
)

var _ extract.Extractor = (*Extractor)(nil)

func TestNew(t *testing.T) {
	tests := []struct {
		name  string
		model string
		typ   token.Type
	}{
		{
			name:  "color extractor",
			model: "gpt-4o",
			typ:   token.TypeColor,
		},
		{
			name:  "shadow extractor",
			model: "gpt-4o",
			typ:   token.TypeShadow,
		},
		{
			name:  "custom model",
			model: "gpt-4o-mini",
			typ:   token.TypeSpacing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New("test-key", tt.model, tt.typ)
			require.NotNil(t, e)
			assert.Equal(t, Name, e.Name())
			assert.Equal(t, tt.typ, e.typ)
			assert.NotNil(t, e.counter)
		})
	}
}

func TestExtractRejectsEmptyImage(t *testing.T) {
	e := New("test-key", "gpt-4o", token.TypeColor)

	_, err := e.Extract(context.Background(), extract.ProcessedImage{ImageID: "abc123"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no data")
}
