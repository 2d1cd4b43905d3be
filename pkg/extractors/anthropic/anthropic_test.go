package anthropic

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
			model: "claude-sonnet-4-20250514",
			typ:   token.TypeColor,
		},
		{
			name:  "typography extractor",
			model: "claude-sonnet-4-20250514",
			typ:   token.TypeTypography,
		},
		{
			name:  "custom model",
			model: "claude-3-5-haiku-latest",
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
	e := New("test-key", "claude-sonnet-4-20250514", token.TypeColor)

	_, err := e.Extract(context.Background(), extract.ProcessedImage{ImageID: "abc123"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no data")
}
