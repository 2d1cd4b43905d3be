package google

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
			model: "gemini-2.0-flash",
			typ:   token.TypeColor,
		},
		{
			name:  "spacing extractor",
			model: "gemini-2.0-flash",
			typ:   token.TypeSpacing,
		},
		{
			name:  "custom model",
			model: "gemini-1.5-pro",
			typ:   token.TypeShadow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New("test-key", tt.model, tt.typ)
			require.NotNil(t, e)
			assert.Equal(t, Name, e.Name())
			assert.Equal(t, tt.typ, e.typ)
			assert.Nil(t, e.client, "client is created lazily on first Extract")
		})
	}
}

func TestExtractRejectsEmptyImage(t *testing.T) {
	e := New("test-key", "gemini-2.0-flash", token.TypeColor)

	// The empty-data check fires before any client is constructed, so no
	// network access happens here.
	_, err := e.Extract(context.Background(), extract.ProcessedImage{ImageID: "abc123"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no data")
	assert.Nil(t, e.client)
}
