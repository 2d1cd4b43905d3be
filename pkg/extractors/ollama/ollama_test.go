package ollama

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
		name     string
		endpoint string
		model    string
		wantErr  bool
	}{
		{
			name:     "valid endpoint and model",
			endpoint: "http://localhost:11434",
			model:    "llava",
		},
		{
			name:     "custom host",
			endpoint: "http://192.168.1.100:11434",
			model:    "llava:13b",
		},
		{
			name:     "https endpoint",
			endpoint: "https://ollama.internal:443",
			model:    "llava",
		},
		{
			name:     "not a URL",
			endpoint: "not-a-valid-url",
			model:    "llava",
			wantErr:  true,
		},
		{
			name:     "missing scheme",
			endpoint: "localhost:11434",
			model:    "llava",
			wantErr:  true,
		},
		{
			name:     "empty endpoint",
			endpoint: "",
			model:    "llava",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := New(tt.endpoint, tt.model, token.TypeColor)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid ollama endpoint")
				return
			}
			require.NoError(t, err)
			require.NotNil(t, e)
			assert.Equal(t, Name, e.Name())
			assert.Equal(t, tt.model, e.model)
		})
	}
}

func TestNewBindsCategory(t *testing.T) {
	for _, typ := range token.AllTypes() {
		e, err := New("http://localhost:11434", "llava", typ)
		require.NoError(t, err)
		assert.Equal(t, typ, e.typ)
	}
}

func TestExtractRejectsEmptyImage(t *testing.T) {
	e, err := New("http://localhost:11434", "llava", token.TypeColor)
	require.NoError(t, err)

	_, err = e.Extract(context.Background(), extract.ProcessedImage{ImageID: "abc123"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no data")
}
