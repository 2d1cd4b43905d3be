// Package ollama adapts a local llava-class model behind an Ollama server
// to the extractor contract.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"

	"tokenforge/pkg/extract"
	"tokenforge/pkg/extractors"
	"tokenforge/pkg/logx"
	"tokenforge/pkg/token"
	"tokenforge/pkg/utils"
)

// Name identifies this extractor in provenance sources and breaker state.
const Name = "ollama"

// Extractor sends one image plus the fixed category instruction to a
// local Ollama chat endpoint.
type Extractor struct {
	client  *api.Client
	model   string
	typ     token.Type
	counter *utils.TokenCounter
	logger  *logx.Logger
}

// New builds an Extractor bound to one token category. endpoint is the
// Ollama server URL, e.g. "http://localhost:11434".
func New(endpoint, model string, typ token.Type) (*Extractor, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid ollama endpoint %q", endpoint)
	}
	return &Extractor{
		client:  api.NewClient(parsed, http.DefaultClient),
		model:   model,
		typ:     typ,
		counter: utils.NewTokenCounter(),
		logger:  logx.NewLogger("extractor-ollama"),
	}, nil
}

func (e *Extractor) Name() string {
	return Name
}

// Extract implements extract.Extractor.
func (e *Extractor) Extract(ctx context.Context, img extract.ProcessedImage) (*extract.ExtractionResult, error) {
	if len(img.Data) == 0 {
		return nil, fmt.Errorf("image %s has no data to send", img.ImageID)
	}

	instruction := extractors.Instruction(e.typ)
	stream := false
	req := &api.ChatRequest{
		Model: e.model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: instruction,
				Images:  []api.ImageData{api.ImageData(img.Data)},
			},
		},
		Stream: &stream,
		Options: map[string]any{
			"temperature": 0,
		},
	}
	start := time.Now()

	var response api.ChatResponse
	err := e.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama extraction failed: %w", err)
	}

	tokens, err := extractors.DecodeTokens(response.Message.Content, e.typ)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("%s/%s: %d tokens, ~%d prompt tokens estimated",
		Name, e.typ, len(tokens), e.counter.Count(instruction))
	return extract.NewResult(Name, tokens, time.Since(start)), nil
}
