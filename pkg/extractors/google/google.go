// Package google adapts Gemini's GenerateContent API to the extractor
// contract.
package google

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/genai"

	"tokenforge/pkg/extract"
	"tokenforge/pkg/extractors"
	"tokenforge/pkg/logx"
	"tokenforge/pkg/token"
	"tokenforge/pkg/utils"
)

// Name identifies this extractor in provenance sources and breaker state.
const Name = "gemini"

// Extractor sends one image inline plus the fixed category instruction to
// Gemini. The genai client needs a context to construct, so it is created
// on first use and reused.
type Extractor struct {
	apiKey  string
	model   string
	typ     token.Type
	counter *utils.TokenCounter
	logger  *logx.Logger

	mu     sync.Mutex
	client *genai.Client
}

// New builds an Extractor bound to one token category.
func New(apiKey, model string, typ token.Type) *Extractor {
	return &Extractor{
		apiKey:  apiKey,
		model:   model,
		typ:     typ,
		counter: utils.NewTokenCounter(),
		logger:  logx.NewLogger("extractor-gemini"),
	}
}

func (e *Extractor) Name() string {
	return Name
}

// ensureClient creates the shared client on first use. A failed attempt
// is retried on the next call rather than sticking.
func (e *Extractor) ensureClient(ctx context.Context) (*genai.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		return e.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  e.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	e.client = client
	return client, nil
}

// Extract implements extract.Extractor.
func (e *Extractor) Extract(ctx context.Context, img extract.ProcessedImage) (*extract.ExtractionResult, error) {
	if len(img.Data) == 0 {
		return nil, fmt.Errorf("image %s has no data to send", img.ImageID)
	}

	client, err := e.ensureClient(ctx)
	if err != nil {
		return nil, err
	}

	instruction := extractors.Instruction(e.typ)
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(img.Data, extractors.MIMEType(img.Format)),
			genai.NewPartFromText(instruction),
		}, genai.RoleUser),
	}
	start := time.Now()

	result, err := client.Models.GenerateContent(ctx, e.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini extraction failed: %w", err)
	}
	if result == nil {
		return nil, fmt.Errorf("%w: empty response from Gemini API", extract.ErrMalformedOutput)
	}

	tokens, err := extractors.DecodeTokens(result.Text(), e.typ)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("%s/%s: %d tokens, ~%d prompt tokens estimated",
		Name, e.typ, len(tokens), e.counter.Count(instruction))
	return extract.NewResult(Name, tokens, time.Since(start)), nil
}
