// Package anthropic adapts Claude's vision API to the extractor contract.
package anthropic

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"tokenforge/pkg/extract"
	"tokenforge/pkg/extractors"
	"tokenforge/pkg/logx"
	"tokenforge/pkg/token"
	"tokenforge/pkg/utils"
)

// Name identifies this extractor in provenance sources and breaker state.
const Name = "claude"

const maxResponseTokens = 2048

// Extractor sends one image plus the fixed category instruction to the
// Claude messages API and decodes the JSON reply.
type Extractor struct {
	client  anthropic.Client
	model   anthropic.Model
	typ     token.Type
	counter *utils.TokenCounter
	logger  *logx.Logger
}

// New builds an Extractor bound to one token category.
func New(apiKey, model string, typ token.Type) *Extractor {
	return &Extractor{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:   anthropic.Model(model),
		typ:     typ,
		counter: utils.NewTokenCounter(),
		logger:  logx.NewLogger("extractor-claude"),
	}
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
	start := time.Now()

	resp, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     e.model,
		MaxTokens: maxResponseTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64(
					extractors.MIMEType(img.Format),
					base64.StdEncoding.EncodeToString(img.Data),
				),
				anthropic.NewTextBlock(instruction),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("claude extraction failed: %w", err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return nil, fmt.Errorf("%w: empty response from Claude API", extract.ErrMalformedOutput)
	}

	var text string
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			text += block.AsText().Text
		}
	}

	tokens, err := extractors.DecodeTokens(text, e.typ)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("%s/%s: %d tokens, ~%d prompt tokens estimated",
		Name, e.typ, len(tokens), e.counter.Count(instruction))
	return extract.NewResult(Name, tokens, time.Since(start)), nil
}
