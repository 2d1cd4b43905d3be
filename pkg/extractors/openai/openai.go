// Package openai adapts GPT vision chat completions to the extractor
// contract.
package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"tokenforge/pkg/extract"
	"tokenforge/pkg/extractors"
	"tokenforge/pkg/logx"
	"tokenforge/pkg/token"
	"tokenforge/pkg/utils"
)

// Name identifies this extractor in provenance sources and breaker state.
const Name = "gpt"

// Extractor sends one image plus the fixed category instruction through
// the chat completions API with an image content part.
type Extractor struct {
	client  openai.Client
	model   openai.ChatModel
	typ     token.Type
	counter *utils.TokenCounter
	logger  *logx.Logger
}

// New builds an Extractor bound to one token category.
func New(apiKey, model string, typ token.Type) *Extractor {
	return &Extractor{
		client:  openai.NewClient(option.WithAPIKey(apiKey)),
		model:   openai.ChatModel(model),
		typ:     typ,
		counter: utils.NewTokenCounter(),
		logger:  logx.NewLogger("extractor-gpt"),
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
	dataURL := fmt.Sprintf("data:%s;base64,%s",
		extractors.MIMEType(img.Format), base64.StdEncoding.EncodeToString(img.Data))
	start := time.Now()

	resp, err := e.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: e.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(instruction),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: dataURL,
				}),
			}),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gpt extraction failed: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty response from chat API", extract.ErrMalformedOutput)
	}

	tokens, err := extractors.DecodeTokens(resp.Choices[0].Message.Content, e.typ)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("%s/%s: %d tokens, ~%d prompt tokens estimated",
		Name, e.typ, len(tokens), e.counter.Count(instruction))
	return extract.NewResult(Name, tokens, time.Since(start)), nil
}
