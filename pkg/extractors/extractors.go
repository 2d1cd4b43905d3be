// Package extractors holds what the provider adapters share: the fixed
// per-category instruction, the strict decoder for model output, and
// image MIME resolution. Adapters stay thin; anything smarter than
// "attach image, send instruction, decode JSON" does not belong here.
package extractors

import (
	"encoding/json"
	"fmt"
	"strings"

	"tokenforge/pkg/extract"
	"tokenforge/pkg/token"
)

// instructions are fixed per category. The schema line is load-bearing:
// the decoder rejects anything that does not match it.
var instructions = map[token.Type]string{
	token.TypeColor: `Identify the distinct colors used in this user interface screenshot.
Respond with ONLY a JSON object of the form
{"tokens":[{"value":"#rrggbb","confidence":0.0,"metadata":{"role":"background|text|accent|border"}}]}
where confidence is between 0 and 1. No prose, no markdown.`,

	token.TypeSpacing: `Identify the spacing scale (margins, paddings, gaps) used in this user interface screenshot.
Respond with ONLY a JSON object of the form
{"tokens":[{"value":"16px","confidence":0.0,"metadata":{"axis":"x|y"}}]}
where value is a pixel magnitude and confidence is between 0 and 1. No prose, no markdown.`,

	token.TypeTypography: `Identify the typography styles used in this user interface screenshot.
Respond with ONLY a JSON object of the form
{"tokens":[{"value":"Inter 16px 400","confidence":0.0,"metadata":{"family":"Inter","size_px":16,"weight":400}}]}
where confidence is between 0 and 1. No prose, no markdown.`,

	token.TypeShadow: `Identify the box shadows used in this user interface screenshot.
Respond with ONLY a JSON object of the form
{"tokens":[{"value":"0 2px 4px #00000033","confidence":0.0,"metadata":{"offset_x":0,"offset_y":2,"blur":4}}]}
where confidence is between 0 and 1. No prose, no markdown.`,
}

// Instruction returns the fixed prompt for one token category.
func Instruction(typ token.Type) string {
	return instructions[typ]
}

// MIMEType maps an image format name from the preprocessor to a MIME
// type. Unknown formats are treated as PNG, the dominant screenshot
// format.
func MIMEType(format string) string {
	switch strings.ToLower(format) {
	case "png":
		return "image/png"
	case "jpeg", "jpg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return "image/png"
	}
}

type rawToken struct {
	Value      string         `json:"value"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata"`
}

type rawPayload struct {
	Tokens []rawToken `json:"tokens"`
}

// DecodeTokens parses model output into tokens of the requested category.
// The decode is strict: non-JSON output, a missing tokens field, or any
// entry failing structural validation is malformed and counts as an
// extractor failure. An empty tokens list is valid output.
func DecodeTokens(raw string, typ token.Type) ([]*token.Token, error) {
	cleaned := stripFences(raw)
	if strings.TrimSpace(cleaned) == "" {
		return nil, fmt.Errorf("%w: empty response", extract.ErrMalformedOutput)
	}

	var payload rawPayload
	decoder := json.NewDecoder(strings.NewReader(cleaned))
	if err := decoder.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", extract.ErrMalformedOutput, err)
	}
	if payload.Tokens == nil {
		return nil, fmt.Errorf("%w: missing tokens field", extract.ErrMalformedOutput)
	}

	tokens := make([]*token.Token, 0, len(payload.Tokens))
	for i, rt := range payload.Tokens {
		tok := token.New(typ, strings.TrimSpace(rt.Value), rt.Confidence)
		for k, v := range rt.Metadata {
			tok.SetMeta(k, v)
		}
		if err := tok.Validate(); err != nil {
			return nil, fmt.Errorf("%w: token %d: %v", extract.ErrMalformedOutput, i, err)
		}
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

// stripFences removes a markdown code fence if the model wrapped its JSON
// in one despite the instruction.
func stripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
