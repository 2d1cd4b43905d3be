// Package generate implements the generation stage: rendering an image's
// merged token set into consumable artifacts. Two formats are produced
// per image, a design-tokens JSON document and a CSS custom-properties
// file, plus a batch-level markdown summary for reporting.
package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"tokenforge/pkg/extract"
	"tokenforge/pkg/token"
)

// Artifact file names within an image's output set.
const (
	FileTokensJSON = "tokens.json"
	FileTokensCSS  = "tokens.css"
)

// Renderer implements the pipeline's Generator contract.
type Renderer struct {
	cssPrefix string
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithCSSPrefix namespaces the generated custom properties,
// e.g. "tf" yields --tf-color-1.
func WithCSSPrefix(prefix string) Option {
	return func(r *Renderer) {
		r.cssPrefix = strings.Trim(prefix, "-")
	}
}

func NewRenderer(opts ...Option) *Renderer {
	r := &Renderer{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// tokensDocument is the shape of the JSON artifact.
type tokensDocument struct {
	Image  imageInfo                     `json:"image"`
	Tokens map[token.Type][]*token.Token `json:"tokens"`
}

type imageInfo struct {
	ImageID string `json:"image_id"`
	Ref     string `json:"ref,omitempty"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Format  string `json:"format,omitempty"`
}

// Generate renders both artifacts for one image. Output is deterministic
// for a given token set: tokens are grouped by category and kept in their
// aggregated order.
func (r *Renderer) Generate(ctx context.Context, img extract.ProcessedImage, tokens []*token.Token) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	jsonDoc, err := r.renderJSON(img, tokens)
	if err != nil {
		return nil, err
	}

	return map[string][]byte{
		FileTokensJSON: jsonDoc,
		FileTokensCSS:  r.renderCSS(tokens),
	}, nil
}

func (r *Renderer) renderJSON(img extract.ProcessedImage, tokens []*token.Token) ([]byte, error) {
	doc := tokensDocument{
		Image: imageInfo{
			ImageID: img.ImageID,
			Ref:     img.Ref,
			Width:   img.Width,
			Height:  img.Height,
			Format:  img.Format,
		},
		Tokens: make(map[token.Type][]*token.Token),
	}
	for _, t := range tokens {
		doc.Tokens[t.Type] = append(doc.Tokens[t.Type], t)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to render tokens document: %w", err)
	}
	return append(data, '\n'), nil
}

func (r *Renderer) renderCSS(tokens []*token.Token) []byte {
	byType := make(map[token.Type][]*token.Token)
	for _, t := range tokens {
		byType[t.Type] = append(byType[t.Type], t)
	}

	var b strings.Builder
	b.WriteString(":root {\n")
	for _, typ := range token.AllTypes() {
		group := byType[typ]
		for i, t := range group {
			b.WriteString(fmt.Sprintf("  %s: %s;\n", r.varName(typ, i+1), cssValue(t)))
		}
	}
	b.WriteString("}\n")
	return []byte(b.String())
}

func (r *Renderer) varName(typ token.Type, n int) string {
	if r.cssPrefix != "" {
		return fmt.Sprintf("--%s-%s-%d", r.cssPrefix, typ, n)
	}
	return fmt.Sprintf("--%s-%d", typ, n)
}

// cssValue normalizes a token value for CSS. Spacing magnitudes get a px
// unit when the raw value was bare.
func cssValue(t *token.Token) string {
	value := strings.TrimSpace(t.Value)
	if t.Type == token.TypeSpacing && !strings.HasSuffix(value, "px") {
		if px, err := token.ParsePixels(value); err == nil {
			return fmt.Sprintf("%gpx", px)
		}
	}
	return value
}
