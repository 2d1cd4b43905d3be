package testkit

import (
	"fmt"

	"tokenforge/pkg/extract"
	"tokenforge/pkg/token"
)

// Fixture palettes. Values are valid for their category so fixture tokens
// survive validation unchanged.
var fixtureValues = map[token.Type][]string{
	token.TypeColor:      {"#ff0000", "#00ff00", "#0000ff", "#1a1a2e", "#f5f5f5", "#e94560"},
	token.TypeSpacing:    {"4px", "8px", "12px", "16px", "24px", "32px"},
	token.TypeTypography: {"Inter 400 16px", "Inter 600 20px", "Georgia 400 18px", "Mono 500 13px"},
	token.TypeShadow:     {"0px 1px 2px rgba(0,0,0,0.1)", "0px 2px 8px rgba(0,0,0,0.2)", "0px 4px 16px rgba(0,0,0,0.25)"},
}

// Tokens returns n valid tokens of the given category with distinct values
// and descending confidence. Values cycle through a fixed palette, gaining
// a numeric suffix in metadata once the palette wraps.
func Tokens(typ token.Type, n int) []*token.Token {
	palette := fixtureValues[typ]
	out := make([]*token.Token, 0, n)
	for i := 0; i < n; i++ {
		value := palette[i%len(palette)]
		confidence := 0.95 - 0.05*float64(i%10)
		t := token.New(typ, value, confidence)
		if i >= len(palette) {
			t.SetMeta("fixture_round", i/len(palette))
		}
		out = append(out, t)
	}
	return out
}

// ColorTokens returns n valid color tokens.
func ColorTokens(n int) []*token.Token { return Tokens(token.TypeColor, n) }

// SpacingTokens returns n valid spacing tokens.
func SpacingTokens(n int) []*token.Token { return Tokens(token.TypeSpacing, n) }

// SourcedToken returns a single merged-looking token carrying provenance
// from the named extractors, for store and report tests.
func SourcedToken(typ token.Type, value string, confidence float64, extractors ...string) *token.Token {
	t := token.New(typ, value, confidence)
	for _, name := range extractors {
		t.Provenance.Sources = append(t.Provenance.Sources, token.Source{
			Extractor:  name,
			ImageID:    "img-fixture",
			Confidence: confidence,
		})
	}
	t.Provenance.SourceCount = len(extractors)
	t.Provenance.WeightedConfidence = confidence
	return t
}

// Image returns a ProcessedImage descriptor with plausible fields and
// fake bytes. idx keeps fixtures distinct within a test.
func Image(idx int) extract.ProcessedImage {
	return extract.ProcessedImage{
		ImageID: fmt.Sprintf("fixture-%03d", idx),
		Ref:     fmt.Sprintf("shots/fixture-%03d.png", idx),
		Data:    []byte{0x89, 0x50, 0x4e, 0x47, byte(idx)},
		Width:   1280,
		Height:  800,
		Format:  "png",
	}
}
