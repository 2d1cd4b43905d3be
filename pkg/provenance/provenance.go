// Package provenance records which extractors and images contributed to a
// token and computes corroboration-weighted confidence.
package provenance

import (
	"sort"

	"tokenforge/pkg/token"
)

// corroborationBoost is the confidence multiplier gained per additional
// distinct source beyond the first.
const corroborationBoost = 0.1

// Track adds a contribution to a token's provenance and recomputes its
// weighted confidence. Contributions are distinct by (extractor, image)
// pair; re-tracking an existing pair keeps the higher confidence instead of
// inflating the source count.
func Track(t *token.Token, src token.Source) {
	t.Provenance = withSource(t.Provenance, src)
}

// Merge unions two provenance records. No source is ever lost; a pair
// present in both keeps its higher confidence.
func Merge(a, b token.Provenance) token.Provenance {
	out := a.Clone()
	for _, src := range b.Sources {
		out = withSource(out, src)
	}
	return out
}

// Weighted computes min(1, Σ confᵢ × (1 + 0.1 × (n − 1))) over n distinct
// sources. A lone source's confidence passes through unchanged; every
// corroborating source both adds its own confidence and raises the boost.
func Weighted(sources []token.Source) float64 {
	n := len(sources)
	if n == 0 {
		return 0
	}
	sum := 0.0
	for _, src := range sources {
		sum += src.Confidence
	}
	weighted := sum * (1 + corroborationBoost*float64(n-1))
	if weighted > 1 {
		return 1
	}
	return weighted
}

func withSource(p token.Provenance, src token.Source) token.Provenance {
	out := p.Clone()
	replaced := false
	for i := range out.Sources {
		if out.Sources[i].Key() != src.Key() {
			continue
		}
		if src.Confidence > out.Sources[i].Confidence {
			out.Sources[i].Confidence = src.Confidence
		}
		replaced = true
		break
	}
	if !replaced {
		out.Sources = append(out.Sources, src)
	}

	// Sources stay sorted by key so merged output is identical no matter the
	// order contributions arrived in.
	sort.Slice(out.Sources, func(i, j int) bool {
		return out.Sources[i].Key() < out.Sources[j].Key()
	})

	out.SourceCount = len(out.Sources)
	out.WeightedConfidence = Weighted(out.Sources)
	return out
}
