package provenance

import (
	"math"
	"testing"

	"tokenforge/pkg/token"
)

func src(extractor, image string, conf float64) token.Source {
	return token.Source{Extractor: extractor, ImageID: image, Confidence: conf}
}

func TestTrackSingleSource(t *testing.T) {
	tok := token.New(token.TypeColor, "#123456", 0.8)
	Track(tok, src("kmeans", "img-1", 0.8))

	p := tok.Provenance
	if p.SourceCount != 1 {
		t.Fatalf("Expected source_count 1, got %d", p.SourceCount)
	}
	// A lone source's confidence is unchanged.
	if math.Abs(p.WeightedConfidence-0.8) > 1e-9 {
		t.Errorf("Expected weighted confidence 0.8, got %f", p.WeightedConfidence)
	}
}

func TestTrackDistinctPairs(t *testing.T) {
	tok := token.New(token.TypeColor, "#123456", 0.5)
	Track(tok, src("kmeans", "img-1", 0.5))
	Track(tok, src("claude", "img-1", 0.4))
	Track(tok, src("kmeans", "img-2", 0.3))

	if tok.Provenance.SourceCount != 3 {
		t.Errorf("Expected 3 distinct (extractor,image) pairs, got %d", tok.Provenance.SourceCount)
	}
}

func TestTrackSamePairDoesNotInflateCount(t *testing.T) {
	tok := token.New(token.TypeColor, "#123456", 0.5)
	Track(tok, src("kmeans", "img-1", 0.5))
	Track(tok, src("kmeans", "img-1", 0.7))

	p := tok.Provenance
	if p.SourceCount != 1 {
		t.Errorf("Expected source_count 1 for repeated pair, got %d", p.SourceCount)
	}
	if p.Sources[0].Confidence != 0.7 {
		t.Errorf("Expected higher confidence kept, got %f", p.Sources[0].Confidence)
	}
}

func TestWeightedFormula(t *testing.T) {
	tests := []struct {
		name    string
		sources []token.Source
		want    float64
	}{
		{"empty", nil, 0},
		{"single", []token.Source{src("a", "i", 0.6)}, 0.6},
		{"two sources boost 10%", []token.Source{src("a", "i", 0.3), src("b", "i", 0.4)}, (0.3 + 0.4) * 1.1},
		{"capped at one", []token.Source{src("a", "i", 0.9), src("b", "i", 0.9)}, 1.0},
		{"three sources boost 20%", []token.Source{src("a", "i", 0.2), src("b", "i", 0.2), src("c", "i", 0.2)}, (0.6) * 1.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Weighted(tt.sources)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Weighted() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestWeightedMonotoneInSourceCount(t *testing.T) {
	sources := []token.Source{}
	prev := 0.0
	for i := 0; i < 10; i++ {
		sources = append(sources, src("ext", string(rune('a'+i)), 0.15))
		got := Weighted(sources)
		if got < prev {
			t.Fatalf("Weighted confidence decreased from %f to %f at %d sources", prev, got, len(sources))
		}
		if got > 1.0 {
			t.Fatalf("Weighted confidence %f exceeds 1.0", got)
		}
		prev = got
	}
}

func TestMergeNeverLosesSources(t *testing.T) {
	a := token.Provenance{}
	a = Merge(a, token.Provenance{Sources: []token.Source{src("kmeans", "img-1", 0.5)}})
	b := token.Provenance{}
	b = Merge(b, token.Provenance{Sources: []token.Source{src("claude", "img-1", 0.6), src("kmeans", "img-1", 0.4)}})

	merged := Merge(a, b)
	if merged.SourceCount != 2 {
		t.Fatalf("Expected 2 distinct sources after merge, got %d", merged.SourceCount)
	}
	for _, s := range merged.Sources {
		if s.Key() == "kmeans|img-1" && s.Confidence != 0.5 {
			t.Errorf("Expected higher confidence 0.5 kept for shared pair, got %f", s.Confidence)
		}
	}
}

func TestMergeOrderIndependent(t *testing.T) {
	pa := token.Provenance{Sources: []token.Source{src("a", "i1", 0.3), src("b", "i1", 0.4)}}
	pb := token.Provenance{Sources: []token.Source{src("c", "i2", 0.5)}}

	ab := Merge(pa, pb)
	ba := Merge(pb, pa)

	if ab.SourceCount != ba.SourceCount || ab.WeightedConfidence != ba.WeightedConfidence {
		t.Fatalf("Merge not symmetric: %+v vs %+v", ab, ba)
	}
	for i := range ab.Sources {
		if ab.Sources[i] != ba.Sources[i] {
			t.Errorf("Source order differs at %d: %+v vs %+v", i, ab.Sources[i], ba.Sources[i])
		}
	}
}
