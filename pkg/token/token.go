// Package token defines the design-token data model shared across the
// pipeline: token types, values, confidence, and provenance records.
package token

import (
	"crypto/rand"
	"fmt"
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"
)

// Type identifies a design-token category.
type Type string

const (
	TypeColor      Type = "color"
	TypeSpacing    Type = "spacing"
	TypeTypography Type = "typography"
	TypeShadow     Type = "shadow"
)

// AllTypes returns every supported token category in canonical order.
func AllTypes() []Type {
	return []Type{TypeColor, TypeSpacing, TypeTypography, TypeShadow}
}

// ParseType validates a token category name.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeColor, TypeSpacing, TypeTypography, TypeShadow:
		return Type(s), nil
	default:
		return "", fmt.Errorf("unknown token type %q", s)
	}
}

// Source records one (extractor, image) contribution to a token, with the
// confidence that contribution carried.
type Source struct {
	Extractor  string  `json:"extractor"`
	ImageID    string  `json:"image_id"`
	Confidence float64 `json:"confidence"`
}

// Key returns the identity of the contribution. Two sources with the same
// key are the same contribution regardless of confidence.
func (s Source) Key() string {
	return s.Extractor + "|" + s.ImageID
}

// Provenance records which sources produced or corroborated a token.
// SourceCount always equals the number of distinct source keys.
type Provenance struct {
	SourceCount        int      `json:"source_count"`
	Sources            []Source `json:"sources"`
	WeightedConfidence float64  `json:"weighted_confidence"`
}

// Clone deep-copies the provenance record.
func (p Provenance) Clone() Provenance {
	out := p
	out.Sources = make([]Source, len(p.Sources))
	copy(out.Sources, p.Sources)
	return out
}

// Token is one extracted design primitive. A token is immutable outside
// aggregation merges.
type Token struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	Value      string         `json:"value"`
	Confidence float64        `json:"confidence"`
	Provenance Provenance     `json:"provenance"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Token IDs are ULIDs so aggregation tie-breaks and store ordering are
// stable across runs. The monotonic source is shared, hence the lock.
var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Now(), entropy).String()
}

// New creates a token with a fresh ID and empty provenance. Extractor
// adapters call this; provenance is attached during aggregation.
func New(typ Type, value string, confidence float64) *Token {
	return &Token{
		ID:         newID(),
		Type:       typ,
		Value:      value,
		Confidence: confidence,
		Metadata:   make(map[string]any),
	}
}

// Clone deep-copies the token, including metadata and provenance sources.
func (t *Token) Clone() *Token {
	clone := &Token{
		ID:         t.ID,
		Type:       t.Type,
		Value:      t.Value,
		Confidence: t.Confidence,
		Provenance: t.Provenance.Clone(),
	}
	if t.Metadata != nil {
		clone.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			clone.Metadata[k] = v
		}
	}
	return clone
}

// Subtype is the dedup grouping key. Tokens of different subtypes are never
// merged. Defaults to the category; a "role" metadata entry narrows it
// (e.g. color/background vs color/text).
func (t *Token) Subtype() string {
	if role, ok := t.Metadata["role"].(string); ok && role != "" {
		return string(t.Type) + "/" + role
	}
	return string(t.Type)
}

// SetMeta sets a metadata entry, allocating the map if needed.
func (t *Token) SetMeta(key string, value any) {
	if t.Metadata == nil {
		t.Metadata = make(map[string]any)
	}
	t.Metadata[key] = value
}

// GetMeta returns a metadata entry.
func (t *Token) GetMeta(key string) (any, bool) {
	if t.Metadata == nil {
		return nil, false
	}
	v, ok := t.Metadata[key]
	return v, ok
}

// Validate checks structural requirements. Aggregated tokens must also carry
// at least one provenance source; raw extractor output may not yet.
func (t *Token) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("token ID is required")
	}
	if _, err := ParseType(string(t.Type)); err != nil {
		return err
	}
	if t.Value == "" {
		return fmt.Errorf("token value is required")
	}
	if t.Confidence < 0 || t.Confidence > 1 {
		return fmt.Errorf("token confidence %f outside [0,1]", t.Confidence)
	}
	return nil
}

// SortStable orders tokens by confidence descending, then ID ascending.
// Aggregation output uses this ordering so identical inputs always render
// identically.
func SortStable(tokens []*Token) {
	sort.Slice(tokens, func(i, j int) bool {
		if tokens[i].Confidence != tokens[j].Confidence {
			return tokens[i].Confidence > tokens[j].Confidence
		}
		return tokens[i].ID < tokens[j].ID
	})
}
