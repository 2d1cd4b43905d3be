// Package validate implements the validation stage: structural checks on
// aggregated tokens before anything is generated from them. Checks are
// shape-level (parseable values, sane ranges, provenance present); visual
// correctness is out of scope.
package validate

import (
	"context"
	"fmt"
	"strings"

	"tokenforge/pkg/logx"
	"tokenforge/pkg/token"
)

// Violation is one failed check on one token.
type Violation struct {
	TokenID string     `json:"token_id"`
	Type    token.Type `json:"type"`
	Value   string     `json:"value"`
	Reason  string     `json:"reason"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s %s (%s): %s", v.Type, v.TokenID, v.Value, v.Reason)
}

// Error reports a failed validation stage with every violation found.
type Error struct {
	Violations []Violation
}

func (e *Error) Error() string {
	if len(e.Violations) == 1 {
		return fmt.Sprintf("validation failed: %s", e.Violations[0])
	}
	reasons := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		reasons = append(reasons, v.String())
	}
	return fmt.Sprintf("validation failed with %d violations: %s",
		len(e.Violations), strings.Join(reasons, "; "))
}

// Checker implements the pipeline's Validator contract. Individual bad
// tokens are logged and tolerated; a category where every token is invalid
// fails the stage.
type Checker struct {
	logger *logx.Logger
}

func NewChecker() *Checker {
	return &Checker{logger: logx.NewLogger("validate")}
}

// ValidateTokens checks the merged token set for one image. It returns an
// *Error when at least one non-empty category has no valid tokens at all.
func (c *Checker) ValidateTokens(ctx context.Context, tokens []*token.Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	violations := Check(tokens)
	if len(violations) == 0 {
		return nil
	}

	badByType := make(map[token.Type]int)
	seen := make(map[string]bool)
	for _, v := range violations {
		if !seen[v.TokenID] {
			seen[v.TokenID] = true
			badByType[v.Type]++
		}
		c.logger.Warn("Token failed validation: %s", v)
	}

	totalByType := make(map[token.Type]int)
	for _, t := range tokens {
		totalByType[t.Type]++
	}
	for typ, bad := range badByType {
		if bad == totalByType[typ] {
			return &Error{Violations: violations}
		}
	}

	c.logger.Warn("%d of %d tokens failed validation; continuing with the rest intact",
		len(seen), len(tokens))
	return nil
}

// Check runs every rule over every token and returns the violations. It
// never short-circuits: callers get the full picture.
func Check(tokens []*token.Token) []Violation {
	var violations []Violation
	add := func(t *token.Token, reason string) {
		violations = append(violations, Violation{
			TokenID: t.ID,
			Type:    t.Type,
			Value:   t.Value,
			Reason:  reason,
		})
	}

	for _, t := range tokens {
		if t == nil {
			continue
		}
		if err := t.Validate(); err != nil {
			add(t, err.Error())
			continue
		}
		if t.Provenance.SourceCount < 1 || len(t.Provenance.Sources) == 0 {
			add(t, "aggregated token has no provenance sources")
		} else if t.Provenance.SourceCount != distinctSources(t.Provenance.Sources) {
			add(t, fmt.Sprintf("source_count %d does not match %d distinct sources",
				t.Provenance.SourceCount, distinctSources(t.Provenance.Sources)))
		}
		if wc := t.Provenance.WeightedConfidence; wc < 0 || wc > 1 {
			add(t, fmt.Sprintf("weighted confidence %f outside [0,1]", wc))
		}

		switch t.Type {
		case token.TypeColor:
			if !parseableColor(t) {
				add(t, "color value is not parseable")
			}
		case token.TypeSpacing:
			px, err := token.ParsePixels(t.Value)
			if err != nil {
				add(t, "spacing value is not parseable")
			} else if px < 0 {
				add(t, fmt.Sprintf("spacing %gpx is negative", px))
			}
		case token.TypeTypography:
			var meta token.TypographyMeta
			if err := token.DecodeMeta(t, &meta); err == nil && meta.SizePx < 0 {
				add(t, fmt.Sprintf("font size %gpx is negative", meta.SizePx))
			}
		case token.TypeShadow:
			// Shadow values are free-form; structural checks only.
		}
	}
	return violations
}

func parseableColor(t *token.Token) bool {
	if _, _, _, err := token.ParseHexColor(t.Value); err == nil {
		return true
	}
	var meta token.ColorMeta
	if err := token.DecodeMeta(t, &meta); err == nil && meta.Hex != "" {
		if _, _, _, err := token.ParseHexColor(meta.Hex); err == nil {
			return true
		}
	}
	return false
}

func distinctSources(sources []token.Source) int {
	keys := make(map[string]bool, len(sources))
	for _, s := range sources {
		keys[s.Key()] = true
	}
	return len(keys)
}
