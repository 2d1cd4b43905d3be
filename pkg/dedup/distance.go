package dedup

import (
	"fmt"
	"math"
	"strings"

	"tokenforge/pkg/token"
)

// Built-in distance metrics. All report on a 0-100 scale where the
// DefaultThreshold of 2.0 approximates a just noticeable difference.
// Callers with real color-science needs plug their own DistanceFunc via
// WithMetric; these built-ins are deliberately simple proxies.

// rgbScale maps the RGB-cube diagonal onto 100.
var rgbScale = 100.0 / (math.Sqrt(3) * 255.0)

func channels(t *token.Token) (r, g, b uint8, err error) {
	if r, g, b, err = token.ParseHexColor(t.Value); err == nil {
		return r, g, b, nil
	}
	var meta token.ColorMeta
	if merr := token.DecodeMeta(t, &meta); merr == nil && meta.Hex != "" {
		return token.ParseHexColor(meta.Hex)
	}
	return 0, 0, 0, fmt.Errorf("token %s has no parseable color: %w", t.ID, err)
}

// RGBDistance is the Euclidean distance between two colors in RGB space,
// scaled to 0-100.
func RGBDistance(a, b *token.Token) (float64, error) {
	ar, ag, ab, err := channels(a)
	if err != nil {
		return 0, err
	}
	br, bg, bb, err := channels(b)
	if err != nil {
		return 0, err
	}
	dr := float64(ar) - float64(br)
	dg := float64(ag) - float64(bg)
	db := float64(ab) - float64(bb)
	return math.Sqrt(dr*dr+dg*dg+db*db) * rgbScale, nil
}

// PixelDistance is the absolute difference between two spacing magnitudes
// in pixels.
func PixelDistance(a, b *token.Token) (float64, error) {
	av, err := token.ParsePixels(a.Value)
	if err != nil {
		return 0, err
	}
	bv, err := token.ParsePixels(b.Value)
	if err != nil {
		return 0, err
	}
	return math.Abs(av - bv), nil
}

// TypographyDistance treats differing families as never-duplicates; within
// a family it combines size and weight deltas.
func TypographyDistance(a, b *token.Token) (float64, error) {
	var am, bm token.TypographyMeta
	if err := token.DecodeMeta(a, &am); err != nil {
		return 0, err
	}
	if err := token.DecodeMeta(b, &bm); err != nil {
		return 0, err
	}
	if !strings.EqualFold(am.Family, bm.Family) {
		return 100, nil
	}
	sizeDelta := math.Abs(am.SizePx - bm.SizePx)
	weightDelta := math.Abs(float64(am.Weight-bm.Weight)) / 100.0
	return sizeDelta + weightDelta, nil
}

// ShadowDistance is the Euclidean distance over offset and blur, in pixels.
func ShadowDistance(a, b *token.Token) (float64, error) {
	var am, bm token.ShadowMeta
	if err := token.DecodeMeta(a, &am); err != nil {
		return 0, err
	}
	if err := token.DecodeMeta(b, &bm); err != nil {
		return 0, err
	}
	dx := am.OffsetX - bm.OffsetX
	dy := am.OffsetY - bm.OffsetY
	dblur := am.Blur - bm.Blur
	return math.Sqrt(dx*dx + dy*dy + dblur*dblur), nil
}

// ExactDistance is the fallback for categories without a metric: identical
// values are distance 0, everything else 100.
func ExactDistance(a, b *token.Token) (float64, error) {
	if strings.EqualFold(strings.TrimSpace(a.Value), strings.TrimSpace(b.Value)) {
		return 0, nil
	}
	return 100, nil
}
