package token

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Typed views over Token.Metadata. Extractors populate metadata as loose
// maps (often decoded straight from model JSON); downstream consumers decode
// into these via DecodeMeta.

// ColorMeta carries the parsed channels of a color token.
type ColorMeta struct {
	Hex  string  `json:"hex" mapstructure:"hex"`
	R    uint8   `json:"r" mapstructure:"r"`
	G    uint8   `json:"g" mapstructure:"g"`
	B    uint8   `json:"b" mapstructure:"b"`
	Role string  `json:"role,omitempty" mapstructure:"role"`
	Area float64 `json:"area,omitempty" mapstructure:"area"` // fraction of image coverage
}

// SpacingMeta carries a spacing token's magnitude in pixels.
type SpacingMeta struct {
	Px   float64 `json:"px" mapstructure:"px"`
	Axis string  `json:"axis,omitempty" mapstructure:"axis"`
}

// TypographyMeta carries the attributes of a typography token.
type TypographyMeta struct {
	Family string  `json:"family" mapstructure:"family"`
	Weight int     `json:"weight" mapstructure:"weight"`
	SizePx float64 `json:"size_px" mapstructure:"size_px"`
}

// ShadowMeta carries the attributes of a shadow token.
type ShadowMeta struct {
	OffsetX float64 `json:"offset_x" mapstructure:"offset_x"`
	OffsetY float64 `json:"offset_y" mapstructure:"offset_y"`
	Blur    float64 `json:"blur" mapstructure:"blur"`
	Color   string  `json:"color,omitempty" mapstructure:"color"`
}

// DecodeMeta decodes a token's metadata map into a typed struct.
func DecodeMeta(t *Token, out any) error {
	if t.Metadata == nil {
		return fmt.Errorf("token %s has no metadata", t.ID)
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true, // model JSON numbers arrive as float64
	})
	if err != nil {
		return fmt.Errorf("build metadata decoder: %w", err)
	}
	if err := decoder.Decode(t.Metadata); err != nil {
		return fmt.Errorf("decode metadata for token %s: %w", t.ID, err)
	}
	return nil
}

// ParseHexColor parses "#RGB", "#RRGGBB", or the same without "#" into
// channel values.
func ParseHexColor(s string) (r, g, b uint8, err error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	switch len(hex) {
	case 3:
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	case 6:
	default:
		return 0, 0, 0, fmt.Errorf("invalid hex color %q", s)
	}
	v, perr := strconv.ParseUint(hex, 16, 32)
	if perr != nil {
		return 0, 0, 0, fmt.Errorf("invalid hex color %q: %w", s, perr)
	}
	return uint8(v >> 16), uint8(v >> 8 & 0xff), uint8(v & 0xff), nil
}

// ParsePixels parses a numeric value with an optional "px" suffix.
func ParsePixels(s string) (float64, error) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(s), "px")
	v, err := strconv.ParseFloat(strings.TrimSpace(trimmed), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid pixel value %q: %w", s, err)
	}
	return v, nil
}
