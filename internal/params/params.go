package params

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// ErrInvalidConfig marks a configuration change that was rejected.
var ErrInvalidConfig = errors.New("invalid config")

// MinSegments is the smallest segment count that still closes the sphere.
const MinSegments = 3

// Color is an RGB colour that round-trips through its "#rrggbb" text form.
type Color struct {
	colorful.Color
}

// ParseColor parses a hex colour such as "#00ffff".
func ParseColor(s string) (Color, error) {
	s = strings.TrimSpace(s)
	if s != "" && !strings.HasPrefix(s, "#") {
		s = "#" + s
	}
	c, err := colorful.Hex(s)
	if err != nil {
		return Color{}, fmt.Errorf("%w: color %q: %v", ErrInvalidConfig, s, err)
	}
	return Color{c}, nil
}

// MustColor is ParseColor for constants.
func MustColor(s string) Color {
	c, err := ParseColor(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Color) String() string { return c.Hex() }

// MarshalText implements encoding.TextMarshaler.
func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Color) UnmarshalText(text []byte) error {
	parsed, err := ParseColor(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ShapeConfig describes the sphere and how it animates.
type ShapeConfig struct {
	Radius                float64 `json:"radius" toml:"radius"`
	WidthSegments         int     `json:"widthSegments" toml:"widthSegments"`
	HeightSegments        int     `json:"heightSegments" toml:"heightSegments"`
	Color1                Color   `json:"color1" toml:"color1"`
	Color2                Color   `json:"color2" toml:"color2"`
	AnimationSpeed        float64 `json:"animationSpeed" toml:"animationSpeed"`
	WaveIntensity         float64 `json:"waveIntensity" toml:"waveIntensity"`
	AudioScaleSensitivity float64 `json:"audioScaleSensitivity" toml:"audioScaleSensitivity"`
}

// Defaults returns the stock cyan/magenta sphere.
func Defaults() ShapeConfig {
	return ShapeConfig{
		Radius:                3,
		WidthSegments:         64,
		HeightSegments:        32,
		Color1:                MustColor("#00ffff"),
		Color2:                MustColor("#ff00ff"),
		AnimationSpeed:        0.02,
		WaveIntensity:         0.5,
		AudioScaleSensitivity: 1.5,
	}
}

// Validate reports whether the configuration can produce a closed sphere.
func (c ShapeConfig) Validate() error {
	for name, v := range map[string]float64{
		"radius":                c.Radius,
		"animationSpeed":        c.AnimationSpeed,
		"waveIntensity":         c.WaveIntensity,
		"audioScaleSensitivity": c.AudioScaleSensitivity,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s must be finite (got %v)", ErrInvalidConfig, name, v)
		}
	}
	if c.Radius <= 0 {
		return fmt.Errorf("%w: radius must be positive (got %v)", ErrInvalidConfig, c.Radius)
	}
	if c.WidthSegments < MinSegments || c.HeightSegments < MinSegments {
		return fmt.Errorf("%w: segments must be >= %d (got %dx%d)",
			ErrInvalidConfig, MinSegments, c.WidthSegments, c.HeightSegments)
	}
	if c.WaveIntensity < 0 {
		return fmt.Errorf("%w: waveIntensity must be >= 0 (got %v)", ErrInvalidConfig, c.WaveIntensity)
	}
	if c.AudioScaleSensitivity < 0 {
		return fmt.Errorf("%w: audioScaleSensitivity must be >= 0 (got %v)", ErrInvalidConfig, c.AudioScaleSensitivity)
	}
	return nil
}

// ShapeChanged reports whether the base geometry has to be rebuilt.
func (c ShapeConfig) ShapeChanged(other ShapeConfig) bool {
	return c.Radius != other.Radius ||
		c.WidthSegments != other.WidthSegments ||
		c.HeightSegments != other.HeightSegments
}

// ColorsChanged reports whether the shading colours differ.
func (c ShapeConfig) ColorsChanged(other ShapeConfig) bool {
	return c.Color1.Hex() != other.Color1.Hex() || c.Color2.Hex() != other.Color2.Hex()
}

// Patch is a partial ShapeConfig update; nil fields keep their previous value.
type Patch struct {
	Radius                *float64 `json:"radius,omitempty" toml:"radius,omitempty"`
	WidthSegments         *int     `json:"widthSegments,omitempty" toml:"widthSegments,omitempty"`
	HeightSegments        *int     `json:"heightSegments,omitempty" toml:"heightSegments,omitempty"`
	Color1                *Color   `json:"color1,omitempty" toml:"color1,omitempty"`
	Color2                *Color   `json:"color2,omitempty" toml:"color2,omitempty"`
	AnimationSpeed        *float64 `json:"animationSpeed,omitempty" toml:"animationSpeed,omitempty"`
	WaveIntensity         *float64 `json:"waveIntensity,omitempty" toml:"waveIntensity,omitempty"`
	AudioScaleSensitivity *float64 `json:"audioScaleSensitivity,omitempty" toml:"audioScaleSensitivity,omitempty"`
}

// patchKeys are the field names Patch understands in JSON and TOML.
var patchKeys = []string{
	"radius", "widthSegments", "heightSegments", "color1", "color2",
	"animationSpeed", "waveIntensity", "audioScaleSensitivity",
}

// UnknownKeys returns, sorted, the keys of fields that Patch ignores.
func UnknownKeys[V any](fields map[string]V) []string {
	var out []string
	for k := range fields {
		if !slices.Contains(patchKeys, k) {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

// Empty reports whether the patch carries no fields.
func (p Patch) Empty() bool {
	return p == Patch{}
}

// Apply merges the patch into c and validates the result.
// On error c is returned unchanged.
func (c ShapeConfig) Apply(p Patch) (ShapeConfig, error) {
	next := c
	if p.Radius != nil {
		next.Radius = *p.Radius
	}
	if p.WidthSegments != nil {
		next.WidthSegments = *p.WidthSegments
	}
	if p.HeightSegments != nil {
		next.HeightSegments = *p.HeightSegments
	}
	if p.Color1 != nil {
		next.Color1 = *p.Color1
	}
	if p.Color2 != nil {
		next.Color2 = *p.Color2
	}
	if p.AnimationSpeed != nil {
		next.AnimationSpeed = *p.AnimationSpeed
	}
	if p.WaveIntensity != nil {
		next.WaveIntensity = *p.WaveIntensity
	}
	if p.AudioScaleSensitivity != nil {
		next.AudioScaleSensitivity = *p.AudioScaleSensitivity
	}
	if err := next.Validate(); err != nil {
		return c, err
	}
	return next, nil
}

// Full returns a patch that sets every field of c.
func (c ShapeConfig) Full() Patch {
	return Patch{
		Radius:                &c.Radius,
		WidthSegments:         &c.WidthSegments,
		HeightSegments:        &c.HeightSegments,
		Color1:                &c.Color1,
		Color2:                &c.Color2,
		AnimationSpeed:        &c.AnimationSpeed,
		WaveIntensity:         &c.WaveIntensity,
		AudioScaleSensitivity: &c.AudioScaleSensitivity,
	}
}

// Float and Int build Patch fields inline.
func Float(v float64) *float64 { return &v }

func Int(v int) *int { return &v }

func clamp(v, minVal, maxVal float64) float64 {
	if v < minVal {
		return minVal
	}
	if v > maxVal {
		return maxVal
	}
	return v
}

// Nudge returns a patch that moves one float field by delta, clamped to [minVal, maxVal].
func Nudge(current, delta, minVal, maxVal float64) *float64 {
	return Float(clamp(current+delta, minVal, maxVal))
}
