package compositor

import (
	"image/color"
	"math"
	"strconv"
	"strings"
)

const colorTokenPrefix = "color-"

var opaqueBlack = color.NRGBA{A: 0xff}

// Background selects how the matte border is filled. It is implemented only by
// Blur and SolidColor.
type Background interface {
	background()
	String() string
}

// Blur fills the canvas with a cover-scaled, gaussian-blurred copy of the source.
type Blur struct {
	Sigma float64
}

func (Blur) background() {}

func (b Blur) String() string {
	return "blur"
}

// SolidColor fills the canvas with one opaque colour.
type SolidColor struct {
	RGB color.NRGBA
}

func (SolidColor) background() {}

func (c SolidColor) String() string {
	return "color"
}

// Hex renders the colour as RRGGBB.
func (c SolidColor) Hex() string {
	return strings.ToUpper(hex2(c.RGB.R) + hex2(c.RGB.G) + hex2(c.RGB.B))
}

// ParseBackground maps "blur" and "color-RRGGBB" tokens onto a Background.
// Unknown tokens select a blur.
func ParseBackground(token string, sigma float64) Background {
	token = strings.ToLower(strings.TrimSpace(token))
	if strings.HasPrefix(token, colorTokenPrefix) {
		return SolidColor{RGB: ParseHexColor(strings.TrimPrefix(token, colorTokenPrefix))}
	}
	return Blur{Sigma: clampSigma(sigma)}
}

// ParseHexColor reads RRGGBB with an optional leading '#'. Malformed input
// yields opaque black.
func ParseHexColor(in string) color.NRGBA {
	in = strings.TrimPrefix(strings.TrimSpace(in), "#")
	if len(in) != 6 {
		return opaqueBlack
	}
	v, err := strconv.ParseUint(in, 16, 32)
	if err != nil {
		return opaqueBlack
	}
	return color.NRGBA{
		R: uint8(v >> 16),
		G: uint8(v >> 8),
		B: uint8(v),
		A: 0xff,
	}
}

// EffectiveSigma applies the MinBlurSigma floor.
func EffectiveSigma(sigma float64) float64 {
	if math.IsNaN(sigma) {
		return MinBlurSigma
	}
	return math.Max(sigma, MinBlurSigma)
}

func hex2(v uint8) string {
	s := strconv.FormatUint(uint64(v), 16)
	if len(s) == 1 {
		return "0" + s
	}
	return s
}
