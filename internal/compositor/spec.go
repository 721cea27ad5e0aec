package compositor

import (
	"image/png"
	"math"
	"strings"
)

const (
	DefaultRatio     = "1:1"
	DefaultMatte     = 0.12
	DefaultBlurSigma = 30.0
	DefaultMaxEdge   = 4096

	// JPEGQuality is fixed; only PNG effort is tunable.
	JPEGQuality = 95

	MinRatio   = 0.05
	MaxRatio   = 20.0
	MinMatte   = 0.0
	MaxMatte   = 0.49
	MinMaxEdge = 512
	MaxMaxEdge = 8192
	MaxBlur    = 200.0

	// MinBlurSigma is the floor applied to every blur, including an explicit
	// blur of zero, so an upscaled cover never shows banding.
	MinBlurSigma = 0.3
)

type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

func ParseFormat(in string) Format {
	switch strings.ToLower(strings.TrimSpace(in)) {
	case "jpeg", "jpg":
		return FormatJPEG
	default:
		return FormatPNG
	}
}

func (f Format) ContentType() string {
	if f == FormatJPEG {
		return "image/jpeg"
	}
	return "image/png"
}

func (f Format) Extension() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return "png"
}

// ParsePNGCompression reads "default", "none", "speed" or "best".
func ParsePNGCompression(in string) png.CompressionLevel {
	switch strings.ToLower(strings.TrimSpace(in)) {
	case "none", "no":
		return png.NoCompression
	case "speed", "fast", "bestspeed":
		return png.BestSpeed
	case "best", "bestcompression":
		return png.BestCompression
	default:
		return png.DefaultCompression
	}
}

// CanvasSpec is the resolved, immutable configuration for one render.
type CanvasSpec struct {
	Ratio          float64
	Matte          float64
	MaxEdge        int
	Background     Background
	Format         Format
	PNGCompression png.CompressionLevel
}

// DefaultSpec is a square canvas with a blurred border.
func DefaultSpec() CanvasSpec {
	return CanvasSpec{
		Ratio:          1,
		Matte:          DefaultMatte,
		MaxEdge:        DefaultMaxEdge,
		Background:     Blur{Sigma: DefaultBlurSigma},
		Format:         FormatPNG,
		PNGCompression: png.DefaultCompression,
	}
}

// Normalize returns a copy with every field clamped into its valid range.
func (s CanvasSpec) Normalize() CanvasSpec {
	out := s

	if math.IsNaN(out.Ratio) || math.IsInf(out.Ratio, 0) || out.Ratio <= 0 {
		out.Ratio = 1
	}
	out.Ratio = clampFloat(out.Ratio, MinRatio, MaxRatio)

	if math.IsNaN(out.Matte) {
		out.Matte = DefaultMatte
	}
	out.Matte = clampFloat(out.Matte, MinMatte, MaxMatte)

	if out.MaxEdge == 0 {
		out.MaxEdge = DefaultMaxEdge
	}
	out.MaxEdge = clamp(out.MaxEdge, MinMaxEdge, MaxMaxEdge)

	switch bg := out.Background.(type) {
	case Blur:
		out.Background = Blur{Sigma: clampSigma(bg.Sigma)}
	case SolidColor:
		bg.RGB.A = 0xff
		out.Background = bg
	default:
		out.Background = Blur{Sigma: DefaultBlurSigma}
	}

	if out.Format != FormatJPEG {
		out.Format = FormatPNG
	}
	switch out.PNGCompression {
	case png.DefaultCompression, png.NoCompression, png.BestSpeed, png.BestCompression:
	default:
		out.PNGCompression = png.DefaultCompression
	}

	return out
}

// Params carries the raw, optional request parameters. Nil pointers and empty
// strings select the documented defaults.
type Params struct {
	Ratio      string
	Matte      *float64
	Background string
	Blur       *float64
	Format     string
	Max        *int
}

// Spec resolves the parameters into a normalized CanvasSpec. Malformed values
// fall back to defaults; it never fails.
func (p Params) Spec() CanvasSpec {
	return p.SpecFrom(DefaultSpec())
}

// SpecFrom is Spec with deployment defaults for the edge cap and encoders. The
// base ratio, matte and background are ignored in favour of the request.
func (p Params) SpecFrom(base CanvasSpec) CanvasSpec {
	spec := base
	spec.Matte = DefaultMatte

	ratio := strings.TrimSpace(p.Ratio)
	if ratio == "" {
		ratio = DefaultRatio
	}
	spec.Ratio = ParseRatio(ratio)

	if p.Matte != nil {
		spec.Matte = *p.Matte
	}

	sigma := DefaultBlurSigma
	if p.Blur != nil && !math.IsNaN(*p.Blur) {
		sigma = *p.Blur
	}
	spec.Background = ParseBackground(p.Background, sigma)
	spec.Format = ParseFormat(p.Format)

	if p.Max != nil {
		spec.MaxEdge = *p.Max
	}

	return spec.Normalize()
}

func clampSigma(sigma float64) float64 {
	if math.IsNaN(sigma) || sigma < 0 {
		return 0
	}
	return clampFloat(sigma, 0, MaxBlur)
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
