package compositor

import (
	"image/color"
	"image/png"
	"math"
	"testing"
)

func TestParamsDefaults(t *testing.T) {
	spec := Params{}.Spec()

	if spec.Ratio != 1 {
		t.Fatalf("expected ratio 1, got %v", spec.Ratio)
	}
	if spec.Matte != DefaultMatte {
		t.Fatalf("expected matte %v, got %v", DefaultMatte, spec.Matte)
	}
	if spec.MaxEdge != DefaultMaxEdge {
		t.Fatalf("expected max edge %d, got %d", DefaultMaxEdge, spec.MaxEdge)
	}
	if bg, ok := spec.Background.(Blur); !ok || bg.Sigma != DefaultBlurSigma {
		t.Fatalf("expected Blur{%v}, got %#v", DefaultBlurSigma, spec.Background)
	}
	if spec.Format != FormatPNG {
		t.Fatalf("expected png, got %s", spec.Format)
	}
	if spec.PNGCompression != png.DefaultCompression {
		t.Fatalf("unexpected encoder defaults: %+v", spec)
	}
}

func TestParamsClamp(t *testing.T) {
	spec := Params{
		Ratio:      "1:500",
		Matte:      ptr(0.9),
		Background: "blur",
		Blur:       ptr(999.0),
		Format:     "JPG",
		Max:        ptr(100_000),
	}.Spec()

	if spec.Ratio != MinRatio {
		t.Fatalf("expected ratio %v, got %v", MinRatio, spec.Ratio)
	}
	if spec.Matte != MaxMatte {
		t.Fatalf("expected matte %v, got %v", MaxMatte, spec.Matte)
	}
	if bg := spec.Background.(Blur); bg.Sigma != MaxBlur {
		t.Fatalf("expected sigma %v, got %v", MaxBlur, bg.Sigma)
	}
	if spec.Format != FormatJPEG {
		t.Fatalf("expected jpeg, got %s", spec.Format)
	}
	if spec.MaxEdge != MaxMaxEdge {
		t.Fatalf("expected max edge %d, got %d", MaxMaxEdge, spec.MaxEdge)
	}

	low := Params{Matte: ptr(-1.0), Max: ptr(10), Blur: ptr(-5.0)}.Spec()
	if low.Matte != MinMatte || low.MaxEdge != MinMaxEdge {
		t.Fatalf("expected lower clamps, got %+v", low)
	}
	if bg := low.Background.(Blur); bg.Sigma != 0 {
		t.Fatalf("expected sigma 0, got %v", bg.Sigma)
	}
}

func TestNormalizeRepairsInvalidSpec(t *testing.T) {
	spec := CanvasSpec{
		Ratio:          math.NaN(),
		Matte:          math.NaN(),
		Format:         "gif",
		PNGCompression: 42,
	}.Normalize()

	if spec.Ratio != 1 || spec.Matte != DefaultMatte || spec.MaxEdge != DefaultMaxEdge {
		t.Fatalf("unexpected geometry defaults: %+v", spec)
	}
	if _, ok := spec.Background.(Blur); !ok {
		t.Fatalf("expected blur background, got %#v", spec.Background)
	}
	if spec.Format != FormatPNG || spec.PNGCompression != png.DefaultCompression {
		t.Fatalf("unexpected encoder defaults: %+v", spec)
	}

	solid := CanvasSpec{Background: SolidColor{RGB: color.NRGBA{R: 0xff}}}
	if got := solid.Normalize().Background.(SolidColor); got.RGB.A != 0xff {
		t.Fatalf("expected opaque colour, got %v", got.RGB)
	}
}

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{
		"png":   FormatPNG,
		"PNG":   FormatPNG,
		"jpeg":  FormatJPEG,
		" jpg ": FormatJPEG,
		"webp":  FormatPNG,
		"":      FormatPNG,
	}
	for in, want := range cases {
		if got := ParseFormat(in); got != want {
			t.Fatalf("ParseFormat(%q): expected %s, got %s", in, want, got)
		}
	}
	if FormatJPEG.ContentType() != "image/jpeg" || FormatPNG.ContentType() != "image/png" {
		t.Fatal("unexpected content types")
	}
}

func TestParamsSpecFromKeepsDeploymentDefaults(t *testing.T) {
	base := DefaultSpec()
	base.MaxEdge = 2048
	base.PNGCompression = png.BestSpeed
	base.Matte = 0.3

	spec := Params{Format: "jpeg"}.SpecFrom(base)
	if spec.MaxEdge != 2048 || spec.PNGCompression != png.BestSpeed {
		t.Fatalf("expected deployment defaults to survive, got %+v", spec)
	}
	if spec.Matte != DefaultMatte {
		t.Fatalf("expected request matte default %v, got %v", DefaultMatte, spec.Matte)
	}

	if got := (Params{Max: ptr(1024)}).SpecFrom(base); got.MaxEdge != 1024 {
		t.Fatalf("expected request max to win, got %d", got.MaxEdge)
	}
}

func TestParsePNGCompression(t *testing.T) {
	cases := map[string]png.CompressionLevel{
		"":        png.DefaultCompression,
		"default": png.DefaultCompression,
		"NONE":    png.NoCompression,
		"speed":   png.BestSpeed,
		" best ":  png.BestCompression,
		"ultra":   png.DefaultCompression,
	}
	for in, want := range cases {
		if got := ParsePNGCompression(in); got != want {
			t.Fatalf("ParsePNGCompression(%q): expected %d, got %d", in, want, got)
		}
	}
}
