package compositor

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/jpegli"
)

// ImagingRenderer is the pure-Go backend built on disintegration/imaging.
type ImagingRenderer struct{}

func (ImagingRenderer) Render(ctx context.Context, input []byte, spec CanvasSpec) (Result, error) {
	if err := checkSource(input); err != nil {
		return Result{}, err
	}

	src, err := imaging.Decode(bytes.NewReader(input), imaging.AutoOrientation(true))
	if err != nil {
		return Result{}, &DecodeError{Err: err}
	}

	bounds := src.Bounds()
	layout, err := Plan(bounds.Dx(), bounds.Dy(), spec)
	if err != nil {
		return Result{}, err
	}
	if err := stageDone(ctx); err != nil {
		return Result{}, err
	}

	canvas, err := imagingBackground(src, layout.CanvasW, layout.CanvasH, spec.Background)
	if err != nil {
		return Result{}, err
	}
	if err := stageDone(ctx); err != nil {
		return Result{}, err
	}

	content := imaging.Resize(src, layout.ContentW, layout.ContentH, imaging.Lanczos)
	if got := content.Bounds(); got.Dx() != layout.ContentW || got.Dy() != layout.ContentH {
		return Result{}, geometryErrorf("fitted content %dx%d, want %dx%d", got.Dx(), got.Dy(), layout.ContentW, layout.ContentH)
	}

	// Overlay blends translucent sources onto the background so the canvas stays opaque.
	canvas = imaging.Overlay(canvas, content, image.Pt(layout.Left, layout.Top), 1.0)
	if err := stageDone(ctx); err != nil {
		return Result{}, err
	}

	data, err := imagingEncode(canvas, spec)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Data:   data,
		Format: spec.Format,
		Width:  layout.CanvasW,
		Height: layout.CanvasH,
		Layout: layout,
	}, nil
}

func imagingBackground(src image.Image, w, h int, bg Background) (*image.NRGBA, error) {
	switch bg := bg.(type) {
	case Blur:
		cover := imaging.Fill(src, w, h, imaging.Center, imaging.Lanczos)
		blurred := imaging.Blur(cover, EffectiveSigma(bg.Sigma))
		// A translucent source must not leave holes in the border.
		return imaging.Overlay(imaging.New(w, h, opaqueBlack), blurred, image.Pt(0, 0), 1.0), nil
	case SolidColor:
		return imaging.New(w, h, bg.RGB), nil
	default:
		return nil, geometryErrorf("unknown background %T", bg)
	}
}

func imagingEncode(img *image.NRGBA, spec CanvasSpec) ([]byte, error) {
	var buf bytes.Buffer

	switch spec.Format {
	case FormatJPEG:
		// image/jpeg always subsamples chroma 4:2:0, which smears the matte edge.
		opts := &jpegli.EncodingOptions{
			Quality:           JPEGQuality,
			ChromaSubsampling: image.YCbCrSubsampleRatio444,
			OptimizeCoding:    true,
		}
		if err := jpegli.Encode(&buf, img, opts); err != nil {
			return nil, &EncodeError{Format: spec.Format, Err: err}
		}
	case FormatPNG:
		if err := imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(spec.PNGCompression)); err != nil {
			return nil, &EncodeError{Format: spec.Format, Err: err}
		}
	default:
		return nil, &EncodeError{Format: spec.Format, Err: fmt.Errorf("unsupported output format")}
	}

	return buf.Bytes(), nil
}
