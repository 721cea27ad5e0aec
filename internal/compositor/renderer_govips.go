//go:build govips && cgo

package compositor

import (
	"context"
	"errors"
	"fmt"
	"image/png"

	"github.com/davidbyttow/govips/v2/vips"
)

// GovipsRenderer renders on libvips. Unlike the pure-Go backend it writes JPEG
// with 4:4:4 chroma.
type GovipsRenderer struct{}

func (GovipsRenderer) Render(ctx context.Context, input []byte, spec CanvasSpec) (Result, error) {
	src, err := vips.NewImageFromBuffer(input)
	if err != nil {
		return Result{}, &DecodeError{Err: err}
	}
	defer src.Close()

	// libvips loads lazily, so this reads only the header.
	if err := checkDimensions(src.Width(), src.Height()); err != nil {
		return Result{}, err
	}

	if err := src.AutoRotate(); err != nil {
		return Result{}, &DecodeError{Err: fmt.Errorf("auto-rotate: %w", err)}
	}
	if err := src.ToColorSpace(vips.InterpretationSRGB); err != nil {
		return Result{}, &DecodeError{Err: fmt.Errorf("convert to sRGB: %w", err)}
	}

	layout, err := Plan(src.Width(), src.Height(), spec)
	if err != nil {
		return Result{}, err
	}
	if err := stageDone(ctx); err != nil {
		return Result{}, err
	}

	canvas, err := govipsBackground(src, layout.CanvasW, layout.CanvasH, spec)
	if err != nil {
		return Result{}, err
	}
	defer canvas.Close()
	if err := stageDone(ctx); err != nil {
		return Result{}, err
	}

	content, err := src.Copy()
	if err != nil {
		return Result{}, rasterError(spec.Format, "copy source", err)
	}
	defer content.Close()

	// The aspect-correct size comes from Plan, so forcing it only absorbs rounding.
	if err := content.ThumbnailWithSize(layout.ContentW, layout.ContentH, vips.InterestingNone, vips.SizeForce); err != nil {
		return Result{}, geometryErrorf("fit content: %v", err)
	}
	if content.Width() != layout.ContentW || content.Height() != layout.ContentH {
		return Result{}, geometryErrorf("fitted content %dx%d, want %dx%d", content.Width(), content.Height(), layout.ContentW, layout.ContentH)
	}

	if err := canvas.Composite(content, vips.BlendModeOver, layout.Left, layout.Top); err != nil {
		return Result{}, rasterError(spec.Format, "composite content", err)
	}
	if canvas.HasAlpha() {
		if err := canvas.Flatten(&vips.Color{}); err != nil {
			return Result{}, rasterError(spec.Format, "flatten canvas", err)
		}
	}
	if err := stageDone(ctx); err != nil {
		return Result{}, err
	}

	data, err := govipsExport(canvas, spec)
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

func govipsBackground(src *vips.ImageRef, w, h int, spec CanvasSpec) (*vips.ImageRef, error) {
	canvas, err := src.Copy()
	if err != nil {
		return nil, rasterError(spec.Format, "copy source", err)
	}

	if err := canvas.ThumbnailWithSize(w, h, vips.InterestingCentre, vips.SizeBoth); err != nil {
		canvas.Close()
		return nil, rasterError(spec.Format, "cover resize", err)
	}
	if canvas.HasAlpha() {
		if err := canvas.Flatten(&vips.Color{}); err != nil {
			canvas.Close()
			return nil, rasterError(spec.Format, "flatten background", err)
		}
	}

	switch bg := spec.Background.(type) {
	case Blur:
		err = canvas.GaussianBlur(EffectiveSigma(bg.Sigma))
	case SolidColor:
		// 0*in + rgb turns the cover into a flat canvas of the exact size.
		err = canvas.Linear(
			[]float64{0, 0, 0},
			[]float64{float64(bg.RGB.R), float64(bg.RGB.G), float64(bg.RGB.B)},
		)
		if err == nil {
			err = canvas.Cast(vips.BandFormatUchar)
		}
	default:
		err = geometryErrorf("unknown background %T", bg)
	}
	if err != nil {
		canvas.Close()
		if !errors.Is(err, ErrGeometry) {
			err = rasterError(spec.Format, "paint background", err)
		}
		return nil, err
	}

	if canvas.Width() != w || canvas.Height() != h {
		got := fmt.Sprintf("%dx%d", canvas.Width(), canvas.Height())
		canvas.Close()
		return nil, geometryErrorf("background %s, want %dx%d", got, w, h)
	}
	return canvas, nil
}

func govipsExport(img *vips.ImageRef, spec CanvasSpec) ([]byte, error) {
	switch spec.Format {
	case FormatJPEG:
		params := vips.NewJpegExportParams()
		params.Quality = JPEGQuality
		params.SubsampleMode = vips.VipsForeignSubsampleOff
		params.StripMetadata = true
		data, _, err := img.ExportJpeg(params)
		if err != nil {
			return nil, &EncodeError{Format: spec.Format, Err: err}
		}
		return data, nil
	case FormatPNG:
		params := vips.NewPngExportParams()
		params.Compression = vipsCompression(spec.PNGCompression)
		params.StripMetadata = true
		data, _, err := img.ExportPng(params)
		if err != nil {
			return nil, &EncodeError{Format: spec.Format, Err: err}
		}
		return data, nil
	default:
		return nil, &EncodeError{Format: spec.Format, Err: fmt.Errorf("unsupported output format")}
	}
}

func vipsCompression(level png.CompressionLevel) int {
	switch level {
	case png.NoCompression:
		return 0
	case png.BestSpeed:
		return 1
	case png.BestCompression:
		return 9
	default:
		return 6
	}
}
