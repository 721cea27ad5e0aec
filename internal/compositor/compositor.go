// Package compositor builds print-ready canvases: the source image is fitted,
// uncropped, inside a matte-inset area of a canvas with a fixed aspect ratio,
// and the border is filled with a blurred cover of the same image or a flat
// colour.
//
// Rendering is a pure function of the source bytes and a CanvasSpec. It holds no
// shared state and performs no I/O, so a Compositor may be used concurrently.
package compositor

import (
	"bytes"
	"context"
	"fmt"
	"image"

	// Extra decoders for sources that are neither PNG, JPEG nor GIF.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// maxSourcePixels bounds the decoded source before any pixel memory is allocated.
const maxSourcePixels = 100_000_000

// Renderer is one rendering backend. Every backend shares Plan and the error
// taxonomy, so geometry is identical between them.
type Renderer interface {
	Render(ctx context.Context, input []byte, spec CanvasSpec) (Result, error)
}

// Result is an encoded canvas.
type Result struct {
	Data   []byte
	Format Format
	Width  int
	Height int
	Layout Layout
}

func (r Result) ContentType() string {
	return r.Format.ContentType()
}

type Compositor struct {
	renderer Renderer
}

// New returns a Compositor on the backend selected at build time: libvips with
// the govips tag, pure Go otherwise.
func New() (*Compositor, error) {
	renderer, err := newRenderer()
	if err != nil {
		return nil, fmt.Errorf("build renderer: %w", err)
	}
	return &Compositor{renderer: renderer}, nil
}

// NewWithRenderer wires an explicit backend.
func NewWithRenderer(r Renderer) *Compositor {
	return &Compositor{renderer: r}
}

// Compose renders src onto a canvas described by spec. Only DecodeError,
// GeometryError, EncodeError or a context error are returned, never together
// with output.
func (c *Compositor) Compose(ctx context.Context, src []byte, spec CanvasSpec) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if len(src) == 0 {
		return Result{}, &DecodeError{Err: errEmptySource}
	}

	spec = spec.Normalize()
	res, err := c.renderer.Render(ctx, src, spec)
	if err != nil {
		return Result{}, escapeError(err, spec.Format)
	}
	return res, nil
}

// Compose renders with the pure-Go backend.
func Compose(ctx context.Context, src []byte, spec CanvasSpec) (Result, error) {
	return NewWithRenderer(ImagingRenderer{}).Compose(ctx, src, spec)
}

// checkSource reads only the image header, rejecting unknown formats, empty
// dimensions and oversized sources before a full decode.
func checkSource(input []byte) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(input))
	if err != nil {
		return &DecodeError{Err: err}
	}
	return checkDimensions(cfg.Width, cfg.Height)
}

func checkDimensions(w, h int) error {
	if w <= 0 || h <= 0 {
		return &DecodeError{Err: errZeroDimensions(w, h)}
	}
	if int64(w)*int64(h) > maxSourcePixels {
		return &DecodeError{Err: fmt.Errorf("source %dx%d exceeds %d pixels", w, h, maxSourcePixels)}
	}
	return nil
}

func stageDone(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
