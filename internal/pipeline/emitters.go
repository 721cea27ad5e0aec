package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dunamismax/canvasflow/internal/compositor"
	"github.com/dunamismax/canvasflow/internal/storage"
)

// DiscardEmitter describes the canvas without persisting it. The API streams
// Result.Canvas.Data to the client instead.
type DiscardEmitter struct{}

func (DiscardEmitter) Emit(_ context.Context, req Request, canvas compositor.Result) (Output, error) {
	return describe(req, canvas, ""), nil
}

type LocalFileEmitter struct {
	OutputDir string
	// Path, when set, is the exact destination and OutputDir is ignored.
	Path string
}

func (e LocalFileEmitter) Emit(ctx context.Context, req Request, canvas compositor.Result) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	fullPath := e.Path
	if strings.TrimSpace(fullPath) == "" {
		if strings.TrimSpace(e.OutputDir) == "" {
			return Output{}, errors.New("output directory is required")
		}
		fullPath = filepath.Join(e.OutputDir, outputName(req, canvas))
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return Output{}, fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(fullPath, canvas.Data, 0o644); err != nil {
		return Output{}, fmt.Errorf("write output file: %w", err)
	}

	return describe(req, canvas, fullPath), nil
}

type ObjectStoreEmitter struct {
	Storage      *storage.Client
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, canvas compositor.Result) (Output, error) {
	if e.Storage == nil {
		return Output{}, errors.New("storage client is required")
	}

	objectKey := path.Join(defaultOutputPrefix(e.OutputPrefix), outputName(req, canvas))
	err := e.Storage.PutCanvas(ctx, objectKey, storage.Canvas{
		Data:        canvas.Data,
		ContentType: canvas.ContentType(),
		Width:       canvas.Width,
		Height:      canvas.Height,
		RequestID:   req.ID,
	})
	if err != nil {
		return Output{}, err
	}

	return describe(req, canvas, objectKey), nil
}

func describe(req Request, canvas compositor.Result, where string) Output {
	return Output{
		ID:          req.ID,
		Format:      string(canvas.Format),
		ContentType: canvas.ContentType(),
		Path:        where,
		Bytes:       len(canvas.Data),
		Width:       canvas.Width,
		Height:      canvas.Height,
	}
}

func outputName(req Request, canvas compositor.Result) string {
	return fmt.Sprintf("%s.%s", sanitizePathToken(req.ID), canvas.Format.Extension())
}

func defaultOutputPrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return "canvases"
	}
	return prefix
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
