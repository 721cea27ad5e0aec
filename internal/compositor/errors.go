package compositor

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrDecode   = errors.New("decode source image")
	ErrGeometry = errors.New("invalid canvas geometry")
	ErrEncode   = errors.New("encode canvas")
)

// DecodeError reports source bytes that are not a usable image.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return ErrDecode.Error()
	}
	return fmt.Sprintf("%s: %v", ErrDecode, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// GeometryError is an internal invariant violation: clamping should make it
// unreachable.
type GeometryError struct {
	Reason string
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("%s: %s", ErrGeometry, e.Reason)
}

func (e *GeometryError) Is(target error) bool { return target == ErrGeometry }

type EncodeError struct {
	Format Format
	Err    error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("%s as %s: %v", ErrEncode, e.Format, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

func (e *EncodeError) Is(target error) bool { return target == ErrEncode }

func geometryErrorf(format string, args ...any) error {
	return &GeometryError{Reason: fmt.Sprintf(format, args...)}
}

// rasterError reports a backend failure while assembling the canvas, after the
// source decoded and before encoding finished.
func rasterError(format Format, op string, err error) error {
	return &EncodeError{Format: format, Err: fmt.Errorf("%s: %w", op, err)}
}

// escapeError narrows a backend error to the compositor taxonomy. Context
// errors pass through so callers can tell a cancelled render apart.
func escapeError(err error, format Format) error {
	switch {
	case errors.Is(err, ErrDecode), errors.Is(err, ErrGeometry), errors.Is(err, ErrEncode):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return rasterError(format, "render", err)
	}
}

var errEmptySource = errors.New("source is empty")

func errZeroDimensions(w, h int) error {
	return fmt.Errorf("source has zero dimensions %dx%d", w, h)
}
