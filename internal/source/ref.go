package source

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindDataURI Kind = "data_uri"
	KindHTTP    Kind = "http"
	KindObject  Kind = "object"
	KindLocal   Kind = "local_file"
)

var (
	ErrUnsupportedSource = errors.New("unsupported source")
	ErrEmptySource       = errors.New("source is required")
	ErrSourceTooLarge    = errors.New("source exceeds size limit")
	ErrInvalidDataURI    = errors.New("invalid data URI")
)

// Ref points at source bytes: a data URI, an http(s) URL, an object key or a
// local path.
type Ref struct {
	Kind  Kind
	Value string
}

func (r Ref) String() string {
	if r.Kind == KindDataURI {
		return "data:..."
	}
	return fmt.Sprintf("%s:%s", r.Kind, r.Value)
}

func ParseRef(raw string) (Ref, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Ref{}, ErrEmptySource
	}

	lower := strings.ToLower(raw)
	switch {
	case strings.HasPrefix(lower, "data:"):
		return Ref{Kind: KindDataURI, Value: raw}, nil
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return Ref{Kind: KindHTTP, Value: raw}, nil
	case strings.HasPrefix(lower, "s3://"):
		return objectRef(raw[len("s3://"):])
	case strings.HasPrefix(lower, "object:"):
		return objectRef(raw[len("object:"):])
	case strings.Contains(lower, "://"):
		return Ref{}, fmt.Errorf("%w: scheme in %q", ErrUnsupportedSource, raw)
	default:
		return Ref{Kind: KindLocal, Value: raw}, nil
	}
}

func objectRef(key string) (Ref, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return Ref{}, fmt.Errorf("%w: empty object key", ErrUnsupportedSource)
	}
	return Ref{Kind: KindObject, Value: key}, nil
}
