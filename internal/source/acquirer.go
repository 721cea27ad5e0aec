package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const DefaultMaxBytes int64 = 40 << 20

// ObjectReader reads uploaded sources by key. storage.Client satisfies it.
type ObjectReader interface {
	ReadSource(ctx context.Context, key string) ([]byte, error)
}

type Options struct {
	HTTP       HTTPConfig
	Objects    ObjectReader
	AllowLocal bool
	LocalRoot  string
	MaxBytes   int64
}

// Acquirer resolves a Ref to raw bytes. It never decodes them.
type Acquirer struct {
	http       *HTTPFetcher
	objects    ObjectReader
	allowLocal bool
	localRoot  string
	maxBytes   int64
}

func NewAcquirer(opts Options) *Acquirer {
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	httpCfg := opts.HTTP
	if httpCfg.MaxBytes <= 0 {
		httpCfg.MaxBytes = maxBytes
	}

	return &Acquirer{
		http:       NewHTTPFetcher(httpCfg),
		objects:    opts.Objects,
		allowLocal: opts.AllowLocal,
		localRoot:  strings.TrimSpace(opts.LocalRoot),
		maxBytes:   maxBytes,
	}
}

func (a *Acquirer) Fetch(ctx context.Context, ref Ref) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch ref.Kind {
	case KindDataURI:
		data, err := DecodeDataURI(ref.Value)
		if err != nil {
			return nil, err
		}
		if int64(len(data)) > a.maxBytes {
			return nil, fmt.Errorf("%w: %d bytes", ErrSourceTooLarge, len(data))
		}
		return data, nil
	case KindHTTP:
		return a.http.Fetch(ctx, ref.Value)
	case KindObject:
		if a.objects == nil {
			return nil, fmt.Errorf("%w: object storage is not configured", ErrUnsupportedSource)
		}
		data, err := a.objects.ReadSource(ctx, ref.Value)
		if err != nil {
			return nil, fmt.Errorf("read object %q: %w", ref.Value, err)
		}
		if int64(len(data)) > a.maxBytes {
			return nil, fmt.Errorf("%w: %d bytes", ErrSourceTooLarge, len(data))
		}
		return data, nil
	case KindLocal:
		return a.readLocal(ref.Value)
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrUnsupportedSource, ref.Kind)
	}
}

func (a *Acquirer) readLocal(path string) ([]byte, error) {
	if !a.allowLocal {
		return nil, fmt.Errorf("%w: local files are disabled", ErrUnsupportedSource)
	}

	path = filepath.Clean(path)
	if a.localRoot != "" {
		root, err := filepath.Abs(a.localRoot)
		if err != nil {
			return nil, fmt.Errorf("resolve local root: %w", err)
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil, fmt.Errorf("%w: %q is outside the local root", ErrUnsupportedSource, path)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open local source: %w", err)
	}
	defer f.Close()

	return readLimited(f, a.maxBytes)
}
