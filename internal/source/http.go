package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const userAgent = "canvasflow/1.0"

// StatusError is a non-2xx upstream response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: upstream returned status=%d", e.URL, e.Code)
}

type HTTPConfig struct {
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxBytes       int64
}

// HTTPFetcher downloads sources over http(s). Network errors, 429 and 5xx are
// retried with exponential backoff. A 401/403 is retried once with a Referer of
// the source origin, which hotlink-protected image hosts require.
type HTTPFetcher struct {
	httpClient     *http.Client
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	maxBytes       int64
}

func NewHTTPFetcher(cfg HTTPConfig) *HTTPFetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = 250 * time.Millisecond
	}

	maxBackoff := cfg.MaxBackoff
	if maxBackoff < initialBackoff {
		maxBackoff = initialBackoff
	}

	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	return &HTTPFetcher{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxAttempts:    maxAttempts,
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
		maxBytes:       maxBytes,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedSource, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", ErrUnsupportedSource, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrUnsupportedSource)
	}

	referer := ""
	refererTried := false
	backoff := f.initialBackoff
	var lastErr error
	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, status, err := f.get(ctx, u.String(), referer)
		if err == nil {
			return data, nil
		}
		if errors.Is(err, ErrSourceTooLarge) {
			return nil, err
		}
		lastErr = err

		if (status == http.StatusForbidden || status == http.StatusUnauthorized) && !refererTried {
			refererTried = true
			referer = u.Scheme + "://" + u.Host + "/"
			// The referer retry does not count against transient retries.
			attempt--
			continue
		}
		if !retryable(status) {
			break
		}
		if attempt == f.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		backoff = minDuration(backoff*2, f.maxBackoff)
	}

	return nil, lastErr
}

func (f *HTTPFetcher) get(ctx context.Context, target, referer string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build source request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "image/*")
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, resp.StatusCode, &StatusError{URL: target, Code: resp.StatusCode}
	}
	if resp.ContentLength > f.maxBytes {
		return nil, resp.StatusCode, fmt.Errorf("%w: %d bytes", ErrSourceTooLarge, resp.ContentLength)
	}

	data, err := readLimited(resp.Body, f.maxBytes)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return data, resp.StatusCode, nil
}

// retryable reports whether a failed attempt may succeed later. Status 0 is a
// transport error.
func retryable(status int) bool {
	return status == 0 || status == http.StatusTooManyRequests || status >= 500
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read source body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrSourceTooLarge, limit)
	}
	return data, nil
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
