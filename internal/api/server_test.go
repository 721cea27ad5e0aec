package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dunamismax/canvasflow/internal/compositor"
	"github.com/dunamismax/canvasflow/internal/pipeline"
	"github.com/dunamismax/canvasflow/internal/ratelimit"
	"github.com/dunamismax/canvasflow/internal/source"
	"github.com/dunamismax/canvasflow/internal/storage"
)

func newTestServer(t *testing.T, opts Options) *httptest.Server {
	t.Helper()

	if opts.Processor == nil {
		opts.Processor = pipeline.NewProcessor(
			source.NewAcquirer(source.Options{}),
			compositor.NewWithRenderer(compositor.ImagingRenderer{}),
			pipeline.DiscardEmitter{},
		)
	}
	opts.Logger = zerolog.Nop()

	srv := httptest.NewServer(NewServer(opts).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, Options{})

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected generated request id")
	}
}

func TestCanvasPostRendersDataURI(t *testing.T) {
	srv := newTestServer(t, Options{})

	body := map[string]any{
		"src":   dataURI(t, buildTestPNG(t, 160, 90)),
		"ratio": "3:4",
		"matte": 0.1,
		"bg":    "color-000000",
		"max":   600,
	}
	resp := postJSON(t, srv.URL+"/v1/canvas", body)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, readBody(t, resp))
	}
	if resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("expected image/png, got %s", resp.Header.Get("Content-Type"))
	}
	if resp.Header.Get("X-Canvas-Width") != "450" || resp.Header.Get("X-Canvas-Height") != "600" {
		t.Fatalf("unexpected canvas headers %s x %s", resp.Header.Get("X-Canvas-Width"), resp.Header.Get("X-Canvas-Height"))
	}
	if resp.Header.Get("Cache-Control") != "no-store" {
		t.Fatalf("expected no-store, got %q", resp.Header.Get("Cache-Control"))
	}

	img, err := png.Decode(resp.Body)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 450 || b.Dy() != 600 {
		t.Fatalf("expected 450x600, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestCanvasGetRendersJPEG(t *testing.T) {
	var got pipeline.Request
	srv := newTestServer(t, Options{Processor: processorFunc(func(_ context.Context, req pipeline.Request) (pipeline.Result, error) {
		got = req
		return pipeline.Result{Canvas: compositor.Result{Data: []byte("jpeg"), Format: compositor.FormatJPEG, Width: 700, Height: 1000}}, nil
	})})

	resp, err := http.Get(srv.URL + "/v1/canvas?src=https://cdn.example.com/dog.jpg&ratio=21x30&fmt=jpeg&blur=12")
	if err != nil {
		t.Fatalf("get canvas: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/jpeg" {
		t.Fatalf("expected jpeg 200, got %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if got.Source.Kind != source.KindHTTP || got.Params.Ratio != "21x30" || got.Params.Format != "jpeg" || *got.Params.Blur != 12 {
		t.Fatalf("unexpected pipeline request %+v", got)
	}
	if got.ID == "" || got.ID != resp.Header.Get("X-Request-ID") {
		t.Fatalf("expected request id %q to be propagated, got %q", resp.Header.Get("X-Request-ID"), got.ID)
	}
}

func TestCanvasRequestErrors(t *testing.T) {
	srv := newTestServer(t, Options{MaxBodyBytes: 4 << 10})

	cases := []struct {
		name   string
		body   string
		status int
	}{
		{"missing src", `{"ratio":"1:1"}`, http.StatusBadRequest},
		{"unknown field", `{"src":"x","colour":"red"}`, http.StatusBadRequest},
		{"two values", `{"src":"x"}{"src":"y"}`, http.StatusBadRequest},
		{"bad scheme", `{"src":"ftp://example.com/a.png"}`, http.StatusBadRequest},
		{"local path", `{"src":"/etc/passwd"}`, http.StatusBadRequest},
		{"bad data uri", `{"src":"data:image/png;base64,!!!"}`, http.StatusBadRequest},
		{"not an image", `{"src":"data:image/png;base64,` + base64.StdEncoding.EncodeToString([]byte("hello")) + `"}`, http.StatusUnprocessableEntity},
		{"too large", `{"src":"` + strings.Repeat("a", 5<<10) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/v1/canvas", "application/json", strings.NewReader(tc.body))
			if err != nil {
				t.Fatalf("post: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, resp.StatusCode, readBody(t, resp))
			}
			var payload map[string]string
			if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil || payload["error"] == "" {
				t.Fatalf("expected error body, got %v (%v)", payload, err)
			}
		})
	}
}

func TestStatusForError(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{&pipeline.StageError{Stage: pipeline.StageFetch, Err: &source.StatusError{URL: "u", Code: 404}}, http.StatusBadGateway},
		{&pipeline.StageError{Stage: pipeline.StageFetch, Err: errors.New("dial tcp: refused")}, http.StatusBadGateway},
		{&pipeline.StageError{Stage: pipeline.StageFetch, Err: source.ErrSourceTooLarge}, http.StatusRequestEntityTooLarge},
		{&pipeline.StageError{Stage: pipeline.StageFetch, Err: fmt.Errorf("read object %q: %w", "uploads/cat.png", storage.ErrSourceNotFound)}, http.StatusNotFound},
		{&pipeline.StageError{Stage: pipeline.StageFetch, Err: storage.ErrNotImage}, http.StatusUnsupportedMediaType},
		{&pipeline.StageError{Stage: pipeline.StageCompose, Err: &compositor.DecodeError{Err: errors.New("bad")}}, http.StatusUnprocessableEntity},
		{&pipeline.StageError{Stage: pipeline.StageCompose, Err: &compositor.EncodeError{Format: compositor.FormatPNG, Err: errors.New("disk")}}, http.StatusInternalServerError},
		{&pipeline.StageError{Stage: pipeline.StageCompose, Err: &compositor.GeometryError{Reason: "zero"}}, http.StatusInternalServerError},
		{&pipeline.StageError{Stage: pipeline.StageCompose, Err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		status, msg := statusForError(tc.err)
		if status != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, status)
		}
		if status == http.StatusInternalServerError && strings.Contains(msg, "disk") {
			t.Fatalf("internal error leaked to client: %q", msg)
		}
	}
}

type stubLimiter struct {
	decision ratelimit.Decision
	err      error
	subjects []string
	costs    []int
}

func (l *stubLimiter) AllowN(_ context.Context, subject string, cost int) (ratelimit.Decision, error) {
	l.subjects = append(l.subjects, subject)
	l.costs = append(l.costs, cost)
	return l.decision, l.err
}

func TestRenderCost(t *testing.T) {
	cases := map[int]int{
		512:  1,
		4096: 1,
		4097: 2,
		6000: 3,
		8192: 4,
	}
	for edge, want := range cases {
		if got := renderCost(edge); got != want {
			t.Fatalf("renderCost(%d): expected %d, got %d", edge, want, got)
		}
	}
}

func TestRateLimitChargesByCanvasSize(t *testing.T) {
	limiter := &stubLimiter{decision: ratelimit.Decision{Allowed: true, Limit: 30, Remaining: 20}}
	defaults := compositor.DefaultSpec()
	defaults.MaxEdge = 2048
	srv := newTestServer(t, Options{
		RateLimiter:    limiter,
		CanvasDefaults: defaults,
		Processor: processorFunc(func(context.Context, pipeline.Request) (pipeline.Result, error) {
			return pipeline.Result{Canvas: compositor.Result{Data: []byte("png"), Format: compositor.FormatPNG, Width: 1, Height: 1}}, nil
		}),
	})

	for _, query := range []string{"", "&max=8192", "&max=6000"} {
		resp, err := http.Get(srv.URL + "/v1/canvas?src=https://cdn.example.com/a.png" + query)
		if err != nil {
			t.Fatalf("get canvas: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("query %q: expected 200, got %d", query, resp.StatusCode)
		}
		if resp.Header.Get("X-RateLimit-Remaining") != "20" {
			t.Fatalf("query %q: missing rate limit headers %v", query, resp.Header)
		}
	}

	if len(limiter.costs) != 3 || limiter.costs[0] != 1 || limiter.costs[1] != 4 || limiter.costs[2] != 3 {
		t.Fatalf("unexpected costs %v", limiter.costs)
	}
}

func TestRateLimitSkipsInvalidRequests(t *testing.T) {
	limiter := &stubLimiter{decision: ratelimit.Decision{Allowed: true}}
	srv := newTestServer(t, Options{RateLimiter: limiter})

	resp, err := http.Get(srv.URL + "/v1/canvas")
	if err != nil {
		t.Fatalf("get canvas: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if len(limiter.costs) != 0 {
		t.Fatalf("expected no charge for an invalid request, got %v", limiter.costs)
	}
}

func TestRateLimitRejects(t *testing.T) {
	limiter := &stubLimiter{decision: ratelimit.Decision{Allowed: false, Limit: 30, RetryAfter: 1500 * time.Millisecond}}
	srv := newTestServer(t, Options{RateLimiter: limiter})

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/canvas?src=https://cdn.example.com/a.png", nil)
	req.Header.Set("X-User-ID", "user-7")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get canvas: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") != "2" || resp.Header.Get("X-RateLimit-Limit") != "30" {
		t.Fatalf("unexpected rate limit headers %v", resp.Header)
	}
	if len(limiter.subjects) != 1 || limiter.subjects[0] != "user-7:canvas" {
		t.Fatalf("unexpected subjects %q", limiter.subjects)
	}

	health, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	health.Body.Close()
	if health.StatusCode != http.StatusOK || len(limiter.subjects) != 1 {
		t.Fatal("expected healthz to bypass the rate limiter")
	}
}

func TestRateLimitFailsOpen(t *testing.T) {
	limiter := &stubLimiter{err: errors.New("redis down")}
	srv := newTestServer(t, Options{
		RateLimiter: limiter,
		Processor: processorFunc(func(context.Context, pipeline.Request) (pipeline.Result, error) {
			return pipeline.Result{Canvas: compositor.Result{Data: []byte("png"), Format: compositor.FormatPNG, Width: 1, Height: 1}}, nil
		}),
	})

	resp, err := http.Get(srv.URL + "/v1/canvas?src=https://cdn.example.com/a.png")
	if err != nil {
		t.Fatalf("get canvas: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected limiter failure to pass through, got %d", resp.StatusCode)
	}
	if len(limiter.subjects) != 1 || !strings.HasPrefix(limiter.subjects[0], "127.0.0.1") {
		t.Fatalf("expected client ip subject, got %q", limiter.subjects)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, Options{AllowedOrigins: []string{"https://shop.example.com"}})

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/v1/canvas", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "https://shop.example.com" {
		t.Fatalf("expected allowed origin, got %q", resp.Header.Get("Access-Control-Allow-Origin"))
	}

	req.Header.Set("Origin", "https://evil.example.com")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()
	if resp.Header.Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("expected unknown origin to be refused")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, Options{})

	health, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	health.Body.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()

	body := readBody(t, resp)
	if !strings.Contains(body, `canvasflow_api_requests_total{method="GET",route="/healthz",status="200"} 1`) {
		t.Fatalf("expected healthz request counter in metrics output:\n%s", body)
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	srv := newTestServer(t, Options{})

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	req.Header.Set("X-Request-ID", "order-42")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	resp.Body.Close()

	if resp.Header.Get("X-Request-ID") != "order-42" {
		t.Fatalf("expected echoed request id, got %q", resp.Header.Get("X-Request-ID"))
	}
}

type processorFunc func(ctx context.Context, req pipeline.Request) (pipeline.Result, error)

func (f processorFunc) Process(ctx context.Context, req pipeline.Request) (pipeline.Result, error) {
	return f(ctx, req)
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))
	return string(data)
}

func dataURI(t *testing.T, data []byte) string {
	t.Helper()
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
}

func buildTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 140, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}
