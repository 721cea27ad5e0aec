package config

import (
	"image/png"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.API.Addr != ":8080" {
		t.Fatalf("expected :8080, got %s", cfg.API.Addr)
	}
	if cfg.Compositor.DefaultMaxEdge != 4096 {
		t.Fatalf("unexpected compositor defaults %+v", cfg.Compositor)
	}
	if cfg.Compositor.MaxActiveRenders < 1 {
		t.Fatalf("expected at least one render slot, got %d", cfg.Compositor.MaxActiveRenders)
	}
	if cfg.RateLimit.Enabled || cfg.Storage.Enabled {
		t.Fatal("expected optional backends to be disabled by default")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CANVASFLOW_API_ADDR", ":9090")
	t.Setenv("CANVASFLOW_REQUEST_TIMEOUT", "5s")
	t.Setenv("CANVASFLOW_ALLOWED_ORIGINS", "https://shop.example.com, ,https://admin.example.com")
	t.Setenv("RATE_LIMIT_ENABLED", "true")
	t.Setenv("RATE_LIMIT_CAPACITY", "7")
	t.Setenv("SOURCE_FETCH_MAX_ATTEMPTS", "not-a-number")
	t.Setenv("RATE_LIMIT_WINDOW", "-1s")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.2")

	cfg := Load()
	if cfg.API.Addr != ":9090" || cfg.API.RequestTimeout != 5*time.Second {
		t.Fatalf("unexpected api config %+v", cfg.API)
	}
	if len(cfg.API.AllowedOrigins) != 2 || cfg.API.AllowedOrigins[1] != "https://admin.example.com" {
		t.Fatalf("unexpected origins %q", cfg.API.AllowedOrigins)
	}
	if !cfg.RateLimit.Enabled || cfg.RateLimit.Capacity != 7 {
		t.Fatalf("unexpected rate limit config %+v", cfg.RateLimit)
	}
	if cfg.Source.MaxAttempts != 3 {
		t.Fatalf("expected malformed int to fall back to 3, got %d", cfg.Source.MaxAttempts)
	}
	if cfg.Tracing.SampleRatio != 0.2 {
		t.Fatalf("expected sample ratio 0.2, got %v", cfg.Tracing.SampleRatio)
	}
	if cfg.RateLimit.Window != time.Minute {
		t.Fatalf("expected negative duration to fall back, got %s", cfg.RateLimit.Window)
	}
}

func TestCanvasDefaults(t *testing.T) {
	t.Setenv("CANVAS_DEFAULT_MAX_EDGE", "100000")
	t.Setenv("CANVAS_PNG_COMPRESSION", "speed")

	spec := Load().Compositor.CanvasDefaults()
	if spec.MaxEdge != 8192 {
		t.Fatalf("expected max edge clamped to 8192, got %d", spec.MaxEdge)
	}
	if spec.PNGCompression != png.BestSpeed {
		t.Fatalf("unexpected encoder defaults %+v", spec)
	}
}
