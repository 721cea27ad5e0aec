package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/canvasflow/internal/compositor"
)

type Config struct {
	App        AppConfig
	API        APIConfig
	Source     SourceConfig
	Storage    StorageConfig
	Redis      RedisConfig
	RateLimit  RateLimitConfig
	Tracing    TracingConfig
	Compositor CompositorConfig
}

type AppConfig struct {
	Env      string
	LogLevel string
}

type APIConfig struct {
	Addr           string
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	AllowedOrigins []string
}

type SourceConfig struct {
	FetchTimeout   time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxBytes       int64
}

type StorageConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	OutputDir string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	Enabled  bool
	Capacity int
	Window   time.Duration
	Prefix   string
}

type TracingConfig struct {
	ServiceName  string
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

type CompositorConfig struct {
	MaxActiveRenders int
	DefaultMaxEdge   int
	PNGCompression   string
}

// CanvasDefaults is the base spec every request is resolved against.
func (c CompositorConfig) CanvasDefaults() compositor.CanvasSpec {
	spec := compositor.DefaultSpec()
	spec.MaxEdge = c.DefaultMaxEdge
	spec.PNGCompression = compositor.ParsePNGCompression(c.PNGCompression)
	return spec.Normalize()
}

func Load() Config {
	return Config{
		App: AppConfig{
			Env:      env("APP_ENV", "production"),
			LogLevel: env("LOG_LEVEL", "info"),
		},
		API: APIConfig{
			Addr:           env("CANVASFLOW_API_ADDR", ":8080"),
			RequestTimeout: envDuration("CANVASFLOW_REQUEST_TIMEOUT", 60*time.Second),
			MaxBodyBytes:   int64(envInt("CANVASFLOW_MAX_BODY_BYTES", 64<<20)),
			AllowedOrigins: envList("CANVASFLOW_ALLOWED_ORIGINS", nil),
		},
		Source: SourceConfig{
			FetchTimeout:   envDuration("SOURCE_FETCH_TIMEOUT", 15*time.Second),
			MaxAttempts:    envInt("SOURCE_FETCH_MAX_ATTEMPTS", 3),
			InitialBackoff: envDuration("SOURCE_FETCH_INITIAL_BACKOFF", 250*time.Millisecond),
			MaxBackoff:     envDuration("SOURCE_FETCH_MAX_BACKOFF", 2*time.Second),
			MaxBytes:       int64(envInt("SOURCE_MAX_BYTES", 40<<20)),
		},
		Storage: StorageConfig{
			Enabled:   envBool("MINIO_ENABLED", false),
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "canvasflow"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
			OutputDir: env("CANVASFLOW_OUTPUT_PREFIX", "canvases"),
		},
		Redis: RedisConfig{
			Addr:     env("REDIS_ADDR", "localhost:6379"),
			Password: env("REDIS_PASSWORD", ""),
			DB:       envInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Enabled:  envBool("RATE_LIMIT_ENABLED", false),
			Capacity: envInt("RATE_LIMIT_CAPACITY", 30),
			Window:   envDuration("RATE_LIMIT_WINDOW", time.Minute),
			Prefix:   env("RATE_LIMIT_PREFIX", "canvasflow:ratelimit"),
		},
		Tracing: TracingConfig{
			ServiceName:  env("OTEL_SERVICE_NAME", "canvasflow-api"),
			Exporter:     env("OTEL_TRACES_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio:  envFloat("OTEL_TRACES_SAMPLER_ARG", 1),
		},
		Compositor: CompositorConfig{
			MaxActiveRenders: envInt("CANVAS_MAX_ACTIVE_RENDERS", max(1, runtime.NumCPU()/2)),
			DefaultMaxEdge:   envInt("CANVAS_DEFAULT_MAX_EDGE", 4096),
			PNGCompression:   env("CANVAS_PNG_COMPRESSION", "default"),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envList(key string, fallback []string) []string {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
