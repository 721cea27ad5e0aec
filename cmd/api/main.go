package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/dunamismax/canvasflow/internal/api"
	"github.com/dunamismax/canvasflow/internal/compositor"
	"github.com/dunamismax/canvasflow/internal/config"
	"github.com/dunamismax/canvasflow/internal/logging"
	"github.com/dunamismax/canvasflow/internal/pipeline"
	"github.com/dunamismax/canvasflow/internal/ratelimit"
	"github.com/dunamismax/canvasflow/internal/source"
	"github.com/dunamismax/canvasflow/internal/storage"
	"github.com/dunamismax/canvasflow/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logging.New(cfg.App.Env, cfg.App.LogLevel).With().Str("component", "api").Logger()

	ctx := context.Background()
	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  cfg.Tracing.ServiceName,
		Environment:  cfg.App.Env,
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("tracing setup failed")
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error().Err(err).Msg("tracing shutdown failed")
		}
	}()

	if err := compositor.Startup(); err != nil {
		logger.Fatal().Err(err).Msg("compositor startup failed")
	}
	defer compositor.Shutdown()

	comp, err := compositor.New()
	if err != nil {
		logger.Fatal().Err(err).Msg("build compositor")
	}

	sourceOpts := source.Options{
		HTTP: source.HTTPConfig{
			Timeout:        cfg.Source.FetchTimeout,
			MaxAttempts:    cfg.Source.MaxAttempts,
			InitialBackoff: cfg.Source.InitialBackoff,
			MaxBackoff:     cfg.Source.MaxBackoff,
		},
		MaxBytes: cfg.Source.MaxBytes,
	}
	if cfg.Storage.Enabled {
		store, err := storage.NewClient(storage.Config{
			Endpoint:       cfg.Storage.Endpoint,
			Access:         cfg.Storage.AccessKey,
			Secret:         cfg.Storage.SecretKey,
			Bucket:         cfg.Storage.Bucket,
			UseSSL:         cfg.Storage.UseSSL,
			MaxObjectBytes: cfg.Source.MaxBytes,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("storage client setup failed")
		}
		sourceOpts.Objects = store
		logger.Info().Str("bucket", store.Bucket()).Msg("object-store sources enabled")
	}

	processor := pipeline.NewProcessor(
		source.NewAcquirer(sourceOpts),
		comp,
		pipeline.DiscardEmitter{},
	).WithDefaults(cfg.Compositor.CanvasDefaults()).
		WithConcurrency(cfg.Compositor.MaxActiveRenders)

	var limiter ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Error().Err(err).Msg("redis client close failed")
			}
		}()

		budget, err := ratelimit.NewRenderBudget(rdb, ratelimit.BudgetConfig{
			Capacity: cfg.RateLimit.Capacity,
			Window:   cfg.RateLimit.Window,
			Prefix:   cfg.RateLimit.Prefix,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("rate limiter setup failed")
		}
		limiter = budget
		logger.Info().Int("capacity", cfg.RateLimit.Capacity).Dur("window", cfg.RateLimit.Window).Msg("rate limiting enabled")
	}

	app := api.NewServer(api.Options{
		Logger:         logger,
		Processor:      processor,
		Tracer:         otel.Tracer(telemetry.APIScope),
		RateLimiter:    limiter,
		RequestTimeout: cfg.API.RequestTimeout,
		MaxBodyBytes:   cfg.API.MaxBodyBytes,
		AllowedOrigins: cfg.API.AllowedOrigins,
		CanvasDefaults: cfg.Compositor.CanvasDefaults(),
	})

	httpServer := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.API.RequestTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.API.Addr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info().Msg("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
