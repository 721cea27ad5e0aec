package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/dunamismax/canvasflow/internal/compositor"
	"github.com/dunamismax/canvasflow/internal/config"
	"github.com/dunamismax/canvasflow/internal/domain"
	"github.com/dunamismax/canvasflow/internal/logging"
	"github.com/dunamismax/canvasflow/internal/pipeline"
	"github.com/dunamismax/canvasflow/internal/source"
	"github.com/dunamismax/canvasflow/internal/storage"
)

func main() {
	var (
		srcFlag     string
		outFlag     string
		ratioFlag   string
		matteFlag   float64
		bgFlag      string
		blurFlag    float64
		fmtFlag     string
		maxFlag     int
		uploadFlag  bool
		timeoutFlag time.Duration
	)

	flag.StringVar(&srcFlag, "src", "", "source image: local path, http(s) URL, s3://key or data URI")
	flag.StringVar(&outFlag, "out", "", "output file (default: <src name>-canvas.<ext> in the working directory)")
	flag.StringVar(&ratioFlag, "ratio", compositor.DefaultRatio, `canvas aspect ratio, e.g. "3:4" or "21x30"`)
	flag.Float64Var(&matteFlag, "matte", compositor.DefaultMatte, "fraction of each canvas edge reserved as border (0 to 0.49)")
	flag.StringVar(&bgFlag, "bg", "blur", `border fill: "blur" or "color-RRGGBB"`)
	flag.Float64Var(&blurFlag, "blur", compositor.DefaultBlurSigma, "gaussian sigma of the blurred border")
	flag.StringVar(&fmtFlag, "fmt", "png", "output format: png or jpeg")
	flag.IntVar(&maxFlag, "max", 0, "long edge of the canvas in pixels (0 uses CANVAS_DEFAULT_MAX_EDGE)")
	flag.BoolVar(&uploadFlag, "upload", false, "write the canvas to the configured object store instead of a local file")
	flag.DurationVar(&timeoutFlag, "timeout", 2*time.Minute, "overall deadline")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()
	logger := logging.New(cfg.App.Env, cfg.App.LogLevel).With().Str("component", "canvas").Logger()

	req := domain.CanvasRequest{
		Src:   srcFlag,
		Ratio: domain.Ratio(ratioFlag),
		Matte: &matteFlag,
		BG:    bgFlag,
		Blur:  &blurFlag,
		Fmt:   fmtFlag,
	}
	if maxFlag > 0 {
		req.Max = &maxFlag
	}
	if err := req.Validate(); err != nil {
		exitWithError(fmt.Errorf("-%w", err))
	}
	ref, err := req.SourceRef()
	if err != nil {
		exitWithError(err)
	}

	if err := compositor.Startup(); err != nil {
		exitWithError(fmt.Errorf("compositor startup: %w", err))
	}
	defer compositor.Shutdown()

	comp, err := compositor.New()
	if err != nil {
		exitWithError(err)
	}

	sourceOpts := source.Options{
		HTTP: source.HTTPConfig{
			Timeout:        cfg.Source.FetchTimeout,
			MaxAttempts:    cfg.Source.MaxAttempts,
			InitialBackoff: cfg.Source.InitialBackoff,
			MaxBackoff:     cfg.Source.MaxBackoff,
		},
		AllowLocal: true,
		MaxBytes:   cfg.Source.MaxBytes,
	}

	var store *storage.Client
	if cfg.Storage.Enabled || uploadFlag || ref.Kind == source.KindObject {
		store, err = storage.NewClient(storage.Config{
			Endpoint:       cfg.Storage.Endpoint,
			Access:         cfg.Storage.AccessKey,
			Secret:         cfg.Storage.SecretKey,
			Bucket:         cfg.Storage.Bucket,
			UseSSL:         cfg.Storage.UseSSL,
			MaxObjectBytes: cfg.Source.MaxBytes,
		})
		if err != nil {
			exitWithError(err)
		}
		sourceOpts.Objects = store
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeoutFlag)
	defer cancel()

	var emitter pipeline.Emitter
	if uploadFlag {
		if err := store.EnsureBucket(ctx); err != nil {
			exitWithError(err)
		}
		emitter = pipeline.ObjectStoreEmitter{Storage: store, OutputPrefix: cfg.Storage.OutputDir}
	} else {
		emitter = pipeline.LocalFileEmitter{Path: outputPath(outFlag, ref, compositor.ParseFormat(fmtFlag))}
	}

	processor := pipeline.NewProcessor(source.NewAcquirer(sourceOpts), comp, emitter).
		WithDefaults(cfg.Compositor.CanvasDefaults())

	start := time.Now()
	result, err := processor.Process(ctx, pipeline.Request{
		ID:     uuid.NewString(),
		Source: ref,
		Params: req.Params(),
	})
	if err != nil {
		exitWithError(err)
	}

	logger.Info().
		Str("source", ref.String()).
		Str("output", result.Output.Path).
		Int("width", result.Output.Width).
		Int("height", result.Output.Height).
		Int("bytes", result.Output.Bytes).
		Dur("elapsed", time.Since(start)).
		Msg("canvas written")
}

// outputPath picks the destination when -out is empty.
func outputPath(out string, ref source.Ref, format compositor.Format) string {
	if out = strings.TrimSpace(out); out != "" {
		return out
	}

	name := "canvas"
	switch ref.Kind {
	case source.KindLocal, source.KindHTTP, source.KindObject:
		base := filepath.Base(ref.Value)
		if i := strings.IndexAny(base, "?#"); i >= 0 {
			base = base[:i]
		}
		base = strings.TrimSuffix(base, filepath.Ext(base))
		if base != "" && base != "." && base != "/" {
			name = base + "-canvas"
		}
	}
	return name + "." + format.Extension()
}

func exitWithError(err error) {
	if errors.Is(err, compositor.ErrDecode) {
		fmt.Fprintln(os.Stderr, "error: source is not a decodable image:", err)
		os.Exit(2)
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
