package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/canvasflow/internal/compositor"
	"github.com/dunamismax/canvasflow/internal/source"
	"github.com/dunamismax/canvasflow/internal/telemetry"
)

const (
	StageFetch   = "fetch"
	StageCompose = "compose"
	StageEmit    = "emit"
)

// StageError records which stage of Process failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// FailedStage returns the stage err came from, or "" when it did not come from
// Process.
func FailedStage(err error) string {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage
	}
	return ""
}

type Request struct {
	ID     string
	Source source.Ref
	Params compositor.Params
}

type Output struct {
	ID          string
	Format      string
	ContentType string
	Path        string
	Bytes       int
	Width       int
	Height      int
}

type Result struct {
	Canvas      compositor.Result
	Output      Output
	SourceBytes int
	// Waited is the time spent queued for a render slot.
	Waited time.Duration
}

type Fetcher interface {
	Fetch(ctx context.Context, ref source.Ref) ([]byte, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, canvas compositor.Result) (Output, error)
}

// Processor runs one canvas request: fetch the source, compose, emit. Fetches
// run freely; compose holds one of a bounded number of render slots because a
// full-size canvas costs hundreds of megabytes.
type Processor struct {
	fetcher    Fetcher
	compositor *compositor.Compositor
	emitter    Emitter
	defaults   compositor.CanvasSpec
	sem        chan struct{}
	tracer     trace.Tracer
}

func NewProcessor(fetcher Fetcher, comp *compositor.Compositor, emitter Emitter) *Processor {
	return &Processor{
		fetcher:    fetcher,
		compositor: comp,
		emitter:    emitter,
		defaults:   compositor.DefaultSpec(),
		tracer:     otel.Tracer(telemetry.PipelineScope),
	}
}

// NewLocalProcessor reads local files and writes canvases into outputDir.
func NewLocalProcessor(outputDir string) (*Processor, error) {
	comp, err := compositor.New()
	if err != nil {
		return nil, fmt.Errorf("build compositor: %w", err)
	}

	return NewProcessor(
		source.NewAcquirer(source.Options{AllowLocal: true}),
		comp,
		LocalFileEmitter{OutputDir: outputDir},
	), nil
}

// WithDefaults sets the deployment defaults for edge cap and encoders.
func (p *Processor) WithDefaults(spec compositor.CanvasSpec) *Processor {
	p.defaults = spec
	return p
}

// WithConcurrency bounds concurrent compose stages. n < 1 removes the bound.
func (p *Processor) WithConcurrency(n int) *Processor {
	if n < 1 {
		p.sem = nil
		return p
	}
	p.sem = make(chan struct{}, n)
	return p
}

func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.ID) == "" {
		return Result{}, errors.New("request id is required")
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.process")
	span.SetAttributes(
		attribute.String("canvas.request_id", req.ID),
		attribute.String("canvas.source_kind", string(req.Source.Kind)),
	)
	defer span.End()

	res, err := p.process(ctx, span, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, FailedStage(err)+" stage failed")
		return Result{}, err
	}

	span.SetAttributes(
		attribute.Int("canvas.width", res.Canvas.Width),
		attribute.Int("canvas.height", res.Canvas.Height),
		attribute.Int("canvas.bytes", len(res.Canvas.Data)),
	)
	span.SetStatus(codes.Ok, "rendered")
	return res, nil
}

func (p *Processor) process(ctx context.Context, span trace.Span, req Request) (Result, error) {
	sourceBytes, err := p.fetcher.Fetch(ctx, req.Source)
	if err != nil {
		return Result{}, &StageError{Stage: StageFetch, Err: err}
	}
	span.AddEvent("source fetched", trace.WithAttributes(attribute.Int("source.bytes", len(sourceBytes))))

	waited, release, err := p.acquire(ctx)
	if err != nil {
		return Result{}, &StageError{Stage: StageCompose, Err: err}
	}
	canvas, err := p.compositor.Compose(ctx, sourceBytes, req.Params.SpecFrom(p.defaults))
	release()
	if err != nil {
		return Result{}, &StageError{Stage: StageCompose, Err: err}
	}
	span.AddEvent("canvas composed")

	written, err := p.emitter.Emit(ctx, req, canvas)
	if err != nil {
		return Result{}, &StageError{Stage: StageEmit, Err: err}
	}

	return Result{
		Canvas:      canvas,
		Output:      written,
		SourceBytes: len(sourceBytes),
		Waited:      waited,
	}, nil
}

func (p *Processor) acquire(ctx context.Context) (time.Duration, func(), error) {
	if p.sem == nil {
		return 0, func() {}, nil
	}

	start := time.Now()
	select {
	case p.sem <- struct{}{}:
		return time.Since(start), func() { <-p.sem }, nil
	case <-ctx.Done():
		return time.Since(start), nil, ctx.Err()
	}
}
