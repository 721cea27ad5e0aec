package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/canvasflow/internal/compositor"
	"github.com/dunamismax/canvasflow/internal/domain"
	"github.com/dunamismax/canvasflow/internal/pipeline"
	"github.com/dunamismax/canvasflow/internal/ratelimit"
)

var errBodyTooLarge = errors.New("request body too large")

const (
	defaultRequestTimeout = 60 * time.Second
	defaultMaxBodyBytes   = 64 << 20
)

type Processor interface {
	Process(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

type Options struct {
	Logger                 zerolog.Logger
	Processor              Processor
	Tracer                 trace.Tracer
	RateLimiter            ratelimit.Limiter
	RateLimitSubjectHeader string
	RequestTimeout         time.Duration
	MaxBodyBytes           int64
	AllowedOrigins         []string
	// CanvasDefaults resolves omitted request fields, as the processor does.
	// The zero value means compositor.DefaultSpec.
	CanvasDefaults compositor.CanvasSpec
}

type Server struct {
	logger                 zerolog.Logger
	processor              Processor
	tracer                 trace.Tracer
	rateLimiter            ratelimit.Limiter
	rateLimitSubjectHeader string
	requestTimeout         time.Duration
	maxBodyBytes           int64
	allowedOrigins         []string
	canvasDefaults         compositor.CanvasSpec
	metrics                *metrics
	router                 chi.Router
}

func NewServer(opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.CanvasDefaults.MaxEdge == 0 {
		opts.CanvasDefaults = compositor.DefaultSpec()
	}
	if opts.RateLimitSubjectHeader == "" {
		opts.RateLimitSubjectHeader = "X-User-ID"
	}

	s := &Server{
		logger:                 opts.Logger,
		processor:              opts.Processor,
		tracer:                 opts.Tracer,
		rateLimiter:            opts.RateLimiter,
		rateLimitSubjectHeader: opts.RateLimitSubjectHeader,
		requestTimeout:         opts.RequestTimeout,
		maxBodyBytes:           opts.MaxBodyBytes,
		allowedOrigins:         opts.AllowedOrigins,
		canvasDefaults:         opts.CanvasDefaults,
		metrics:                newMetrics(),
		router:                 chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.Use(
		requestID,
		chimw.RealIP,
		chimw.Recoverer,
		s.withAccessLog,
		cors(s.allowedOrigins),
		s.withTracing,
		s.metrics.withHTTPMetrics,
	)

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Method(http.MethodGet, "/metrics", s.metrics.metricsHandler())
	s.router.Get("/v1/canvas", s.handleCanvasQuery)
	s.router.Post("/v1/canvas", s.handleCanvasJSON)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCanvasQuery(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, domain.CanvasRequestFromQuery(r.URL.Query()))
}

func (s *Server) handleCanvasJSON(w http.ResponseWriter, r *http.Request) {
	var req domain.CanvasRequest
	if err := decodeJSON(r, &req, s.maxBodyBytes); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, err.Error())
		return
	}
	s.render(w, r, req)
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, req domain.CanvasRequest) {
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ref, err := req.SourceRef()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	params := req.Params()
	if !s.allowRender(w, r, params.SpecFrom(s.canvasDefaults).MaxEdge) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	reqID := requestIDFromContext(r.Context())
	start := time.Now()
	s.metrics.activeRenders.Inc()
	result, err := s.processor.Process(ctx, pipeline.Request{
		ID:     reqID,
		Source: ref,
		Params: params,
	})
	s.metrics.activeRenders.Dec()
	if err != nil {
		s.metrics.renderDuration.WithLabelValues("failed").Observe(time.Since(start).Seconds())
		status, msg := statusForError(err)
		s.metrics.renderFailures.WithLabelValues(pipelineStageLabel(err), strconv.Itoa(status)).Inc()
		event := s.logger.Warn()
		if status >= http.StatusInternalServerError {
			event = s.logger.Error()
		}
		event.Err(err).
			Str("request_id", reqID).
			Str("source", ref.String()).
			Int("status", status).
			Msg("canvas render failed")
		writeError(w, status, msg)
		return
	}

	canvas := result.Canvas
	s.metrics.renderDuration.WithLabelValues("succeeded").Observe(time.Since(start).Seconds())
	s.metrics.slotWait.Observe(result.Waited.Seconds())
	s.metrics.pixelsRendered.Add(float64(canvas.Width) * float64(canvas.Height))
	s.metrics.renders.WithLabelValues(string(canvas.Format), string(ref.Kind)).Inc()
	s.metrics.outputBytes.WithLabelValues(string(canvas.Format)).Observe(float64(len(canvas.Data)))
	s.metrics.sourceBytes.Observe(float64(result.SourceBytes))

	s.logger.Debug().
		Str("request_id", reqID).
		Str("source", ref.String()).
		Int("width", canvas.Width).
		Int("height", canvas.Height).
		Int("bytes", len(canvas.Data)).
		Msg("canvas rendered")

	h := w.Header()
	h.Set("Content-Type", canvas.ContentType())
	h.Set("Content-Length", strconv.Itoa(len(canvas.Data)))
	h.Set("Cache-Control", "no-store")
	h.Set("X-Canvas-Width", strconv.Itoa(canvas.Width))
	h.Set("X-Canvas-Height", strconv.Itoa(canvas.Height))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(canvas.Data)
}

func decodeJSON(r *http.Request, into any, maxBodyBytes int64) error {
	limited := io.LimitReader(r.Body, maxBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > maxBodyBytes {
		return fmt.Errorf("%w: larger than %d bytes", errBodyTooLarge, maxBodyBytes)
	}

	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
