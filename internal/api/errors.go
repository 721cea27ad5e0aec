package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/dunamismax/canvasflow/internal/compositor"
	"github.com/dunamismax/canvasflow/internal/pipeline"
	"github.com/dunamismax/canvasflow/internal/source"
	"github.com/dunamismax/canvasflow/internal/storage"
)

// statusForError maps a pipeline failure to a status and a client-safe message.
// Internal failures never echo the underlying error.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, source.ErrSourceTooLarge), errors.Is(err, storage.ErrObjectTooLarge):
		return http.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, source.ErrUnsupportedSource),
		errors.Is(err, source.ErrInvalidDataURI),
		errors.Is(err, source.ErrEmptySource):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, storage.ErrSourceNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, storage.ErrNotImage):
		return http.StatusUnsupportedMediaType, err.Error()
	case errors.Is(err, compositor.ErrDecode):
		return http.StatusUnprocessableEntity, "source is not a decodable image"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "canvas render timed out"
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, "request canceled"
	}

	var statusErr *source.StatusError
	if errors.As(err, &statusErr) || pipeline.FailedStage(err) == pipeline.StageFetch {
		return http.StatusBadGateway, "failed to fetch source"
	}
	return http.StatusInternalServerError, "failed to render canvas"
}

// statusClientClosedRequest is the nginx convention for a client that went away.
const statusClientClosedRequest = 499

func pipelineStageLabel(err error) string {
	if stage := pipeline.FailedStage(err); stage != "" {
		return stage
	}
	return "request"
}
