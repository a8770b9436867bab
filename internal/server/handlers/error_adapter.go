package handlers

import (
	"errors"
	"net/http"

	apperrors "github.com/3leaps/drawmill/internal/errors"
	"github.com/3leaps/drawmill/internal/server/middleware"
	"github.com/3leaps/drawmill/pkg/pipeline"
	"github.com/3leaps/drawmill/pkg/store"
)

// HTTPErrorResponder renders an error to the response. Replaceable so
// embedders can install their own error surface.
type HTTPErrorResponder func(w http.ResponseWriter, r *http.Request, err error)

var httpErrorResponder HTTPErrorResponder = defaultErrorResponder

// SetHTTPErrorResponder installs a custom responder. Passing nil restores
// the default.
func SetHTTPErrorResponder(f HTTPErrorResponder) {
	if f == nil {
		f = defaultErrorResponder
	}
	httpErrorResponder = f
}

// ResetHTTPErrorResponder restores the default responder.
func ResetHTTPErrorResponder() {
	httpErrorResponder = defaultErrorResponder
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}

// defaultErrorResponder maps pipeline and store errors to status codes and
// stable error codes.
func defaultErrorResponder(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL_ERROR"

	switch {
	case pipeline.IsNotFound(err) || store.IsNotFound(err):
		status = http.StatusNotFound
		code = "NOT_FOUND"
	case pipeline.IsPending(err):
		status = http.StatusConflict
		code = "JOB_PENDING"
	case errors.Is(err, pipeline.ErrBusy):
		status = http.StatusServiceUnavailable
		code = "QUEUE_FULL"
	case errors.Is(err, pipeline.ErrTooLarge):
		status = http.StatusRequestEntityTooLarge
		code = "DOCUMENT_TOO_LARGE"
	}

	envelope := apperrors.NewErrorEnvelope(code, err.Error()).
		WithCorrelationID(middleware.GetRequestID(r.Context()))

	var failed *pipeline.FailedError
	if errors.As(err, &failed) {
		ctx := map[string]any{
			"stage": failed.Stage,
			"code":  string(failed.Code),
		}
		if failed.Page > 0 {
			ctx["page"] = failed.Page
		}
		envelope, _ = envelope.WithContext(ctx)
		status = http.StatusUnprocessableEntity
		envelope.Code = "JOB_FAILED"
	}

	apperrors.WriteEnvelope(w, envelope, status)
}
