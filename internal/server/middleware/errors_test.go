package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/drawmill/internal/errors"
)

func serve(t *testing.T, h http.Handler, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/v1/documents", nil)
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestRecovery(t *testing.T) {
	t.Run("passes healthy requests through", func(t *testing.T) {
		h := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte("queued"))
		}))

		rec := serve(t, h, nil)
		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, "queued", rec.Body.String())
	})

	t.Run("converts a panic into a 500 envelope", func(t *testing.T) {
		h := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("stage runner wedged")
		}))

		var rec *httptest.ResponseRecorder
		assert.NotPanics(t, func() { rec = serve(t, h, nil) })

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		resp := decodeError(t, rec)
		assert.Equal(t, "INTERNAL_ERROR", resp.Error.Code)
		assert.Contains(t, resp.Error.Message, "stage runner wedged")
	})

	t.Run("recovers error values too", func(t *testing.T) {
		h := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic(assert.AnError)
		}))

		rec := serve(t, h, nil)
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "INTERNAL_ERROR", decodeError(t, rec).Error.Code)
	})

	t.Run("envelope carries the request ID when available", func(t *testing.T) {
		// RequestID must wrap Recovery for the ID to reach the envelope.
		h := RequestID(Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		})))

		rec := serve(t, h, func(req *http.Request) {
			req.Header.Set("X-Request-ID", "job-submit-7f3a")
		})

		assert.Equal(t, "job-submit-7f3a", decodeError(t, rec).Error.RequestID)
	})
}

func TestRequestID(t *testing.T) {
	t.Run("generates an ID when the client sends none", func(t *testing.T) {
		var seen string
		h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetRequestID(r.Context())
		}))

		rec := serve(t, h, nil)
		require.NotEmpty(t, seen)
		assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))
	})

	t.Run("preserves a client-supplied ID", func(t *testing.T) {
		var seen string
		h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetRequestID(r.Context())
		}))

		rec := serve(t, h, func(req *http.Request) {
			req.Header.Set("X-Request-ID", "caller-supplied")
		})
		assert.Equal(t, "caller-supplied", seen)
		assert.Equal(t, "caller-supplied", rec.Header().Get("X-Request-ID"))
	})
}

func TestErrorHandlerMatchesRecovery(t *testing.T) {
	panicky := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("same either way")
	})

	viaRecovery := serve(t, Recovery(panicky), nil)
	viaErrorHandler := serve(t, ErrorHandler(panicky), nil)

	assert.Equal(t, viaRecovery.Code, viaErrorHandler.Code)
	assert.Equal(t, viaRecovery.Header().Get("Content-Type"),
		viaErrorHandler.Header().Get("Content-Type"))
}

func TestWriteErrorResponse(t *testing.T) {
	tests := []struct {
		name     string
		envelope *apperrors.ErrorEnvelope
		status   int
	}{
		{
			name:     "client error",
			envelope: apperrors.NewErrorEnvelope("INVALID_REQUEST", "document body is empty"),
			status:   http.StatusBadRequest,
		},
		{
			name:     "server error",
			envelope: apperrors.NewErrorEnvelope("INTERNAL_ERROR", "registry write failed"),
			status:   http.StatusInternalServerError,
		},
		{
			name: "with correlation ID",
			envelope: apperrors.NewErrorEnvelope("NOT_FOUND", "no such job").
				WithCorrelationID("corr-123"),
			status: http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeErrorResponse(rec, tt.envelope, tt.status)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			resp := decodeError(t, rec)
			assert.Equal(t, tt.envelope.Code, resp.Error.Code)
			assert.Equal(t, tt.envelope.Message, resp.Error.Message)
		})
	}
}

func TestWriteErrorResponse_ContextBecomesDetails(t *testing.T) {
	envelope := apperrors.NewErrorEnvelope("JOB_FAILED", "conversion failed")
	envelope, err := envelope.WithContext(map[string]any{
		"stage": "doc_to_pdf",
		"code":  "ConversionFailed",
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	writeErrorResponse(rec, envelope, http.StatusUnprocessableEntity)

	resp := decodeError(t, rec)
	require.NotNil(t, resp.Error.Details)
	assert.Equal(t, "doc_to_pdf", resp.Error.Details["stage"])
	assert.Equal(t, "ConversionFailed", resp.Error.Details["code"])
}
