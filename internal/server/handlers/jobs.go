// Package handlers implements the HTTP handlers of the conversion API.
package handlers

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/3leaps/drawmill/internal/errors"
	"github.com/3leaps/drawmill/pkg/pipeline"
	"github.com/3leaps/drawmill/pkg/store"
)

// JobsHandler serves document submission, job tracking, and artifact
// retrieval.
type JobsHandler struct {
	orch *pipeline.Orchestrator
	st   *store.Store
}

// NewJobsHandler wires the handler to a running orchestrator and its store.
func NewJobsHandler(orch *pipeline.Orchestrator, st *store.Store) *JobsHandler {
	return &JobsHandler{orch: orch, st: st}
}

// SubmitResponse is the body returned on successful submission.
type SubmitResponse struct {
	JobID string `json:"job_id"`
}

// Submit handles POST /v1/documents. The document travels either as a raw
// request body with an optional ?filename= hint, or as the "file" part of a
// multipart form.
func (h *JobsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	data, filename, err := readDocument(r)
	if err != nil {
		apperrors.WriteError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if len(data) == 0 {
		apperrors.WriteError(w, http.StatusBadRequest, "INVALID_REQUEST", "empty document body")
		return
	}

	jobID, err := h.orch.Submit(r.Context(), data, filename)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, SubmitResponse{JobID: jobID})
}

// List handles GET /v1/jobs.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	jobs := h.orch.Jobs()
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// Status handles GET /v1/jobs/{jobID}.
func (h *JobsHandler) Status(w http.ResponseWriter, r *http.Request) {
	job, err := h.orch.Status(chi.URLParam(r, "jobID"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Result handles GET /v1/jobs/{jobID}/result. Pending jobs answer 409,
// failed jobs answer 422 with the failing stage's identity.
func (h *JobsHandler) Result(w http.ResponseWriter, r *http.Request) {
	manifest, err := h.orch.Result(chi.URLParam(r, "jobID"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, manifest)
}

// Cancel handles POST /v1/jobs/{jobID}/cancel.
func (h *JobsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.Cancel(chi.URLParam(r, "jobID")); err != nil {
		respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Manifest handles GET /v1/artifacts/{fingerprint}: the completed-pipeline
// manifest for a document, independent of any job.
func (h *JobsHandler) Manifest(w http.ResponseWriter, r *http.Request) {
	m, err := pipeline.LoadManifest(h.st, chi.URLParam(r, "fingerprint"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Artifact handles GET /v1/artifacts/{fingerprint}/{stage}/{name}: one
// stored stage output, served as a file download.
func (h *JobsHandler) Artifact(w http.ResponseWriter, r *http.Request) {
	fp := chi.URLParam(r, "fingerprint")
	name := chi.URLParam(r, "name")

	key, err := store.ParseStageKey(chi.URLParam(r, "stage"))
	if err != nil {
		apperrors.WriteError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if strings.Contains(fp, "..") || strings.Contains(name, "..") || strings.Contains(key.Name, "..") {
		apperrors.WriteError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid artifact path")
		return
	}

	data, err := h.st.ReadDerived(fp, key, name)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentTypeFor(name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func contentTypeFor(name string) string {
	if dot := strings.LastIndex(name, "."); dot >= 0 {
		if t := mime.TypeByExtension(name[dot:]); t != "" {
			return t
		}
	}
	return "application/octet-stream"
}

func readDocument(r *http.Request) ([]byte, string, error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, "", err
		}
		defer func() { _ = file.Close() }()
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, "", err
		}
		return data, header.Filename, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, "", err
	}
	return data, r.URL.Query().Get("filename"), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
