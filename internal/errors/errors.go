// Package errors defines the JSON error envelope shared by every HTTP
// surface of the service.
package errors

import (
	"encoding/json"
	"net/http"
)

// ErrorEnvelope is the internal representation of an API error before it is
// rendered to the wire.
type ErrorEnvelope struct {
	Code          string
	Message       string
	CorrelationID string
	Context       map[string]any
}

// NewErrorEnvelope builds an envelope from a stable code and a human message.
func NewErrorEnvelope(code, message string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: code, Message: message}
}

// WithCorrelationID attaches a request correlation ID.
func (e *ErrorEnvelope) WithCorrelationID(id string) *ErrorEnvelope {
	e.CorrelationID = id
	return e
}

// WithContext attaches structured detail rendered under "details".
func (e *ErrorEnvelope) WithContext(ctx map[string]any) (*ErrorEnvelope, error) {
	if e.Context == nil {
		e.Context = make(map[string]any, len(ctx))
	}
	for k, v := range ctx {
		e.Context[k] = v
	}
	return e, nil
}

// HTTPError is the wire form of one error.
type HTTPError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// HTTPErrorResponse is the top-level error body: {"error": {...}}.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// WriteEnvelope renders an envelope as JSON with the given status code.
func WriteEnvelope(w http.ResponseWriter, envelope *ErrorEnvelope, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := HTTPErrorResponse{Error: HTTPError{
		Code:      envelope.Code,
		Message:   envelope.Message,
		RequestID: envelope.CorrelationID,
		Details:   envelope.Context,
	}}
	_ = json.NewEncoder(w).Encode(resp)
}

// WriteError is shorthand for rendering a code and message without building
// an envelope first.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteEnvelope(w, NewErrorEnvelope(code, message), status)
}
