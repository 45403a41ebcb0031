// Package httputil holds the HTTP plumbing shared by all handlers: the JSON
// envelopes, error mapping, actor extraction and request middleware.
package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// FieldDetail names one rejected request field.
type FieldDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type errorPayload struct {
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error errorPayload `json:"error"`
}

type dataEnvelope struct {
	Data any `json:"data"`
}

// JSON writes data as the response body without an envelope.
// Use Success for {"data": ...} responses.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Text writes a plain text response.
func Text(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(text)); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

// Success writes {"data": ...}.
func Success(w http.ResponseWriter, status int, data any) {
	JSON(w, status, dataEnvelope{Data: data})
}

// Error writes {"error": {"message": ...}}.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, errorEnvelope{Error: errorPayload{Message: message}})
}

// ValidationError writes a 400 for a failed struct validation. Field
// details are listed when err carries validator.ValidationErrors.
func ValidationError(w http.ResponseWriter, err error) {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		writeValidation(w, err.Error())
		return
	}

	details := make([]FieldDetail, 0, len(fieldErrs))
	for _, e := range fieldErrs {
		details = append(details, FieldDetail{Field: e.Field(), Message: e.Tag()})
	}
	writeValidation(w, details)
}

// FieldError writes a 400 for a single rejected field. An empty field
// reports message alone.
func FieldError(w http.ResponseWriter, field, message string) {
	if field == "" {
		writeValidation(w, message)
		return
	}
	writeValidation(w, []FieldDetail{{Field: field, Message: message}})
}

func writeValidation(w http.ResponseWriter, details any) {
	JSON(w, http.StatusBadRequest, errorEnvelope{Error: errorPayload{
		Message: "validation error",
		Details: details,
	}})
}
