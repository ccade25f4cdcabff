package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/gtcompanion/achievement-engine/achievement"
	"github.com/gtcompanion/achievement-engine/progress"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string       `json:"error"`
	Message string       `json:"message"`
	Errors  []FieldError `json:"errors,omitempty"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is a client input problem. It maps to 400.
type ValidationError struct {
	Message string
	Fields  []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + " " + f.Message
	}
	return e.Message + ": " + strings.Join(parts, "; ")
}

func fieldError(field, message string) *ValidationError {
	return &ValidationError{Message: "Validation failed", Fields: []FieldError{{Field: field, Message: message}}}
}

// fromValidator converts validator output into a ValidationError.
func fromValidator(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{Message: "Validation failed"}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{Field: fe.Field(), Message: describeTag(fe)})
	}
	return out
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

func writeAuthError(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, ErrorResponse{
		Error:   "AuthenticationError",
		Message: "Invalid or expired token",
	})
}

// fail maps err to a status and body. Internal causes are logged, never returned.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "ValidationError", Message: verr.Message, Errors: verr.Fields})

	case errors.Is(err, progress.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "ValidationError", Message: err.Error()})

	case errors.Is(err, progress.ErrNotStarted):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "NotFound", Message: "Game not started"})

	case achievement.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "NotFound", Message: "Not found"})

	default:
		h.Log.Error("request failed",
			zap.Error(err),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "InternalServerError",
			Message: "Something went wrong",
		})
	}
}
