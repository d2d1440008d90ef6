// Package handlers provides HTTP handlers for the appointment API.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/medibook/go-appointments/internal/api/middleware"
	"github.com/medibook/go-appointments/internal/domain"
)

const maxJSONBody = 1 << 20

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// statusFor maps a domain error kind to its HTTP status. 0 means unknown.
func statusFor(err error) int {
	switch domain.Kind(err) {
	case domain.ErrValidation, domain.ErrInvalidTransition:
		return http.StatusBadRequest
	case domain.ErrUnauthenticated:
		return http.StatusUnauthorized
	case domain.ErrForbidden:
		return http.StatusForbidden
	case domain.ErrNotFound:
		return http.StatusNotFound
	case domain.ErrConflict:
		return http.StatusConflict
	}
	return 0
}

// writeError answers with the domain error's message, or a generic 500 for
// anything that is not a domain error.
func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	span := trace.SpanFromContext(r.Context())
	span.RecordError(err)

	if code := statusFor(err); code != 0 {
		jsonError(w, err.Error(), code)
		return
	}

	span.SetStatus(codes.Error, err.Error())
	logger.Error("request failed",
		zap.Error(err),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetRequestID(r.Context())),
	)
	jsonError(w, "internal server error", http.StatusInternalServerError)
}

// decodeJSON reads one JSON object from the body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return domain.Errorf(domain.ErrValidation, "request body is required")
		case errors.As(err, &maxErr):
			return domain.Errorf(domain.ErrValidation, "request body too large")
		default:
			return domain.Errorf(domain.ErrValidation, "invalid request body: %v", err)
		}
	}
	return nil
}
