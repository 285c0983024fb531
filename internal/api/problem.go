package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hyperengineering/shiftq/internal/queue"
	"github.com/hyperengineering/shiftq/internal/shift"
	"github.com/hyperengineering/shiftq/internal/validation"
)

const problemBase = "https://shiftq.dev/problems/"

// Problem is an RFC 7807 Problem Details body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

type problemType struct {
	slug  string
	title string
}

var problemTypes = map[int]problemType{
	http.StatusBadRequest:          {"bad-request", "Bad Request"},
	http.StatusUnauthorized:        {"unauthorized", "Unauthorized"},
	http.StatusNotFound:            {"not-found", "Not Found"},
	http.StatusConflict:            {"conflict", "Conflict"},
	http.StatusUnprocessableEntity: {"validation-error", "Validation Error"},
	http.StatusInternalServerError: {"internal-error", "Internal Server Error"},
	http.StatusServiceUnavailable:  {"storage-unavailable", "Service Unavailable"},
}

func newProblem(r *http.Request, status int, detail string) Problem {
	pt, ok := problemTypes[status]
	if !ok {
		pt = problemType{slug: "unknown", title: http.StatusText(status)}
	}
	return Problem{
		Type:     problemBase + pt.slug,
		Title:    pt.title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}
}

// WriteProblem writes an RFC 7807 Problem Details response.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	writeProblemBody(w, status, newProblem(r, status, detail))
}

// ProblemWithErrors extends Problem with field failures.
type ProblemWithErrors struct {
	Problem
	Errors []validation.ValidationError `json:"errors,omitempty"`
}

// WriteProblemWithErrors writes a 422 response listing field failures.
func WriteProblemWithErrors(w http.ResponseWriter, r *http.Request, detail string, errs []validation.ValidationError) {
	writeProblemBody(w, http.StatusUnprocessableEntity, ProblemWithErrors{
		Problem: newProblem(r, http.StatusUnprocessableEntity, detail),
		Errors:  errs,
	})
}

func writeProblemBody(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode problem response", "component", "api", "error", err)
	}
}

// MapError converts domain errors to Problem Details responses.
func MapError(w http.ResponseWriter, r *http.Request, err error) {
	var fields validation.Errors
	switch {
	case errors.As(err, &fields):
		WriteProblemWithErrors(w, r, "Request contains invalid fields", fields)
	case errors.Is(err, shift.ErrShiftActive):
		WriteProblem(w, r, http.StatusConflict, "A shift is already active")
	case errors.Is(err, shift.ErrNoActiveShift):
		WriteProblem(w, r, http.StatusConflict, "No shift is active")
	case errors.Is(err, queue.ErrUnavailable), errors.Is(err, queue.ErrCorrupt):
		WriteProblem(w, r, http.StatusServiceUnavailable, "Local storage unavailable")
	default:
		slog.Error("request failed", "component", "api", "path", r.URL.Path, "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}
