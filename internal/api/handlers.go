package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hyperengineering/shiftq/internal/notice"
	"github.com/hyperengineering/shiftq/internal/queue"
	"github.com/hyperengineering/shiftq/internal/replay"
	"github.com/hyperengineering/shiftq/internal/shift"
	"github.com/hyperengineering/shiftq/internal/validation"
)

// Service is what the control API drives.
type Service interface {
	Length(ctx context.Context) int
	Snapshot(ctx context.Context) []queue.Operation
	Subscribe(fn func(length int)) (unsubscribe func())
	Enqueue(ctx context.Context, a queue.Action) error
	Flush(ctx context.Context) replay.Result
	Clear(ctx context.Context) replay.ClearResult
	StartShift(ctx context.Context) (shift.Shift, error)
	EndShift(ctx context.Context) (shift.Shift, time.Time, error)
	ActiveShift(ctx context.Context) (shift.Shift, bool, error)
	Online() bool
}

// Handler implements the control API handlers.
type Handler struct {
	svc     Service
	apiKey  string
	version string
}

// NewHandler creates a Handler. An empty apiKey leaves the API unauthenticated.
func NewHandler(svc Service, apiKey, version string) *Handler {
	return &Handler{svc: svc, apiKey: apiKey, version: version}
}

// HealthResponse is returned by GET /api/v1/health.
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	QueueLength int    `json:"queueLength"`
	Online      bool   `json:"online"`
}

// QueueResponse is returned by GET /api/v1/queue.
type QueueResponse struct {
	Length     int               `json:"length"`
	Operations []queue.Operation `json:"operations"`
}

// EnqueueResponse is returned by POST /api/v1/queue/operations.
type EnqueueResponse struct {
	Length int `json:"length"`
}

// FlushResponse is returned by POST /api/v1/queue/flush.
type FlushResponse struct {
	Result replay.Result  `json:"result"`
	Notice notice.Message `json:"notice"`
}

// ClearResponse is returned by DELETE /api/v1/queue.
type ClearResponse struct {
	Result replay.ClearResult `json:"result"`
	Notice notice.Message     `json:"notice"`
}

// ShiftResponse describes a shift by its local identifier.
type ShiftResponse struct {
	LocalID   string     `json:"localId"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "healthy",
		Version:     h.version,
		QueueLength: h.svc.Length(r.Context()),
		Online:      h.svc.Online(),
	})
}

// Queue handles GET /api/v1/queue.
func (h *Handler) Queue(w http.ResponseWriter, r *http.Request) {
	ops := h.svc.Snapshot(r.Context())
	if ops == nil {
		ops = []queue.Operation{}
	}
	writeJSON(w, http.StatusOK, QueueResponse{Length: len(ops), Operations: ops})
}

// StreamLength handles GET /api/v1/queue/length as a server-sent event
// stream. The current length is sent first, then every change.
func (h *Handler) StreamLength(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteProblem(w, r, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	updates := make(chan int, 16)
	unsubscribe := h.svc.Subscribe(func(n int) {
		select {
		case updates <- n:
		default:
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	send := func(n int) {
		fmt.Fprintf(w, "event: length\ndata: %d\n\n", n)
		flusher.Flush()
	}
	send(h.svc.Length(r.Context()))

	for {
		select {
		case <-r.Context().Done():
			return
		case n := <-updates:
			send(n)
		}
	}
}

// Enqueue handles POST /api/v1/queue/operations. The body is one operation
// in its stored form: {"type": ..., "payload": {...}}.
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var op queue.Operation
	if err := json.NewDecoder(r.Body).Decode(&op); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	action, err := op.Decode()
	switch {
	case errors.Is(err, queue.ErrUnknownKind):
		WriteProblemWithErrors(w, r, "Request contains invalid fields", []validation.ValidationError{
			{Field: "type", Message: fmt.Sprintf("unknown operation type %q", op.Kind)},
		})
		return
	case err != nil:
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.Enqueue(r.Context(), action); err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, EnqueueResponse{Length: h.svc.Length(r.Context())})
}

// Flush handles POST /api/v1/queue/flush. Partial failure is a 200 with the
// counts; it is never reported as an error.
func (h *Handler) Flush(w http.ResponseWriter, r *http.Request) {
	res := h.svc.Flush(r.Context())
	writeJSON(w, http.StatusOK, FlushResponse{Result: res, Notice: notice.FlushSummary(res)})
}

// Clear handles DELETE /api/v1/queue. A clear whose audit failed still
// happened and is a 200 carrying the error; only a clear that removed
// nothing is an error response.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	res := h.svc.Clear(r.Context())
	if !res.Removed && res.Err != nil {
		MapError(w, r, res.Err)
		return
	}
	writeJSON(w, http.StatusOK, ClearResponse{Result: res, Notice: notice.ClearSummary(res)})
}

// ActiveShift handles GET /api/v1/shifts/active.
func (h *Handler) ActiveShift(w http.ResponseWriter, r *http.Request) {
	s, ok, err := h.svc.ActiveShift(r.Context())
	if err != nil {
		MapError(w, r, err)
		return
	}
	if !ok {
		WriteProblem(w, r, http.StatusNotFound, "No shift is active")
		return
	}
	writeJSON(w, http.StatusOK, ShiftResponse{LocalID: s.LocalID, StartedAt: s.StartedAt})
}

// StartShift handles POST /api/v1/shifts/start.
func (h *Handler) StartShift(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.StartShift(r.Context())
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ShiftResponse{LocalID: s.LocalID, StartedAt: s.StartedAt})
}

// EndShift handles POST /api/v1/shifts/end.
func (h *Handler) EndShift(w http.ResponseWriter, r *http.Request) {
	s, ended, err := h.svc.EndShift(r.Context())
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ShiftResponse{LocalID: s.LocalID, StartedAt: s.StartedAt, EndedAt: &ended})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
