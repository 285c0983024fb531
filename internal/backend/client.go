// Package backend is the remote side of offline replay: the calls the sync
// engine makes against the server, and their HTTP implementation.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"time"
)

// Client is the set of remote calls the sync engine consumes. Every call
// either succeeds or returns an error; a nil error means the server accepted
// the mutation.
type Client interface {
	CreateIncident(ctx context.Context, req IncidentRequest) (Created, error)
	CreateShift(ctx context.Context, req ShiftRequest) (Created, error)
	UpdateShift(ctx context.Context, id string, req ShiftRequest) error
	CreateScheduledEvent(ctx context.Context, req ScheduledEventRequest) (Created, error)
	LogAuditEvent(ctx context.Context, rec AuditRecord) error
	Health(ctx context.Context) error
}

// IncidentRequest is the body of POST /api/incidents.
type IncidentRequest struct {
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	IncidentType string    `json:"incidentType"`
	Description  string    `json:"description,omitempty"`
	ReportedAt   time.Time `json:"reportedAt"`
	ShiftID      string    `json:"shiftId,omitempty"`
}

// ShiftRequest is the body of POST /api/shifts and PUT /api/shifts/{id}.
type ShiftRequest struct {
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

// ScheduledEventRequest is the body of POST /api/blitz.
type ScheduledEventRequest struct {
	Latitude     float64    `json:"latitude"`
	Longitude    float64    `json:"longitude"`
	Description  string     `json:"description,omitempty"`
	BlitzType    string     `json:"blitzType"`
	ScheduledEnd *time.Time `json:"scheduledEnd,omitempty"`
}

// AuditRecord is the body of POST /api/audit. Metadata is a JSON document
// encoded as a string.
type AuditRecord struct {
	Action     string `json:"action"`
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId,omitempty"`
	Metadata   string `json:"metadata,omitempty"`
}

// Created is the response to a create call.
type Created struct {
	ID ID `json:"id"`
}

// ID is a server-assigned identifier. Servers send either JSON numbers or
// strings; both decode to the same textual form.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		*id = ID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = ID(n.String())
	return nil
}

// String returns the identifier text.
func (id ID) String() string { return string(id) }
