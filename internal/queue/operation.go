package queue

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind identifies what an Operation does when replayed.
type Kind string

// Known operation kinds. The string values match what earlier clients wrote
// to the store, so existing queues load unchanged.
const (
	KindIncident       Kind = "incident"
	KindScheduledEvent Kind = "blitzCreate"
	KindShiftStart     Kind = "shiftStart"
	KindShiftEnd       Kind = "shiftEnd"
)

// Operation is one pending mutation. Operations have no identity of their
// own; cross-references travel inside payloads as local identifiers.
//
// The payload stays raw JSON until dispatch. An Operation decoded from
// storage remembers its original encoding and re-encodes to it verbatim,
// so entries of unknown kinds survive any number of rewrites.
type Operation struct {
	Kind    Kind
	Payload json.RawMessage

	raw json.RawMessage
}

type wireOperation struct {
	Kind    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (o Operation) MarshalJSON() ([]byte, error) {
	if len(o.raw) > 0 {
		return o.raw, nil
	}
	return json.Marshal(wireOperation{Kind: o.Kind, Payload: o.Payload})
}

// UnmarshalJSON implements json.Unmarshaler. Values that are not operation
// objects are kept as-is with an empty Kind rather than rejected.
func (o *Operation) UnmarshalJSON(b []byte) error {
	var w wireOperation
	if err := json.Unmarshal(b, &w); err == nil {
		o.Kind = w.Kind
		o.Payload = w.Payload
	} else {
		o.Kind = ""
		o.Payload = nil
	}
	o.raw = append(json.RawMessage(nil), b...)
	return nil
}

// Action is the typed form of an Operation's payload. The set of
// implementations is closed to this package.
type Action interface {
	Kind() Kind
	action()
}

// Creator is implemented by actions whose success creates a server entity
// that later operations may reference by local identifier.
type Creator interface {
	Action
	CreatesLocalID() string
}

// Dependent is implemented by actions that cannot be sent until the entity
// they reference by local identifier has a server identifier.
type Dependent interface {
	Action
	DependsOnLocalID() (localID string, ok bool)
}

// Referrer is implemented by actions that may mention an entity by local
// identifier without needing it. The reference is sent when it has resolved
// and left out otherwise; the action is never held back for it.
type Referrer interface {
	Action
	RefersToLocalID() (localID string, ok bool)
}

// Incident reports an incident at a location.
type Incident struct {
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	IncidentType string  `json:"incidentType"`
	Description  string  `json:"description,omitempty"`
	ReportedAt   int64   `json:"reportedAt"`
	ShiftLocalID string  `json:"shiftLocalId,omitempty"`
}

// ScheduledEvent schedules a blitz at a location.
type ScheduledEvent struct {
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	Description  string  `json:"description,omitempty"`
	BlitzType    string  `json:"blitzType"`
	ScheduledEnd int64   `json:"scheduledEnd,omitempty"`
}

// ShiftStart opens a shift. Timestamps are Unix milliseconds.
type ShiftStart struct {
	StartedAt int64  `json:"startedAt"`
	LocalID   string `json:"localId"`
}

// ShiftEnd closes the shift identified by LocalID.
type ShiftEnd struct {
	StartedAt int64  `json:"startedAt"`
	EndedAt   int64  `json:"endedAt"`
	LocalID   string `json:"localId"`
}

func (Incident) Kind() Kind       { return KindIncident }
func (ScheduledEvent) Kind() Kind { return KindScheduledEvent }
func (ShiftStart) Kind() Kind     { return KindShiftStart }
func (ShiftEnd) Kind() Kind       { return KindShiftEnd }

func (Incident) action()       {}
func (ScheduledEvent) action() {}
func (ShiftStart) action()     {}
func (ShiftEnd) action()       {}

// CreatesLocalID returns the local identifier the shift is known by until synced.
func (s ShiftStart) CreatesLocalID() string { return s.LocalID }

// DependsOnLocalID returns the local identifier of the shift being closed.
// A shift end always depends on its shift, even when the identifier is empty.
func (s ShiftEnd) DependsOnLocalID() (string, bool) { return s.LocalID, true }

// RefersToLocalID returns the shift the incident was reported in, if any.
func (i Incident) RefersToLocalID() (string, bool) { return i.ShiftLocalID, i.ShiftLocalID != "" }

// New builds an Operation from a typed action.
func New(a Action) (Operation, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return Operation{}, fmt.Errorf("encode %s payload: %w", a.Kind(), err)
	}
	return Operation{Kind: a.Kind(), Payload: payload}, nil
}

// Decode returns the typed action carried by the operation.
// Unknown kinds yield ErrUnknownKind; bad payloads yield ErrMalformedPayload.
func (o Operation) Decode() (Action, error) {
	switch o.Kind {
	case KindIncident:
		return decodePayload[Incident](o)
	case KindScheduledEvent:
		return decodePayload[ScheduledEvent](o)
	case KindShiftStart:
		return decodePayload[ShiftStart](o)
	case KindShiftEnd:
		return decodePayload[ShiftEnd](o)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, o.Kind)
	}
}

func decodePayload[T Action](o Operation) (Action, error) {
	var v T
	payload := o.Payload
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		payload = []byte("{}")
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, o.Kind, err)
	}
	return v, nil
}

// fingerprint returns a stable comparison key for an operation.
func fingerprint(o Operation) string {
	b, err := o.MarshalJSON()
	if err != nil {
		return string(o.Kind) + "\x00" + string(o.Payload)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return string(b)
	}
	return buf.String()
}
