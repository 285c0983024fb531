package queue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_EncodesWireShape(t *testing.T) {
	op, err := New(ShiftEnd{StartedAt: 1000, EndedAt: 2000, LocalID: "sh_1"})
	require.NoError(t, err)

	b, err := json.Marshal(op)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"shiftEnd","payload":{"startedAt":1000,"endedAt":2000,"localId":"sh_1"}}`, string(b))
}

func TestDecode_KnownKinds(t *testing.T) {
	tests := []struct {
		name string
		in   Action
	}{
		{"incident", Incident{Lat: -37.8, Lng: 144.9, IncidentType: "fare_evasion", ReportedAt: 5, ShiftLocalID: "sh_1"}},
		{"scheduled event", ScheduledEvent{Lat: 1, Lng: 2, BlitzType: "station", ScheduledEnd: 9}},
		{"shift start", ShiftStart{StartedAt: 1, LocalID: "sh_1"}},
		{"shift end", ShiftEnd{StartedAt: 1, EndedAt: 2, LocalID: "sh_1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, err := New(tt.in)
			require.NoError(t, err)

			got, err := op.Decode()
			require.NoError(t, err)
			assert.Equal(t, tt.in, got)
		})
	}
}

func TestDecode_UnknownKind(t *testing.T) {
	op := Operation{Kind: "teleport", Payload: json.RawMessage(`{}`)}

	_, err := op.Decode()
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestDecode_MalformedPayload(t *testing.T) {
	op := Operation{Kind: KindShiftEnd, Payload: json.RawMessage(`{"localId":42}`)}

	_, err := op.Decode()
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestDecode_MissingPayloadIsZeroValue(t *testing.T) {
	var op Operation
	require.NoError(t, json.Unmarshal([]byte(`{"type":"shiftStart"}`), &op))

	got, err := op.Decode()
	require.NoError(t, err)
	assert.Equal(t, ShiftStart{}, got)
}

func TestDependencies(t *testing.T) {
	var a Action = ShiftEnd{LocalID: "sh_1"}
	dep, ok := a.(Dependent)
	require.True(t, ok)
	id, ok := dep.DependsOnLocalID()
	assert.True(t, ok)
	assert.Equal(t, "sh_1", id)

	a = Incident{ShiftLocalID: "sh_1"}
	_, ok = a.(Dependent)
	assert.False(t, ok, "an incident is never held back for its shift")
	id, ok = a.(Referrer).RefersToLocalID()
	assert.True(t, ok)
	assert.Equal(t, "sh_1", id)

	_, ok = Incident{}.RefersToLocalID()
	assert.False(t, ok, "incident outside a shift refers to nothing")

	a = ShiftStart{LocalID: "sh_2"}
	creator, ok := a.(Creator)
	require.True(t, ok)
	assert.Equal(t, "sh_2", creator.CreatesLocalID())

	a = ScheduledEvent{}
	_, ok = a.(Dependent)
	assert.False(t, ok)
}

func TestMergeRemainder(t *testing.T) {
	a := Operation{Kind: KindIncident, Payload: json.RawMessage(`{"incidentType":"a"}`)}
	b := Operation{Kind: KindIncident, Payload: json.RawMessage(`{"incidentType":"b"}`)}
	c := Operation{Kind: KindIncident, Payload: json.RawMessage(`{"incidentType":"c"}`)}

	tests := []struct {
		name      string
		current   []Operation
		snapshot  []Operation
		remaining []Operation
		want      []Operation
	}{
		{
			name:      "nothing appended",
			current:   []Operation{a, b},
			snapshot:  []Operation{a, b},
			remaining: []Operation{b},
			want:      []Operation{b},
		},
		{
			name:      "appended during flush",
			current:   []Operation{a, b, c},
			snapshot:  []Operation{a, b},
			remaining: []Operation{a},
			want:      []Operation{a, c},
		},
		{
			name:      "duplicate appended",
			current:   []Operation{a, a},
			snapshot:  []Operation{a},
			remaining: nil,
			want:      []Operation{a},
		},
		{
			name:      "cleared elsewhere",
			current:   nil,
			snapshot:  []Operation{a, b},
			remaining: []Operation{b},
			want:      []Operation{b},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mergeRemainder(tt.current, tt.snapshot, tt.remaining)
			assert.Equal(t, len(tt.want), len(got))
			for i := range tt.want {
				assert.Equal(t, fingerprint(tt.want[i]), fingerprint(got[i]))
			}
		})
	}
}

func TestFingerprint_IgnoresWhitespace(t *testing.T) {
	var spaced, compact Operation
	require.NoError(t, json.Unmarshal([]byte(`{ "type" : "incident", "payload" : { "lat" : 1 } }`), &spaced))
	require.NoError(t, json.Unmarshal([]byte(`{"type":"incident","payload":{"lat":1}}`), &compact))

	assert.Equal(t, fingerprint(compact), fingerprint(spaced))
}
