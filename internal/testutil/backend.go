package testutil

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/hyperengineering/shiftq/internal/backend"
)

// Backend method names recorded by FakeBackend.
const (
	MethodCreateIncident       = "CreateIncident"
	MethodCreateShift          = "CreateShift"
	MethodUpdateShift          = "UpdateShift"
	MethodCreateScheduledEvent = "CreateScheduledEvent"
	MethodLogAuditEvent        = "LogAuditEvent"
	MethodHealth               = "Health"
)

// ErrRemote is a generic remote failure for tests.
var ErrRemote = errors.New("remote call failed")

// Call is one request seen by FakeBackend.
type Call struct {
	Method string
	ID     string
	Body   any
}

// FakeBackend is an in-memory backend.Client. Create calls return
// sequential numeric ids starting at 101.
type FakeBackend struct {
	mu     sync.Mutex
	calls  []Call
	errs   map[string]error
	nextID int

	// NoIDs makes create calls succeed with an empty id.
	NoIDs bool

	// BeforeCall, if set, runs before each call is recorded. A non-nil error
	// fails the call.
	BeforeCall func(ctx context.Context, method string) error
}

// NewFakeBackend returns a FakeBackend where every call succeeds.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{errs: make(map[string]error), nextID: 101}
}

// SetError makes every call to method fail with err. A nil err clears it.
func (f *FakeBackend) SetError(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, method)
		return
	}
	f.errs[method] = err
}

// Calls returns every recorded call in order.
func (f *FakeBackend) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsTo returns the recorded calls to method.
func (f *FakeBackend) CallsTo(method string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *FakeBackend) record(ctx context.Context, method, id string, body any) error {
	if f.BeforeCall != nil {
		if err := f.BeforeCall(ctx, method); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Method: method, ID: id, Body: body})
	return f.errs[method]
}

func (f *FakeBackend) create(ctx context.Context, method string, body any) (backend.Created, error) {
	if err := f.record(ctx, method, "", body); err != nil {
		return backend.Created{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NoIDs {
		return backend.Created{}, nil
	}
	id := backend.ID(strconv.Itoa(f.nextID))
	f.nextID++
	return backend.Created{ID: id}, nil
}

// CreateIncident implements backend.Client.
func (f *FakeBackend) CreateIncident(ctx context.Context, req backend.IncidentRequest) (backend.Created, error) {
	return f.create(ctx, MethodCreateIncident, req)
}

// CreateShift implements backend.Client.
func (f *FakeBackend) CreateShift(ctx context.Context, req backend.ShiftRequest) (backend.Created, error) {
	return f.create(ctx, MethodCreateShift, req)
}

// UpdateShift implements backend.Client.
func (f *FakeBackend) UpdateShift(ctx context.Context, id string, req backend.ShiftRequest) error {
	return f.record(ctx, MethodUpdateShift, id, req)
}

// CreateScheduledEvent implements backend.Client.
func (f *FakeBackend) CreateScheduledEvent(ctx context.Context, req backend.ScheduledEventRequest) (backend.Created, error) {
	return f.create(ctx, MethodCreateScheduledEvent, req)
}

// LogAuditEvent implements backend.Client.
func (f *FakeBackend) LogAuditEvent(ctx context.Context, rec backend.AuditRecord) error {
	return f.record(ctx, MethodLogAuditEvent, "", rec)
}

// Health implements backend.Client.
func (f *FakeBackend) Health(ctx context.Context) error {
	return f.record(ctx, MethodHealth, "", nil)
}
