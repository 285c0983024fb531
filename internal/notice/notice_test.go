package notice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"

	"github.com/hyperengineering/shiftq/internal/replay"
)

func newGoldie(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func render(buf *bytes.Buffer, name string, m Message) {
	fmt.Fprintf(buf, "%-22s %-7s %s\n", name, m.Level, m.Text)
}

func TestFlushSummary_Golden(t *testing.T) {
	cases := []struct {
		name string
		res  replay.Result
	}{
		{"empty", replay.Result{}},
		{"one_sent", replay.Result{Sent: 1, Attempted: 1}},
		{"all_sent", replay.Result{Sent: 4, Attempted: 4}},
		{"partial", replay.Result{Sent: 2, Failed: 3, Rejected: 1, Deferred: 2, Attempted: 3}},
		{"none_sent", replay.Result{Failed: 1, Deferred: 1}},
		{"unknown_only", replay.Result{Failed: 2, Unknown: 2}},
	}

	var buf bytes.Buffer
	for _, c := range cases {
		render(&buf, c.name, FlushSummary(c.res))
	}
	newGoldie(t).Assert(t, "flush_summary", buf.Bytes())
}

func TestClearSummary_Golden(t *testing.T) {
	cases := []struct {
		name string
		res  replay.ClearResult
	}{
		{"cleared", replay.ClearResult{Cleared: 3, Removed: true, AuditLogged: true}},
		{"cleared_one", replay.ClearResult{Cleared: 1, Removed: true, AuditLogged: true}},
		{"cleared_none", replay.ClearResult{Removed: true, AuditLogged: true}},
		{"audit_failed", replay.ClearResult{Cleared: 2, Removed: true, Err: errors.New("boom")}},
		{"storage_failed", replay.ClearResult{Err: errors.New("boom")}},
	}

	var buf bytes.Buffer
	for _, c := range cases {
		render(&buf, c.name, ClearSummary(c.res))
	}
	newGoldie(t).Assert(t, "clear_summary", buf.Bytes())
}

func TestNotifierFunc(t *testing.T) {
	var got []Message
	var n Notifier = NotifierFunc(func(_ context.Context, m Message) {
		got = append(got, m)
	})

	n.Show(context.Background(), Message{Level: LevelInfo, Text: "hi"})
	assert.Equal(t, []Message{{Level: LevelInfo, Text: "hi"}}, got)
}

func TestLogNotifier_DoesNotPanic(t *testing.T) {
	for _, l := range []Level{LevelSuccess, LevelInfo, LevelWarning, LevelError} {
		assert.NotPanics(t, func() {
			LogNotifier{}.Show(context.Background(), Message{Level: l, Text: "x"})
		})
	}
}
