// Package notice turns flush and clear outcomes into the short messages shown
// to the person using the device.
package notice

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hyperengineering/shiftq/internal/replay"
)

// Level is the severity a message is shown with.
type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Message is one user-facing notice.
type Message struct {
	Level Level  `json:"level"`
	Text  string `json:"text"`
}

// Notifier shows messages.
type Notifier interface {
	Show(ctx context.Context, m Message)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, m Message)

// Show implements Notifier.
func (f NotifierFunc) Show(ctx context.Context, m Message) { f(ctx, m) }

// LogNotifier writes messages to the default slog logger.
type LogNotifier struct{}

// Show implements Notifier.
func (LogNotifier) Show(ctx context.Context, m Message) {
	level := slog.LevelInfo
	switch m.Level {
	case LevelWarning:
		level = slog.LevelWarn
	case LevelError:
		level = slog.LevelError
	}
	slog.Log(ctx, level, m.Text, "component", "notice", "level", string(m.Level))
}

// FlushSummary describes a flush result. Partial failure is reported as a
// count, never as an error.
func FlushSummary(r replay.Result) Message {
	switch {
	case r.Total() == 0:
		return Message{Level: LevelInfo, Text: "Nothing to sync."}
	case r.Failed == 0:
		return Message{Level: LevelSuccess, Text: fmt.Sprintf("Synced %s.", items(r.Sent, "queued item"))}
	default:
		return Message{
			Level: LevelWarning,
			Text:  fmt.Sprintf("Synced %d of %s; %d pending.", r.Sent, items(r.Total(), "item"), r.Failed),
		}
	}
}

// ClearSummary describes a clear result.
func ClearSummary(r replay.ClearResult) Message {
	switch {
	case !r.Removed:
		return Message{Level: LevelError, Text: "Could not clear the offline queue."}
	case !r.AuditLogged:
		return Message{
			Level: LevelWarning,
			Text:  fmt.Sprintf("Cleared %s, but audit logging failed.", items(r.Cleared, "item")),
		}
	default:
		return Message{Level: LevelInfo, Text: fmt.Sprintf("Cleared %s.", items(r.Cleared, "queued item"))}
	}
}

func items(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
