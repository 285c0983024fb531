package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/fatih/color"

	"github.com/hyperengineering/shiftq/internal/notice"
)

// printJSON marshals v to indented JSON and writes it to w.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var levelColors = map[notice.Level]*color.Color{
	notice.LevelSuccess: color.New(color.FgGreen),
	notice.LevelInfo:    color.New(color.FgBlue),
	notice.LevelWarning: color.New(color.FgYellow),
	notice.LevelError:   color.New(color.FgRed),
}

// terminalNotifier prints notices to w, coloured by level.
type terminalNotifier struct {
	w io.Writer
}

func (n terminalNotifier) Show(ctx context.Context, m notice.Message) {
	c, ok := levelColors[m.Level]
	if !ok {
		c = color.New(color.Reset)
	}
	c.Fprintln(n.w, m.Text)
}

// discardNotifier drops notices; used with --json so stdout stays parseable.
type discardNotifier struct{}

func (discardNotifier) Show(context.Context, notice.Message) {}
