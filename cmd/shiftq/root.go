package main

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/shiftq/internal/config"
	"github.com/hyperengineering/shiftq/internal/notice"
	"github.com/hyperengineering/shiftq/pkg/offline"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var jsonOutput bool

var rootCmd = &cobra.Command{
	Use:           "shiftq",
	Short:         "shiftq - offline queue for shift, incident and blitz reports",
	Long:          "Queue field reports while offline and replay them to the server in order once it is reachable.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(flushCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(shiftCmd)
	rootCmd.AddCommand(incidentCmd)
	rootCmd.AddCommand(eventCmd)
}

// loadConfig loads configuration and installs the default logger writing to w.
func loadConfig(w io.Writer) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, wrapExitError(ExitCommandError, "load config", err)
	}
	slog.SetDefault(newLogger(w, cfg.Log))
	return cfg, nil
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// withClient runs fn against a client opened from config. Logs go to the
// command's stderr; notices go to stdout unless --json is set.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *offline.Client) error) error {
	cfg, err := loadConfig(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	var n notice.Notifier = terminalNotifier{w: cmd.OutOrStdout()}
	if jsonOutput {
		n = discardNotifier{}
	}

	c, err := offline.New(cfg, offline.WithNotifier(n))
	if err != nil {
		return wrapExitError(ExitCommandError, "open offline queue", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	runErr := fn(ctx, c)
	if err := c.Shutdown(context.WithoutCancel(ctx)); err != nil {
		slog.Error("close offline queue", "component", "cli", "error", err)
	}
	return runErr
}
