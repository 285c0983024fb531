package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/shiftq/internal/api"
	"github.com/hyperengineering/shiftq/pkg/offline"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local control API and background sync",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := loadConfig(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	slog.Info("configuration loaded", "component", "cli", "db_path", cfg.Database.Path)

	client, err := offline.New(cfg)
	if err != nil {
		return wrapExitError(ExitCommandError, "open offline queue", err)
	}
	if err := client.Initialize(ctx); err != nil {
		return err
	}

	// Request contexts end when shutdown begins so length streams let go.
	baseCtx, cancelRequests := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRequests()

	router := api.NewRouter(api.NewHandler(client, cfg.Auth.APIKey, Version))
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
		BaseContext:  func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(cancelRequests)

	go func() {
		slog.Info("server starting", "component", "cli", "address", srv.Addr)
		// ErrServerClosed means Shutdown was called; anything else is fatal.
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "component", "cli", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown initiated", "component", "cli")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "component", "cli", "error", err)
	}
	if err := client.Shutdown(shutdownCtx); err != nil {
		slog.Error("client shutdown error", "component", "cli", "error", err)
	}

	slog.Info("shutdown complete", "component", "cli")
	return nil
}
