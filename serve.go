package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/rowmark/rowmark/internal/api"
)

const (
	serveReadHeaderTimeout = 10 * time.Second
	serveShutdownTimeout   = 10 * time.Second
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run-event stream",
		Long: `Start the HTTP API: audit queries, cycle triggers, and a websocket
stream of terminal run summaries. Triggered cycles share the engine's
per-table singleflight, so API triggers and concurrent CLI runs
coalesce instead of racing.

The listen address comes from [serve] in the config; --listen overrides
it. Set auth_token whenever the listener is not loopback-only.`,
		RunE: runServe,
	}

	cmd.Flags().String("listen", "", "listen address (overrides [serve] config)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	if err := requireTables(); err != nil {
		return err
	}

	engine, err := newEngine(logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	listen := resolvedCfg.Serve.Listen
	if flagListen, _ := cmd.Flags().GetString("listen"); flagListen != "" {
		listen = flagListen
	}

	handler := api.NewHandler(engine, logger, resolvedCfg.Serve.AuthToken, version)

	srv := &http.Server{
		Addr:              listen,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: serveReadHeaderTimeout,
	}

	ctx := shutdownContext(cmd.Context(), logger)

	errCh := make(chan error, 1)

	go func() {
		logger.Info("http api listening", slog.String("addr", listen))

		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serveShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", slog.String("error", err.Error()))
	}

	return nil
}
