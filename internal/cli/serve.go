// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iius-rcox/ai-assistant-sub001/internal/server"
	"github.com/spf13/cobra"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the record server",
		Long: `Run the HTTP record server.

Records are kept in Postgres when server.database_url (or DATABASE_URL) is
set, otherwise in memory.

Examples:
  overedit serve --addr :8080
  DATABASE_URL=postgres://localhost/triage overedit serve -c overedit.yaml`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rootOpts.Config()
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return runServe(cmd.Context(), rootOpts)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func runServe(ctx context.Context, rootOpts *RootOptions) error {
	cfg := rootOpts.Config()
	logger := rootOpts.Logger()
	if ctx == nil {
		ctx = context.Background()
	}

	fields, err := cfg.FieldSchema()
	if err != nil {
		return err
	}
	components, err := server.SetupServer(ctx, &server.ServerConfig{
		DatabaseURL: cfg.Server.DatabaseURL,
		JWTSecret:   cfg.Server.JWTSecret,
		Logger:      logger,
		AppName:     "overedit",
		Fields:      fields,
		Metrics:     cfg.Server.Metrics,
		LogRequests: cfg.Server.LogRequests,
	})
	if err != nil {
		return err
	}
	defer components.Close()

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      components.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting record server", "address", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		return err
	}
	logger.Info("Server exited")
	return nil
}
