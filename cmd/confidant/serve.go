package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCommand(c *cli) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				c.cfg.Server.Addr = addr
			}
			comps, err := initializeComponents(c.cfg, c.logger)
			if err != nil {
				return err
			}
			listener, err := net.Listen("tcp", c.cfg.Server.Addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", c.cfg.Server.Addr, err)
			}
			return serve(cmd.Context(), comps, listener)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

// serve runs the HTTP server, idle-session cleanup and the prompt watcher
// until ctx is done, then shuts the server down.
func serve(ctx context.Context, c *components, listener net.Listener) error {
	cfg := c.cfg
	srv := &http.Server{
		Handler:      c.api.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)

	if err := c.cleanup.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session cleanup: %w", err)
	}
	defer c.cleanup.Stop()

	if cfg.Prompt.Watch {
		if err := c.prompts.Watch(ctx); err != nil {
			c.logger.Warn("Prompt hot reload disabled", slog.Any("error", err))
		}
	}

	g.Go(func() error {
		c.logger.Info("Server listening",
			slog.String("addr", listener.Addr().String()),
			slog.String("model", cfg.Backend.Model),
			slog.String("storage", c.layout.Dir()),
		)
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		c.logger.Info("Shutting down gracefully")

		//nolint:contextcheck // the parent context is already done
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	c.logger.Info("Server stopped")
	return nil
}
