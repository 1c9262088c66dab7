package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/phrazzld/maintenance-orchestrator/internal/api"
	"github.com/phrazzld/maintenance-orchestrator/internal/store"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// drainTimeout bounds how long shutdown waits for queued replies.
const drainTimeout = 10 * time.Second

func newServeCmd(c *cli) *cobra.Command {
	var (
		migrate        bool
		requestTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the outbound queue until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := c.openApp(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if err := app.close(); err != nil {
					app.logger.Error("failed to release resources", "error", err)
				}
			}()

			if migrate {
				if err := app.database.migrate(ctx, store.MigrateUp, app.logger); err != nil {
					return fmt.Errorf("failed to apply migrations: %w", err)
				}
			}

			listener, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(app.config.Server.Port)))
			if err != nil {
				return fmt.Errorf("failed to listen on port %d: %w", app.config.Server.Port, err)
			}
			return app.serve(ctx, listener, requestTimeout)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before serving")
	cmd.Flags().DurationVar(&requestTimeout, "request-timeout", 2*time.Minute, "upper bound on a single API request")
	return cmd
}

// serve runs the API on listener and the outbound queue until ctx ends, then
// shuts both down within the configured shutdown timeout.
func (app *application) serve(ctx context.Context, listener net.Listener, requestTimeout time.Duration) error {
	router, err := api.NewRouter(api.RouterConfig{
		Processor:      app.orchestrator,
		Workflows:      app.workflows,
		Queue:          app.queue,
		Metrics:        app.registry,
		Health:         app.database.db.PingContext,
		RequestTimeout: requestTimeout,
	}, app.logger)
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	server := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	// The queue outlives ctx so replies produced during shutdown still go out.
	if err := app.queue.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to start outbound queue: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		app.logger.Info("starting server", "addr", listener.Addr().String())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		app.logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), app.config.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown failed: %w", err))
		}
		if err := app.queue.Drain(shutdownCtx, drainTimeout); err != nil {
			app.logger.Warn("outbound queue not drained", "error", err)
		}
		if err := app.queue.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("outbound queue stop failed: %w", err))
		}
		return errors.Join(errs...)
	})

	err = g.Wait()
	app.logger.Info("server shutdown completed")
	return err
}
