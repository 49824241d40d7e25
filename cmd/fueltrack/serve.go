package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/fueltrack/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local HTTP API and the automatic push loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd.Context(), func(app *application) error {
				return runServer(cmd.Context(), app)
			})
		},
	}
}

func runServer(ctx context.Context, app *application) error {
	handler, err := server.NewHTTPHandler(server.Dependencies{
		Entries:     app.store,
		Vehicles:    app.vehicles,
		Prefs:       app.prefs,
		Session:     app.session,
		Pusher:      app.runner,
		Restorer:    app.engine,
		Events:      app.events,
		RollingDays: app.config.RollingDays,
		Logger:      app.logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              app.config.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(signalCtx)
	group.Go(func() error {
		app.logger.Info("server starting", zap.String("address", app.config.HTTPAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		app.logger.Info("automatic push enabled", zap.Duration("interval", app.config.SyncInterval))
		if err := app.runner.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return group.Wait()
}
