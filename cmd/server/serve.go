package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/warp/cashback-engine/api"
	"github.com/warp/cashback-engine/metrics"
)

func serveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the cycle-close scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	snapshots, closeCache := a.newCache(ctx)
	defer closeCache()

	collector := metrics.NewCollector(a.logger)
	svc := a.newService(store, snapshots, collector)

	handler := api.NewHandler(store, svc, a.logger)
	router := api.NewRouter(handler, api.RouterOptions{
		Collector:   collector,
		CORSOrigins: a.cfg.Server.CORSOrigins,
	})

	scheduler := api.NewCycleCloseScheduler(store, svc, a.logger)
	scheduler.Enabled = a.cfg.Scheduler.Enabled
	scheduler.Interval = a.cfg.Scheduler.GetInterval()
	scheduler.Observer = collector
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         a.cfg.Addr(),
		Handler:      router,
		ReadTimeout:  a.cfg.Server.GetReadTimeout(),
		WriteTimeout: a.cfg.Server.GetWriteTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		a.logger.WithField("addr", server.Addr).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-serverErr:
		if err != nil {
			return errors.Wrap(err, "server failed")
		}
		return nil
	case sig := <-quit:
		a.logger.WithField("signal", sig.String()).Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.GetShutdownTimeout())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "server forced to shutdown")
	}

	a.logger.Info("server stopped")
	return nil
}
