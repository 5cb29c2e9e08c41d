package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/tbourn/bot-dispatch/internal/config"
	"github.com/tbourn/bot-dispatch/internal/connpool"
	httpapi "github.com/tbourn/bot-dispatch/internal/http"
)

func newServeCmd() *cobra.Command {
	var embedded bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long:  "serve runs the HTTP API. With --embedded-worker, or when no REDIS_URL is set, the consumer pool runs in the same process.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}

			var rt *workerRuntime
			if embedded || a.redis == nil {
				if rt, err = a.startWorker(ctx, newDiscordClient()); err != nil {
					a.close(context.Background())
					return err
				}
			}
			var local *connpool.Cache
			if rt != nil {
				local = rt.cache
			}

			gin.SetMode(cfg.GinMode)
			r := gin.New()
			httpapi.RegisterRoutes(r, httpapi.Deps{
				DB:       a.db,
				Queue:    a.queue,
				Bots:     a.botService(a.evicter(local)),
				Dispatch: a.dispatchService(),
				Registry: a.registry,
			}, cfg)

			srv := newHTTPServer(cfg, r)
			return runServer(ctx, a, srv, rt)
		},
	}
	cmd.Flags().BoolVar(&embedded, "embedded-worker", false, "run the consumer pool in this process")
	return cmd
}

func newHTTPServer(cfg config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           h,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
}

// runServer serves until ctx ends, then shuts down the listener, the worker
// (if any) and the app within cfg.ShutdownTimeout.
func runServer(ctx context.Context, a *app, srv *http.Server, rt *workerRuntime) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info().Msg("shutdown signal received")
	case serveErr = <-errCh:
		if serveErr != nil {
			a.logger.Error().Err(serveErr).Msg("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn().Err(err).Msg("http shutdown")
	}
	if rt != nil {
		rt.stop(shutdownCtx)
	}
	a.close(shutdownCtx)
	a.logger.Info().Msg("bye")
	return serveErr
}
