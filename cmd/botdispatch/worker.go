package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tbourn/bot-dispatch/internal/repo"
)

func newWorkerCmd() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the dispatch consumer pool",
		Long:  "worker consumes queued deliveries and sends them through cached platform sessions until interrupted.",
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
			if a.redis == nil {
				logger.Warn().Msg("worker started without REDIS_URL; it only sees jobs enqueued by this process")
			}

			rt, err := a.startWorker(ctx, newDiscordClient())
			if err != nil {
				a.close(context.Background())
				return err
			}

			var srv *http.Server
			if metricsAddr != "" {
				srv = &http.Server{
					Addr:              metricsAddr,
					Handler:           workerMux(a),
					ReadHeaderTimeout: cfg.ReadHeaderTimeout,
				}
				go func() {
					logger.Info().Str("addr", metricsAddr).Msg("worker metrics listening")
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Error().Err(err).Msg("worker metrics server failed")
					}
				}()
			}

			<-ctx.Done()
			logger.Info().Msg("shutdown signal received")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if srv != nil {
				_ = srv.Shutdown(shutdownCtx)
			}
			rt.stop(shutdownCtx)
			a.close(shutdownCtx)
			return nil
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address for /metrics and /health (empty disables)")
	return cmd
}

// workerMux exposes the worker's metrics and a liveness endpoint.
func workerMux(a *app) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))
	r.GET("/health", func(c *gin.Context) {
		if err := repo.Ping(a.db.WithContext(c.Request.Context())); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		if err := a.queue.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}
