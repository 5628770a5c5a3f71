package cli

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/maomaowang214/doc-chat/internal/config"
	"github.com/maomaowang214/doc-chat/internal/devproxy"
)

// swappableHandler lets a config reload replace the router while serving.
type swappableHandler struct {
	h atomic.Pointer[gin.Engine]
}

func (s *swappableHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.h.Load().ServeHTTP(w, r)
}

func newProxyCmd(g *globalOptions) *cobra.Command {
	var listen string
	var watch bool
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Run the development gateway in front of the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Proxy.Listen = listen
			}
			logger := g.logger(cfg)
			gin.SetMode(gin.ReleaseMode)

			build := func(cfg *config.Config) (*gin.Engine, error) {
				opts := devproxy.Options{Rules: cfg.Proxy.Rules, Logger: logger}
				if cfg.Metrics.Enabled {
					opts.Gatherer = prometheus.DefaultGatherer
					opts.MetricsPath = cfg.Metrics.Path
				}
				return devproxy.NewRouter(opts)
			}
			router, err := build(cfg)
			if err != nil {
				return err
			}
			handler := &swappableHandler{}
			handler.h.Store(router)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if watch && g.cfgPath != "" {
				go func() {
					err := config.Watch(ctx, g.cfgPath, 200*time.Millisecond, func(next *config.Config) {
						r, err := build(next)
						if err != nil {
							logger.Warn("config reload rejected", "error", err)
							return
						}
						handler.h.Store(r)
						logger.Info("config reloaded", "rules", len(next.Proxy.Rules))
					}, func(err error) {
						logger.Warn("config reload failed", "error", err)
					})
					if err != nil {
						logger.Error("config watch stopped", "error", err)
					}
				}()
			}

			srv := &http.Server{
				Addr:              cfg.Proxy.Listen,
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				<-ctx.Done()
				shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
				defer stop()
				_ = srv.Shutdown(shutdownCtx)
			}()

			logger.Info("proxy listening", "addr", cfg.Proxy.Listen, "rules", len(cfg.Proxy.Rules))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address, overrides config")
	cmd.Flags().BoolVar(&watch, "watch", true, "reload rules when the config file changes")
	return cmd
}
