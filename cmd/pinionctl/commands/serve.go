package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/pinion"
	"github.com/luciancaetano/pinion/internal/config"
	"github.com/luciancaetano/pinion/internal/logging"
	"github.com/luciancaetano/pinion/internal/metrics"
	"github.com/luciancaetano/pinion/ws"
)

// serve: run the reference server with echo and broadcast routes.
func serveCmd() *cobra.Command {
	var (
		addr        string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultServerConfig()
			if configPath != "" {
				loaded, err := config.LoadServerConfig(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			if logLevel == "" && !logging.SetLevel(cfg.LogLevel) {
				return fmt.Errorf("unknown log level %q", cfg.LogLevel)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, err := newServer(cfg)
			if err != nil {
				return err
			}
			if err := srv.Start(ctx); err != nil {
				return err
			}

			log := logging.New("pinionctl")
			if metricsAddr != "" {
				metrics.RegisterMetrics()
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				metricsSrv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Error().Err(err).Msg("metrics server stopped")
					}
				}()
				defer metricsSrv.Close()
				log.Info().Str("addr", metricsAddr).Msg("metrics listening")
			}

			<-ctx.Done()
			log.Info().Msg("shutting down")
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Stop(stopCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	return cmd
}

// newServer builds the reference server from cfg and registers the demo routes:
// "echo" answers with the request body and "broadcast" pushes
// {"route": ..., "body": ...} to every peer.
func newServer(cfg config.ServerConfig) (*ws.Server, error) {
	rl := ws.NoRateLimit()
	if cfg.RateLimit.Enabled {
		rl = &ws.RateLimitConfig{
			MessagesPerSecond: rate.Limit(cfg.RateLimit.MessagesPerSecond),
			Burst:             cfg.RateLimit.Burst,
			Enabled:           true,
		}
	}
	checkOrigin := ws.AllOrigins()
	if len(cfg.AllowedOrigins) > 0 {
		checkOrigin = ws.Origins(cfg.AllowedOrigins...)
	}

	scfg := ws.NewServerConfig(cfg.Addr, rl, checkOrigin, nil, nil)
	scfg.Path = cfg.Path
	scfg.Heartbeat = cfg.Heartbeat
	scfg.Dict = cfg.Dict
	scfg.Protos = ws.Protos{Client: cfg.Protos.Client, Server: cfg.Protos.Server}

	srv, err := ws.NewServer(scfg)
	if err != nil {
		return nil, err
	}

	srv.Handle("echo", func(_ pinion.Peer, _ string, body any) (any, error) {
		return body, nil
	})
	srv.Handle("broadcast", func(peer pinion.Peer, _ string, body any) (any, error) {
		var in struct {
			Route string `json:"route"`
			Body  any    `json:"body"`
		}
		if err := pinion.Bind(body, &in); err != nil {
			return nil, err
		}
		if in.Route == "" {
			return nil, pinion.ErrMissingRoute
		}
		if err := srv.Broadcast(peer.Context(), in.Route, in.Body); err != nil {
			return nil, err
		}
		return map[string]any{"code": pinion.ResCodeOK}, nil
	})
	return srv, nil
}
