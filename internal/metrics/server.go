// Package metrics exposes the Prometheus registry and a liveness check over
// HTTP. Every promauto metric registered by internal/rpcclient, internal/reorg
// and internal/fetcher is served here; this package owns none of those
// metrics itself, only the listener.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drips-network/dripfeed/internal/config"
	"github.com/drips-network/dripfeed/internal/logger"
)

// Server is the HTTP server that exposes the /metrics and /health endpoints.
type Server struct {
	cfg    config.HealthConfig
	log    *logger.Logger
	server *http.Server
}

// NewServer builds a metrics/health server bound to cfg.Port. A zero port
// means the server is disabled.
func NewServer(cfg config.HealthConfig, log *logger.Logger) *Server {
	return &Server{cfg: cfg, log: log}
}

// Start launches the HTTP listener in the background. It returns immediately;
// Stop shuts the listener down. A zero-valued port is a no-op.
func (s *Server) Start(ctx context.Context) error {
	if s.cfg.Port == 0 {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorw("metrics server exited", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the listener, if it was started.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return nil
}
