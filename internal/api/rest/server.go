package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/edushield/access-gateway/internal/infrastructure/config"
	"github.com/edushield/access-gateway/internal/metrics"
)

// Server is the HTTP facade over the access control pipeline.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer builds the router with its middleware chain and the metrics
// endpoint.
func NewServer(cfg config.ServerConfig, handlers *Handlers, reg *metrics.Registry, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg.Prometheus(), promhttp.HandlerOpts{}))

	handler := chain(mux,
		requestIDMiddleware(),
		loggingMiddleware(logger),
		loadShedMiddleware(cfg.MaxRequestsPerSecond, cfg.BurstSize),
	)

	return &Server{
		srv: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  120 * time.Second,
		},
		logger: logger,
	}
}

// Start serves until the listener closes.
func (s *Server) Start() error {
	s.logger.Info("http server starting", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.srv.Shutdown(ctx)
}
