// Package server provides the operational HTTP server of the conductor.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/devrev/ringconductor/internal/health"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// OpsServerConfig holds configuration for the operational server
type OpsServerConfig struct {
	Port        int
	MetricsPath string
}

// OpsServer serves Prometheus metrics and health probes
type OpsServer struct {
	router     *mux.Router
	httpServer *http.Server
	logger     *zap.Logger
}

// NewOpsServer creates the operational server. Metrics are gathered from gatherer.
func NewOpsServer(cfg OpsServerConfig, gatherer prometheus.Gatherer, hc *health.HealthChecker, logger *zap.Logger) *OpsServer {
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	router := mux.NewRouter()

	s := &OpsServer{
		router: router,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	router.Use(s.recovery)
	router.Handle(cfg.MetricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/health/live", hc.LivenessHandler).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", hc.ReadinessHandler).Methods(http.MethodGet)

	return s
}

// Start serves in the background. Serve failures are logged.
func (s *OpsServer) Start() {
	s.logger.Info("Starting ops server", zap.String("addr", s.httpServer.Addr))

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Ops server failed", zap.Error(err))
		}
	}()
}

// Shutdown gracefully stops the server
func (s *OpsServer) Shutdown(ctx context.Context) error {
	s.logger.Info("Stopping ops server")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the router for testing purposes
func (s *OpsServer) Handler() http.Handler {
	return s.router
}

func (s *OpsServer) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("Panic in ops handler",
					zap.Any("error", err),
					zap.String("path", r.URL.Path))
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
