// Package httpapi implements the control-plane HTTP adapter: a thin JSON
// translator from requests to orchestrator.Hub operations.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ocx/evcentral/internal/config"
	"github.com/ocx/evcentral/internal/orchestrator"
)

// Server wraps the orchestrator Hub with the HTTP control-plane surface.
type Server struct {
	hub    *orchestrator.Hub
	cfg    *config.Config
	logger *slog.Logger
	http   *http.Server
}

// New builds the control-plane HTTP server, bound to cfg.Server.HTTPPort.
func New(hub *orchestrator.Hub, cfg *config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{hub: hub, cfg: cfg, logger: logger}

	router := mux.NewRouter()
	router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/stations", s.handleCreateStation).Methods("POST")
	api.HandleFunc("/stations", s.handleListStations).Methods("GET")
	api.HandleFunc("/stations/{id}", s.handleGetStation).Methods("GET")
	api.HandleFunc("/stations/{id}", s.handleDeleteStation).Methods("DELETE")

	api.HandleFunc("/start", s.handleStart).Methods("POST")
	api.HandleFunc("/stop", s.handleStop).Methods("POST")
	api.HandleFunc("/release", s.handleRelease).Methods("POST")
	api.HandleFunc("/reset", s.handleReset).Methods("POST")
	api.HandleFunc("/availability", s.handleAvailability).Methods("POST")

	api.HandleFunc("/pending", s.handlePending).Methods("GET")
	api.HandleFunc("/active", s.handleActive).Methods("GET")
	api.HandleFunc("/history", s.handleHistory).Methods("GET")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/overview", s.handleOverview).Methods("GET")

	api.HandleFunc("/identify", s.handleIdentify).Methods("POST")
	api.HandleFunc("/wallet/topup", s.handleWalletTopUp).Methods("POST")
	api.HandleFunc("/wallet/charge", s.handleWalletCharge).Methods("POST")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.Use(corsMiddleware(cfg))
	router.Use(loggingMiddleware(logger))
	api.Use(apiKeyMiddleware(cfg))

	s.http = &http.Server{
		Addr:         ":" + cfg.Server.HTTPPort,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}
	return s
}

// ListenAndServe blocks serving the control-plane API until the server is
// shut down or fails to start.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http control plane listening", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully drains in-flight requests, bounded by
// cfg.Server.ShutdownTimeout.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
