package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ddmq/ddmq/internal/admin"
	"github.com/ddmq/ddmq/internal/health"
	"github.com/ddmq/ddmq/internal/logging"
)

// Server provides HTTP endpoints for metrics, health checks, and the
// read-only admin surface (queues/messages/version) used by `ddmq serve`.
type Server struct {
	metricsServer *http.Server
	healthServer  *http.Server
	adminServer   *http.Server
	logger        *logging.Logger
}

// Config holds server configuration
type Config struct {
	MetricsAddress  string
	MetricsPath     string
	HealthAddress   string
	LivenessPath    string
	ReadinessPath    string
	AdminAddress    string
	Admin           *admin.Admin
	MetricsRegistry *prometheus.Registry
	HealthChecker   *health.Checker
	Logger          *logging.Logger
	// TLS, when non-nil, is applied to the admin, metrics, and health
	// servers alike; all three are operational surfaces on the same
	// trust boundary as the broker's root directory.
	TLS *tls.Config
}

// New creates a new server
func New(cfg Config) *Server {
	s := &Server{
		logger: cfg.Logger,
	}

	if cfg.AdminAddress != "" && cfg.Admin != nil {
		mux := http.NewServeMux()
		mux.HandleFunc("/version", handleVersion)
		mux.HandleFunc("/queues", handleListQueues(cfg.Admin))
		mux.HandleFunc("/queues/", handleQueueMessages(cfg.Admin))

		s.adminServer = &http.Server{
			Addr:         cfg.AdminAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			TLSConfig:    cfg.TLS,
		}
	}

	// Create metrics server
	if cfg.MetricsAddress != "" && cfg.MetricsRegistry != nil {
		metricsPath := cfg.MetricsPath
		if metricsPath == "" {
			metricsPath = "/metrics"
		}

		mux := http.NewServeMux()
		mux.Handle(metricsPath, promhttp.HandlerFor(
			cfg.MetricsRegistry,
			promhttp.HandlerOpts{
				EnableOpenMetrics: true,
			},
		))

		s.metricsServer = &http.Server{
			Addr:         cfg.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			TLSConfig:    cfg.TLS,
		}
	}

	// Create health server
	if cfg.HealthAddress != "" && cfg.HealthChecker != nil {
		livenessPath := cfg.LivenessPath
		if livenessPath == "" {
			livenessPath = "/health/live"
		}

		readinessPath := cfg.ReadinessPath
		if readinessPath == "" {
			readinessPath = "/health/ready"
		}

		mux := http.NewServeMux()
		mux.HandleFunc(livenessPath, cfg.HealthChecker.LivenessHandler())
		mux.HandleFunc(readinessPath, cfg.HealthChecker.ReadinessHandler())
		mux.HandleFunc("/health", cfg.HealthChecker.HTTPHandler())

		s.healthServer = &http.Server{
			Addr:         cfg.HealthAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			TLSConfig:    cfg.TLS,
		}
	}

	return s
}

// Start starts the servers
func (s *Server) Start() error {
	errCh := make(chan error, 3)

	serve := func(srv *http.Server) error {
		if srv.TLSConfig != nil {
			return srv.ListenAndServeTLS("", "")
		}
		return srv.ListenAndServe()
	}

	// Start admin server
	if s.adminServer != nil {
		go func() {
			s.logger.Info().
				Str("address", s.adminServer.Addr).
				Msg("Starting admin server")

			if err := serve(s.adminServer); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("admin server error: %w", err)
			}
		}()
	}

	// Start metrics server
	if s.metricsServer != nil {
		go func() {
			s.logger.Info().
				Str("address", s.metricsServer.Addr).
				Msg("Starting metrics server")

			if err := serve(s.metricsServer); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	// Start health server
	if s.healthServer != nil {
		go func() {
			s.logger.Info().
				Str("address", s.healthServer.Addr).
				Msg("Starting health server")

			if err := serve(s.healthServer); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("health server error: %w", err)
			}
		}()
	}

	// Wait a bit to see if there are any immediate startup errors
	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop gracefully shuts down the servers
func (s *Server) Stop(ctx context.Context) error {
	var err error

	if s.adminServer != nil {
		s.logger.Info().Msg("Shutting down admin server")
		if shutdownErr := s.adminServer.Shutdown(ctx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("Error shutting down admin server")
			err = shutdownErr
		}
	}

	if s.metricsServer != nil {
		s.logger.Info().Msg("Shutting down metrics server")
		if shutdownErr := s.metricsServer.Shutdown(ctx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("Error shutting down metrics server")
			err = shutdownErr
		}
	}

	if s.healthServer != nil {
		s.logger.Info().Msg("Shutting down health server")
		if shutdownErr := s.healthServer.Shutdown(ctx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("Error shutting down health server")
			if err == nil {
				err = shutdownErr
			}
		}
	}

	return err
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"version": admin.Version})
}

func handleListQueues(a *admin.Admin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		queues, err := a.ListQueues()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string][]string{"queues": queues})
	}
}

// handleQueueMessages serves GET /queues/{queue} and GET /queues/{queue}/stats.
func handleQueueMessages(a *admin.Admin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/queues/")
		queue, sub, hasSub := strings.Cut(path, "/")
		if queue == "" {
			http.Error(w, "missing queue name", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if hasSub && sub == "stats" {
			stats, err := a.QueueStats(queue)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			json.NewEncoder(w).Encode(stats)
			return
		}

		list, err := a.GetMessageList(queue)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(list)
	}
}
