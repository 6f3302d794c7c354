// Package apihttp binds the local API shim (internal/api) onto an HTTP
// router. Grounded on the teacher's user/api/server package: a
// gorilla/mux router wrapped in an http.Server with context-aware
// Run/Shutdown, and a uniform {success, data, error} JSON envelope on
// every response except /metrics, which serves the Prometheus text
// format.
package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wrale/heatpump-thermostat/internal/api"
	"github.com/wrale/heatpump-thermostat/internal/herrors"
	"github.com/wrale/heatpump-thermostat/pkg/metrics"
)

// response is the uniform envelope every handler writes.
type response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Config holds the HTTP server's own listen settings, separate from the
// device configuration the shim operates on.
type Config struct {
	Addr string
}

// Server is the local API's HTTP binding.
type Server struct {
	log    *zap.Logger
	shim   *api.Shim
	srv    *http.Server
	router *mux.Router
}

// New constructs the HTTP server, wiring every route onto shim and
// exposing /metrics when collectors is non-nil.
func New(cfg Config, shim *api.Shim, collectors *metrics.Collectors, log *zap.Logger) *Server {
	s := &Server{
		log:    log.Named("api.http"),
		shim:   shim,
		router: mux.NewRouter(),
	}

	s.setupRoutes(collectors)

	s.srv = &http.Server{
		Handler:      s.router,
		Addr:         cfg.Addr,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes(collectors *metrics.Collectors) {
	s.router.Use(s.loggingMiddleware)

	// A Server-deployed device (pkg/config.Config.RequiresControlLoop ==
	// false) never builds a shim — there is no local engine to operate
	// on, so these routes would have nothing to call. Only /healthz and
	// /metrics make sense without one.
	if s.shim != nil {
		s.router.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
		s.router.HandleFunc("/api/config", s.handleGetConfig).Methods(http.MethodGet)
		s.router.HandleFunc("/api/config", s.handleUpdateConfig).Methods(http.MethodPut)
		s.router.HandleFunc("/api/target", s.handleSetTarget).Methods(http.MethodPut)
		s.router.HandleFunc("/api/fan", s.handleSetFan).Methods(http.MethodPut)
		s.router.HandleFunc("/api/emergency_stop", s.handleSetEmergencyStop).Methods(http.MethodPut)
	}
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	if collectors != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(collectors.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("local API listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api http server: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("latency", time.Since(start)))
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response{Success: true, Data: data}); err != nil {
		s.log.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) sendError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response{Error: &apiError{Code: code, Message: message}}); err != nil {
		s.log.Warn("failed to encode error response", zap.Error(err))
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.shim.StatusSnapshot())
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.shim.GetConfigSnapshot())
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var update api.ConfigUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	s.shim.UpdateConfig(update)
	s.sendJSON(w, http.StatusOK, s.shim.GetConfigSnapshot())
}

func (s *Server) handleSetTarget(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Target float64 `json:"target"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if err := s.shim.SetTarget(body.Target); err != nil {
		var ve *herrors.ValidationError
		if errors.As(err, &ve) {
			s.sendError(w, http.StatusBadRequest, "invalid_target", err.Error())
			return
		}
		s.sendError(w, http.StatusInternalServerError, "set_target_failed", err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, s.shim.StatusSnapshot())
}

func (s *Server) handleSetFan(w http.ResponseWriter, r *http.Request) {
	var body struct {
		On bool `json:"on"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	s.shim.SetFan(body.On)
	s.sendJSON(w, http.StatusOK, s.shim.StatusSnapshot())
}

func (s *Server) handleSetEmergencyStop(w http.ResponseWriter, r *http.Request) {
	var body struct {
		On bool `json:"on"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	s.shim.SetEmergencyStop(body.On)
	s.sendJSON(w, http.StatusOK, s.shim.StatusSnapshot())
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
