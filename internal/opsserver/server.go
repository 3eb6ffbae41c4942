package opsserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/des-barres-dev/kenerkuma/internal/bridge"
	"github.com/des-barres-dev/kenerkuma/internal/logging"
	"github.com/des-barres-dev/kenerkuma/internal/metrics"
)

// Config controls HTTP server settings.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// MonitorLister answers monitor state queries.
type MonitorLister interface {
	Monitors(ctx context.Context) ([]bridge.MonitorState, error)
}

// ReadinessChecker evaluates whether the bridge is ready.
type ReadinessChecker interface {
	Ready(now time.Time) (bool, []string)
}

// Dependencies holds external collaborators required by the server.
type Dependencies struct {
	Logger   logrus.FieldLogger
	Metrics  *metrics.Store
	Health   ReadinessChecker
	Monitors MonitorLister
	Now      func() time.Time
}

// Server wraps http.Server for convenience.
type Server struct {
	*http.Server
	cfg  Config
	deps Dependencies
}

// New constructs the operational HTTP server.
func New(cfg Config, deps Dependencies) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:9320"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	deps.Logger = logging.For(deps.Logger, logging.ComponentOps)
	if deps.Now == nil {
		deps.Now = time.Now
	}

	r := mux.NewRouter()
	if deps.Metrics != nil {
		r.Handle("/metrics", metrics.NewHTTPHandler(deps.Metrics)).Methods(http.MethodGet)
	}
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.HandleFunc("/readyz", readyHandler(deps)).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/monitors", listMonitorsHandler(deps)).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/monitors/{id}", getMonitorHandler(deps)).Methods(http.MethodGet)

	s := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return &Server{Server: s, cfg: cfg, deps: deps}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		s.deps.Logger.Infof("ops server listening on http://%s", ln.Addr())
		errCh <- s.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func readyHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Health == nil {
			w.WriteHeader(http.StatusOK)
			return
		}
		ready, reasons := deps.Health.Ready(deps.Now().UTC())
		if !ready {
			http.Error(w, strings.Join(reasons, "; "), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func listMonitorsHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		monitors, ok := fetchMonitors(w, r, deps)
		if !ok {
			return
		}
		if raw := r.URL.Query().Get("in_scope"); raw != "" {
			want, err := strconv.ParseBool(raw)
			if err != nil {
				http.Error(w, "in_scope must be a boolean", http.StatusBadRequest)
				return
			}
			filtered := monitors[:0]
			for _, m := range monitors {
				if m.InScope == want {
					filtered = append(filtered, m)
				}
			}
			monitors = filtered
		}
		writeJSON(w, deps, map[string]any{"monitors": monitors, "count": len(monitors)})
	}
}

func getMonitorHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		monitors, ok := fetchMonitors(w, r, deps)
		if !ok {
			return
		}
		for _, m := range monitors {
			if m.ID == id {
				writeJSON(w, deps, m)
				return
			}
		}
		http.Error(w, "monitor not found", http.StatusNotFound)
	}
}

func fetchMonitors(w http.ResponseWriter, r *http.Request, deps Dependencies) ([]bridge.MonitorState, bool) {
	if deps.Monitors == nil {
		http.Error(w, "monitor state unavailable", http.StatusServiceUnavailable)
		return nil, false
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	monitors, err := deps.Monitors.Monitors(ctx)
	if err != nil {
		deps.Logger.WithError(err).Warn("monitor query failed")
		http.Error(w, "monitor state unavailable", http.StatusServiceUnavailable)
		return nil, false
	}
	return monitors, true
}

func writeJSON(w http.ResponseWriter, deps Dependencies, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		deps.Logger.WithError(err).Warn("encode response failed")
	}
}
