// Package httpserver serves the latest distribution snapshot over HTTP and
// websocket.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/splusd-labs/splusd-tracker/internal/cache"
	"github.com/splusd-labs/splusd-tracker/internal/core/domain"
	"github.com/splusd-labs/splusd-tracker/internal/metrics"
	"github.com/splusd-labs/splusd-tracker/pkg/export"
	"github.com/splusd-labs/splusd-tracker/pkg/version"
)

// SnapshotSource is the view of the refresh cache the server needs.
// *cache.SnapshotCache implements it.
type SnapshotSource interface {
	Get() (*domain.DistributionSnapshot, bool)
	Trigger() error
	Subscribe(fn func(*domain.DistributionSnapshot))
}

type Config struct {
	Cache             SnapshotSource
	RequestsPerSecond float64
	Burst             int
	Metrics           *metrics.TrackerMetrics
	// MetricsHandler defaults to promhttp.Handler().
	MetricsHandler http.Handler
	Now            func() time.Time
	Log            logrus.FieldLogger
}

type Server struct {
	cfg    Config
	router chi.Router
	hub    *hub
	log    logrus.FieldLogger
}

func New(cfg Config) *Server {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = promhttp.Handler()
	}
	s := &Server{
		cfg: cfg,
		hub: newHub(cfg.Metrics, cfg.Log),
		log: cfg.Log,
	}
	cfg.Cache.Subscribe(s.hub.Broadcast)

	limiter := newRateLimiter(cfg.RequestsPerSecond, cfg.Burst)
	r := chi.NewRouter()
	r.Get("/healthz", s.healthz)
	r.Get("/version", s.version)
	r.Handle("/metrics", cfg.MetricsHandler)
	r.Route("/api", func(api chi.Router) {
		api.Use(limiter.Middleware)
		api.Get("/snapshot", s.handleSnapshot)
		api.Get("/export.csv", s.handleExport(export.CSV))
		api.Get("/export.json", s.handleExport(export.JSON))
		api.Post("/refresh", s.handleRefresh)
	})
	r.With(limiter.Middleware).Get("/ws", s.handleWS)
	s.router = r
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Run listens on addr until ctx is cancelled, then drains for up to five
// seconds.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.hub.Close()
		return err
	case <-ctx.Done():
	}
	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, version.GetBuildInfo())
}

// current returns the snapshot to serve, or writes the error status and
// returns nil.
func (s *Server) current(w http.ResponseWriter) *domain.DistributionSnapshot {
	snap, ok := s.cfg.Cache.Get()
	switch {
	case snap == nil:
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "snapshot not ready"})
		return nil
	case !ok:
		writeJSON(w, http.StatusBadGateway, snap)
		return nil
	}
	return snap
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	snap := s.current(w)
	if snap == nil {
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=30")
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleExport(f export.Format) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		snap := s.current(w)
		if snap == nil {
			return
		}
		w.Header().Set("Content-Type", f.ContentType())
		w.Header().Set("Content-Disposition", `attachment; filename="`+export.Filename(f, s.cfg.Now())+`"`)
		if err := export.Write(w, f, snap); err != nil {
			s.log.WithError(err).WithField("format", f).Error("export failed")
		}
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	err := s.cfg.Cache.Trigger()
	switch {
	case errors.Is(err, cache.ErrRefreshInFlight):
		writeJSON(w, http.StatusConflict, map[string]string{"status": "already running"})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.cfg.Cache.Get()
	if !ok {
		snap = nil
	}
	s.hub.serve(w, r, snap)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
