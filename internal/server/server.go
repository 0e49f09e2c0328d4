// Package server publishes the current catalog over HTTP and refreshes it on a
// schedule.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/snapetech/tvcollector/internal/catalog"
	"github.com/snapetech/tvcollector/internal/pipeline"
	"github.com/snapetech/tvcollector/internal/publish"
)

const shutdownWait = 10 * time.Second

// Runner performs one collection. *pipeline.Pipeline is the production one.
type Runner interface {
	Run(ctx context.Context) (pipeline.Result, error)
}

// Server serves the consolidated playlist, per-channel playlists and the JSON
// catalog from memory. Runner refreshes Catalog every RefreshInterval.
type Server struct {
	Addr    string
	Catalog *catalog.Catalog
	Runner  Runner
	// RefreshInterval <= 0 runs once at start and then only on POST /refresh.
	RefreshInterval time.Duration
	// BaseURL is the public prefix of /channels. Empty derives it from the
	// request Host.
	BaseURL string
	Logger  *slog.Logger

	mu          sync.Mutex
	lastRun     time.Time
	lastErr     error
	running     bool
	triggerOnce sync.Once
	trigger     chan struct{}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/playlist.m3u", s.servePlaylist).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/channels/{key}.m3u8", s.serveChannel).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/catalog.json", s.serveCatalog).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.serveHealth).Methods(http.MethodGet)
	r.HandleFunc("/refresh", s.serveRefresh).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.Use(logRequests(s.logger()))
	return r
}

// Run serves until ctx is cancelled, refreshing the catalog in the background.
// On shutdown it stops accepting connections and waits briefly for in-flight
// requests.
func (s *Server) Run(ctx context.Context) error {
	addr := s.Addr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		s.refreshLoop(loopCtx)
	}()

	serverErr := make(chan error, 1)
	go func() {
		s.logger().Info("http server listening", "addr", addr)
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		stopLoop()
		<-loopDone
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		s.logger().Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger().Warn("http shutdown", "err", err)
		}
		<-serverErr
		<-loopDone
		return nil
	}
}

// Refresh runs the pipeline once. A refresh already in progress makes this a
// no-op that returns nil.
func (s *Server) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	res, err := s.Runner.Run(ctx)

	s.mu.Lock()
	s.running = false
	s.lastRun = time.Now()
	s.lastErr = err
	s.mu.Unlock()
	if err != nil {
		s.logger().Error("refresh failed", "run_id", res.RunID, "err", err)
		return err
	}
	s.logger().Info("catalog refreshed", "run_id", res.RunID, "channels", len(res.Channels))
	return nil
}

func (s *Server) refreshLoop(ctx context.Context) {
	_ = s.Refresh(ctx)
	var tick <-chan time.Time
	if s.RefreshInterval > 0 {
		t := time.NewTicker(s.RefreshInterval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
		case <-s.triggers():
		}
		_ = s.Refresh(ctx)
	}
}

func (s *Server) triggers() chan struct{} {
	s.triggerOnce.Do(func() { s.trigger = make(chan struct{}, 1) })
	return s.trigger
}

func (s *Server) servePlaylist(w http.ResponseWriter, r *http.Request) {
	channels := s.Catalog.Snapshot()
	if len(channels) == 0 {
		http.Error(w, "catalog not ready", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "audio/x-mpegurl")
	if r.Method == http.MethodHead {
		return
	}
	if err := publish.WritePlaylist(w, channels, s.baseURL(r)); err != nil {
		s.logger().Warn("write playlist", "err", err)
	}
}

func (s *Server) serveChannel(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.Catalog.Lookup(mux.Vars(r)["key"])
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	if r.Method == http.MethodHead {
		return
	}
	if err := publish.WriteSubPlaylist(w, ch); err != nil {
		s.logger().Warn("write channel playlist", "key", ch.Key, "err", err)
	}
}

func (s *Server) serveCatalog(w http.ResponseWriter, _ *http.Request) {
	data, err := s.Catalog.JSON()
	if err != nil {
		http.Error(w, "catalog unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

// serveHealth returns 200 once a catalog is loaded and 503 before.
func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	runID, generated, count := s.Catalog.Info()
	s.mu.Lock()
	lastRun, lastErr, running := s.lastRun, s.lastErr, s.running
	s.mu.Unlock()

	body := map[string]any{"status": "ok", "channels": count, "refreshing": running}
	status := http.StatusOK
	if count == 0 {
		body["status"] = "loading"
		status = http.StatusServiceUnavailable
	} else {
		body["run_id"] = runID
		body["generated_at"] = generated.Format(time.RFC3339)
	}
	if !lastRun.IsZero() {
		body["last_refresh"] = lastRun.Format(time.RFC3339)
	}
	if lastErr != nil {
		body["last_error"] = lastErr.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// serveRefresh queues a run; a run already queued absorbs the request.
func (s *Server) serveRefresh(w http.ResponseWriter, _ *http.Request) {
	select {
	case s.triggers() <- struct{}{}:
	default:
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) baseURL(r *http.Request) string {
	if s.BaseURL != "" {
		return s.BaseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + "/channels"
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
