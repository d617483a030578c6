package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/neuraldrift/neuraldrift/internal/config"
	"github.com/neuraldrift/neuraldrift/internal/durable"
	"github.com/neuraldrift/neuraldrift/internal/journal"
	"github.com/neuraldrift/neuraldrift/internal/ledger"
	"github.com/neuraldrift/neuraldrift/internal/metrics"
	"github.com/neuraldrift/neuraldrift/internal/session"
)

// Deps are the components the daemon serves.
type Deps struct {
	Ledger  *ledger.Ledger
	Session *session.Session
	Journal *journal.DB
	Config  config.Config
	Version string
	Log     zerolog.Logger
}

// Server is the neuraldrift daemon. All ledger and session access goes
// through mu, so requests are applied one at a time in arrival order.
type Server struct {
	mu      sync.Mutex
	ledger  *ledger.Ledger
	session *session.Session
	journal *journal.DB
	cfg     config.Config
	log     zerolog.Logger
	hub     *Hub
	router  chi.Router
	version string
	started time.Time

	// ledgerHash is the hash of the ledger as this process last wrote it,
	// so the watcher can tell our own saves from another writer's.
	ledgerHash string

	cron *cron.Cron
}

// New creates a Server over deps.
func New(deps Deps) *Server {
	s := &Server{
		ledger:  deps.Ledger,
		session: deps.Session,
		journal: deps.Journal,
		cfg:     deps.Config,
		log:     deps.Log,
		version: deps.Version,
		started: time.Now(),
	}
	s.hub = NewHub(deps.Journal, deps.Config.Daemon.EventBacklog, deps.Log)
	s.rememberLedger()
	s.observe()
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(instrument)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/events", s.handleEvents)
		r.Get("/events/stream", s.hub.ServeWS)

		r.Group(func(r chi.Router) {
			r.Use(s.serialize)

			r.Post("/learn", s.handleLearn)
			r.Get("/recall", s.handleRecall)
			r.Get("/search", s.handleSearch)
			r.Post("/verify", s.handleVerify)
			r.Post("/forget", s.handleForget)
			r.Post("/warmup", s.handleWarmUp)
			r.Post("/associate", s.handleAssociate)
			r.Post("/muse", s.handleMuse)
			r.Get("/musings", s.handleMusings)
			r.Get("/heatmap", s.handleHeatmap)
			r.Get("/coldspots", s.handleColdSpots)
			r.Get("/level", s.handleLevel)
			r.Get("/stats", s.handleStats)
			r.Get("/topics", s.handleTopics)
			r.Get("/context", s.handleGetContext)

			r.Get("/plan", s.handleGetPlan)
			r.Post("/plan", s.handlePlanStart)
			r.Post("/plan/complete", s.handlePlanComplete)
			r.Post("/checkpoint", s.handleCheckpoint)
			r.Post("/agents", s.handleAgentSnapshot)
			r.Post("/agents/{agentID}/done", s.handleAgentDone)
			r.Get("/resume", s.handleResume)
			r.Get("/session", s.handleSessionSummary)
		})
	})

	s.router = r
}

func (s *Server) serialize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RequestCount.WithLabelValues(r.Method, route, fmt.Sprint(status)).Inc()
		metrics.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	journalOK := s.journal.Ping() == nil
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"pid":     os.Getpid(),
		"uptime":  time.Since(s.started).Seconds(),
		"ledger":  s.ledger.Path(),
		"session": s.session.Path(),
		"journal": journalOK,
		"clients": s.hub.Len(),
	})
}

// Start begins the heartbeat schedule and the ledger watcher. Both stop
// when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(s.cfg.Daemon.Heartbeat, s.heartbeat); err != nil {
		return fmt.Errorf("heartbeat schedule %q: %w", s.cfg.Daemon.Heartbeat, err)
	}
	s.cron = c
	c.Start()

	w, err := newWatcher(s.ledger.Path(), s.cfg.Daemon.WatchDebounce.Duration, s.onLedgerChanged, s.log)
	if err != nil {
		c.Stop()
		return fmt.Errorf("watch ledger: %w", err)
	}
	go w.run(ctx)

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return nil
}

// Listen opens the daemon's unix socket, replacing a stale socket file.
func Listen(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return ln, nil
}

// Serve answers requests on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{Handler: s}

	errc := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.hub.Close()
	return httpServer.Shutdown(shutdownCtx)
}

// heartbeat publishes a liveness event and trims the journal.
func (s *Server) heartbeat() {
	s.mu.Lock()
	st := s.ledger.Stats()
	s.mu.Unlock()

	s.publish(journal.KindHeartbeat, "", map[string]any{
		"uptime":  time.Since(s.started).Seconds(),
		"facts":   st.Facts,
		"xp":      st.XP,
		"level":   st.Level,
		"clients": s.hub.Len(),
	})
	if keep := s.cfg.Daemon.EventBacklog * 50; keep > 0 {
		if _, err := s.journal.Prune(keep); err != nil {
			s.log.Warn().Err(err).Msg("prune journal")
		}
	}
}

// onLedgerChanged reloads the ledger when another process rewrote it.
func (s *Server) onLedgerChanged() {
	s.mu.Lock()
	h, err := durable.Hash(s.ledger.Path())
	if err != nil || h == s.ledgerHash {
		s.mu.Unlock()
		return
	}
	src := s.ledger.Reload()
	s.ledgerHash = h
	st := s.ledger.Stats()
	s.observe()
	s.mu.Unlock()

	metrics.LedgerReloads.Inc()
	s.log.Info().Str("source", src.String()).Int("facts", st.Facts).Msg("ledger changed on disk, reloaded")
	s.publish(journal.KindReloaded, "", map[string]any{"source": src.String(), "facts": st.Facts})
}

// rememberLedger records the hash of our own latest save. Callers hold mu
// (or run before the server is shared).
func (s *Server) rememberLedger() {
	if h, err := durable.Hash(s.ledger.Path()); err == nil {
		s.ledgerHash = h
	}
}

// observe refreshes the ledger gauges. Callers hold mu.
func (s *Server) observe() {
	st := s.ledger.Stats()
	metrics.Facts.Set(float64(st.Facts))
	metrics.Topics.Set(float64(st.Topics))
	metrics.XP.Set(float64(st.XP))
	metrics.Level.Set(float64(st.Level))
}

// publish journals an event and pushes it to stream clients.
func (s *Server) publish(kind, topic string, payload any) {
	metrics.Events.WithLabelValues(kind).Inc()
	ev, err := s.journal.Append(kind, topic, payload)
	if err != nil {
		s.log.Warn().Err(err).Str("kind", kind).Msg("journal append failed")
		return
	}
	s.hub.Broadcast(ev)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrInvalid), errors.Is(err, session.ErrInvalidStatus), errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrNoPlan):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
