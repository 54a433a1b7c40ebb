package net

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"SharedBoard/internal/export"
	"SharedBoard/internal/state"
)

// ServerOptions configure the HTTP surface.
type ServerOptions struct {
	Addr string
	// AllowedOrigins limits websocket upgrades by Origin host. Empty allows
	// any origin.
	AllowedOrigins []string
	Gatherer       prometheus.Gatherer
	Logger         *slog.Logger
}

// Server serves the websocket endpoint plus health, metrics, session
// introspection and canvas export.
type Server struct {
	registry   *state.Registry
	supervisor *Supervisor
	opts       ServerOptions
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	http       *http.Server
}

func NewServer(registry *state.Registry, supervisor *Supervisor, opts ServerOptions) *Server {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		registry:   registry,
		supervisor: supervisor,
		opts:       opts,
		logger:     logger.With("component", "http"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	r.Get("/ws", s.serveWS)
	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/", s.sessionSummary)
		r.Get("/export.pdf", s.exportPDF)
	})
	return r
}

// Run serves until ctx is done, then shuts down and closes every peer.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.opts.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.supervisor.CloseAll()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	// Hijacked connections outlive the request context.
	s.supervisor.Serve(context.WithoutCancel(r.Context()), conn)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if strings.EqualFold(allowed, u.Host) || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// SessionSummary is the introspection view of a session.
type SessionSummary struct {
	SessionID    string   `json:"sessionId"`
	Members      []string `json:"members"`
	HistoryIndex int      `json:"historyIndex"`
	UndoDepth    int      `json:"undoDepth"`
	RedoDepth    int      `json:"redoDepth"`
	Actions      int      `json:"actions"`
}

func (s *Server) sessionSummary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	sess, ok := s.registry.Lookup(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	var sum SessionSummary
	err := sess.Exec(func(tx *state.Txn) {
		h := tx.History()
		sum = SessionSummary{
			SessionID:    id,
			Members:      tx.Members(),
			HistoryIndex: h.HistoryIndex(),
			UndoDepth:    h.UndoDepth(),
			RedoDepth:    h.RedoDepth(),
			Actions:      len(h.Actions()),
		}
	})
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sum)
}

func (s *Server) exportPDF(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	sess, ok := s.registry.Lookup(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	var snapshot []state.ActionRecord
	if err := sess.Exec(func(tx *state.Txn) { snapshot = tx.History().Snapshot() }); err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="board.pdf"`)
	if err := export.WritePDF(w, id, snapshot); err != nil {
		s.logger.Error("export failed", "session", id, "err", err)
	}
}
