package net

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"SharedBoard/internal/board"
	"SharedBoard/internal/state"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Peer is one participant's websocket. Frames queued with Deliver are
// written by the peer's own writer goroutine.
type Peer struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	closed chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func newPeer(conn *websocket.Conn, outbox int, logger *slog.Logger) *Peer {
	id := uuid.NewString()
	return &Peer{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, outbox),
		closed: make(chan struct{}),
		logger: logger.With("conn", id),
	}
}

func (p *Peer) ID() string { return p.id }

// Deliver queues a frame without blocking. A peer whose outbox is full has
// fallen behind the session and is closed; it can rejoin for a fresh
// snapshot.
func (p *Peer) Deliver(frame []byte) bool {
	select {
	case <-p.closed:
		return false
	default:
	}
	select {
	case p.send <- frame:
		return true
	default:
		p.logger.Warn("outbox full, closing slow peer")
		p.Close()
		return false
	}
}

// Close is safe to call from any goroutine, any number of times.
func (p *Peer) Close() {
	p.once.Do(func() { close(p.closed) })
}

func (p *Peer) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()
	for {
		select {
		case frame := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				p.logger.Debug("write failed", "err", err)
				p.Close()
				return
			}
		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				p.Close()
				return
			}
		case <-p.closed:
			p.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// SupervisorOptions configure connection handling.
type SupervisorOptions struct {
	OutboxSize      int
	MaxMessageBytes int64
	Metrics         *board.Metrics
	Logger          *slog.Logger
}

// Supervisor binds each websocket to the router for the lifetime of the
// connection and keeps track of live peers for shutdown.
type Supervisor struct {
	router *board.Router
	opts   SupervisorOptions
	logger *slog.Logger

	mu    sync.RWMutex
	peers map[string]*Peer
}

func NewSupervisor(router *board.Router, opts SupervisorOptions) *Supervisor {
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = 256
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 8192
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		router: router,
		opts:   opts,
		logger: logger.With("component", "supervisor"),
		peers:  make(map[string]*Peer),
	}
}

// Serve runs the read loop for conn and returns when the connection ends.
// Inbound events are dispatched one at a time, in the order they arrive.
func (s *Supervisor) Serve(ctx context.Context, conn *websocket.Conn) {
	peer := newPeer(conn, s.opts.OutboxSize, s.logger)
	s.add(peer)
	s.router.Connect(peer)
	go peer.writeLoop()

	defer func() {
		s.router.Disconnect(peer.id)
		peer.Close()
		s.remove(peer)
	}()

	conn.SetReadLimit(s.opts.MaxMessageBytes)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				peer.logger.Warn("connection lost", "err", err)
			} else {
				peer.logger.Info("disconnected")
			}
			return
		}
		if kind != websocket.TextMessage {
			peer.logger.Warn("dropped non-text frame", "type", kind)
			continue
		}
		in, err := board.Decode(frame)
		if err != nil {
			peer.logger.Warn("dropped event", "err", err)
			continue
		}
		s.report(peer, in, s.router.Dispatch(ctx, peer.id, in))
	}
}

func (s *Supervisor) report(peer *Peer, in board.Inbound, err error) {
	switch {
	case err == nil:
		peer.logger.Debug("event", "event", in.Event, "session", in.SessionID)
	case errors.Is(err, state.ErrEmptyHistory):
		peer.logger.Debug("nothing to move", "event", in.Event, "session", in.SessionID)
	case errors.Is(err, board.ErrMalformedEvent),
		errors.Is(err, board.ErrNotJoined),
		errors.Is(err, board.ErrUnauthorized):
		peer.logger.Warn("dropped event", "event", in.Event, "session", in.SessionID, "err", err)
	default:
		peer.logger.Error("event failed", "event", in.Event, "session", in.SessionID, "err", err)
	}
}

func (s *Supervisor) add(p *Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[p.id] = p
	s.opts.Metrics.ConnectionOpened()
	p.logger.Info("connected", "remote", p.conn.RemoteAddr().String())
}

func (s *Supervisor) remove(p *Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[p.id]; !ok {
		return
	}
	delete(s.peers, p.id)
	s.opts.Metrics.ConnectionClosed()
}

// Len returns the number of open connections.
func (s *Supervisor) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// CloseAll asks every peer to close. Their read loops then clean up.
func (s *Supervisor) CloseAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.peers {
		p.Close()
	}
}
