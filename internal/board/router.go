package board

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"SharedBoard/internal/state"
)

var (
	ErrNotJoined         = errors.New("connection is not joined to session")
	ErrUnknownConnection = errors.New("unknown connection")
)

// Audience selects who receives a fan-out.
type Audience int

const (
	// Everyone in the session, including the connection that caused it.
	Everyone Audience = iota
	// Others excludes the originating connection.
	Others
)

func (a Audience) String() string {
	if a == Others {
		return "others"
	}
	return "everyone"
}

// DefaultAudiences is the delivery rule for each outbound event. Strokes are
// not echoed because the sender already drew them locally.
func DefaultAudiences() map[string]Audience {
	return map[string]Audience{
		EventDraw:               Others,
		EventBeginPath:          Others,
		EventClear:              Everyone,
		EventUpdateDrawingState: Everyone,
		EventReceiveMessage:     Everyone,
	}
}

// Options configure a Router.
type Options struct {
	// Audiences overrides entries of DefaultAudiences.
	Audiences map[string]Audience
	// ReportEmptyHistory sends an error event to a requester whose undo or
	// redo found nothing to move.
	ReportEmptyHistory bool
	Authorizer         Authorizer
	Metrics            *Metrics
	Logger             *slog.Logger
}

type binding struct {
	member  state.Member
	session *state.Session
}

// Router turns one participant's events into the ordered event stream of
// its session. Each operation mutates the session and queues its fan-out
// inside a single Session.Exec, so every member sees events in the order
// the session applied them.
type Router struct {
	registry  *state.Registry
	audiences map[string]Audience
	opts      Options
	logger    *slog.Logger
	tracer    trace.Tracer

	mu    sync.Mutex
	conns map[string]*binding
}

func NewRouter(registry *state.Registry, opts Options) *Router {
	audiences := DefaultAudiences()
	for event, a := range opts.Audiences {
		audiences[event] = a
	}
	if opts.Authorizer == nil {
		opts.Authorizer = AllowAll{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry:  registry,
		audiences: audiences,
		opts:      opts,
		logger:    logger.With("component", "router"),
		tracer:    otel.Tracer("SharedBoard/internal/board"),
		conns:     make(map[string]*binding),
	}
}

// Connect registers a connection with no session membership yet.
func (r *Router) Connect(m state.Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[m.ID()]; !ok {
		r.conns[m.ID()] = &binding{member: m}
	}
}

// Disconnect drops a connection and its session membership. Calling it
// again is a no-op.
func (r *Router) Disconnect(connID string) {
	r.mu.Lock()
	var sess *state.Session
	if b, ok := r.conns[connID]; ok {
		sess = b.session
		delete(r.conns, connID)
	}
	r.mu.Unlock()
	if sess == nil {
		return
	}
	err := sess.Exec(func(tx *state.Txn) { tx.Leave(connID) })
	if err != nil && !errors.Is(err, state.ErrSessionClosed) {
		r.logger.Warn("leave failed", "conn", connID, "session", sess.ID(), "err", err)
		return
	}
	r.logger.Info("left session", "conn", connID, "session", sess.ID())
}

// Dispatch routes a decoded inbound event to its operation.
func (r *Router) Dispatch(ctx context.Context, connID string, in Inbound) error {
	switch in.Event {
	case EventJoinSession:
		return r.OnJoin(ctx, connID, in.SessionID, in.Token)
	case EventDraw:
		return r.OnDraw(ctx, connID, in.SessionID, in.Record)
	case EventBeginPath:
		return r.OnBeginPath(ctx, connID, in.SessionID)
	case EventClear:
		return r.OnClear(ctx, connID, in.SessionID)
	case EventUndo:
		return r.OnUndo(ctx, connID, in.SessionID)
	case EventRedo:
		return r.OnRedo(ctx, connID, in.SessionID)
	case EventSendMessage:
		return r.OnMessage(ctx, connID, in.SessionID, in.Message)
	}
	return fmt.Errorf("%w: unknown event %q", ErrMalformedEvent, in.Event)
}

// OnJoin adds the connection to sessionID, leaving any previous session,
// and sends the join snapshot to that connection only.
func (r *Router) OnJoin(ctx context.Context, connID, sessionID, token string) error {
	return r.observe(ctx, EventJoinSession, connID, sessionID, func(ctx context.Context) error {
		if sessionID == "" {
			return fmt.Errorf("%w: missing sessionId", ErrMalformedEvent)
		}
		b, err := r.binding(connID)
		if err != nil {
			return err
		}
		if err := r.opts.Authorizer.Authorize(ctx, sessionID, token); err != nil {
			r.reject(b.member, EventJoinSession, ErrorPayload{Code: CodeUnauthorized, Message: "join refused"})
			return fmt.Errorf("join %q: %w", sessionID, err)
		}

		r.mu.Lock()
		prev := b.session
		r.mu.Unlock()
		if prev != nil && prev.ID() != sessionID {
			_ = prev.Exec(func(tx *state.Txn) { tx.Leave(connID) })
			r.mu.Lock()
			b.session = nil
			r.mu.Unlock()
		}

		join := func(tx *state.Txn) { r.welcome(tx, b.member) }
		sess := r.registry.GetOrCreate(sessionID)
		err = sess.Exec(join)
		if errors.Is(err, state.ErrSessionClosed) {
			sess = r.registry.GetOrCreate(sessionID)
			err = sess.Exec(join)
		}
		if err != nil {
			return fmt.Errorf("join %q: %w", sessionID, err)
		}
		r.bind(b, sess)
		r.logger.Info("joined session", "conn", connID, "session", sessionID)
		return nil
	})
}

// OnDraw appends a stroke point and relays it.
func (r *Router) OnDraw(ctx context.Context, connID, sessionID string, rec state.ActionRecord) error {
	return r.observe(ctx, EventDraw, connID, sessionID, func(context.Context) error {
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		return r.apply(connID, sessionID, EventDraw, func(tx *state.Txn) error {
			tx.History().Append(rec)
			r.fanout(tx, connID, EventDraw, rec)
			return nil
		})
	})
}

// OnBeginPath records a path break so replays start a new path, and relays
// the marker.
func (r *Router) OnBeginPath(ctx context.Context, connID, sessionID string) error {
	return r.observe(ctx, EventBeginPath, connID, sessionID, func(context.Context) error {
		return r.apply(connID, sessionID, EventBeginPath, func(tx *state.Txn) error {
			tx.History().Append(state.BeginPath())
			r.fanout(tx, connID, EventBeginPath, struct{}{})
			return nil
		})
	})
}

// OnClear wipes the session history.
func (r *Router) OnClear(ctx context.Context, connID, sessionID string) error {
	return r.observe(ctx, EventClear, connID, sessionID, func(context.Context) error {
		return r.apply(connID, sessionID, EventClear, func(tx *state.Txn) error {
			tx.History().Clear()
			r.fanout(tx, connID, EventClear, struct{}{})
			return nil
		})
	})
}

func (r *Router) OnUndo(ctx context.Context, connID, sessionID string) error {
	return r.observe(ctx, EventUndo, connID, sessionID, func(context.Context) error {
		return r.apply(connID, sessionID, EventUndo, func(tx *state.Txn) error {
			return r.move(tx, connID, tx.History().Undo)
		})
	})
}

func (r *Router) OnRedo(ctx context.Context, connID, sessionID string) error {
	return r.observe(ctx, EventRedo, connID, sessionID, func(context.Context) error {
		return r.apply(connID, sessionID, EventRedo, func(tx *state.Txn) error {
			return r.move(tx, connID, tx.History().Redo)
		})
	})
}

// OnMessage relays a chat line. Chat is not part of the drawing history.
func (r *Router) OnMessage(ctx context.Context, connID, sessionID, message string) error {
	return r.observe(ctx, EventSendMessage, connID, sessionID, func(context.Context) error {
		return r.apply(connID, sessionID, EventSendMessage, func(tx *state.Txn) error {
			r.fanout(tx, connID, EventReceiveMessage, ChatMessage{Message: message, From: connID})
			return nil
		})
	})
}

func (r *Router) move(tx *state.Txn, connID string, step func() (state.View, error)) error {
	view, err := step()
	if errors.Is(err, state.ErrEmptyHistory) {
		if r.opts.ReportEmptyHistory {
			r.send(tx, connID, EventError, ErrorPayload{Code: CodeEmptyHistory, Message: "nothing to move"})
		}
		return err
	}
	if err != nil {
		return err
	}
	r.fanout(tx, connID, EventUpdateDrawingState, view)
	return nil
}

func (r *Router) binding(connID string) (*binding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.conns[connID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}
	return b, nil
}

// apply runs fn on the connection's session after checking the event is
// addressed to the session the connection joined. If that session was closed
// underneath the connection, the connection rejoins a live session under
// the same id, gets a fresh loadCanvas, and fn runs there once.
func (r *Router) apply(connID, sessionID, event string, fn func(*state.Txn) error) error {
	b, err := r.binding(connID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	sess := b.session
	r.mu.Unlock()
	if sess == nil || sess.ID() != sessionID {
		return fmt.Errorf("%w: %q", ErrNotJoined, sessionID)
	}
	var opErr error
	run := func(tx *state.Txn) { opErr = fn(tx) }
	err = sess.Exec(run)
	if !errors.Is(err, state.ErrSessionClosed) {
		if err != nil {
			return err
		}
		return opErr
	}

	r.logger.Info("session closed under connection, rejoining", "conn", connID, "session", sessionID)
	fresh := r.registry.GetOrCreate(sessionID)
	err = fresh.Exec(func(tx *state.Txn) {
		r.welcome(tx, b.member)
		run(tx)
	})
	if err != nil {
		r.mu.Lock()
		if b.session == sess {
			b.session = nil
		}
		r.mu.Unlock()
		r.reject(b.member, event, ErrorPayload{Code: CodeSessionClosed, Message: "join the session again"})
		return fmt.Errorf("%s %q: %w", event, sessionID, err)
	}
	r.bind(b, fresh)
	return opErr
}

// welcome adds m to the session and sends it the join snapshot. Both happen
// in one operation, so no broadcast reaches m before its loadCanvas.
func (r *Router) welcome(tx *state.Txn, m state.Member) {
	tx.Join(m)
	h := tx.History()
	r.send(tx, m.ID(), EventLoadCanvas, LoadCanvas{
		Actions:      h.Snapshot(),
		HistoryIndex: h.HistoryIndex(),
	})
}

// bind records sess as the connection's session. A connection that
// disconnected meanwhile is taken back out of sess.
func (r *Router) bind(b *binding, sess *state.Session) {
	r.mu.Lock()
	b.session = sess
	live := r.conns[b.member.ID()] == b
	r.mu.Unlock()
	if !live {
		_ = sess.Exec(func(tx *state.Txn) { tx.Leave(b.member.ID()) })
	}
}

func (r *Router) fanout(tx *state.Txn, origin, event string, data any) {
	frame, err := Encode(event, data)
	if err != nil {
		r.logger.Error("encode failed", "event", event, "err", err)
		return
	}
	except := ""
	if r.audiences[event] == Others {
		except = origin
	}
	sent, dropped := tx.Broadcast(frame, except)
	r.opts.Metrics.observeFanout(event, sent, dropped)
	if dropped > 0 {
		r.logger.Warn("dropped frames", "event", event, "session", tx.SessionID(), "dropped", dropped)
	}
}

func (r *Router) send(tx *state.Txn, connID, event string, data any) {
	frame, err := Encode(event, data)
	if err != nil {
		r.logger.Error("encode failed", "event", event, "err", err)
		return
	}
	if tx.Send(connID, frame) {
		r.opts.Metrics.observeFanout(event, 1, 0)
	} else {
		r.opts.Metrics.observeFanout(event, 0, 1)
	}
}

func (r *Router) reject(m state.Member, event string, payload ErrorPayload) {
	frame, err := Encode(EventError, payload)
	if err != nil {
		return
	}
	if !m.Deliver(frame) {
		r.logger.Warn("dropped rejection", "conn", m.ID(), "event", event)
	}
}

func (r *Router) observe(ctx context.Context, event, connID, sessionID string, fn func(context.Context) error) error {
	ctx, span := r.tracer.Start(ctx, "board."+event,
		trace.WithAttributes(
			attribute.String("board.connection_id", connID),
			attribute.String("board.session_id", sessionID),
		))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	r.opts.Metrics.observeEvent(event, outcome(err), time.Since(start).Seconds())
	if err != nil && !errors.Is(err, state.ErrEmptyHistory) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, state.ErrEmptyHistory):
		return "empty_history"
	case errors.Is(err, ErrMalformedEvent):
		return "malformed"
	case errors.Is(err, ErrNotJoined):
		return "not_joined"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, state.ErrSessionClosed):
		return "session_closed"
	default:
		return "error"
	}
}
