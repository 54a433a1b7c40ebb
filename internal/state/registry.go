package state

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// RegistryOptions tune session creation and eviction. Zero values disable
// the corresponding eviction rule.
type RegistryOptions struct {
	// IdleTTL evicts sessions with no members once idle this long.
	IdleTTL time.Duration
	// MaxSessions caps the number of sessions; the least recently active
	// empty sessions go first.
	MaxSessions int
	// QueueSize is the operation queue depth of each session.
	QueueSize int
	Clock     Clock
	Logger    *slog.Logger
	// OnEvict is called after a session has been evicted.
	OnEvict func(id string)
}

// Registry creates and looks up sessions by id.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	opts     RegistryOptions
	logger   *slog.Logger
}

func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		opts:     opts,
		logger:   logger.With("component", "registry"),
	}
}

// GetOrCreate returns the session for id, creating it on first use.
// Concurrent callers with the same id always get the same instance.
func (r *Registry) GetOrCreate(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.touch()
		return s
	}
	s := newSession(id, r.opts.QueueSize, r.opts.Clock)
	r.sessions[id] = s
	r.logger.Info("session created", "session", id, "sessions", len(r.sessions))
	return s
}

// Lookup returns an existing session without creating one.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove stops and forgets a session. It reports whether the session existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if ok {
		s.Stop()
		r.logger.Info("session removed", "session", id)
	}
	return ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep evicts empty sessions that are idle past IdleTTL, then trims empty
// sessions in least-recently-active order until MaxSessions holds. Sessions
// with members are never evicted: the final emptiness check runs on the
// session goroutine, after any join already queued there. It returns the
// evicted ids.
func (r *Registry) Sweep() []string {
	r.mu.Lock()
	now := r.opts.Clock.Now()

	type candidate struct {
		s    *Session
		last int64
	}
	var empty []candidate
	for _, s := range r.sessions {
		if s.MemberCount() == 0 {
			empty = append(empty, candidate{s: s, last: s.lastActive.Load()})
		}
	}
	sort.Slice(empty, func(i, j int) bool {
		if empty[i].last == empty[j].last {
			return empty[i].s.id < empty[j].s.id
		}
		return empty[i].last < empty[j].last
	})

	var victims []*Session
	live := len(r.sessions)
	for _, c := range empty {
		idle := now.Sub(time.Unix(0, c.last))
		expired := r.opts.IdleTTL > 0 && idle >= r.opts.IdleTTL
		over := r.opts.MaxSessions > 0 && live > r.opts.MaxSessions
		if !expired && !over {
			continue
		}
		victims = append(victims, c.s)
		live--
	}
	r.mu.Unlock()

	var ids []string
	for _, s := range victims {
		if !s.closeIfEmpty(func() { r.detach(s) }) {
			r.logger.Debug("eviction skipped, session in use", "session", s.id)
			continue
		}
		s.Stop()
		ids = append(ids, s.id)
		if r.opts.OnEvict != nil {
			r.opts.OnEvict(s.id)
		}
	}
	if len(ids) > 0 {
		r.logger.Info("evicted sessions", "count", len(ids), "remaining", r.Len())
	}
	return ids
}

// detach forgets s if it is still the session registered under its id.
func (r *Registry) detach(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.id]; ok && cur == s {
		delete(r.sessions, s.id)
	}
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Close stops every session.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
	for _, s := range sessions {
		s.Stop()
	}
}
