package state

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
)

// ErrSessionClosed is returned by Exec once the session has been evicted.
var ErrSessionClosed = errors.New("session closed")

// Member is one connection joined to a session. Deliver must not block: it
// queues an encoded frame and reports false when the frame was dropped.
type Member interface {
	ID() string
	Deliver(frame []byte) bool
}

type op struct {
	fn   func(*Txn)
	done chan struct{}
}

// Session is a shared canvas room. One goroutine owns its History and
// member set and applies queued operations strictly in arrival order.
type Session struct {
	id    string
	clock Clock

	ops    chan op
	quit   chan struct{}
	exited chan struct{}
	stop   sync.Once

	// owned by the run goroutine
	history *History
	members map[string]Member

	memberCount atomic.Int64
	lastActive  atomic.Int64
}

func newSession(id string, queue int, clock Clock) *Session {
	if queue <= 0 {
		queue = 1
	}
	s := &Session{
		id:      id,
		clock:   clock,
		ops:     make(chan op, queue),
		quit:    make(chan struct{}),
		exited:  make(chan struct{}),
		history: NewHistory(),
		members: make(map[string]Member),
	}
	s.touch()
	go s.run()
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// MemberCount may be read from any goroutine.
func (s *Session) MemberCount() int { return int(s.memberCount.Load()) }

func (s *Session) run() {
	defer close(s.exited)
	for {
		select {
		case <-s.quit:
			return
		case o := <-s.ops:
			tx := Txn{s: s}
			o.fn(&tx)
			close(o.done)
			if tx.closing {
				return
			}
		}
	}
}

// Exec runs fn on the session goroutine and waits for it to finish. All
// mutations and all fan-out of their results happen inside fn, which keeps
// apply-then-broadcast ordering per session. fn must not call Exec.
func (s *Session) Exec(fn func(*Txn)) error {
	s.touch()
	return s.do(fn)
}

func (s *Session) do(fn func(*Txn)) error {
	o := op{fn: fn, done: make(chan struct{})}
	select {
	case s.ops <- o:
	case <-s.exited:
		return ErrSessionClosed
	}
	select {
	case <-o.done:
		return nil
	case <-s.exited:
		select {
		case <-o.done:
			return nil
		default:
			return ErrSessionClosed
		}
	}
}

// closeIfEmpty runs on the session goroutine behind every operation already
// queued. If no member has joined by then it calls detach and ends the
// session, so operations queued after it fail with ErrSessionClosed.
func (s *Session) closeIfEmpty(detach func()) bool {
	closed := false
	err := s.do(func(tx *Txn) {
		if len(tx.s.members) > 0 {
			return
		}
		detach()
		tx.closing = true
		closed = true
	})
	return err == nil && closed
}

// Stop ends the session goroutine. Queued operations that have not started
// fail with ErrSessionClosed. Safe to call more than once.
func (s *Session) Stop() {
	s.stop.Do(func() { close(s.quit) })
	<-s.exited
}

func (s *Session) touch() {
	s.lastActive.Store(s.clock.Now().UnixNano())
}

// Txn is the view of a session handed to an Exec callback.
type Txn struct {
	s       *Session
	closing bool
}

func (t *Txn) SessionID() string { return t.s.id }

func (t *Txn) History() *History { return t.s.history }

// Join adds m, replacing any member with the same ID.
func (t *Txn) Join(m Member) {
	t.s.members[m.ID()] = m
	t.s.memberCount.Store(int64(len(t.s.members)))
}

// Leave removes a member and reports whether it was present.
func (t *Txn) Leave(id string) bool {
	if _, ok := t.s.members[id]; !ok {
		return false
	}
	delete(t.s.members, id)
	t.s.memberCount.Store(int64(len(t.s.members)))
	return true
}

func (t *Txn) IsMember(id string) bool {
	_, ok := t.s.members[id]
	return ok
}

// Members returns the joined connection ids in sorted order.
func (t *Txn) Members() []string {
	ids := make([]string, 0, len(t.s.members))
	for id := range t.s.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Send queues frame for a single member.
func (t *Txn) Send(id string, frame []byte) bool {
	m, ok := t.s.members[id]
	if !ok {
		return false
	}
	return m.Deliver(frame)
}

// Broadcast queues frame for every member except the one with id except
// (pass "" to include everyone). It returns how many members accepted and
// how many dropped the frame.
func (t *Txn) Broadcast(frame []byte, except string) (delivered, dropped int) {
	for id, m := range t.s.members {
		if id == except {
			continue
		}
		if m.Deliver(frame) {
			delivered++
		} else {
			dropped++
		}
	}
	return delivered, dropped
}
