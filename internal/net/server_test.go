package net

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SharedBoard/internal/board"
	"SharedBoard/internal/state"
)

type harness struct {
	registry   *state.Registry
	supervisor *Supervisor
	server     *Server
	http       *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := state.NewRegistry(state.RegistryOptions{Logger: logger})
	reg := prometheus.NewRegistry()
	metrics := board.NewMetrics(reg, registry.Len)
	router := board.NewRouter(registry, board.Options{Metrics: metrics, Logger: logger})
	sup := NewSupervisor(router, SupervisorOptions{Metrics: metrics, Logger: logger})
	srv := NewServer(registry, sup, ServerOptions{Gatherer: reg, Logger: logger})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		sup.CloseAll()
		ts.Close()
		registry.Close()
	})
	return &harness{registry: registry, supervisor: sup, server: srv, http: ts}
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	frame, err := board.Encode(event, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func read(t *testing.T, conn *websocket.Conn) board.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	var env board.Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	return env
}

type join struct {
	SessionID string `json:"sessionId"`
}

type draw struct {
	SessionID string  `json:"sessionId"`
	XPercent  float64 `json:"xPercent"`
	YPercent  float64 `json:"yPercent"`
	Color     string  `json:"color"`
	Size      float64 `json:"size"`
	Type      string  `json:"type"`
}

func TestLateJoinOverWebsocket(t *testing.T) {
	h := newHarness(t)

	a := h.dial(t)
	send(t, a, board.EventJoinSession, join{SessionID: "room1"})
	env := read(t, a)
	require.Equal(t, board.EventLoadCanvas, env.Event)

	send(t, a, board.EventDraw, draw{SessionID: "room1", XPercent: 0.1, YPercent: 0.2, Color: "#000000", Size: 2, Type: "normal"})

	b := h.dial(t)
	require.Eventually(t, func() bool {
		sess, ok := h.registry.Lookup("room1")
		if !ok {
			return false
		}
		var n int
		_ = sess.Exec(func(tx *state.Txn) { n = tx.History().HistoryIndex() })
		return n == 1
	}, 2*time.Second, 10*time.Millisecond)

	send(t, b, board.EventJoinSession, join{SessionID: "room1"})
	env = read(t, b)
	require.Equal(t, board.EventLoadCanvas, env.Event)
	var load board.LoadCanvas
	require.NoError(t, json.Unmarshal(env.Data, &load))
	raw, err := json.Marshal(load.Actions)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"xPercent":0.1,"yPercent":0.2,"color":"#000000","size":2}]`, string(raw))

	send(t, b, board.EventDraw, draw{SessionID: "room1", XPercent: 0.3, YPercent: 0.4, Color: "#ff0000", Size: 5})
	env = read(t, a)
	assert.Equal(t, board.EventDraw, env.Event)
	assert.JSONEq(t, `{"xPercent":0.3,"yPercent":0.4,"color":"#ff0000","size":5}`, string(env.Data))

	send(t, a, board.EventClear, join{SessionID: "room1"})
	assert.Equal(t, board.EventClear, read(t, a).Event)
	assert.Equal(t, board.EventClear, read(t, b).Event)
}

func TestMalformedEventKeepsConnection(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("not json")))
	send(t, c, board.EventDraw, draw{SessionID: "room1", XPercent: 4, YPercent: 0, Color: "#000", Size: 1})
	send(t, c, board.EventUndo, join{})
	send(t, c, board.EventJoinSession, join{SessionID: "room1"})

	assert.Equal(t, board.EventLoadCanvas, read(t, c).Event)
}

func TestDisconnectLeavesSession(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)
	send(t, c, board.EventJoinSession, join{SessionID: "room1"})
	read(t, c)

	sess, ok := h.registry.Lookup("room1")
	require.True(t, ok)
	assert.Equal(t, 1, sess.MemberCount())

	require.NoError(t, c.Close())
	require.Eventually(t, func() bool {
		return sess.MemberCount() == 0 && h.supervisor.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)

	_, ok = h.registry.Lookup("room1")
	assert.True(t, ok, "session survives its last member")
}

func TestSessionEndpoints(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)
	send(t, c, board.EventJoinSession, join{SessionID: "room1"})
	read(t, c)
	send(t, c, board.EventBeginPath, join{SessionID: "room1"})
	send(t, c, board.EventDraw, draw{SessionID: "room1", XPercent: 0.1, YPercent: 0.1, Color: "#000", Size: 1})
	send(t, c, board.EventDraw, draw{SessionID: "room1", XPercent: 0.2, YPercent: 0.2, Color: "#000", Size: 1})
	send(t, c, board.EventUndo, join{SessionID: "room1"})
	assert.Equal(t, board.EventUpdateDrawingState, read(t, c).Event)

	resp, err := http.Get(h.http.URL + "/sessions/room1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sum SessionSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sum))
	assert.Equal(t, 2, sum.HistoryIndex)
	assert.Equal(t, 1, sum.RedoDepth)
	assert.Equal(t, 3, sum.Actions)
	assert.Len(t, sum.Members, 1)

	pdf, err := http.Get(h.http.URL + "/sessions/room1/export.pdf")
	require.NoError(t, err)
	defer pdf.Body.Close()
	assert.Equal(t, "application/pdf", pdf.Header.Get("Content-Type"))
	body, err := io.ReadAll(pdf.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), "%PDF-"))

	missing, err := http.Get(h.http.URL + "/sessions/nope/export.pdf")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
	_, ok := h.registry.Lookup("nope")
	assert.False(t, ok, "lookups must not create sessions")
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)
	send(t, c, board.EventJoinSession, join{SessionID: "room1"})
	read(t, c)

	resp, err := http.Get(h.http.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(h.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "board_connections 1")
	assert.Contains(t, string(body), "board_sessions 1")
	assert.Contains(t, string(body), `board_events_total{event="joinSession",outcome="ok"} 1`)
}

func TestCheckOrigin(t *testing.T) {
	s := &Server{opts: ServerOptions{AllowedOrigins: []string{"board.example.com"}}}
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)

	req.Header.Set("Origin", "https://board.example.com")
	assert.True(t, s.checkOrigin(req))
	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, s.checkOrigin(req))

	open := &Server{}
	assert.True(t, open.checkOrigin(req))
}
