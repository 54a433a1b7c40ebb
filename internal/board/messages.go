package board

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"SharedBoard/internal/state"
)

// Wire event names.
const (
	EventJoinSession        = "joinSession"
	EventLoadCanvas         = "loadCanvas"
	EventDraw               = "draw"
	EventBeginPath          = "beginPath"
	EventClear              = "clear"
	EventUndo               = "undo"
	EventRedo               = "redo"
	EventUpdateDrawingState = "updateDrawingState"
	EventSendMessage        = "sendMessage"
	EventReceiveMessage     = "receiveMessage"
	EventError              = "error"
)

// MaxChatRunes bounds a single chat message.
const MaxChatRunes = 2000

// ErrMalformedEvent marks inbound frames that are dropped without touching
// any session.
var ErrMalformedEvent = errors.New("malformed event")

// Envelope is one websocket frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// LoadCanvas is sent only to a joining connection.
type LoadCanvas struct {
	Actions      []state.ActionRecord `json:"actions"`
	HistoryIndex int                  `json:"historyIndex"`
}

// ChatMessage is relayed to every member of the session.
type ChatMessage struct {
	Message string `json:"message"`
	From    string `json:"from"`
}

// ErrorPayload reports a rejected request back to its sender.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

const (
	CodeUnauthorized = "unauthorized"
	CodeEmptyHistory = "empty_history"
	// CodeSessionClosed asks the client to send joinSession again.
	CodeSessionClosed = "session_closed"
)

// Inbound is a decoded and validated client event.
type Inbound struct {
	Event     string
	SessionID string
	Record    state.ActionRecord
	Token     string
	Message   string
}

type sessionRequest struct {
	SessionID string `json:"sessionId"`
}

type joinRequest struct {
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
}

type drawRequest struct {
	SessionID string      `json:"sessionId"`
	XPercent  *float64    `json:"xPercent"`
	YPercent  *float64    `json:"yPercent"`
	Color     string      `json:"color"`
	Size      float64     `json:"size"`
	Style     state.Style `json:"type"`
}

type chatRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedEvent, fmt.Sprintf(format, args...))
}

// Decode parses and validates one inbound frame. Every failure wraps
// ErrMalformedEvent.
func Decode(frame []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Inbound{}, malformed("envelope: %v", err)
	}
	in := Inbound{Event: env.Event}
	data := env.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}

	switch env.Event {
	case EventJoinSession:
		var req joinRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return in, malformed("%s: %v", env.Event, err)
		}
		in.SessionID, in.Token = req.SessionID, req.Token
	case EventDraw:
		var req drawRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return in, malformed("%s: %v", env.Event, err)
		}
		if req.XPercent == nil || req.YPercent == nil {
			return in, malformed("%s: missing coordinates", env.Event)
		}
		in.SessionID = req.SessionID
		in.Record = state.ActionRecord{
			XPercent: *req.XPercent,
			YPercent: *req.YPercent,
			Color:    req.Color,
			Size:     req.Size,
			Style:    req.Style,
		}
		if err := in.Record.Validate(); err != nil {
			return in, malformed("%s: %v", env.Event, err)
		}
	case EventBeginPath, EventClear, EventUndo, EventRedo:
		var req sessionRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return in, malformed("%s: %v", env.Event, err)
		}
		in.SessionID = req.SessionID
	case EventSendMessage:
		var req chatRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return in, malformed("%s: %v", env.Event, err)
		}
		msg := strings.TrimSpace(req.Message)
		if msg == "" || utf8.RuneCountInString(msg) > MaxChatRunes {
			return in, malformed("%s: message must be 1-%d characters", env.Event, MaxChatRunes)
		}
		in.SessionID, in.Message = req.SessionID, msg
	case "":
		return in, malformed("missing event name")
	default:
		return in, malformed("unknown event %q", env.Event)
	}

	if in.SessionID == "" {
		return in, malformed("%s: missing sessionId", env.Event)
	}
	return in, nil
}

// Encode builds an outbound frame.
func Encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
