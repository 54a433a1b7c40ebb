package board

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SharedBoard/internal/state"
)

func TestDecode(t *testing.T) {
	in, err := Decode([]byte(`{"event":"draw","data":{"sessionId":"room1","xPercent":0.25,"yPercent":1,"color":"#ff0000","size":4,"type":"blurred"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventDraw, in.Event)
	assert.Equal(t, "room1", in.SessionID)
	assert.Equal(t, state.ActionRecord{XPercent: 0.25, YPercent: 1, Color: "#ff0000", Size: 4, Style: state.StyleBlurred}, in.Record)

	in, err = Decode([]byte(`{"event":"joinSession","data":{"sessionId":"room1","token":"t"}}`))
	require.NoError(t, err)
	assert.Equal(t, "t", in.Token)

	in, err = Decode([]byte(`{"event":"undo","data":{"sessionId":"room1","historyIndex":3,"state":"data:image/png;base64,AAAA"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventUndo, in.Event)

	in, err = Decode([]byte(`{"event":"sendMessage","data":{"sessionId":"room1","message":"  hi  "}}`))
	require.NoError(t, err)
	assert.Equal(t, "hi", in.Message)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	for name, frame := range map[string]string{
		"not json":          `{`,
		"no event":          `{"data":{}}`,
		"unknown event":     `{"event":"erase","data":{"sessionId":"room1"}}`,
		"missing session":   `{"event":"clear","data":{}}`,
		"missing data":      `{"event":"beginPath"}`,
		"missing x":         `{"event":"draw","data":{"sessionId":"r","yPercent":0.5,"color":"#000","size":1}}`,
		"x out of range":    `{"event":"draw","data":{"sessionId":"r","xPercent":1.01,"yPercent":0.5,"color":"#000","size":1}}`,
		"string coordinate": `{"event":"draw","data":{"sessionId":"r","xPercent":"0.5","yPercent":0.5,"color":"#000","size":1}}`,
		"bad color":         `{"event":"draw","data":{"sessionId":"r","xPercent":0.5,"yPercent":0.5,"color":"blue","size":1}}`,
		"negative size":     `{"event":"draw","data":{"sessionId":"r","xPercent":0.5,"yPercent":0.5,"color":"#000","size":-1}}`,
		"bad style":         `{"event":"draw","data":{"sessionId":"r","xPercent":0.5,"yPercent":0.5,"color":"#000","size":1,"type":"neon"}}`,
		"empty chat":        `{"event":"sendMessage","data":{"sessionId":"r","message":"   "}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(frame))
			assert.ErrorIs(t, err, ErrMalformedEvent)
		})
	}
}

func TestEncode(t *testing.T) {
	frame, err := Encode(EventBeginPath, struct{}{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"beginPath","data":{}}`, string(frame))

	frame, err = Encode(EventUpdateDrawingState, state.View{HistoryIndex: 0, State: []state.ActionRecord{}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"updateDrawingState","data":{"historyIndex":0,"state":[]}}`, string(frame))
}
