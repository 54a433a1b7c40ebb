package net

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlowPeerIsClosed(t *testing.T) {
	p := newPeer(nil, 1, slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.True(t, p.Deliver([]byte("one")))
	assert.False(t, p.Deliver([]byte("two")))
	select {
	case <-p.closed:
	default:
		t.Fatal("peer still open after overflow")
	}
	assert.False(t, p.Deliver([]byte("three")))
	p.Close()
}

func TestShareURL(t *testing.T) {
	u, err := ShareURL("192.168.1.20:8888")
	assert.NoError(t, err)
	assert.Equal(t, "ws://192.168.1.20:8888/ws", u)

	u, err = ShareURL(":8888")
	assert.NoError(t, err)
	assert.Regexp(t, `^ws://[^/]+:8888/ws$`, u)

	_, err = ShareURL("nope")
	assert.Error(t, err)

	port, err := Port(":8888")
	assert.NoError(t, err)
	assert.Equal(t, 8888, port)
}
