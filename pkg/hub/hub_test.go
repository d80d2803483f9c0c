package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/voicetodo/internal/log"
)

// attach registers a connectionless client and returns its queue.
func attach(t *testing.T, h *Hub) *Client {
	t.Helper()
	c := &Client{hub: h, send: make(chan Message, 4)}
	h.register <- c
	return c
}

func recv(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case m, ok := <-c.send:
		require.True(t, ok, "client queue closed")
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message")
		return Message{}
	}
}

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	h := New("board", log.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	require.Eventually(t, h.IsRunning, time.Second, 5*time.Millisecond)
	return h, cancel
}

func TestBroadcastFanOut(t *testing.T) {
	h, _ := startHub(t)
	a := attach(t, h)
	b := attach(t, h)
	assert.Equal(t, 2, h.ClientCount())

	require.NoError(t, h.BroadcastJSON(map[string]int{"count": 1}))

	assert.JSONEq(t, `{"count":1}`, string(recv(t, a).Data))
	assert.JSONEq(t, `{"count":1}`, string(recv(t, b).Data))
}

func TestLatestReplayedToNewClients(t *testing.T) {
	h, _ := startHub(t)

	_, ok := h.Latest()
	assert.False(t, ok)

	h.Broadcast(NewJSONMessage([]byte(`{"v":1}`)))
	h.Broadcast(NewBinaryMessage([]byte{1, 2}))
	require.Eventually(t, func() bool {
		_, ok := h.Latest()
		return ok
	}, time.Second, 5*time.Millisecond)

	c := attach(t, h)
	m := recv(t, c)
	assert.Equal(t, JSONMessage, m.Type)
	assert.Equal(t, `{"v":1}`, string(m.Data))
}

func TestUnregisterAndShutdown(t *testing.T) {
	h, cancel := startHub(t)
	a := attach(t, h)
	b := attach(t, h)

	h.unregister <- a
	_, ok := <-a.send
	assert.False(t, ok)
	assert.Equal(t, 1, h.ClientCount())

	cancel()
	_, ok = <-b.send
	assert.False(t, ok)
	require.Eventually(t, func() bool { return !h.IsRunning() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, h.ClientCount())
}
