package view

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const mirrorWriteWait = 5 * time.Second

// WebSocketMirror publishes snapshots to a board relay over a websocket.
// Publish never blocks: only the latest unsent snapshot is kept. Run owns
// the connection, dialing on demand and redialing after a failed write.
type WebSocketMirror struct {
	url     string
	dialer  *websocket.Dialer
	logger  *slog.Logger
	updates chan Snapshot
}

// NewWebSocketMirror creates a mirror for the relay at url, e.g.
// ws://localhost:3000/ws/board.
func NewWebSocketMirror(url string, logger *slog.Logger) *WebSocketMirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketMirror{
		url:     url,
		dialer:  websocket.DefaultDialer,
		logger:  logger.With("component", "mirror"),
		updates: make(chan Snapshot, 1),
	}
}

// Publish queues s, replacing any snapshot not yet sent.
func (m *WebSocketMirror) Publish(s Snapshot) error {
	for {
		select {
		case m.updates <- s:
			return nil
		default:
		}
		select {
		case <-m.updates:
		default:
		}
	}
}

// Run sends queued snapshots until ctx is done.
func (m *WebSocketMirror) Run(ctx context.Context) error {
	var conn *websocket.Conn
	defer func() {
		if conn != nil {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(mirrorWriteWait))
			conn.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-m.updates:
			if conn == nil {
				c, _, err := m.dialer.DialContext(ctx, m.url, nil)
				if err != nil {
					m.logger.Warn("dial board relay", "url", m.url, "error", err)
					continue
				}
				m.logger.Info("connected to board relay", "url", m.url)
				conn = c
				go discard(conn)
			}
			conn.SetWriteDeadline(time.Now().Add(mirrorWriteWait))
			if err := conn.WriteJSON(s); err != nil {
				m.logger.Warn("write board snapshot", "error", err)
				conn.Close()
				conn = nil
			}
		}
	}
}

// discard reads and drops relayed frames so control messages are handled.
func discard(conn *websocket.Conn) {
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}
