package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/voicetodo/internal/log"
	"github.com/teslashibe/voicetodo/pkg/broker"
	"github.com/teslashibe/voicetodo/pkg/hub"
)

type issuerFunc func(ctx context.Context) ([]byte, error)

func (f issuerFunc) Issue(ctx context.Context) ([]byte, error) { return f(ctx) }

func newTestServer(t *testing.T, issuer Issuer, cfg Config) (*Server, *hub.Hub) {
	t.Helper()
	board := hub.New("board", log.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go board.Run(ctx)
	t.Cleanup(cancel)
	return NewServer(issuer, board, cfg, log.Discard()), board
}

func TestSessionReturnsPayloadVerbatim(t *testing.T) {
	payload := []byte(`{"id":"sess_1","client_secret":{"value":"ek_abc","expires_at":1700000000},"extra":true}`)
	s, _ := newTestServer(t, issuerFunc(func(ctx context.Context) ([]byte, error) {
		return payload, nil
	}), Config{})

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/session", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, payload, body)
}

func TestSessionErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "no client secret",
			err:  fmt.Errorf("%w: %w", broker.ErrNoClientSecret, &broker.APIError{StatusCode: 401, Message: "bad key"}),
			want: MsgNoClientSecret,
		},
		{
			name: "transport",
			err:  errors.New("dial tcp: connection refused"),
			want: MsgInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, issuerFunc(func(ctx context.Context) ([]byte, error) {
				return nil, tt.err
			}), Config{})

			resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/session", nil))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
			body, _ := io.ReadAll(resp.Body)
			assert.Equal(t, tt.want, string(body))
		})
	}
}

func TestSessionRecoversFromPanic(t *testing.T) {
	s, _ := newTestServer(t, issuerFunc(func(ctx context.Context) ([]byte, error) {
		panic("boom")
	}), Config{})

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/session", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, issuerFunc(nil), Config{Version: "1.2.3"})

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	var got struct {
		Status  string `json:"status"`
		Version string `json:"version"`
		Viewers int    `json:"viewers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "ok", got.Status)
	assert.Equal(t, "1.2.3", got.Version)
	assert.Equal(t, 0, got.Viewers)
}

func TestStaticFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>To-do</h1>"), 0o644))

	s, _ := newTestServer(t, issuerFunc(nil), Config{PublicDir: dir})

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "<h1>To-do</h1>", string(body))
}

func TestBoardRequiresUpgrade(t *testing.T) {
	s, _ := newTestServer(t, issuerFunc(nil), Config{})

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/ws/board", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestBoardRelay(t *testing.T) {
	s, board := newTestServer(t, issuerFunc(nil), Config{})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go s.Serve(ln)
	defer s.Shutdown()

	url := "ws://" + ln.Addr().String() + "/ws/board"
	publisher, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer publisher.Close()
	viewer, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer viewer.Close()

	require.Eventually(t, func() bool { return board.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	snapshot := `{"tasks":[{"text":"buy milk","timestamp":0}],"theme":"light"}`
	require.NoError(t, publisher.WriteMessage(websocket.TextMessage, []byte(snapshot)))

	viewer.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := viewer.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, snapshot, string(data))

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.EqualValues(t, 2, health["viewers"])
}

func TestBoardViewerDisconnectWhileRelaying(t *testing.T) {
	s, board := newTestServer(t, issuerFunc(nil), Config{})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go s.Serve(ln)
	defer s.Shutdown()

	url := "ws://" + ln.Addr().String() + "/ws/board"
	publisher, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer publisher.Close()
	require.Eventually(t, func() bool { return board.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	go func() {
		for {
			if _, _, err := publisher.ReadMessage(); err != nil {
				return
			}
		}
	}()

	stop := make(chan struct{})
	published := make(chan struct{})
	go func() {
		defer close(published)
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			snapshot := fmt.Sprintf(`{"tasks":[],"theme":"light","n":%d}`, i)
			if publisher.WriteMessage(websocket.TextMessage, []byte(snapshot)) != nil {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	// Viewers drop while the writer is busy; each handler must finish its
	// writes before the connection is handed back.
	for i := 0; i < 10; i++ {
		viewer, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		viewer.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, _, err = viewer.ReadMessage()
		require.NoError(t, err)
		require.NoError(t, viewer.Close())
		require.Eventually(t, func() bool { return board.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	}
	close(stop)
	<-published

	viewer, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer viewer.Close()
	require.Eventually(t, func() bool { return board.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	snapshot := `{"tasks":[{"text":"after reconnect","timestamp":0}],"theme":"dark"}`
	require.NoError(t, publisher.WriteMessage(websocket.TextMessage, []byte(snapshot)))
	viewer.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := viewer.ReadMessage()
		require.NoError(t, err)
		if string(data) == snapshot {
			break
		}
	}
}
