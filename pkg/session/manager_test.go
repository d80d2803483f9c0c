package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/voicetodo/internal/log"
	"github.com/teslashibe/voicetodo/pkg/broker"
	"github.com/teslashibe/voicetodo/pkg/realtime"
)

const doneEvent = `{"type":"response.done","response":{"output":[{"content":[{"transcript":"add buy milk"}]}]}}`

type fakeCreds struct {
	err error
}

func (f fakeCreds) Fetch(ctx context.Context) (broker.Credential, error) {
	if f.err != nil {
		return broker.Credential{}, f.err
	}
	return broker.Credential{Value: "ek_test", ExpiresAt: time.Now().Add(time.Minute)}, nil
}

type fakeSource struct{}

func (fakeSource) Track() webrtc.TrackLocal          { return nil }
func (fakeSource) Stream(ctx context.Context) error { return nil }
func (fakeSource) Close() error                     { return nil }

type fakeMic struct {
	err error
}

func (f fakeMic) Open(ctx context.Context) (realtime.Source, error) {
	if f.err != nil {
		return nil, f.err
	}
	return fakeSource{}, nil
}

type fakeConn struct {
	mu     sync.Mutex
	sent   []any
	closes atomic.Int32
}

func (c *fakeConn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.closes.Add(1)
	return nil
}

type fakeDialer struct {
	mu        sync.Mutex
	err       error
	gate      chan struct{}
	conns     []*fakeConn
	onMessage []func([]byte)
}

func (d *fakeDialer) Dial(ctx context.Context, req realtime.DialRequest) (realtime.Conn, error) {
	if d.gate != nil {
		<-d.gate
	}
	if d.err != nil {
		return nil, d.err
	}
	conn := &fakeConn{}
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.onMessage = append(d.onMessage, req.OnMessage)
	d.mu.Unlock()
	return conn, nil
}

// deliver sends data on the data channel of the n-th connection.
func (d *fakeDialer) deliver(n int, data string) {
	d.mu.Lock()
	fn := d.onMessage[n]
	d.mu.Unlock()
	fn([]byte(data))
}

type recorder struct {
	changes chan Change
}

func newRecorder(m *Manager) *recorder {
	r := &recorder{changes: make(chan Change, 32)}
	m.OnStateChange(func(c Change) { r.changes <- c })
	return r
}

func (r *recorder) next(t *testing.T) Change {
	t.Helper()
	select {
	case c := <-r.changes:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a state change")
		return Change{}
	}
}

func (r *recorder) expect(t *testing.T, states ...State) []Change {
	t.Helper()
	var out []Change
	for _, want := range states {
		c := r.next(t)
		require.Equal(t, want, c.To, "got %s -> %s", c.From, c.To)
		out = append(out, c)
	}
	return out
}

func (r *recorder) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case c := <-r.changes:
		t.Fatalf("unexpected change %s -> %s", c.From, c.To)
	case <-time.After(d):
	}
}

type handler struct {
	mu   sync.Mutex
	seen []string
}

func (h *handler) HandleTranscript(text string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, text)
	return "handled: " + text
}

func newManager(t *testing.T, creds Credentials, mic realtime.Microphone, d Dialer, h Handler) *Manager {
	t.Helper()
	m, err := New(creds, mic, d, h, WithResumeDelay(50*time.Millisecond), WithLogger(log.Discard()))
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(nil, fakeMic{}, &fakeDialer{}, &handler{})
	assert.ErrorIs(t, err, ErrMissingDependency)
}

func TestStartListenRespond(t *testing.T) {
	d := &fakeDialer{}
	h := &handler{}
	m := newManager(t, fakeCreds{}, fakeMic{}, d, h)
	rec := newRecorder(m)

	assert.Equal(t, StateIdle, m.State())
	require.True(t, m.Start(context.Background()))

	changes := rec.expect(t, StateConnecting, StateListening)
	assert.Equal(t, StatusInitializing, changes[0].Status)
	assert.Equal(t, StatusListening, changes[1].Status)
	assert.NotEmpty(t, changes[1].SessionID)
	assert.Equal(t, m.SessionID(), changes[1].SessionID)

	d.deliver(0, doneEvent)

	c := rec.expect(t, StateResponding)[0]
	assert.Equal(t, "add buy milk", c.Transcript)
	assert.Equal(t, "handled: add buy milk", c.Result)
	assert.Equal(t, StatusResponding, c.Status)

	rec.expect(t, StateListening)
	assert.Equal(t, []string{"add buy milk"}, h.seen)
}

func TestStartWhileActiveIsNoop(t *testing.T) {
	d := &fakeDialer{}
	m := newManager(t, fakeCreds{}, fakeMic{}, d, &handler{})
	rec := newRecorder(m)

	require.True(t, m.Start(context.Background()))
	rec.expect(t, StateConnecting, StateListening)

	assert.False(t, m.Start(context.Background()))
	rec.quiet(t, 50*time.Millisecond)
	assert.Len(t, d.conns, 1)
}

func TestStartFailures(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name  string
		creds Credentials
		mic   realtime.Microphone
		d     *fakeDialer
		stage Stage
	}{
		{"credential", fakeCreds{err: boom}, fakeMic{}, &fakeDialer{}, StageCredential},
		{"media", fakeCreds{}, fakeMic{err: boom}, &fakeDialer{}, StageMedia},
		{"handshake", fakeCreds{}, fakeMic{}, &fakeDialer{err: boom}, StageHandshake},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newManager(t, tt.creds, tt.mic, tt.d, &handler{})
			rec := newRecorder(m)

			m.Start(context.Background())
			c := rec.expect(t, StateConnecting, StateFailed)[1]

			assert.Equal(t, StatusFailed, c.Status)
			assert.ErrorIs(t, c.Err, boom)
			assert.Equal(t, tt.stage, StageOf(c.Err))
			assert.Equal(t, c.Err, m.Err())
			assert.Empty(t, tt.d.conns)

			// A failed session can be started again.
			tt.d.err = nil
			assert.True(t, m.Start(context.Background()))
		})
	}
}

func TestExpiredCredential(t *testing.T) {
	creds := credsFunc(func(ctx context.Context) (broker.Credential, error) {
		return broker.Credential{Value: "old", ExpiresAt: time.Now().Add(-time.Second)}, nil
	})
	m := newManager(t, creds, fakeMic{}, &fakeDialer{}, &handler{})
	rec := newRecorder(m)

	m.Start(context.Background())
	c := rec.expect(t, StateConnecting, StateFailed)[1]
	assert.Equal(t, StageCredential, StageOf(c.Err))
}

type credsFunc func(ctx context.Context) (broker.Credential, error)

func (f credsFunc) Fetch(ctx context.Context) (broker.Credential, error) { return f(ctx) }

func TestMalformedMessagesIgnored(t *testing.T) {
	d := &fakeDialer{}
	h := &handler{}
	m := newManager(t, fakeCreds{}, fakeMic{}, d, h)
	rec := newRecorder(m)

	m.Start(context.Background())
	rec.expect(t, StateConnecting, StateListening)

	for _, data := range []string{
		"garbage",
		`{"type":"response.done"}`,
		`{"type":"response.done","response":{"output":[]}}`,
		`{"type":"session.created"}`,
		`{"type":"input_audio_buffer.speech_started"}`,
		`{"type":"conversation.item.input_audio_transcription.completed","transcript":"add eggs"}`,
		`{"type":"error","error":{"message":"rate limited"}}`,
	} {
		d.deliver(0, data)
	}

	rec.quiet(t, 100*time.Millisecond)
	assert.Equal(t, StateListening, m.State())
	assert.Empty(t, h.seen)
}

func TestStopIsIdempotent(t *testing.T) {
	d := &fakeDialer{}
	m := newManager(t, fakeCreds{}, fakeMic{}, d, &handler{})
	rec := newRecorder(m)

	m.Start(context.Background())
	rec.expect(t, StateConnecting, StateListening)

	m.Stop()
	c := rec.expect(t, StateStopped)[0]
	assert.Equal(t, StatusStopped, c.Status)
	assert.Equal(t, int32(1), d.conns[0].closes.Load())

	m.Stop()
	m.Stop()
	rec.quiet(t, 50*time.Millisecond)
	assert.Equal(t, StateStopped, m.State())
	assert.Equal(t, int32(1), d.conns[0].closes.Load())
}

func TestStaleResumeTimerAfterStop(t *testing.T) {
	d := &fakeDialer{}
	m := newManager(t, fakeCreds{}, fakeMic{}, d, &handler{})
	rec := newRecorder(m)

	m.Start(context.Background())
	rec.expect(t, StateConnecting, StateListening)

	d.deliver(0, doneEvent)
	rec.expect(t, StateResponding)

	m.Stop()
	rec.expect(t, StateStopped)

	// Wait well past the resume delay.
	rec.quiet(t, 200*time.Millisecond)
	assert.Equal(t, StateStopped, m.State())
}

type gatedHandler struct {
	entered chan struct{}
	release chan struct{}
}

func (h *gatedHandler) HandleTranscript(text string) string {
	close(h.entered)
	<-h.release
	return "handled: " + text
}

func TestStopWhileHandlingTranscript(t *testing.T) {
	d := &fakeDialer{}
	h := &gatedHandler{entered: make(chan struct{}), release: make(chan struct{})}
	m := newManager(t, fakeCreds{}, fakeMic{}, d, h)
	rec := newRecorder(m)

	m.Start(context.Background())
	rec.expect(t, StateConnecting, StateListening)

	delivered := make(chan struct{})
	go func() {
		d.deliver(0, doneEvent)
		close(delivered)
	}()
	<-h.entered

	m.Stop()
	c := rec.expect(t, StateStopped)[0]
	assert.Equal(t, StateResponding, c.From)

	close(h.release)
	<-delivered

	// Neither the responding change nor a resume may follow the stop.
	rec.quiet(t, 200*time.Millisecond)
	assert.Equal(t, StateStopped, m.State())
}

func TestChangesDeliveredInOrder(t *testing.T) {
	d := &fakeDialer{}
	m := newManager(t, fakeCreds{}, fakeMic{}, d, &handler{})

	var mu sync.Mutex
	var seen []State
	m.OnStateChange(func(c Change) {
		mu.Lock()
		seen = append(seen, c.To)
		mu.Unlock()
		// Re-entrant calls queue behind the change being delivered.
		if c.To == StateListening {
			m.Stop()
		}
	})
	rec := newRecorder(m)

	m.Start(context.Background())
	rec.expect(t, StateConnecting, StateListening, StateStopped)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateConnecting, StateListening, StateStopped}, seen)
}

func TestMessagesFromOldConnectionIgnored(t *testing.T) {
	d := &fakeDialer{}
	h := &handler{}
	m := newManager(t, fakeCreds{}, fakeMic{}, d, h)
	rec := newRecorder(m)

	m.Start(context.Background())
	rec.expect(t, StateConnecting, StateListening)
	m.Stop()
	rec.expect(t, StateStopped)

	m.Start(context.Background())
	rec.expect(t, StateConnecting, StateListening)

	d.deliver(0, doneEvent)
	rec.quiet(t, 100*time.Millisecond)
	assert.Empty(t, h.seen)

	d.deliver(1, doneEvent)
	rec.expect(t, StateResponding)
}

func TestStopWhileConnecting(t *testing.T) {
	d := &fakeDialer{gate: make(chan struct{})}
	m := newManager(t, fakeCreds{}, fakeMic{}, d, &handler{})
	rec := newRecorder(m)

	m.Start(context.Background())
	rec.expect(t, StateConnecting)

	m.Stop()
	rec.expect(t, StateStopped)

	close(d.gate)
	m.Close()

	rec.quiet(t, 50*time.Millisecond)
	assert.Equal(t, StateStopped, m.State())
	require.Len(t, d.conns, 1)
	assert.Equal(t, int32(1), d.conns[0].closes.Load(), "late connection is closed")
}

func TestToggle(t *testing.T) {
	d := &fakeDialer{}
	m := newManager(t, fakeCreds{}, fakeMic{}, d, &handler{})
	rec := newRecorder(m)

	m.Toggle(context.Background())
	rec.expect(t, StateConnecting, StateListening)

	m.Toggle(context.Background())
	rec.expect(t, StateStopped)

	m.Toggle(context.Background())
	rec.expect(t, StateConnecting, StateListening)
}

func TestSendText(t *testing.T) {
	d := &fakeDialer{}
	m := newManager(t, fakeCreds{}, fakeMic{}, d, &handler{})
	rec := newRecorder(m)

	assert.ErrorIs(t, m.SendText("add eggs"), ErrNotListening)

	m.Start(context.Background())
	rec.expect(t, StateConnecting, StateListening)

	require.NoError(t, m.SendText("add eggs"))
	assert.Len(t, d.conns[0].sent, 2)
}

func TestTransitionTable(t *testing.T) {
	_, ok := next(StateStopped, evStop)
	assert.False(t, ok, "stop on stopped is not a transition")

	_, ok = next(StateListening, evStart)
	assert.False(t, ok)

	_, ok = next(StateListening, evResume)
	assert.False(t, ok)

	to, ok := next(StateResponding, evTranscript)
	assert.True(t, ok)
	assert.Equal(t, StateResponding, to)

	for s := StateIdle; s <= StateFailed; s++ {
		assert.NotEqual(t, "unknown", s.String())
	}
}
