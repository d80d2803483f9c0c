// Package session owns the lifecycle of one voice session: fetching a
// credential, opening the microphone, connecting to the realtime provider,
// and turning final transcripts into commands.
//
// All state lives in a Manager and changes only through the transition
// table in state.go. Asynchronous completions (connect results, data
// channel messages, the resume timer) carry the epoch they were issued
// under and are dropped once Stop or a new Start has moved the epoch on.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/voicetodo/pkg/broker"
	"github.com/teslashibe/voicetodo/pkg/realtime"
)

// Credentials fetches an ephemeral credential.
type Credentials interface {
	Fetch(ctx context.Context) (broker.Credential, error)
}

// Dialer opens a realtime connection.
type Dialer interface {
	Dial(ctx context.Context, req realtime.DialRequest) (realtime.Conn, error)
}

// Handler interprets a final transcript and returns the message to show.
type Handler interface {
	HandleTranscript(text string) string
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(text string) string

// HandleTranscript calls f.
func (f HandlerFunc) HandleTranscript(text string) string { return f(text) }

// Change describes one state transition.
type Change struct {
	From      State
	To        State
	Status    string
	SessionID string

	// Err is set when To is StateFailed.
	Err error

	// Transcript and Result are set when To is StateResponding.
	Transcript string
	Result     string
}

// Manager runs voice sessions one at a time. It is safe for concurrent use.
type Manager struct {
	config      *Config
	credentials Credentials
	microphone  realtime.Microphone
	dialer      Dialer
	handler     Handler
	logger      *slog.Logger

	mu        sync.Mutex
	state     State
	epoch     uint64
	sessionID string
	conn      realtime.Conn
	cancel    context.CancelFunc
	timer     *time.Timer
	timerSeq  uint64
	lastErr   error
	listeners []func(Change)

	// pending holds changes in the order they were fired. dispatching is
	// set while one goroutine is delivering them.
	pending     []Change
	dispatching bool

	wg sync.WaitGroup
}

// New creates a Manager in StateIdle.
func New(creds Credentials, mic realtime.Microphone, dialer Dialer, handler Handler, opts ...Option) (*Manager, error) {
	if creds == nil || mic == nil || dialer == nil || handler == nil {
		return nil, ErrMissingDependency
	}

	cfg := DefaultConfig()
	cfg.Apply(opts...)

	return &Manager{
		config:      cfg,
		credentials: creds,
		microphone:  mic,
		dialer:      dialer,
		handler:     handler,
		logger:      cfg.Logger.With("component", "session"),
	}, nil
}

// OnStateChange registers fn for every transition. Changes are delivered in
// order, outside the manager lock, and fn may call back into the Manager.
func (m *Manager) OnStateChange(fn func(Change)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SessionID returns the ID of the current or last start attempt.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Err returns the error of the last failed start, if any.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Start begins a start attempt and returns without waiting for it.
// It reports false, and does nothing, when a session is already active.
func (m *Manager) Start(ctx context.Context) bool {
	m.mu.Lock()
	change, ok := m.fire(evStart)
	if !ok {
		m.mu.Unlock()
		return false
	}
	m.epoch++
	epoch := m.epoch
	m.sessionID = uuid.NewString()
	m.lastErr = nil
	change.SessionID = m.sessionID

	connectCtx, cancel := context.WithTimeout(ctx, m.config.ConnectTimeout)
	m.cancel = cancel
	m.wg.Add(1)
	m.pending = append(m.pending, change)
	m.mu.Unlock()

	m.logger.Info("session starting", "session_id", change.SessionID)
	m.dispatch()

	go func() {
		defer m.wg.Done()
		defer cancel()
		conn, err := m.connect(connectCtx, epoch)
		m.connected(epoch, conn, err)
	}()
	return true
}

// Stop tears down the active connection, if any. Pending connects and
// timers are invalidated. Calling Stop when already stopped does nothing.
func (m *Manager) Stop() {
	m.mu.Lock()
	change, ok := m.fire(evStop)
	if !ok {
		m.mu.Unlock()
		return
	}
	m.epoch++
	change.SessionID = m.sessionID
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	conn := m.conn
	m.conn = nil
	m.pending = append(m.pending, change)
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			m.logger.Warn("close connection", "session_id", change.SessionID, "error", err)
		}
	}
	m.logger.Info("session stopped", "session_id", change.SessionID)
	m.dispatch()
}

// Toggle stops an active session or starts a new one.
func (m *Manager) Toggle(ctx context.Context) {
	if m.State().Active() {
		m.Stop()
		return
	}
	m.Start(ctx)
}

// Close stops the session and waits for in-flight start attempts to finish.
func (m *Manager) Close() {
	m.Stop()
	m.wg.Wait()
}

// SendText types text into the conversation as if it had been spoken.
func (m *Manager) SendText(text string) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		return ErrNotListening
	}
	for _, ev := range realtime.TextInput(text) {
		if err := conn.Send(ev); err != nil {
			return fmt.Errorf("session: send text: %w", err)
		}
	}
	return nil
}

// connect runs the three start stages in order.
func (m *Manager) connect(ctx context.Context, epoch uint64) (realtime.Conn, error) {
	cred, err := m.credentials.Fetch(ctx)
	if err != nil {
		return nil, &StartError{Stage: StageCredential, Err: err}
	}
	if cred.Expired(time.Now()) {
		return nil, &StartError{Stage: StageCredential, Err: errors.New("credential already expired")}
	}

	source, err := m.microphone.Open(ctx)
	if err != nil {
		return nil, &StartError{Stage: StageMedia, Err: err}
	}

	conn, err := m.dialer.Dial(ctx, realtime.DialRequest{
		Token:     cred.Value,
		Source:    source,
		OnMessage: func(data []byte) { m.receive(epoch, data) },
	})
	if err != nil {
		return nil, &StartError{Stage: StageHandshake, Err: err}
	}
	return conn, nil
}

// connected applies the result of a start attempt.
func (m *Manager) connected(epoch uint64, conn realtime.Conn, err error) {
	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		if conn != nil {
			m.logger.Debug("closing connection from a stale start")
			conn.Close()
		}
		return
	}
	m.cancel = nil

	ev := evConnected
	if err != nil {
		ev = evFailed
	}
	change, ok := m.fire(ev)
	if !ok {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	change.SessionID = m.sessionID
	if err != nil {
		m.lastErr = err
		change.Err = err
	} else {
		m.conn = conn
	}
	m.pending = append(m.pending, change)
	m.mu.Unlock()

	if err != nil {
		m.logger.Error("session failed", "session_id", change.SessionID, "stage", string(StageOf(err)), "error", err)
	} else {
		m.logger.Info("session listening", "session_id", change.SessionID)
	}
	m.dispatch()
}

// receive handles one data channel message.
func (m *Manager) receive(epoch uint64, data []byte) {
	ev, err := realtime.ParseEvent(data)
	if err != nil {
		m.logger.Warn("ignoring malformed event", "error", err, "bytes", len(data))
		return
	}
	if ev.Type == realtime.EventError && ev.Error != nil {
		m.logger.Warn("provider error", "code", ev.Error.Code, "message", ev.Error.Message)
		return
	}

	transcript, ok := ev.FinalTranscript()
	if !ok {
		switch ev.Type {
		case realtime.EventSessionCreated:
			m.logger.Debug("provider session created", "event_id", ev.EventID)
		case realtime.EventSpeechStarted, realtime.EventSpeechStopped:
			m.logger.Debug("speech", "type", ev.Type)
		case realtime.EventInputTranscript:
			m.logger.Debug("input transcript", "transcript", ev.Transcript)
		default:
			m.logger.Debug("event", "type", ev.Type)
		}
		return
	}

	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	change, ok := m.fire(evTranscript)
	if !ok {
		m.mu.Unlock()
		return
	}
	change.SessionID = m.sessionID
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()

	m.logger.Info("final transcript", "session_id", change.SessionID, "transcript", transcript)
	change.Transcript = transcript
	change.Result = m.handler.HandleTranscript(transcript)

	// Stop or a new Start may have run while the handler did. The change
	// then describes a session that no longer exists.
	m.mu.Lock()
	if epoch != m.epoch || m.state != StateResponding {
		m.mu.Unlock()
		m.logger.Debug("dropping change from a stopped session", "session_id", change.SessionID)
		return
	}
	m.pending = append(m.pending, change)
	m.scheduleResume(epoch)
	m.mu.Unlock()

	m.dispatch()
}

// scheduleResume arms the Responding -> Listening timer. The caller holds m.mu.
func (m *Manager) scheduleResume(epoch uint64) {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timerSeq++
	seq := m.timerSeq
	m.timer = time.AfterFunc(m.config.ResumeDelay, func() { m.resume(epoch, seq) })
}

// resume fires from the timer. A timer armed before Stop, or superseded
// by a later transcript, does nothing.
func (m *Manager) resume(epoch, seq uint64) {
	m.mu.Lock()
	if epoch != m.epoch || seq != m.timerSeq {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	change, ok := m.fire(evResume)
	if !ok {
		m.mu.Unlock()
		return
	}
	change.SessionID = m.sessionID
	m.pending = append(m.pending, change)
	m.mu.Unlock()

	m.dispatch()
}

// fire applies e to the current state. The caller holds m.mu.
func (m *Manager) fire(e event) (Change, bool) {
	from := m.state
	to, ok := next(from, e)
	if !ok {
		m.logger.Debug("ignored event", "state", from.String(), "event", e.String())
		return Change{}, false
	}
	m.state = to
	return Change{From: from, To: to, Status: to.Status()}, true
}

// dispatch delivers pending changes in the order they were fired. Only one
// goroutine delivers at a time; a change queued while another goroutine is
// delivering, including from inside a listener, is picked up by that one.
func (m *Manager) dispatch() {
	m.mu.Lock()
	if m.dispatching {
		m.mu.Unlock()
		return
	}
	m.dispatching = true

	for len(m.pending) > 0 {
		c := m.pending[0]
		m.pending = m.pending[1:]
		listeners := make([]func(Change), len(m.listeners))
		copy(listeners, m.listeners)
		m.mu.Unlock()

		for _, fn := range listeners {
			fn(c)
		}

		m.mu.Lock()
	}
	m.dispatching = false
	m.mu.Unlock()
}
