// Package realtime connects to the OpenAI Realtime API over WebRTC.
//
// A Dialer attaches a local audio source to a pion peer connection, opens
// the "oai-events" data channel, and trades SDP with the provider using an
// ephemeral credential. Server events arrive as raw bytes on the data
// channel and are decoded with ParseEvent.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/voicetodo/internal/config"
	"github.com/teslashibe/voicetodo/internal/httpc"
)

// DataChannelLabel is the label the provider expects for the event channel.
const DataChannelLabel = "oai-events"

// maxAnswer bounds the SDP answer read from the provider.
const maxAnswer = 64 << 10

// Conn is a live realtime connection.
type Conn interface {
	// Send encodes v as JSON and writes it to the data channel.
	Send(v any) error

	// Close tears down the data channel and peer connection. It is safe to
	// call more than once.
	Close() error
}

// DialRequest is everything one connection attempt needs.
type DialRequest struct {
	// Token is the ephemeral credential value.
	Token string

	// Source supplies the local audio track.
	Source Source

	// OnMessage receives every data channel message. It is called from a
	// pion goroutine.
	OnMessage func(data []byte)
}

// Dialer opens realtime connections.
type Dialer struct {
	// BaseURL is the provider API root. Defaults to config.DefaultOpenAIURL.
	BaseURL string

	// Model is appended as the model query parameter.
	Model string

	// API builds peer connections. Nil means webrtc's default API.
	API *webrtc.API

	// ICE is the peer connection configuration.
	ICE webrtc.Configuration

	// Speaker receives the remote audio track. Nil drains and drops it.
	Speaker Speaker

	// HTTPClient posts the offer. Nil uses the shared client.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Dial performs the offer/answer exchange and returns once the remote
// description is set. The source starts streaming after that.
// Dial owns req.Source: it is closed on failure or when the Conn closes.
func (d *Dialer) Dial(ctx context.Context, req DialRequest) (Conn, error) {
	if req.Source == nil {
		return nil, ErrNoSource
	}
	logger := d.logger()

	pc, err := d.newPeerConnection()
	if err != nil {
		req.Source.Close()
		return nil, fmt.Errorf("realtime: peer connection: %w", err)
	}

	c := &peerConn{pc: pc, source: req.Source, logger: logger}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	sender, err := pc.AddTrack(req.Source.Track())
	if err != nil {
		return nil, fmt.Errorf("realtime: add track: %w", err)
	}
	go drainRTCP(sender)

	speaker := d.Speaker
	if speaker == nil {
		speaker = DiscardSpeaker{}
	}
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		logger.Debug("remote track", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		go speaker.Play(track)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("peer connection state", "state", state.String())
	})

	dc, err := pc.CreateDataChannel(DataChannelLabel, nil)
	if err != nil {
		return nil, fmt.Errorf("realtime: data channel: %w", err)
	}
	c.dc = dc
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if req.OnMessage != nil {
			req.OnMessage(msg.Data)
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create offer: %v", ErrHandshake, err)
	}

	// No trickle ICE: the provider takes one offer with every candidate.
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("%w: set local description: %v", ErrHandshake, err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	answer, err := d.exchange(ctx, req.Token, pc.LocalDescription().SDP)
	if err != nil {
		return nil, err
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		return nil, fmt.Errorf("%w: set remote description: %v", ErrHandshake, err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go func() {
		if err := req.Source.Stream(streamCtx); err != nil {
			logger.Warn("audio source stopped", "error", err)
		}
	}()

	ok = true
	return c, nil
}

// exchange posts the offer SDP and returns the answer SDP.
func (d *Dialer) exchange(ctx context.Context, token, offer string) (string, error) {
	base := d.BaseURL
	if base == "" {
		base = config.DefaultOpenAIURL
	}
	model := d.Model
	if model == "" {
		model = config.DefaultModel
	}
	endpoint := strings.TrimSuffix(base, "/") + "/realtime?model=" + url.QueryEscape(model)

	httpReq, err := httpc.NewRequest(ctx, http.MethodPost, endpoint, token, "application/sdp", strings.NewReader(offer))
	if err != nil {
		return "", err
	}

	resp, err := httpc.Or(d.HTTPClient).Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: post offer: %v", ErrHandshake, err)
	}
	defer resp.Body.Close()

	body, err := httpc.ReadLimited(resp, maxAnswer)
	if err != nil {
		return "", fmt.Errorf("%w: read answer: %v", ErrHandshake, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &HandshakeError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	answer := string(body)
	if !strings.HasPrefix(answer, "v=") {
		return "", fmt.Errorf("%w: answer is not an SDP document", ErrHandshake)
	}
	return answer, nil
}

func (d *Dialer) newPeerConnection() (*webrtc.PeerConnection, error) {
	if d.API != nil {
		return d.API.NewPeerConnection(d.ICE)
	}
	return webrtc.NewPeerConnection(d.ICE)
}

func (d *Dialer) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger.With("component", "realtime")
	}
	return slog.Default().With("component", "realtime")
}

// drainRTCP reads incoming RTCP so interceptors keep running.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// peerConn is the pion-backed Conn.
type peerConn struct {
	pc     *webrtc.PeerConnection
	dc     *webrtc.DataChannel
	source Source
	cancel context.CancelFunc
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

func (c *peerConn) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime: encode event: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.dc == nil || c.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrChannelClosed
	}
	return c.dc.SendText(string(data))
}

func (c *peerConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	if c.dc != nil {
		if err := c.dc.Close(); err != nil {
			c.logger.Debug("data channel close", "error", err)
		}
	}
	err := c.pc.Close()
	if c.source != nil {
		if serr := c.source.Close(); serr != nil && err == nil {
			err = serr
		}
	}
	return err
}
