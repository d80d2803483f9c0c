package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
	"github.com/pion/webrtc/v3/pkg/media/oggwriter"
)

// Opus framing used for every local track.
const (
	opusClockRate = 48000
	opusChannels  = 2
	opusFrame     = 20 * time.Millisecond
)

// opusSilence is a single 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// Source is a local audio source attached to the peer connection.
type Source interface {
	// Track is added to the peer connection before the offer is made.
	Track() webrtc.TrackLocal

	// Stream writes samples until ctx is done or the input runs out.
	Stream(ctx context.Context) error

	// Close releases the underlying input.
	Close() error
}

// Microphone opens a Source for one session.
type Microphone interface {
	Open(ctx context.Context) (Source, error)
}

// Speaker consumes the remote audio track.
type Speaker interface {
	// Play reads from track until it ends.
	Play(track *webrtc.TrackRemote)
}

func newOpusTrack() (*webrtc.TrackLocalStaticSample, error) {
	return webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: opusClockRate,
		Channels:  opusChannels,
	}, "audio", "voicetodo")
}

// OggMicrophone replays an Ogg/Opus file as the microphone.
type OggMicrophone struct {
	Path string
}

// Open opens the file and checks its Ogg header.
func (m OggMicrophone) Open(ctx context.Context) (Source, error) {
	f, err := os.Open(m.Path)
	if err != nil {
		return nil, fmt.Errorf("realtime: open microphone input: %w", err)
	}
	reader, _, err := oggreader.NewWith(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("realtime: read ogg header %s: %w", m.Path, err)
	}
	track, err := newOpusTrack()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &oggSource{file: f, reader: reader, track: track}, nil
}

type oggSource struct {
	file   *os.File
	reader *oggreader.OggReader
	track  *webrtc.TrackLocalStaticSample
	once   sync.Once
}

func (s *oggSource) Track() webrtc.TrackLocal { return s.track }

// Stream paces one Ogg page per tick, timed by granule position.
func (s *oggSource) Stream(ctx context.Context) error {
	ticker := time.NewTicker(opusFrame)
	defer ticker.Stop()

	var lastGranule uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		page, header, err := s.reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("realtime: read ogg page: %w", err)
		}

		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		duration := time.Duration(float64(samples)/opusClockRate*1000) * time.Millisecond

		if err := s.track.WriteSample(media.Sample{Data: page, Duration: duration}); err != nil {
			return fmt.Errorf("realtime: write sample: %w", err)
		}
	}
}

func (s *oggSource) Close() error {
	var err error
	s.once.Do(func() { err = s.file.Close() })
	return err
}

// SilentMicrophone sends Opus silence. It keeps the media path alive when
// commands are typed instead of spoken.
type SilentMicrophone struct{}

// Open creates the silent track.
func (SilentMicrophone) Open(ctx context.Context) (Source, error) {
	track, err := newOpusTrack()
	if err != nil {
		return nil, err
	}
	return &silentSource{track: track}, nil
}

type silentSource struct {
	track *webrtc.TrackLocalStaticSample
}

func (s *silentSource) Track() webrtc.TrackLocal { return s.track }

func (s *silentSource) Stream(ctx context.Context) error {
	ticker := time.NewTicker(opusFrame)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.track.WriteSample(media.Sample{Data: opusSilence, Duration: opusFrame}); err != nil {
				return fmt.Errorf("realtime: write silence: %w", err)
			}
		}
	}
}

func (s *silentSource) Close() error { return nil }

// OggSpeaker records the remote track to an Ogg/Opus file. Each session
// overwrites the file.
type OggSpeaker struct {
	Path    string
	OnError func(err error)
}

// Play writes RTP packets until the track ends.
func (s OggSpeaker) Play(track *webrtc.TrackRemote) {
	w, err := oggwriter.New(s.Path, opusClockRate, opusChannels)
	if err != nil {
		s.fail(fmt.Errorf("realtime: open speaker output: %w", err))
		return
	}
	defer w.Close()

	for {
		var pkt *rtp.Packet
		pkt, _, err = track.ReadRTP()
		if err != nil {
			return
		}
		if err := w.WriteRTP(pkt); err != nil {
			s.fail(fmt.Errorf("realtime: write speaker output: %w", err))
			return
		}
	}
}

func (s OggSpeaker) fail(err error) {
	if s.OnError != nil {
		s.OnError(err)
	}
}

// DiscardSpeaker reads and drops the remote track.
type DiscardSpeaker struct{}

// Play drains the track.
func (DiscardSpeaker) Play(track *webrtc.TrackRemote) {
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			return
		}
	}
}
