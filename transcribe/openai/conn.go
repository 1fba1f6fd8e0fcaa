package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	opuscodec "github.com/jj11hh/opus"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"go.aimuz.me/voxtype/audiocapture"
	"go.aimuz.me/voxtype/transcribe"
)

const (
	opusRate     = 48000
	opusChannels = 2
	// frameSamples is one 20ms opus frame per channel.
	frameSamples  = opusRate / 50
	frameDuration = 20 * time.Millisecond
	// Max Opus packet size is typically 1275 bytes
	maxPacket = 1275
)

type message struct {
	ev  transcribe.Event
	err error
}

// conn is one WebRTC transcription session. Audio goes out as opus on a
// media track; events come back on the "oai-events" data channel.
type conn struct {
	pc    *webrtc.PeerConnection
	track *webrtc.TrackLocalStaticSample

	// Guarded by wmu.
	wmu     sync.Mutex
	enc     *opuscodec.Encoder
	up      *audiocapture.Resampler
	pending []float32 // interleaved stereo awaiting a full frame
	packet  []byte
	written time.Duration

	mu          sync.Mutex
	turns       *turns
	terminating bool

	events    chan message
	closed    chan struct{}
	closeOnce sync.Once
}

func newConn(sampleRate int) *conn {
	return &conn{
		up:     audiocapture.NewResampler(sampleRate, opusRate),
		packet: make([]byte, maxPacket),
		turns:  newTurns(),
		events: make(chan message, 100),
		closed: make(chan struct{}),
	}
}

func (c *conn) push(m message) {
	select {
	case c.events <- m:
	case <-c.closed:
	}
}

// handleData runs on the data channel's read loop.
func (c *conn) handleData(data []byte) {
	ev, err := ParseEvent(data)
	if err != nil {
		c.push(message{err: &transcribe.ProtocolError{Err: err}})
		return
	}

	c.mu.Lock()
	out, err := c.turns.translate(ev)
	var completed bool
	switch ev.(type) {
	case TranscriptEvent, TranscriptFailedEvent:
		completed = true
	}
	finished := completed && c.terminating && c.turns.open() == 0
	c.mu.Unlock()

	if err != nil {
		c.push(message{err: err})
	} else if out != nil {
		c.push(message{ev: out})
	}
	if finished {
		c.pushTermination()
	}
}

func (c *conn) pushTermination() {
	c.wmu.Lock()
	d := c.written
	c.wmu.Unlock()
	c.push(message{ev: transcribe.TerminationEvent{AudioDurationSeconds: d.Seconds()}})
}

func (c *conn) ReadEvent(ctx context.Context) (transcribe.Event, error) {
	select {
	case m := <-c.events:
		return m.ev, m.err
	case <-c.closed:
		return nil, &transcribe.NetworkError{Retryable: true, Err: net.ErrClosed}
	case <-ctx.Done():
		return nil, &transcribe.NetworkError{Retryable: true, Err: ctx.Err()}
	}
}

// WriteAudio upsamples mono PCM to 48kHz stereo and sends it in 20ms opus
// frames. A partial frame is held until the next call.
func (c *conn) WriteAudio(pcm []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	c.pending = append(c.pending, duplicate(c.up.Process(audiocapture.Float32(pcm)))...)
	const frame = frameSamples * opusChannels
	for len(c.pending) >= frame {
		n, err := c.enc.EncodeFloat32(c.pending[:frame], c.packet)
		if err != nil {
			return &transcribe.NetworkError{Err: fmt.Errorf("opus encode: %w", err)}
		}
		// WriteSample copies the data internally
		if err := c.track.WriteSample(media.Sample{Data: c.packet[:n], Duration: frameDuration}); err != nil {
			return &transcribe.NetworkError{Retryable: true, Err: fmt.Errorf("write sample: %w", err)}
		}
		c.written += frameDuration
		c.pending = append(c.pending[:0], c.pending[frame:]...)
	}
	return nil
}

// duplicate interleaves a mono signal into identical stereo channels.
func duplicate(mono []float32) []float32 {
	out := make([]float32, 0, len(mono)*2)
	for _, s := range mono {
		out = append(out, s, s)
	}
	return out
}

// Terminate ends the session once every started item has been
// transcribed. Server VAD commits the audio; nothing is sent.
func (c *conn) Terminate() error {
	c.mu.Lock()
	c.terminating = true
	idle := c.turns.open() == 0
	c.mu.Unlock()

	if idle {
		go c.pushTermination()
	}
	return nil
}

func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.pc != nil {
			err = c.pc.Close()
		}
	})
	return err
}

// connect sets up the peer connection and exchanges SDP. The session's
// Begin event is produced once the data channel opens.
func (c *conn) connect(ctx context.Context, token *SessionToken) error {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return fmt.Errorf("register codecs: %w", err)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	})
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}
	c.pc = pc

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: opusRate,
			Channels:  opusChannels,
		},
		"audio",
		"voxtype-audio",
	)
	if err != nil {
		return fmt.Errorf("create audio track: %w", err)
	}
	if _, err = pc.AddTrack(track); err != nil {
		return fmt.Errorf("add audio track: %w", err)
	}
	c.track = track

	enc, err := opuscodec.NewEncoder(opusRate, opusChannels, opuscodec.AppRestrictedLowdelay)
	if err != nil {
		return fmt.Errorf("create opus encoder: %w", err)
	}
	c.enc = enc

	dc, err := pc.CreateDataChannel("oai-events", nil)
	if err != nil {
		return fmt.Errorf("create data channel: %w", err)
	}
	dc.OnOpen(func() {
		slog.Debug("openai data channel opened")
		c.push(message{ev: transcribe.BeginEvent{ID: token.ID, ExpiresAt: token.ExpiresAt}})
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.handleData(msg.Data)
	})

	// Incoming audio is ignored.
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := track.Read(buf); err != nil {
					return
				}
			}
		}()
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		if state == webrtc.ICEConnectionStateFailed || state == webrtc.ICEConnectionStateDisconnected {
			go c.push(message{err: &transcribe.NetworkError{
				Retryable: true,
				Err:       fmt.Errorf("ICE connection %s", state),
			}})
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-webrtc.GatheringCompletePromise(pc):
	case <-ctx.Done():
		return &transcribe.NetworkError{Retryable: true, Err: errors.Join(errors.New("ice gathering"), ctx.Err())}
	}

	answer, err := ExchangeSDP(ctx, pc.LocalDescription().SDP, token.Value)
	if err != nil {
		return err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}
