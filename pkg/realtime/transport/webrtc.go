package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/parley-ai/parley/pkg/realtime/broker"
)

const sdpContentType = "application/sdp"

// WebRTC negotiates a peer connection against the remote signaling
// endpoint: local audio capture, SDP offer/answer over HTTP, inbound
// audio to the playback sink, and a single named data channel.
type WebRTC struct {
	// Source and Sink may be nil for data-only sessions (tests, headless
	// tooling); the data channel works either way.
	Source AudioSource
	Sink   AudioSink

	HTTPClient *http.Client
	ICEServers []webrtc.ICEServer
	Logger     *slog.Logger
}

func (e *WebRTC) logger() *slog.Logger {
	if e != nil && e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *WebRTC) httpClient() *http.Client {
	if e != nil && e.HTTPClient != nil {
		return e.HTTPClient
	}
	return &http.Client{Timeout: 15 * time.Second}
}

// Establish runs the full handshake. Any failure releases everything
// acquired so far; no tracks or connections leak.
func (e *WebRTC) Establish(ctx context.Context, grant *broker.SessionGrant) (Channel, error) {
	if grant == nil {
		return nil, fmt.Errorf("session grant must not be nil")
	}
	logger := e.logger()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: e.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	ch := &webrtcChannel{
		pc:     pc,
		source: e.Source,
		sink:   e.Sink,
		logger: logger,
		events: make(chan []byte, 256),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}

	fail := func(step string, err error) (Channel, error) {
		_ = ch.Close()
		return nil, fmt.Errorf("%s: %w", step, err)
	}

	// The first inbound remote stream feeds the playback sink.
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if e.Sink == nil {
			return
		}
		go ch.pumpRemote(track)
	})

	if e.Source != nil {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", "parley-mic",
		)
		if err != nil {
			return fail("create local track", err)
		}
		sender, err := pc.AddTrack(track)
		if err != nil {
			return fail("attach local track", err)
		}
		go drainRTCP(sender)
		go ch.pumpLocal(track)
	}

	dc, err := pc.CreateDataChannel(grant.ChannelName, nil)
	if err != nil {
		return fail("create data channel", err)
	}
	ch.dc = dc
	dc.OnOpen(func() {
		logger.Info("data channel open", "channel", dc.Label())
		ch.readyOnce.Do(func() { close(ch.ready) })
	})
	dc.OnClose(func() {
		logger.Info("data channel closed", "channel", dc.Label())
	})
	dc.OnError(func(err error) {
		logger.Error("data channel error", "channel", dc.Label(), "error", err)
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		ch.emit(msg.Data)
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fail("create offer", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fail("set local description", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return fail("ice gathering", ctx.Err())
	}

	answer, err := e.exchangeSDP(ctx, grant, pc.LocalDescription().SDP)
	if err != nil {
		return fail("sdp exchange", err)
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		return fail("set remote description", err)
	}

	return ch, nil
}

// exchangeSDP posts the raw offer to the remote signaling endpoint
// authenticated by the ephemeral credential; the response body is the
// raw answer.
func (e *WebRTC) exchangeSDP(ctx context.Context, grant *broker.SessionGrant, offerSDP string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, grant.ServerURL, strings.NewReader(offerSDP))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+grant.ClientSecret)
	req.Header.Set("Content-Type", sdpContentType)

	resp, err := e.httpClient().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("signaling endpoint returned status %d", resp.StatusCode)
	}
	answer := strings.TrimSpace(string(body))
	if answer == "" {
		return "", fmt.Errorf("signaling endpoint returned an empty answer")
	}
	return answer, nil
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

type webrtcChannel struct {
	pc     *webrtc.PeerConnection
	dc     *webrtc.DataChannel
	source AudioSource
	sink   AudioSink
	logger *slog.Logger

	events chan []byte
	ready  chan struct{}
	done   chan struct{}

	readyOnce sync.Once
	closeOnce sync.Once
}

func (c *webrtcChannel) Send(data []byte) error {
	if c == nil || c.dc == nil || c.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrChannelNotOpen
	}
	return c.dc.SendText(string(data))
}

func (c *webrtcChannel) Events() <-chan []byte  { return c.events }
func (c *webrtcChannel) Ready() <-chan struct{} { return c.ready }
func (c *webrtcChannel) Done() <-chan struct{}  { return c.done }

func (c *webrtcChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.source != nil {
			_ = c.source.Close()
		}
		if c.sink != nil {
			_ = c.sink.Close()
		}
		if c.pc != nil {
			err = c.pc.Close()
		}
		// events stays open: OnMessage callbacks may still be in flight.
		// Consumers exit via Done.
		close(c.done)
	})
	return err
}

// emit preserves delivery order; it only gives up when the channel is
// shutting down.
func (c *webrtcChannel) emit(data []byte) {
	frame := append([]byte(nil), data...)
	select {
	case <-c.done:
	case c.events <- frame:
	}
}

func (c *webrtcChannel) pumpLocal(track *webrtc.TrackLocalStaticSample) {
	for {
		select {
		case <-c.done:
			return
		default:
		}
		data, dur, err := c.source.ReadSample()
		if err != nil {
			if err != io.EOF {
				c.logger.Error("microphone read failed", "error", err)
			}
			return
		}
		if err := track.WriteSample(media.Sample{Data: data, Duration: dur}); err != nil {
			c.logger.Error("local track write failed", "error", err)
			return
		}
	}
}

func (c *webrtcChannel) pumpRemote(track *webrtc.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		if err := c.sink.WriteSample(pkt.Payload); err != nil {
			c.logger.Error("playback sink write failed", "error", err)
			return
		}
	}
}
