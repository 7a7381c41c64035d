// Package transport establishes the realtime media+data connection and
// exposes the data channel as an ordered stream of JSON frames. Two
// establishers exist: WebRTC (peer connection with audio tracks, the
// default) and WebSocket (data-only fallback). Both deliver inbound
// frames verbatim; decoding belongs to the session dispatcher.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/parley-ai/parley/pkg/realtime/broker"
)

// ErrChannelNotOpen is returned by Send when the data channel is not in
// an open state. Callers report it locally instead of crashing.
var ErrChannelNotOpen = errors.New("data channel is not open")

// Channel is one session's exclusive control-plane connection.
type Channel interface {
	// Send writes one JSON frame. Returns ErrChannelNotOpen when the
	// channel cannot accept writes; it never panics.
	Send(data []byte) error
	// Events yields inbound frames in delivery order. Closed when the
	// channel shuts down.
	Events() <-chan []byte
	// Ready is closed once the channel can carry traffic.
	Ready() <-chan struct{}
	// Done is closed when the channel has fully shut down.
	Done() <-chan struct{}
	// Close releases the connection and all media resources. Idempotent.
	Close() error
}

// Establisher negotiates a connection using an ephemeral session grant.
type Establisher interface {
	Establish(ctx context.Context, grant *broker.SessionGrant) (Channel, error)
}

// AudioSource supplies encoded microphone frames for the outbound track.
type AudioSource interface {
	// ReadSample blocks until the next frame is available.
	ReadSample() (data []byte, duration time.Duration, err error)
	Close() error
}

// AudioSink receives the inbound remote audio stream for playback.
type AudioSink interface {
	WriteSample(data []byte) error
	Close() error
}
