package main

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/gen2brain/malgo"
)

const (
	audioSampleRateHz = 24000
	audioChannels     = 1
)

// micCapture owns the default capture device and forwards raw PCM16
// frames to the session. Frames are copied out of the driver callback
// before they cross a goroutine boundary.
type micCapture struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

func newMicCapture(onPCM func(pcm []byte)) (*micCapture, error) {
	if onPCM == nil {
		return nil, errors.New("onPCM callback must not be nil")
	}
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = audioChannels
	cfg.SampleRate = audioSampleRateHz
	cfg.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			if len(in) == 0 {
				return
			}
			frame := make([]byte, len(in))
			copy(frame, in)
			onPCM(frame)
		},
	})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("init capture device: %w", err)
	}
	return &micCapture{ctx: mctx, device: device}, nil
}

func (m *micCapture) Start() error {
	if err := m.device.Start(); err != nil {
		return fmt.Errorf("start capture device: %w", err)
	}
	return nil
}

func (m *micCapture) Close() error {
	if m == nil {
		return nil
	}
	if m.device != nil {
		m.device.Uninit()
		m.device = nil
	}
	if m.ctx != nil {
		_ = m.ctx.Uninit()
		m.ctx.Free()
		m.ctx = nil
	}
	return nil
}

// speaker plays assistant PCM16 through the default output device. The
// oto player pulls from an internal blocking buffer so writes from the
// dispatch path never stall.
type speaker struct {
	otoCtx *oto.Context
	player *oto.Player
	stream *pcmStream
}

func newSpeaker() (*speaker, error) {
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   audioSampleRateHz,
		ChannelCount: audioChannels,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, fmt.Errorf("init playback context: %w", err)
	}
	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		return nil, errors.New("playback device did not become ready")
	}

	stream := newPCMStream()
	player := otoCtx.NewPlayer(stream)
	player.Play()
	return &speaker{otoCtx: otoCtx, player: player, stream: stream}, nil
}

func (s *speaker) Write(pcm []byte) {
	s.stream.Write(pcm)
}

// Flush drops buffered audio, e.g. when the user barges in.
func (s *speaker) Flush() {
	s.stream.Drain()
}

func (s *speaker) Close() error {
	if s == nil {
		return nil
	}
	s.stream.CloseWrite()
	if s.player != nil {
		return s.player.Close()
	}
	return nil
}

// pcmStream is an unbounded byte queue: Write never blocks, Read blocks
// until data arrives or the write side closes.
type pcmStream struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool
}

func newPCMStream() *pcmStream {
	s := &pcmStream{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *pcmStream) Write(p []byte) {
	if len(p) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.buf = append(s.buf, p...)
	s.cond.Signal()
}

func (s *pcmStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.buf) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.buf) == 0 {
		return 0, io.EOF
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

func (s *pcmStream) Drain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}

func (s *pcmStream) CloseWrite() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
}
