package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/parley-ai/parley/internal/dotenv"
	"github.com/parley-ai/parley/pkg/realtime/broker"
	"github.com/parley-ai/parley/pkg/realtime/session"
	"github.com/parley-ai/parley/pkg/realtime/tools"
	"github.com/parley-ai/parley/pkg/realtime/transcript"
	"github.com/parley-ai/parley/pkg/realtime/transport"
)

const renderInterval = 250 * time.Millisecond

type options struct {
	gateway   string
	apiKey    string
	agentID   string
	transport string
	textOnly  bool
}

func parseOptions(args []string, getenv func(string) string) (options, error) {
	fs := flag.NewFlagSet("parley-call", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	opts := options{}
	fs.StringVar(&opts.gateway, "gateway", getenv("PARLEY_GATEWAY_URL"), "gateway base URL")
	fs.StringVar(&opts.apiKey, "api-key", getenv("PARLEY_API_KEY"), "gateway API key")
	fs.StringVar(&opts.agentID, "agent", firstNonEmpty(getenv("PARLEY_AGENT_ID"), "demo"), "agent id")
	fs.StringVar(&opts.transport, "transport", "websocket", "transport: websocket or webrtc")
	fs.BoolVar(&opts.textOnly, "text", false, "disable microphone and speaker")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if strings.TrimSpace(opts.gateway) == "" {
		opts.gateway = "http://localhost:8080"
	}
	switch opts.transport {
	case "websocket", "webrtc":
	default:
		return options{}, fmt.Errorf("transport must be websocket or webrtc, got %q", opts.transport)
	}
	// The WebRTC path carries audio on media tracks, which need encoded
	// capture this CLI does not provide. Keep it text-only.
	if opts.transport == "webrtc" {
		opts.textOnly = true
	}
	return opts, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// renderer prints transcript items once they complete. Keyed by item id;
// re-renders never duplicate a line.
type renderer struct {
	printed map[string]bool
	out     io.Writer
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{printed: make(map[string]bool), out: out}
}

func (r *renderer) render(items []transcript.Item) {
	for _, item := range items {
		if r.printed[item.ItemID] || item.Hidden {
			continue
		}
		switch {
		case item.Kind == transcript.KindMessage:
			if item.Status != transcript.StatusDone || item.Text == "" || item.Text == transcript.PlaceholderTranscribing {
				continue
			}
			fmt.Fprintf(r.out, "[%s] %s\n", item.Role, item.Text)
		case item.Kind == transcript.KindBreadcrumb:
			fmt.Fprintf(r.out, "  * %s\n", item.Title)
		default:
			continue
		}
		r.printed[item.ItemID] = true
	}
}

func audioSessionSettings() map[string]any {
	return map[string]any{
		"modalities":          []string{"audio", "text"},
		"input_audio_format":  "pcm16",
		"output_audio_format": "pcm16",
		"input_audio_transcription": map[string]any{
			"model": "whisper-1",
		},
		"turn_detection": map[string]any{
			"type": "server_vad",
		},
	}
}

func runCall(ctx context.Context, opts options, in io.Reader, out, errOut io.Writer, logger *slog.Logger) error {
	gw, err := broker.New(opts.gateway,
		broker.WithAPIKey(opts.apiKey),
		broker.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	var establisher transport.Establisher
	switch opts.transport {
	case "webrtc":
		establisher = &transport.WebRTC{Logger: logger}
	default:
		establisher = &transport.WebSocket{Logger: logger}
	}

	reg := tools.NewRegistry()
	if err := tools.RegisterBuiltins(reg); err != nil {
		return err
	}

	var spk *speaker
	if !opts.textOnly {
		spk, err = newSpeaker()
		if err != nil {
			return fmt.Errorf("speaker unavailable (use -text for typed mode): %w", err)
		}
		defer spk.Close()
	}

	sessionDone := make(chan struct{})
	var doneOnce sync.Once
	cfg := session.Config{
		AgentID:       opts.agentID,
		Broker:        gw,
		Establisher:   establisher,
		Tools:         reg,
		ChainResponse: true,
		OnStatus: func(s session.Status) {
			fmt.Fprintf(out, "-- %s --\n", s)
			if s == session.StatusDisconnected {
				doneOnce.Do(func() { close(sessionDone) })
			}
		},
		Logger: logger,
	}
	if spk != nil {
		cfg.OnAudio = spk.Write
	}

	ctrl, err := session.New(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = ctrl.Disconnect(context.Background()) }()

	if err := ctrl.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	var mic *micCapture
	if !opts.textOnly {
		if err := ctrl.UpdateSession(audioSessionSettings()); err != nil {
			return err
		}
		mic, err = newMicCapture(func(pcm []byte) {
			_ = ctrl.AppendAudio(pcm)
		})
		if err != nil {
			return fmt.Errorf("microphone unavailable (use -text for typed mode): %w", err)
		}
		defer mic.Close()
		if err := mic.Start(); err != nil {
			return err
		}
		fmt.Fprintln(out, "Microphone live. Type a message to interject, /quit to hang up.")
	} else {
		fmt.Fprintln(out, "Text mode. Type a message, /quit to hang up.")
	}

	renderCtx, renderCancel := context.WithCancel(ctx)
	defer renderCancel()
	r := newRenderer(out)
	go func() {
		ticker := time.NewTicker(renderInterval)
		defer ticker.Stop()
		for {
			select {
			case <-renderCtx.Done():
				return
			case <-ticker.C:
				r.render(ctrl.Transcript())
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sessionDone:
			r.render(ctrl.Transcript())
			fmt.Fprintln(out, "session ended")
			return nil
		case sig := <-sigCh:
			fmt.Fprintf(out, "\nreceived %s, hanging up\n", sig)
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			switch {
			case line == "":
			case line == "/quit" || line == "/exit":
				return nil
			case line == "/clear":
				if spk != nil {
					spk.Flush()
				}
				if err := ctrl.ClearAudioInput(); err != nil {
					fmt.Fprintf(errOut, "clear failed: %v\n", err)
				}
			default:
				if err := ctrl.SendUserText(line); err != nil {
					fmt.Fprintf(errOut, "send failed: %v\n", err)
				}
			}
		}
	}
}

func runMain(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(errOut, "parley-call: %v\n", err)
		return 1
	}

	opts, err := parseOptions(args, os.Getenv)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(errOut, "parley-call: %v\n", err)
		return 2
	}

	if err := runCall(ctx, opts, in, out, errOut, logger); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(errOut, "parley-call: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
