// Package events defines the JSON control messages exchanged over the
// realtime data channel. Every message carries a "type" discriminator;
// Decode routes server frames to typed structs the way the session
// dispatcher expects them.
package events

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeError reports a frame that could not be interpreted.
type DecodeError struct {
	Code    string
	Message string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func badFrame(message string) *DecodeError {
	return &DecodeError{Code: "bad_frame", Message: message}
}

// ContentPart is one element of a conversation item's content array.
type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// Item is a conversation item as the remote side describes it.
type Item struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	Role      string        `json:"role,omitempty"`
	Status    string        `json:"status,omitempty"`
	Name      string        `json:"name,omitempty"`
	CallID    string        `json:"call_id,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
	Output    string        `json:"output,omitempty"`
	Content   []ContentPart `json:"content,omitempty"`
}

// Text flattens an item's content parts into display text.
func (it Item) Text() string {
	var b strings.Builder
	for _, part := range it.Content {
		switch part.Type {
		case "text", "input_text":
			b.WriteString(part.Text)
		case "audio", "input_audio":
			b.WriteString(part.Transcript)
		}
	}
	return b.String()
}

// Server events.

type SessionCreated struct {
	EventID string `json:"event_id,omitempty"`
	Session struct {
		ID string `json:"id"`
	} `json:"session"`
}

type ItemCreated struct {
	EventID string `json:"event_id,omitempty"`
	Item    Item   `json:"item"`
}

// TranscriptionCompleted carries the final user-side transcript for an
// audio input item.
type TranscriptionCompleted struct {
	EventID    string `json:"event_id,omitempty"`
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
}

// TranscriptDelta is a partial assistant transcript chunk. Deltas for one
// item must be applied in arrival order.
type TranscriptDelta struct {
	EventID string `json:"event_id,omitempty"`
	ItemID  string `json:"item_id"`
	Delta   string `json:"delta"`
}

// TranscriptDone replaces the accumulated deltas with the final text.
type TranscriptDone struct {
	EventID    string `json:"event_id,omitempty"`
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
}

type OutputItemDone struct {
	EventID string `json:"event_id,omitempty"`
	Item    Item   `json:"item"`
}

// ResponseDone closes a model response; its output array is where
// function calls surface.
type ResponseDone struct {
	EventID  string `json:"event_id,omitempty"`
	Response struct {
		ID     string `json:"id,omitempty"`
		Status string `json:"status,omitempty"`
		Output []Item `json:"output"`
	} `json:"response"`
}

// AudioDelta is a chunk of base64 PCM16 assistant audio. Only emitted on
// transports without a media plane; WebRTC sessions stream audio on the
// remote track instead.
type AudioDelta struct {
	EventID string `json:"event_id,omitempty"`
	ItemID  string `json:"item_id"`
	Delta   string `json:"delta"`
}

// PCM decodes the base64 audio payload.
func (d AudioDelta) PCM() ([]byte, error) {
	return base64.StdEncoding.DecodeString(d.Delta)
}

type ServerError struct {
	EventID string `json:"event_id,omitempty"`
	Error   struct {
		Type    string `json:"type,omitempty"`
		Code    string `json:"code,omitempty"`
		Message string `json:"message"`
	} `json:"error"`
}

// Unknown preserves frames this client does not interpret; they are still
// logged verbatim.
type Unknown struct {
	Type    string
	EventID string
	Raw     json.RawMessage
}

// Envelope is the minimal shape shared by every frame.
type Envelope struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`
}

// Peek extracts the envelope without decoding the full frame.
func Peek(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, badFrame("invalid json frame")
	}
	if strings.TrimSpace(env.Type) == "" {
		return Envelope{}, badFrame("missing type")
	}
	return env, nil
}

// Decode routes a server frame by its type discriminator.
func Decode(data []byte) (any, error) {
	env, err := Peek(data)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case "session.created":
		var msg SessionCreated
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid session.created frame")
		}
		return msg, nil
	case "conversation.item.created":
		var msg ItemCreated
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid conversation.item.created frame")
		}
		if strings.TrimSpace(msg.Item.ID) == "" {
			return nil, badFrame("conversation.item.created missing item.id")
		}
		return msg, nil
	case "conversation.item.input_audio_transcription.completed":
		var msg TranscriptionCompleted
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid transcription.completed frame")
		}
		if strings.TrimSpace(msg.ItemID) == "" {
			return nil, badFrame("transcription.completed missing item_id")
		}
		return msg, nil
	case "response.audio_transcript.delta", "response.text.delta":
		var msg TranscriptDelta
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid transcript delta frame")
		}
		if strings.TrimSpace(msg.ItemID) == "" {
			return nil, badFrame("transcript delta missing item_id")
		}
		return msg, nil
	case "response.audio_transcript.done", "response.text.done":
		var msg TranscriptDone
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid transcript done frame")
		}
		if strings.TrimSpace(msg.ItemID) == "" {
			return nil, badFrame("transcript done missing item_id")
		}
		return msg, nil
	case "response.output_item.done":
		var msg OutputItemDone
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid response.output_item.done frame")
		}
		return msg, nil
	case "response.done":
		var msg ResponseDone
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid response.done frame")
		}
		return msg, nil
	case "response.audio.delta":
		var msg AudioDelta
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid response.audio.delta frame")
		}
		return msg, nil
	case "error":
		var msg ServerError
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badFrame("invalid error frame")
		}
		return msg, nil
	default:
		return Unknown{
			Type:    env.Type,
			EventID: env.EventID,
			Raw:     append(json.RawMessage(nil), data...),
		}, nil
	}
}

// Client events.

// SessionUpdate reconfigures the live session (instructions, tools,
// transcription) after connect.
type SessionUpdate struct {
	Type    string         `json:"type"`
	Session map[string]any `json:"session"`
}

func NewSessionUpdate(session map[string]any) SessionUpdate {
	return SessionUpdate{Type: "session.update", Session: session}
}

// OutboundItem is the client-side shape for conversation.item.create.
type OutboundItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  string        `json:"output,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
}

type ItemCreate struct {
	Type string       `json:"type"`
	Item OutboundItem `json:"item"`
}

// NewUserMessage builds a typed-text user item.
func NewUserMessage(text string) ItemCreate {
	return ItemCreate{
		Type: "conversation.item.create",
		Item: OutboundItem{
			Type:    "message",
			Role:    "user",
			Content: []ContentPart{{Type: "input_text", Text: text}},
		},
	}
}

// NewFunctionCallOutput correlates a tool result to its originating call.
func NewFunctionCallOutput(callID, output string) ItemCreate {
	return ItemCreate{
		Type: "conversation.item.create",
		Item: OutboundItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	}
}

// ResponseCreate asks the model to produce the next response. It carries
// no payload.
type ResponseCreate struct {
	Type string `json:"type"`
}

func NewResponseCreate() ResponseCreate {
	return ResponseCreate{Type: "response.create"}
}

// InputAudioBufferAppend pushes microphone PCM16 into the remote input
// buffer. Used by data-only transports that carry audio in-band.
type InputAudioBufferAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

func NewInputAudioBufferAppend(pcm []byte) InputAudioBufferAppend {
	return InputAudioBufferAppend{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	}
}

// InputAudioBufferClear discards buffered, uncommitted input audio.
type InputAudioBufferClear struct {
	Type string `json:"type"`
}

func NewInputAudioBufferClear() InputAudioBufferClear {
	return InputAudioBufferClear{Type: "input_audio_buffer.clear"}
}

// Name derives the audit-log display name for an event payload: the type
// discriminator plus an optional human suffix.
func Name(payload []byte, suffix string) string {
	env, err := Peek(payload)
	name := "unknown"
	if err == nil {
		name = env.Type
	}
	suffix = strings.TrimSpace(suffix)
	if suffix == "" {
		return name
	}
	return fmt.Sprintf("%s (%s)", name, suffix)
}
