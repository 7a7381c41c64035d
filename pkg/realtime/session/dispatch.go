package session

import (
	"context"
	"encoding/json"

	"github.com/parley-ai/parley/pkg/realtime/events"
	"github.com/parley-ai/parley/pkg/realtime/tools"
	"github.com/parley-ai/parley/pkg/realtime/transcript"
)

// dispatch applies one inbound frame. It runs on the read loop only, so
// transcript mutations are sequential; tool execution is the one thing
// pushed onto its own goroutine.
func (c *Controller) dispatch(raw []byte) {
	env, err := events.Peek(raw)
	if err != nil {
		c.logger.Warn("unparseable server frame dropped", "error", err)
		return
	}

	c.mu.Lock()
	log := c.log
	tr := c.transcript
	engine := c.engine
	c.mu.Unlock()

	// Every frame is logged verbatim before interpretation, including
	// frames this client does not understand. Audio chunks are the one
	// exception: base64 media would swamp the audit log.
	if env.Type != "response.audio.delta" {
		name := env.Type
		if env.Type == "error" {
			name = env.Type + " (server)"
		}
		log.Log(transcript.DirectionServer, env.EventID, name, raw)
	}

	msg, err := events.Decode(raw)
	if err != nil {
		c.logger.Warn("malformed server event", "type", env.Type, "error", err)
		return
	}

	switch ev := msg.(type) {
	case events.SessionCreated:
		c.logger.Info("remote session created", "remote_id", ev.Session.ID)

	case events.ItemCreated:
		c.handleItemCreated(tr, ev)

	case events.TranscriptionCompleted:
		text := ev.Transcript
		if text == "" {
			text = "[inaudible]"
		}
		tr.SetText(ev.ItemID, text)
		tr.Complete(ev.ItemID)

	case events.TranscriptDelta:
		tr.AppendText(ev.ItemID, "assistant", ev.Delta)

	case events.TranscriptDone:
		tr.SetText(ev.ItemID, ev.Transcript)

	case events.OutputItemDone:
		if ev.Item.ID != "" {
			tr.Complete(ev.Item.ID)
		}

	case events.ResponseDone:
		for _, item := range ev.Response.Output {
			if item.Type != "function_call" {
				continue
			}
			c.handleFunctionCall(tr, engine, item)
		}

	case events.AudioDelta:
		if c.cfg.OnAudio != nil {
			pcm, err := ev.PCM()
			if err != nil {
				c.logger.Warn("undecodable audio delta dropped", "item_id", ev.ItemID, "error", err)
				return
			}
			c.cfg.OnAudio(pcm)
		}

	case events.ServerError:
		c.logger.Error("server error event",
			"code", ev.Error.Code, "message", ev.Error.Message)

	case events.Unknown:
		// Logged above; nothing to interpret.
	}
}

func (c *Controller) handleItemCreated(tr *transcript.Transcript, ev events.ItemCreated) {
	item := ev.Item
	if item.Type != "message" {
		return
	}
	text := item.Text()
	if text == "" && item.Role == "user" {
		// Audio input: the transcript arrives later via the
		// transcription.completed event.
		text = transcript.PlaceholderTranscribing
	}
	tr.AddMessage(item.ID, item.Role, text, false)
	if item.Status == "completed" || item.Status == "done" {
		tr.Complete(item.ID)
	}
}

// handleFunctionCall records the call as a breadcrumb and hands it to the
// tool engine on its own goroutine. The dispatcher never blocks on tool
// logic and never dies with it.
func (c *Controller) handleFunctionCall(tr *transcript.Transcript, engine *tools.Engine, item events.Item) {
	if engine == nil {
		c.logger.Warn("function call with no active engine", "tool", item.Name)
		return
	}
	call := tools.Call{CallID: item.CallID, Name: item.Name, Arguments: item.Arguments}

	data := map[string]any{"call_id": call.CallID}
	var args map[string]any
	if json.Unmarshal([]byte(item.Arguments), &args) == nil {
		data["arguments"] = args
	} else {
		data["arguments_raw"] = item.Arguments
	}
	tr.AddBreadcrumb("function call: "+call.Name, data)

	snapshot := tr.Filtered()
	go engine.Invoke(context.Background(), call, snapshot)
}
