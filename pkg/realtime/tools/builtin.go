package tools

import (
	"context"
	"strings"

	"github.com/parley-ai/parley/pkg/realtime/transcript"
)

// EndConversationDefinition declares the hangup tool offered to every
// agent.
func EndConversationDefinition() Definition {
	return Definition{
		Name:        EndConversationTool,
		Description: "End the current call. Use when the task is complete or the caller asks to hang up.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"rationale_for_hangup": map[string]any{
					"type":        "string",
					"description": "Why the call is ending.",
				},
				"conversation_summary": map[string]any{
					"type":        "string",
					"description": "One-paragraph summary of the conversation.",
				},
			},
			"required": []string{"rationale_for_hangup"},
		},
	}
}

// RegisterBuiltins installs the always-available logic set.
func RegisterBuiltins(r *Registry) error {
	if err := r.Register(EndConversationTool, endConversationLogic); err != nil {
		return err
	}
	return r.Register("transcript_summary", transcriptSummaryLogic)
}

func endConversationLogic(_ context.Context, args map[string]any, _ []transcript.Item) (any, error) {
	out := map[string]any{"acknowledged": true}
	if rationale, ok := args["rationale_for_hangup"].(string); ok && rationale != "" {
		out["rationale_for_hangup"] = rationale
	}
	if summary, ok := args["conversation_summary"].(string); ok && summary != "" {
		out["conversation_summary"] = summary
	}
	return out, nil
}

// transcriptSummaryLogic gives late-bound agents a cheap way to inspect
// the conversation so far without model round trips.
func transcriptSummaryLogic(_ context.Context, _ map[string]any, items []transcript.Item) (any, error) {
	var b strings.Builder
	count := 0
	for _, item := range items {
		if item.Kind != transcript.KindMessage {
			continue
		}
		if count > 0 {
			b.WriteString("\n")
		}
		b.WriteString(item.Role)
		b.WriteString(": ")
		b.WriteString(item.Text)
		count++
	}
	return map[string]any{"messages": count, "text": b.String()}, nil
}
