// Package agents holds the agent configuration model the gateway
// resolves during session negotiation: identity, composed instructions,
// declared tools, and the tool-name→logic-name bindings handed to
// clients.
package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/parley-ai/parley/pkg/realtime/tools"
)

var ErrNotFound = errors.New("agent not found")

// Agent is one configured voice agent.
type Agent struct {
	ID   string
	Name string

	// Instructions are composed from these three layers in order.
	BaseInstructions string
	KnowledgeBase    string
	MetaInstructions string

	Tools []tools.Definition
	// ToolLogic maps declared tool names to registry logic names. Tools
	// without an entry resolve to a logic of the same name on the client.
	ToolLogic map[string]string

	Voice                string
	InitiateConversation bool
}

// ComposedInstructions flattens the instruction layers into the single
// prompt handed to the realtime model. Empty layers are skipped.
func (a Agent) ComposedInstructions() string {
	parts := make([]string, 0, 3)
	for _, layer := range []string{a.BaseInstructions, a.KnowledgeBase, a.MetaInstructions} {
		layer = strings.TrimSpace(layer)
		if layer != "" {
			parts = append(parts, layer)
		}
	}
	return strings.Join(parts, "\n\n")
}

// EffectiveTools is the agent's declared tool set plus the built-in
// hangup tool. Validated for duplicate names.
func (a Agent) EffectiveTools() ([]tools.Definition, error) {
	defs := make([]tools.Definition, 0, len(a.Tools)+1)
	defs = append(defs, a.Tools...)
	hasHangup := false
	for _, def := range a.Tools {
		if def.Name == tools.EndConversationTool {
			hasHangup = true
			break
		}
	}
	if !hasHangup {
		defs = append(defs, tools.EndConversationDefinition())
	}
	if err := tools.ValidateDefinitions(defs); err != nil {
		return nil, fmt.Errorf("agent %q: %w", a.ID, err)
	}
	return defs, nil
}

// Registry resolves agent ids to configurations.
type Registry interface {
	Get(ctx context.Context, id string) (Agent, error)
}

// Static is an in-memory registry, used for seeding and tests.
type Static struct {
	byID map[string]Agent
}

func NewStatic(list ...Agent) *Static {
	s := &Static{byID: make(map[string]Agent, len(list))}
	for _, a := range list {
		s.byID[a.ID] = a
	}
	return s
}

func (s *Static) Get(_ context.Context, id string) (Agent, error) {
	a, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return Agent{}, fmt.Errorf("agent %q: %w", id, ErrNotFound)
	}
	return a, nil
}
