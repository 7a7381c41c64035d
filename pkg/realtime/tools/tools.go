// Package tools defines agent tool declarations, the registry of named
// executable logic, and the invocation engine that runs function calls
// issued by the remote model and delivers their results back over the
// data channel.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/parley-ai/parley/pkg/realtime/transcript"
)

// Definition is a tool declaration as the remote model sees it.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Logic executes a tool call. It receives the call arguments and a
// filtered transcript snapshot, and returns a JSON-serializable result.
// Logic is resolved by name; configuration binds tool names to logic
// names rather than shipping executable source.
type Logic func(ctx context.Context, args map[string]any, items []transcript.Item) (any, error)

// Registry maps logic names to callables. A session's effective logic
// set is the registry's static entries plus whatever bindings the
// session grant supplies.
type Registry struct {
	byName map[string]Logic
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Logic)}
}

// Register binds a logic name. Re-registering a name replaces the
// previous binding.
func (r *Registry) Register(name string, logic Logic) error {
	if r == nil {
		return fmt.Errorf("registry must not be nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("logic name must not be empty")
	}
	if logic == nil {
		return fmt.Errorf("logic for %q must not be nil", name)
	}
	r.byName[name] = logic
	return nil
}

func (r *Registry) Resolve(name string) (Logic, bool) {
	if r == nil {
		return nil, false
	}
	logic, ok := r.byName[strings.TrimSpace(name)]
	return logic, ok
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDefinitions rejects duplicate or empty tool names within one
// agent's tool set.
func ValidateDefinitions(defs []Definition) error {
	seen := make(map[string]struct{}, len(defs))
	for i, def := range defs {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			return fmt.Errorf("tools[%d].name must not be empty", i)
		}
		if _, exists := seen[name]; exists {
			return fmt.Errorf("tools[%d].name %q is duplicated", i, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}
