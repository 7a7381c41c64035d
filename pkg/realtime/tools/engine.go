package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/parley-ai/parley/pkg/realtime/events"
	"github.com/parley-ai/parley/pkg/realtime/transcript"
)

// EndConversationTool is always available to the remote model; invoking
// it is the canonical hangup signal.
const EndConversationTool = "end_conversation"

// Call is one function call issued by the remote model.
type Call struct {
	CallID    string
	Name      string
	Arguments string
}

// Result is the structured payload returned for every call, success or
// failure.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Sender delivers a client event over the data channel. The suffix feeds
// the audit log's derived event name.
type Sender func(event any, suffix string) error

// Engine resolves and executes tool calls. Each call produces exactly one
// function_call_output event correlated by call id; execution failures
// and panics are converted to structured failure payloads and never
// propagate to the dispatcher.
type Engine struct {
	registry *Registry
	bindings map[string]string

	send          Sender
	chainResponse bool
	onHangup      func()
	onResult      func(Call, Result)
	logger        *slog.Logger
}

type EngineConfig struct {
	// Registry holds the statically declared logic.
	Registry *Registry
	// Bindings maps tool names to registry logic names; supplied with the
	// session grant and discarded on disconnect. A tool name absent here
	// falls back to a registry entry of the same name.
	Bindings map[string]string
	// Send delivers the result event. Required.
	Send Sender
	// ChainResponse emits a response.create after each tool result so the
	// model continues speaking.
	ChainResponse bool
	// OnHangup runs after the end_conversation result has been sent.
	OnHangup func()
	// OnResult observes every computed result (breadcrumbs, metrics).
	OnResult func(Call, Result)
	Logger   *slog.Logger
}

func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		registry:      cfg.Registry,
		bindings:      cfg.Bindings,
		send:          cfg.Send,
		chainResponse: cfg.ChainResponse,
		onHangup:      cfg.OnHangup,
		onResult:      cfg.OnResult,
		logger:        logger,
	}
}

// resolve distinguishes "tool unknown" from "tool declared but logic
// missing": both yield a failure result, with different messages.
func (e *Engine) resolve(name string) (Logic, string) {
	logicName := name
	if bound, ok := e.bindings[name]; ok {
		logicName = bound
	}
	logic, ok := e.registry.Resolve(logicName)
	if ok {
		return logic, ""
	}
	if logicName != name {
		return nil, fmt.Sprintf("tool %q is declared but its logic %q is not registered", name, logicName)
	}
	return nil, "tool not found"
}

// Invoke executes one call and sends its result. Safe to run on its own
// goroutine; the dispatcher does not wait for it.
func (e *Engine) Invoke(ctx context.Context, call Call, items []transcript.Item) {
	if e == nil {
		return
	}
	name := strings.TrimSpace(call.Name)

	result := e.execute(ctx, name, call, items)
	if e.onResult != nil {
		e.onResult(call, result)
	}

	payload, err := json.Marshal(result)
	if err != nil {
		payload = []byte(`{"success":false,"message":"result not serializable"}`)
	}
	if err := e.send(events.NewFunctionCallOutput(call.CallID, string(payload)), name); err != nil {
		e.logger.Error("tool result send failed", "tool", name, "call_id", call.CallID, "error", err)
	}

	if name == EndConversationTool {
		// Result first, then teardown: the model sees the output before
		// the channel goes away.
		if e.onHangup != nil {
			e.onHangup()
		}
		return
	}

	if e.chainResponse {
		if err := e.send(events.NewResponseCreate(), "after "+name); err != nil {
			e.logger.Error("response trigger send failed", "tool", name, "error", err)
		}
	}
}

func (e *Engine) execute(ctx context.Context, name string, call Call, items []transcript.Item) (result Result) {
	defer func() {
		if v := recover(); v != nil {
			e.logger.Error("tool logic panicked", "tool", name, "panic", v)
			result = Result{Success: false, Message: fmt.Sprintf("tool %q failed: %v", name, v)}
		}
	}()

	logic, failure := e.resolve(name)
	if logic == nil {
		e.logger.Warn("tool resolution failed", "tool", name, "reason", failure)
		return Result{Success: false, Message: failure}
	}

	args := map[string]any{}
	if raw := strings.TrimSpace(call.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return Result{Success: false, Message: fmt.Sprintf("invalid arguments for %q: %v", name, err)}
		}
	}

	out, err := logic(ctx, args, items)
	if err != nil {
		return Result{Success: false, Message: err.Error()}
	}
	return Result{Success: true, Data: out}
}
