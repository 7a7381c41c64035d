package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/parley-ai/parley/pkg/gateway/agents"
	"github.com/parley-ai/parley/pkg/gateway/apierror"
	"github.com/parley-ai/parley/pkg/gateway/store"
	"github.com/parley-ai/parley/pkg/gateway/upstream"
	"github.com/parley-ai/parley/pkg/realtime/broker"
)

// CredentialMinter is the slice of the upstream package the negotiation
// handler needs.
type CredentialMinter interface {
	Mint(ctx context.Context, req upstream.SessionRequest) (*upstream.Credential, error)
}

// NegotiateHandler implements POST /v1/realtime/sessions: agent id in,
// ephemeral session grant out. Fails closed on every step.
type NegotiateHandler struct {
	Agents agents.Registry
	Minter CredentialMinter
	Store  store.Store
	Model  string
	Logger *slog.Logger
}

func (h NegotiateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	agentID := strings.TrimSpace(r.Header.Get(broker.AgentIDHeader))
	if agentID == "" {
		writeError(w, r, &apierror.Error{
			Type:    apierror.TypeInvalidRequest,
			Message: "missing agent id header",
			Param:   broker.AgentIDHeader,
		})
		return
	}

	agent, err := h.Agents.Get(r.Context(), agentID)
	if err != nil {
		if errors.Is(err, agents.ErrNotFound) {
			writeError(w, r, &apierror.Error{
				Type:    apierror.TypeNotFound,
				Code:    "agent_not_found",
				Message: "agent " + agentID + " not found",
			})
			return
		}
		writeError(w, r, err)
		return
	}

	defs, err := agent.EffectiveTools()
	if err != nil {
		writeError(w, r, &apierror.Error{
			Type:    apierror.TypeInvalidRequest,
			Message: err.Error(),
		})
		return
	}

	cred, err := h.Minter.Mint(r.Context(), upstream.SessionRequest{
		Model:        h.Model,
		Instructions: agent.ComposedInstructions(),
		Voice:        agent.Voice,
		Tools:        defs,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	sessionID := "sess_" + uuid.NewString()

	// The session row exists before the client touches the transport, so
	// even a connect attempt that dies mid-handshake is accounted for.
	if h.Store != nil {
		if err := h.Store.CreateSession(r.Context(), sessionID, agent.ID); err != nil {
			writeError(w, r, err)
			return
		}
	}

	if h.Logger != nil {
		h.Logger.Info("session negotiated", "agent_id", agent.ID, "session_id", sessionID)
	}

	writeJSON(w, http.StatusOK, broker.SessionGrant{
		ClientSecret:         cred.ClientSecret,
		SessionID:            sessionID,
		ServerURL:            cred.ServerURL,
		ChannelName:          "oai-events",
		ToolLogic:            agent.ToolLogic,
		InitiateConversation: agent.InitiateConversation,
	})
}
