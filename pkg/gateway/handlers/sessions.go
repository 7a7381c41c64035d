package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/parley-ai/parley/pkg/gateway/apierror"
	"github.com/parley-ai/parley/pkg/gateway/store"
	"github.com/parley-ai/parley/pkg/realtime/transcript"
)

// SessionCreateHandler implements POST /v1/sessions for callers that
// provision sessions out of band (the negotiation handler creates rows
// itself).
type SessionCreateHandler struct {
	Store        store.Store
	MaxBodyBytes int64
	Logger       *slog.Logger
}

func (h SessionCreateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		AgentID   string `json:"agent_id"`
	}
	if !decodeBody(w, r, h.MaxBodyBytes, &req) {
		return
	}
	if strings.TrimSpace(req.SessionID) == "" || strings.TrimSpace(req.AgentID) == "" {
		writeError(w, r, &apierror.Error{
			Type:    apierror.TypeInvalidRequest,
			Message: "session_id and agent_id are required",
		})
		return
	}
	if err := h.Store.CreateSession(r.Context(), req.SessionID, req.AgentID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": req.SessionID})
}

// SessionEndHandler implements POST /v1/sessions/{id}/end: the single
// durable transcript flush. Upsert semantics make retries safe.
type SessionEndHandler struct {
	Store        store.Store
	MaxBodyBytes int64
	Logger       *slog.Logger
}

func (h SessionEndHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var req struct {
		TranscriptItems []transcript.Item `json:"transcript_items"`
	}
	if !decodeBody(w, r, h.MaxBodyBytes, &req) {
		return
	}

	if err := h.Store.EndSession(r.Context(), sessionID, req.TranscriptItems); err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			writeError(w, r, &apierror.Error{
				Type:    apierror.TypeNotFound,
				Message: "session " + sessionID + " not found",
			})
			return
		}
		writeError(w, r, err)
		return
	}

	if h.Logger != nil {
		h.Logger.Info("session flushed", "session_id", sessionID, "items", len(req.TranscriptItems))
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "items": len(req.TranscriptItems)})
}

// SessionEventsHandler implements POST /v1/sessions/{id}/events: the
// fire-and-forget audit write. Clients do not retry; this endpoint only
// has to be fast and forgiving.
type SessionEventsHandler struct {
	Store        store.Store
	MaxBodyBytes int64
	Logger       *slog.Logger
}

func (h SessionEventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var req struct {
		Event transcript.LoggedEvent `json:"event"`
	}
	if !decodeBody(w, r, h.MaxBodyBytes, &req) {
		return
	}
	if strings.TrimSpace(req.Event.EventName) == "" {
		writeError(w, r, &apierror.Error{
			Type:    apierror.TypeInvalidRequest,
			Message: "event.event_name is required",
		})
		return
	}

	if err := h.Store.AppendEvent(r.Context(), sessionID, req.Event); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

// HistoryHandler implements GET /v1/sessions/{id}/history.
type HistoryHandler struct {
	Store store.Store
}

func (h HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	sess, items, err := h.Store.History(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			writeError(w, r, &apierror.Error{
				Type:    apierror.TypeNotFound,
				Message: "session " + sessionID + " not found",
			})
			return
		}
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session":          sess,
		"transcript_items": items,
	})
}
