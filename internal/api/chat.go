package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nidhogg/cinechat/internal/agent"
	"github.com/nidhogg/cinechat/internal/provider"
	"github.com/nidhogg/cinechat/internal/rag"
	"github.com/nidhogg/cinechat/internal/seen"
	"github.com/nidhogg/cinechat/internal/store"
	"go.uber.org/zap"
)

type chatRequest struct {
	Message   string        `json:"message"`
	History   []interface{} `json:"history,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
}

type chatResponse struct {
	Answer            string        `json:"answer"`
	SessionID         string        `json:"session_id,omitempty"`
	ToolUsed          bool          `json:"tool_used"`
	Iterations        int           `json:"iterations"`
	SavedMemoryID     string        `json:"saved_memory_id,omitempty"`
	RetrievedContexts []rag.Context `json:"retrieved_contexts"`
	Trace             *agent.Trace  `json:"trace,omitempty"`
}

func newChatResponse(st *agent.State, sessionID string) chatResponse {
	ctxs := st.RetrievedContexts
	if ctxs == nil {
		ctxs = []rag.Context{}
	}
	return chatResponse{
		Answer:            st.Answer(),
		SessionID:         sessionID,
		ToolUsed:          st.ToolUsed,
		Iterations:        st.Iterations,
		SavedMemoryID:     st.SavedMemoryID,
		RetrievedContexts: ctxs,
		Trace:             st.Trace,
	}
}

// chat answers a stateless message; the caller supplies prior history.
func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	ctx := r.Context()
	if req.SessionID != "" {
		ctx = seen.WithSession(ctx, req.SessionID)
	}
	st, err := h.deps.Engine.Turn(ctx, req.Message, agent.ParseHistory(req.History))
	if err != nil {
		h.writeTurnError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newChatResponse(st, req.SessionID))
}

// chatInSession loads history from the session store and appends the new exchange.
func (h *Handler) chatInSession(w http.ResponseWriter, r *http.Request) {
	if h.deps.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "session store not configured")
		return
	}
	id := chi.URLParam(r, "id")
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	ctx := r.Context()
	if _, err := h.deps.Sessions.GetSession(ctx, id); err != nil {
		h.writeStoreError(w, err)
		return
	}
	history, err := h.deps.Sessions.GetMessages(ctx, id, h.deps.MaxHistory)
	if err != nil {
		h.logger.Error("load history", zap.String("session", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	st, err := h.deps.Engine.Turn(seen.WithSession(ctx, id), req.Message, history)
	if err != nil {
		h.writeTurnError(w, err)
		return
	}

	// The exchange is persisted even if the client has gone away.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := h.deps.Sessions.AppendMessages(persistCtx, id,
		provider.Message{Role: provider.RoleUser, Content: req.Message},
		provider.Message{Role: provider.RoleAssistant, Content: st.Answer()},
	); err != nil {
		h.logger.Error("append messages", zap.String("session", id), zap.Error(err))
	}
	if err := h.deps.Sessions.RecordTurn(persistCtx, store.TurnRecord{
		SessionID:     id,
		TraceID:       st.Trace.ID,
		Iterations:    st.Iterations,
		ToolUsed:      st.ToolUsed,
		SavedMemoryID: st.SavedMemoryID,
		Duration:      st.Trace.Duration,
	}); err != nil {
		h.logger.Warn("record turn", zap.String("session", id), zap.Error(err))
	}

	writeJSON(w, http.StatusOK, newChatResponse(st, id))
}

func (h *Handler) writeTurnError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "request cancelled")
	case errors.Is(err, provider.ErrNoProvider):
		h.logger.Error("turn failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "no language model configured")
	case agent.IsReasoningError(err):
		h.logger.Error("turn failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "language model request failed")
	default:
		h.logger.Error("turn failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
