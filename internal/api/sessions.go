package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/nidhogg/cinechat/internal/provider"
	"github.com/nidhogg/cinechat/internal/store"
	"go.uber.org/zap"
)

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	if h.deps.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "session store not configured")
		return
	}
	var req struct {
		Title string `json:"title"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	sess, err := h.deps.Sessions.CreateSession(r.Context(), req.Title)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	if h.deps.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "session store not configured")
		return
	}
	sessions, err := h.deps.Sessions.ListSessions(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*store.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	if h.deps.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "session store not configured")
		return
	}
	sess, err := h.deps.Sessions.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	if h.deps.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "session store not configured")
		return
	}
	if err := h.deps.Sessions.DeleteSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	if h.deps.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "session store not configured")
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := h.deps.Sessions.GetSession(r.Context(), id); err != nil {
		h.writeStoreError(w, err)
		return
	}
	msgs, err := h.deps.Sessions.GetMessages(r.Context(), id, queryInt(r, "limit", 100))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if msgs == nil {
		msgs = []provider.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	h.logger.Error("session store", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "session store error")
}

// queryInt reads a positive integer query parameter.
func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
