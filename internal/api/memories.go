package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/nidhogg/cinechat/internal/memory"
	"go.uber.org/zap"
)

func (h *Handler) recentMemories(w http.ResponseWriter, r *http.Request) {
	if h.deps.Memories == nil {
		writeError(w, http.StatusServiceUnavailable, "memory store not configured")
		return
	}
	recs, err := h.deps.Memories.Recent(r.Context(), queryInt(r, "limit", 10))
	if err != nil {
		h.logger.Error("recent memories", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "memory store error")
		return
	}
	total, err := h.deps.Memories.Count(r.Context())
	if err != nil {
		h.logger.Error("count memories", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "memory store error")
		return
	}
	if recs == nil {
		recs = []memory.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"total": total, "memories": recs})
}

func (h *Handler) searchMemories(w http.ResponseWriter, r *http.Request) {
	if h.deps.Memories == nil {
		writeError(w, http.StatusServiceUnavailable, "memory store not configured")
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	minImportance := 0.0
	if v := r.URL.Query().Get("min_importance"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			writeError(w, http.StatusBadRequest, "min_importance must be between 0 and 1")
			return
		}
		minImportance = f
	}
	recs, err := h.deps.Memories.Search(r.Context(), q, queryInt(r, "top_k", 5), minImportance)
	if err != nil {
		h.logger.Error("search memories", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "memory store error")
		return
	}
	if recs == nil {
		recs = []memory.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"query": q, "count": len(recs), "memories": recs})
}

func (h *Handler) clearMemories(w http.ResponseWriter, r *http.Request) {
	if h.deps.Memories == nil {
		writeError(w, http.StatusServiceUnavailable, "memory store not configured")
		return
	}
	if err := h.deps.Memories.Clear(r.Context()); err != nil {
		h.logger.Error("clear memories", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "memory store error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (h *Handler) index(w http.ResponseWriter, r *http.Request) {
	if h.deps.Indexer == nil || h.deps.DocumentsDir == "" {
		writeError(w, http.StatusServiceUnavailable, "indexer not configured")
		return
	}
	var req struct {
		Ext   string `json:"ext"`
		Reset bool   `json:"reset"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	ext := h.deps.DocumentsExt
	switch strings.ToLower(req.Ext) {
	case "":
	case ".txt", "txt":
		ext = ".txt"
	case ".pdf", "pdf":
		ext = ".pdf"
	default:
		writeError(w, http.StatusBadRequest, "ext must be .txt or .pdf")
		return
	}

	rep, err := h.deps.Indexer.Run(r.Context(), h.deps.DocumentsDir, ext, req.Reset)
	if err != nil {
		h.logger.Error("index documents", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "indexing failed")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
