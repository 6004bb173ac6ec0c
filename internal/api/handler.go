package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/cinechat/internal/agent"
	"github.com/nidhogg/cinechat/internal/ingest"
	"github.com/nidhogg/cinechat/internal/memory"
	"github.com/nidhogg/cinechat/internal/metrics"
	"github.com/nidhogg/cinechat/internal/provider"
	"github.com/nidhogg/cinechat/internal/store"
	"go.uber.org/zap"
)

// Responder runs one agent turn. *agent.Engine satisfies it.
type Responder interface {
	Turn(ctx context.Context, userMessage string, history []provider.Message) (*agent.State, error)
}

// SessionStore persists sessions and their messages. *store.Store satisfies it.
type SessionStore interface {
	CreateSession(ctx context.Context, title string) (*store.Session, error)
	GetSession(ctx context.Context, id string) (*store.Session, error)
	ListSessions(ctx context.Context, limit int) ([]*store.Session, error)
	DeleteSession(ctx context.Context, id string) error
	AppendMessages(ctx context.Context, sessionID string, msgs ...provider.Message) error
	GetMessages(ctx context.Context, sessionID string, limit int) ([]provider.Message, error)
	RecordTurn(ctx context.Context, t store.TurnRecord) error
}

// MemoryAdmin exposes the long-term memory store. *memory.Store satisfies it.
type MemoryAdmin interface {
	Search(ctx context.Context, query string, topK int, minImportance float64) ([]memory.Record, error)
	Recent(ctx context.Context, limit int) ([]memory.Record, error)
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

// Indexer rebuilds the chunk corpus. *ingest.Pipeline satisfies it.
type Indexer interface {
	Run(ctx context.Context, dir, ext string, reset bool) (*ingest.Report, error)
}

// CorpusCounter reports how many chunks are indexed.
type CorpusCounter interface {
	Count(ctx context.Context) (int, error)
}

// Deps are the handler's collaborators. Only Engine is required.
type Deps struct {
	Engine     Responder
	Sessions   SessionStore
	Memories   MemoryAdmin
	Indexer    Indexer
	Corpus     CorpusCounter
	Metrics    *metrics.Metrics
	MaxHistory int
	// DocumentsDir is the only directory POST /api/index may read.
	DocumentsDir string
	DocumentsExt string
}

// Options configures cross-cutting middleware.
type Options struct {
	CORSOrigins       []string
	RequestsPerSecond float64
	Burst             int
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	deps   Deps
	opts   Options
	logger *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, opts Options, logger *zap.Logger) *Handler {
	if deps.MaxHistory <= 0 {
		deps.MaxHistory = 20
	}
	if deps.DocumentsExt == "" {
		deps.DocumentsExt = ".pdf"
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	return &Handler{deps: deps, opts: opts, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.opts.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))
	r.Use(h.observe)

	if h.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.deps.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Group(func(r chi.Router) {
			if h.opts.RequestsPerSecond > 0 {
				r.Use(RateLimit(NewRateLimiter(h.opts.RequestsPerSecond, h.opts.Burst)))
			}
			r.Post("/chat", h.chat)

			r.Post("/sessions", h.createSession)
			r.Get("/sessions", h.listSessions)
			r.Get("/sessions/{id}", h.getSession)
			r.Delete("/sessions/{id}", h.deleteSession)
			r.Get("/sessions/{id}/messages", h.listMessages)
			r.Post("/sessions/{id}/chat", h.chatInSession)

			r.Get("/memories", h.recentMemories)
			r.Get("/memories/search", h.searchMemories)
			r.Delete("/memories", h.clearMemories)

			r.Post("/index", h.index)
		})
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{"status": "ok", "service": "cinechat"}
	if h.deps.Corpus != nil {
		if n, err := h.deps.Corpus.Count(r.Context()); err == nil {
			body["documents"] = n
		} else {
			body["documents_error"] = "vector store unavailable"
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
