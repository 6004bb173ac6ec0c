package memory

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nidhogg/cinechat/internal/embedding"
	"github.com/nidhogg/cinechat/internal/vectorstore"
	"go.uber.org/zap"
)

// CollMemories holds long-term conversation memories.
const CollMemories = "conversation_memories"

// timestampLayout keeps a fixed width so timestamps sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000000Z07:00"

const defaultDimension = 1536

// Context records what the assistant did during the remembered turn.
type Context struct {
	ToolUsed               bool `json:"tool_used"`
	RAGUsed                bool `json:"rag_used"`
	RetrievedContextsCount int  `json:"retrieved_contexts_count"`
}

// Record is one remembered conversational turn. Records are immutable once written.
type Record struct {
	ID                string  `json:"id"`
	UserQuery         string  `json:"user_query"`
	AssistantResponse string  `json:"assistant_response"`
	Timestamp         string  `json:"timestamp"`
	Importance        float64 `json:"importance"`
	Context           Context `json:"context"`
	Text              string  `json:"text"`
	Distance          float64 `json:"distance,omitempty"`
}

// StorageError reports an embedding or persistence failure in the memory store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("memory %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Store is the long-term memory store backed by a vector index.
// One instance is constructed at startup and shared across sessions.
type Store struct {
	embedder   embedding.Provider
	index      vectorstore.Index
	collection string
	dimension  int
	now        func() time.Time
	logger     *zap.Logger
}

// NewStore creates a memory store over the given index and collection.
func NewStore(embedder embedding.Provider, index vectorstore.Index, collection string, logger *zap.Logger) *Store {
	if collection == "" {
		collection = CollMemories
	}
	return &Store{
		embedder:   embedder,
		index:      index,
		collection: collection,
		dimension:  defaultDimension,
		now:        time.Now,
		logger:     logger,
	}
}

// Init ensures the memory collection exists.
func (s *Store) Init(ctx context.Context) error {
	dim := s.dimension
	if d := s.embedder.Dimension(); d > 0 {
		dim = d
	}
	if err := s.index.EnsureCollection(ctx, s.collection, uint64(dim)); err != nil {
		return &StorageError{Op: "init", Err: err}
	}
	return nil
}

// Save embeds and persists one turn, returning the new memory ID.
func (s *Store) Save(ctx context.Context, userQuery, assistantResponse string, mctx Context, importance float64) (string, error) {
	ctxJSON, err := json.Marshal(mctx)
	if err != nil {
		return "", &StorageError{Op: "save", Err: err}
	}
	text := fmt.Sprintf("User: %s\nAssistant: %s\nContext: %s", userQuery, assistantResponse, ctxJSON)

	vec, err := embedding.EmbedOne(ctx, s.embedder, text)
	if err != nil {
		return "", &StorageError{Op: "embed", Err: err}
	}

	ts := s.now().UTC().Format(timestampLayout)
	id := newMemoryID(ts, text)
	err = s.index.Upsert(ctx, s.collection, []vectorstore.Point{{
		ID:     id,
		Vector: vec,
		Payload: map[string]interface{}{
			"memory_id":          id,
			"user_query":         userQuery,
			"assistant_response": assistantResponse,
			"timestamp":          ts,
			"importance":         importance,
			"context":            string(ctxJSON),
			"text":               text,
		},
	}})
	if err != nil {
		return "", &StorageError{Op: "save", Err: err}
	}

	s.logger.Info("saved memory", zap.String("id", id), zap.Float64("importance", importance))
	return id, nil
}

func newMemoryID(ts, text string) string {
	sum := md5.Sum([]byte(text))
	safe := strings.NewReplacer(":", "-", ".", "-", "+", "-").Replace(ts)
	return "memory_" + safe + "_" + hex.EncodeToString(sum[:])[:8]
}

// Search returns up to topK memories nearest to query, most similar first.
// With minImportance > 0 it overfetches 2*topK and filters, so fewer than
// topK records may come back.
func (s *Store) Search(ctx context.Context, query string, topK int, minImportance float64) ([]Record, error) {
	if topK <= 0 {
		return nil, nil
	}
	vec, err := embedding.EmbedOne(ctx, s.embedder, query)
	if err != nil {
		return nil, &StorageError{Op: "embed", Err: err}
	}
	fetch := topK
	if minImportance > 0 {
		fetch = topK * 2
	}
	results, err := s.index.Search(ctx, s.collection, vec, uint64(fetch))
	if err != nil {
		return nil, &StorageError{Op: "search", Err: err}
	}

	records := make([]Record, 0, topK)
	for _, r := range results {
		rec := recordFrom(r)
		if rec.Importance < minImportance {
			continue
		}
		rec.Distance = r.Distance()
		records = append(records, rec)
		if len(records) >= topK {
			break
		}
	}
	return records, nil
}

// Recent returns up to limit memories, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	results, err := s.index.Scroll(ctx, s.collection)
	if err != nil {
		return nil, &StorageError{Op: "recent", Err: err}
	}
	records := make([]Record, 0, len(results))
	for _, r := range results {
		records = append(records, recordFrom(r))
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp > records[j].Timestamp
	})
	if limit >= 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Count returns the number of stored memories.
func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.index.Count(ctx, s.collection)
	if err != nil {
		return 0, &StorageError{Op: "count", Err: err}
	}
	return int(n), nil
}

// Clear removes every memory and recreates the empty collection.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.index.DropCollection(ctx, s.collection); err != nil {
		return &StorageError{Op: "clear", Err: err}
	}
	s.logger.Info("all memories cleared")
	return s.Init(ctx)
}

func recordFrom(r *vectorstore.SearchResult) Record {
	rec := Record{
		ID:                r.ID,
		UserQuery:         r.String("user_query"),
		AssistantResponse: r.String("assistant_response"),
		Timestamp:         r.String("timestamp"),
		Importance:        toFloat(r.Payload["importance"]),
		Text:              r.String("text"),
	}
	if raw := r.String("context"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &rec.Context)
	}
	return rec
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}
