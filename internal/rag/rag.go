package rag

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/nidhogg/cinechat/internal/embedding"
	"github.com/nidhogg/cinechat/internal/vectorstore"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// CollMovies holds the ingested movie document chunks.
	CollMovies = "movies"

	defaultDimension   = 1536
	defaultConcurrency = 4

	payloadText = "text"
)

// Chunk is a unit of ingested text with its metadata. Metadata carries at
// least "source" and "chunk_id"; movie documents add "type": "movie".
type Chunk struct {
	ID       string                 `json:"id"`
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata"`
}

// Hit is a single retrieval result. Smaller Distance means closer.
type Hit struct {
	ID       string                 `json:"id"`
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata"`
	Distance float64                `json:"distance"`
}

// Source returns the hit's source path, or "unknown".
func (h Hit) Source() string {
	if s, ok := h.Metadata["source"].(string); ok && s != "" {
		return s
	}
	return "unknown"
}

// ChunkID returns the hit's chunk id rendered as a string, or "?".
func (h Hit) ChunkID() string {
	v, ok := h.Metadata["chunk_id"]
	if !ok || v == nil {
		return "?"
	}
	switch n := v.(type) {
	case float64:
		return fmt.Sprintf("%d", int64(n))
	default:
		return fmt.Sprint(n)
	}
}

// Context is the condensed form of a Hit handed to the reasoning model.
type Context struct {
	Source   string  `json:"source"`
	ChunkID  string  `json:"chunk_id"`
	Text     string  `json:"text"`
	Distance float64 `json:"distance"`
}

// ContextResult bundles retrieved contexts with their rendered prompt text.
type ContextResult struct {
	Query       string    `json:"query"`
	Contexts    []Context `json:"contexts"`
	ContextText string    `json:"context_text"`
	Count       int       `json:"count"`
	Sources     []string  `json:"sources"`
}

// Options configures a Retriever.
type Options struct {
	Collection  string
	Dimension   int
	BatchSize   int
	Concurrency int
}

// Retriever indexes chunks and answers similarity queries over them.
type Retriever struct {
	embedder embedding.Provider
	index    vectorstore.Index
	opts     Options
	logger   *zap.Logger
}

// NewRetriever creates a Retriever over the given vector index.
func NewRetriever(embedder embedding.Provider, index vectorstore.Index, opts Options, logger *zap.Logger) *Retriever {
	if opts.Collection == "" {
		opts.Collection = CollMovies
	}
	if opts.BatchSize <= 0 || opts.BatchSize > embedding.MaxBatchSize {
		opts.BatchSize = embedding.MaxBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	return &Retriever{embedder: embedder, index: index, opts: opts, logger: logger}
}

// Init ensures the chunk collection exists.
func (r *Retriever) Init(ctx context.Context) error {
	return r.index.EnsureCollection(ctx, r.opts.Collection, r.dimension())
}

func (r *Retriever) dimension() uint64 {
	if d := r.embedder.Dimension(); d > 0 {
		return uint64(d)
	}
	if r.opts.Dimension > 0 {
		return uint64(r.opts.Dimension)
	}
	return defaultDimension
}

// Index embeds chunks in batches and upserts them into the collection.
// Batches are embedded concurrently; a failing batch cancels the rest.
func (r *Retriever) Index(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		r.logger.Warn("no chunks to index")
		return nil
	}

	size := r.opts.BatchSize
	nbatches := (len(chunks) + size - 1) / size
	vectors := make([][][]float32, nbatches)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for b := 0; b < nbatches; b++ {
		start, end := b*size, min((b+1)*size, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}
		g.Go(func() error {
			vecs, err := r.embedder.Embed(gctx, texts)
			if err != nil {
				return fmt.Errorf("embed batch %d-%d: %w", start, end-1, err)
			}
			if len(vecs) != len(texts) {
				return fmt.Errorf("embed batch %d-%d: got %d vectors", start, end-1, len(vecs))
			}
			vectors[b] = vecs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := r.index.EnsureCollection(ctx, r.opts.Collection, uint64(len(vectors[0][0]))); err != nil {
		return err
	}
	for b, vecs := range vectors {
		start := b * size
		points := make([]vectorstore.Point, len(vecs))
		for i, vec := range vecs {
			c := chunks[start+i]
			payload := make(map[string]interface{}, len(c.Metadata)+1)
			for k, v := range c.Metadata {
				payload[k] = v
			}
			payload[payloadText] = c.Text
			points[i] = vectorstore.Point{ID: c.ID, Vector: vec, Payload: payload}
		}
		if err := r.index.Upsert(ctx, r.opts.Collection, points); err != nil {
			return err
		}
		r.logger.Info("indexed batch",
			zap.Int("start", start), zap.Int("size", len(points)))
	}
	return nil
}

// Retrieve returns the topK chunks closest to query, nearest first.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]Hit, error) {
	if topK <= 0 {
		return nil, nil
	}
	vec, err := embedding.EmbedOne(ctx, r.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := r.index.Search(ctx, r.opts.Collection, vec, uint64(topK))
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(results))
	for _, res := range results {
		meta := make(map[string]interface{}, len(res.Payload))
		for k, v := range res.Payload {
			if k != payloadText {
				meta[k] = v
			}
		}
		hits = append(hits, Hit{
			ID:       res.ID,
			Text:     res.String(payloadText),
			Metadata: meta,
			Distance: res.Distance(),
		})
	}
	return hits, nil
}

// RetrieveWithContext retrieves and renders the hits for prompt injection.
func (r *Retriever) RetrieveWithContext(ctx context.Context, query string, topK int) (*ContextResult, error) {
	hits, err := r.Retrieve(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	return BuildContext(query, hits), nil
}

// Sources re-runs retrieval and returns "basename:chunkId" labels.
func (r *Retriever) Sources(ctx context.Context, query string, topK int) ([]string, error) {
	res, err := r.RetrieveWithContext(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	return res.Sources, nil
}

// Count returns the number of indexed chunks.
func (r *Retriever) Count(ctx context.Context) (int, error) {
	n, err := r.index.Count(ctx, r.opts.Collection)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Clear removes every chunk and recreates the empty collection.
func (r *Retriever) Clear(ctx context.Context) error {
	if err := r.index.DropCollection(ctx, r.opts.Collection); err != nil {
		return err
	}
	r.logger.Info("chunk collection cleared", zap.String("collection", r.opts.Collection))
	return r.Init(ctx)
}

// BuildContext renders hits as numbered context blocks.
func BuildContext(query string, hits []Hit) *ContextResult {
	res := &ContextResult{
		Query:    query,
		Contexts: make([]Context, 0, len(hits)),
		Sources:  make([]string, 0, len(hits)),
	}
	blocks := make([]string, 0, len(hits))
	for i, h := range hits {
		source, chunkID := h.Source(), h.ChunkID()
		res.Contexts = append(res.Contexts, Context{
			Source:   source,
			ChunkID:  chunkID,
			Text:     h.Text,
			Distance: h.Distance,
		})
		name := baseName(source)
		blocks = append(blocks, fmt.Sprintf("[%d] SOURCE=%s | CHUNK=%s\n%s", i+1, name, chunkID, h.Text))
		res.Sources = append(res.Sources, name+":"+chunkID)
	}
	res.ContextText = strings.Join(blocks, "\n\n")
	res.Count = len(res.Contexts)
	return res
}

func baseName(source string) string {
	if source == "unknown" {
		return source
	}
	return filepath.Base(source)
}
