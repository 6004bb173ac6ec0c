package ingest

import (
	"context"
	"fmt"

	"github.com/nidhogg/cinechat/internal/rag"
	"go.uber.org/zap"
)

// ChunkIndex is the part of the retriever the pipeline writes to.
type ChunkIndex interface {
	Index(ctx context.Context, chunks []rag.Chunk) error
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

// Report describes one indexing run.
type Report struct {
	Dir     string `json:"dir"`
	Ext     string `json:"ext"`
	Chunks  int    `json:"chunks"`
	Total   int    `json:"total"`
	Skipped bool   `json:"skipped,omitempty"`
	Message string `json:"message"`
}

// Pipeline loads a directory and indexes its chunks.
type Pipeline struct {
	loader *Loader
	index  ChunkIndex
	logger *zap.Logger
}

func NewPipeline(loader *Loader, index ChunkIndex, logger *zap.Logger) *Pipeline {
	return &Pipeline{loader: loader, index: index, logger: logger}
}

// Run indexes dir. A populated corpus is left alone unless reset is set,
// in which case it is cleared first.
func (p *Pipeline) Run(ctx context.Context, dir, ext string, reset bool) (*Report, error) {
	rep := &Report{Dir: dir, Ext: ext}

	if reset {
		if err := p.index.Clear(ctx); err != nil {
			return nil, fmt.Errorf("clear corpus: %w", err)
		}
	} else {
		n, err := p.index.Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("count corpus: %w", err)
		}
		if n > 0 {
			rep.Total, rep.Skipped = n, true
			rep.Message = fmt.Sprintf("corpus already holds %d chunks; pass reset to rebuild", n)
			return rep, nil
		}
	}

	chunks, err := p.loader.LoadAndChunk(ctx, dir, ext)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		rep.Message = fmt.Sprintf("no %s documents found in %s", ext, dir)
		return rep, nil
	}
	if err := p.index.Index(ctx, chunks); err != nil {
		return nil, fmt.Errorf("index chunks: %w", err)
	}

	total, err := p.index.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count corpus: %w", err)
	}
	rep.Chunks, rep.Total = len(chunks), total
	rep.Message = fmt.Sprintf("indexed %d chunks", len(chunks))
	p.logger.Info("corpus indexed", zap.String("dir", dir), zap.Int("chunks", len(chunks)), zap.Int("total", total))
	return rep, nil
}
