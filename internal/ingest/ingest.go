// Package ingest loads movie documents from disk and cuts them into chunks
// ready for the retriever.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/nidhogg/cinechat/internal/rag"
	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
	"go.uber.org/zap"
)

const (
	DefaultChunkSize    = 700
	DefaultChunkOverlap = 120
)

var separators = []string{"\n\n", ". ", "! ", "? ", "\n", " "}

// movieMarker starts a new movie inside a catalogue document.
var movieMarker = regexp.MustCompile(`(\d+)번째 영화`)

// Loader reads documents and chunks them.
type Loader struct {
	splitter textsplitter.TextSplitter
	logger   *zap.Logger
}

// NewLoader creates a loader. Non-positive sizes fall back to the defaults.
func NewLoader(chunkSize, chunkOverlap int, logger *zap.Logger) *Loader {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = DefaultChunkOverlap
	}
	return &Loader{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
			textsplitter.WithSeparators(separators),
		),
		logger: logger,
	}
}

// LoadAndChunk chunks every file in dir with the given extension (".txt" or
// ".pdf"). Files that fail to load are logged and skipped.
func (l *Loader) LoadAndChunk(ctx context.Context, dir, ext string) ([]rag.Chunk, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read document dir %s: %w", dir, err)
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	var all []rag.Chunk
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ext) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(dir, e.Name())
		text, err := l.load(ctx, path, ext)
		if err != nil {
			l.logger.Warn("skip document", zap.String("path", path), zap.Error(err))
			continue
		}
		chunks, err := l.Chunk(text, path)
		if err != nil {
			l.logger.Warn("skip document", zap.String("path", path), zap.Error(err))
			continue
		}
		l.logger.Info("document loaded", zap.String("file", e.Name()), zap.Int("chunks", len(chunks)))
		all = append(all, chunks...)
	}
	return all, nil
}

func (l *Loader) load(ctx context.Context, path, ext string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var docs []schema.Document
	if strings.EqualFold(ext, ".pdf") {
		info, err := f.Stat()
		if err != nil {
			return "", err
		}
		docs, err = documentloaders.NewPDF(f, info.Size()).Load(ctx)
		if err != nil {
			return "", fmt.Errorf("parse pdf: %w", err)
		}
	} else {
		docs, err = documentloaders.NewText(f).Load(ctx)
		if err != nil {
			return "", err
		}
	}

	var sb strings.Builder
	for _, d := range docs {
		sb.WriteString(d.PageContent)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// Chunk cuts one document. Catalogues with "N번째 영화" markers become one
// chunk per movie; anything else goes through the recursive splitter.
func (l *Loader) Chunk(text, source string) ([]rag.Chunk, error) {
	if movieMarker.MatchString(text) {
		return l.chunkMovies(text, source), nil
	}
	pieces, err := l.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("split text: %w", err)
	}
	base := filepath.Base(source)
	chunks := make([]rag.Chunk, 0, len(pieces))
	for i, p := range pieces {
		chunks = append(chunks, rag.Chunk{
			ID:   fmt.Sprintf("%s::chunk_%d", base, i),
			Text: p,
			Metadata: map[string]interface{}{
				"source":   source,
				"chunk_id": i,
			},
		})
	}
	return chunks, nil
}

// chunkMovies emits the text between consecutive markers. A repeated marker
// number gets an occurrence suffix so both chunks survive. Text before the
// first marker is dropped.
func (l *Loader) chunkMovies(text, source string) []rag.Chunk {
	base := filepath.Base(source)
	counts := make(map[int]int)
	locs := movieMarker.FindAllStringSubmatchIndex(text, -1)
	var chunks []rag.Chunk
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := strings.TrimSpace(text[loc[1]:end])
		if body == "" {
			continue
		}
		n, err := strconv.Atoi(text[loc[2]:loc[3]])
		if err != nil {
			continue
		}
		id := fmt.Sprintf("%s::movie_%d", base, n)
		if counts[n]++; counts[n] > 1 {
			id = fmt.Sprintf("%s_%d", id, counts[n])
			l.logger.Warn("duplicate movie marker",
				zap.String("source", source), zap.Int("marker", n), zap.String("id", id))
		}
		chunks = append(chunks, rag.Chunk{
			ID:   id,
			Text: body,
			Metadata: map[string]interface{}{
				"source":   source,
				"chunk_id": n,
				"type":     "movie",
			},
		})
	}
	return chunks
}
