package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/nidhogg/cinechat/internal/rag"
	"go.uber.org/zap"
)

const catalogue = `영화 목록 (머리말은 버려집니다)
1번째 영화
제목: 인셉션
장르: SF, 스릴러
2번째 영화
제목: 기생충
장르: 드라마
3번째 영화
`

func TestChunkMovies(t *testing.T) {
	l := NewLoader(0, 0, zap.NewNop())
	chunks, err := l.Chunk(catalogue, "/data/pdfs/movies.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if chunks[0].ID != "movies.pdf::movie_1" || chunks[1].ID != "movies.pdf::movie_2" {
		t.Errorf("ids = %s, %s", chunks[0].ID, chunks[1].ID)
	}
	if !strings.HasPrefix(chunks[0].Text, "제목: 인셉션") || strings.Contains(chunks[0].Text, "기생충") {
		t.Errorf("chunk text = %q", chunks[0].Text)
	}
	md := chunks[1].Metadata
	if md["source"] != "/data/pdfs/movies.pdf" || md["chunk_id"] != 2 || md["type"] != "movie" {
		t.Errorf("metadata = %v", md)
	}
}

func TestChunkMoviesRepeatedMarkerKeepsBoth(t *testing.T) {
	l := NewLoader(0, 0, zap.NewNop())
	text := "1번째 영화\n제목: 인셉션\n1번째 영화\n제목: 기생충\n2번째 영화\n제목: 매트릭스\n"
	chunks, err := l.Chunk(text, "dup.txt")
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, c := range chunks {
		ids = append(ids, c.ID)
	}
	want := "dup.txt::movie_1,dup.txt::movie_1_2,dup.txt::movie_2"
	if got := strings.Join(ids, ","); got != want {
		t.Fatalf("ids = %s, want %s", got, want)
	}
	if !strings.Contains(chunks[1].Text, "기생충") {
		t.Errorf("second occurrence text = %q", chunks[1].Text)
	}
}

func TestChunkPlainText(t *testing.T) {
	l := NewLoader(50, 10, zap.NewNop())
	text := strings.Repeat("Christopher Nolan directs films. ", 10)
	chunks, err := l.Chunk(text, "notes.txt")
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want several", len(chunks))
	}
	for i, c := range chunks {
		if c.ID != "notes.txt::chunk_"+strconv.Itoa(i) {
			t.Errorf("chunk %d id = %s", i, c.ID)
		}
		if c.Metadata["chunk_id"] != i {
			t.Errorf("chunk %d metadata = %v", i, c.Metadata)
		}
		if _, ok := c.Metadata["type"]; ok {
			t.Errorf("plain chunk should not carry a type")
		}
		if len([]rune(c.Text)) > 50 {
			t.Errorf("chunk %d has %d runes", i, len([]rune(c.Text)))
		}
	}
}

func TestLoadAndChunkDirectory(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("a.txt", catalogue)
	write("b.txt", "짧은 메모입니다.")
	write("c.md", "ignored")
	if err := os.Mkdir(filepath.Join(dir, "sub.txt"), 0o755); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(0, 0, zap.NewNop())
	chunks, err := l.LoadAndChunk(context.Background(), dir, "txt")
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, c := range chunks {
		ids = append(ids, c.ID)
	}
	want := "a.txt::movie_1,a.txt::movie_2,b.txt::chunk_0"
	if strings.Join(ids, ",") != want {
		t.Errorf("ids = %v, want %s", ids, want)
	}
}

func TestLoadAndChunkMissingDir(t *testing.T) {
	l := NewLoader(0, 0, zap.NewNop())
	if _, err := l.LoadAndChunk(context.Background(), filepath.Join(t.TempDir(), "nope"), ".pdf"); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestLoadAndChunkSkipsBrokenPDF(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.pdf"), []byte("not a pdf"), 0o644); err != nil {
		t.Fatal(err)
	}
	l := NewLoader(0, 0, zap.NewNop())
	chunks, err := l.LoadAndChunk(context.Background(), dir, ".pdf")
	if err != nil {
		t.Fatalf("broken files are skipped, got %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("chunks = %d", len(chunks))
	}
}

type fakeIndex struct {
	chunks  []rag.Chunk
	cleared int
}

func (f *fakeIndex) Index(_ context.Context, chunks []rag.Chunk) error {
	f.chunks = append(f.chunks, chunks...)
	return nil
}

func (f *fakeIndex) Count(context.Context) (int, error) { return len(f.chunks), nil }

func (f *fakeIndex) Clear(context.Context) error {
	f.chunks = nil
	f.cleared++
	return nil
}

func TestPipelineSkipsPopulatedCorpus(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "movies.txt"), []byte(catalogue), 0o644); err != nil {
		t.Fatal(err)
	}
	idx := &fakeIndex{}
	p := NewPipeline(NewLoader(0, 0, zap.NewNop()), idx, zap.NewNop())
	ctx := context.Background()

	rep, err := p.Run(ctx, dir, ".txt", false)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Skipped || rep.Chunks != 2 || rep.Total != 2 {
		t.Fatalf("first run = %+v", rep)
	}

	rep, err = p.Run(ctx, dir, ".txt", false)
	if err != nil {
		t.Fatal(err)
	}
	if !rep.Skipped || rep.Total != 2 || len(idx.chunks) != 2 {
		t.Errorf("second run = %+v", rep)
	}

	rep, err = p.Run(ctx, dir, ".txt", true)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Skipped || idx.cleared != 1 || rep.Total != 2 {
		t.Errorf("reset run = %+v, cleared %d", rep, idx.cleared)
	}
}
