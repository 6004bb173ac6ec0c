package recommend

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/nidhogg/cinechat/internal/rag"
	"github.com/nidhogg/cinechat/internal/seen"
	"go.uber.org/zap"
)

type fakeRetriever struct {
	hits     []rag.Hit
	lastTopK int
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string, topK int) ([]rag.Hit, error) {
	f.lastTopK = topK
	if topK < len(f.hits) {
		return f.hits[:topK], nil
	}
	return f.hits, nil
}

func movieHit(id int, title, year string, vote, pop float64, genres string) rag.Hit {
	return rag.Hit{
		ID: fmt.Sprintf("movies.pdf::movie_%d", id),
		Text: fmt.Sprintf("제목: %s\n개봉일: %s-05-01\n평점: %.1f\n인기도: %.1f\n장르: %s\n줄거리: ...",
			title, year, vote, pop, genres),
		Metadata: map[string]interface{}{"source": "/data/pdfs/movies.pdf", "chunk_id": id, "type": "movie"},
	}
}

func sfCorpus() []rag.Hit {
	return []rag.Hit{
		movieHit(1, "클래식 드라마", "1990", 9.5, 10, "드라마"),
		movieHit(2, "매트릭스", "1999", 8.7, 80, "SF, 액션"),
		movieHit(3, "다크나이트", "2008", 9.0, 95, "액션, SF"),
		movieHit(4, "인셉션", "2010", 8.8, 90, "SF, 스릴러"),
		movieHit(5, "로맨틱 코미디", "2015", 7.0, 40, "로맨스, 코미디"),
		movieHit(6, "인터스텔라", "2014", 8.6, 85, "SF, 드라마"),
		movieHit(7, "저예산 우주영화", "2020", 8.0, 5, "SF"),
	}
}

func titles(res *Result) []string {
	out := make([]string, len(res.Recommendations))
	for i, r := range res.Recommendations {
		out[i] = r.Title
	}
	return out
}

func TestRecommendSFTopByRating(t *testing.T) {
	fr := &fakeRetriever{hits: sfCorpus()}
	r := NewRanker(fr, nil, zap.NewNop())

	res, err := r.RecommendByGenre(context.Background(), "SF 영화 추천해줘", 3, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Genre != "SF" {
		t.Errorf("genre = %q, want SF", res.Genre)
	}
	// Genre strength dominates rating: first-listed SF titles rank above
	// 다크나이트 (SF listed second) despite its higher rating.
	want := []string{"인셉션", "매트릭스", "인터스텔라"}
	if got := titles(res); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	for _, rec := range res.Recommendations {
		if rec.GenreStrength < 1 {
			t.Errorf("%s has strength %d", rec.Title, rec.GenreStrength)
		}
	}
	if res.Count != 3 || len(res.Sources) != 3 || res.Sources[0] != "movies.pdf:4" {
		t.Errorf("count = %d, sources = %v", res.Count, res.Sources)
	}
	if fr.lastTopK != 100 {
		t.Errorf("overfetch = %d, want 100", fr.lastTopK)
	}
}

func TestRecommendFiveSFDocsByRating(t *testing.T) {
	fr := &fakeRetriever{hits: []rag.Hit{
		movieHit(1, "A", "2001", 8.6, 1, "SF"),
		movieHit(2, "B", "2002", 9.0, 1, "SF"),
		movieHit(3, "C", "2003", 8.0, 1, "SF"),
		movieHit(4, "D", "2004", 8.8, 1, "SF"),
		movieHit(5, "E", "2005", 8.7, 1, "SF"),
	}}
	r := NewRanker(fr, nil, zap.NewNop())

	res, err := r.RecommendByGenre(context.Background(), "SF 영화 추천해줘", 3, "")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := titles(res), []string{"B", "D", "E"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	res, err = r.RecommendByGenre(context.Background(), "SF 영화 추천해줘", 3, "B")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := titles(res), []string{"D", "E", "A"}; !reflect.DeepEqual(got, want) {
		t.Errorf("with exclusion got %v, want %v", got, want)
	}
}

func TestRecommendIdempotent(t *testing.T) {
	corpus := sfCorpus()
	corpus = append(corpus, movieHit(8, "동점 SF", "2021", 8.8, 90, "SF"))
	r := NewRanker(&fakeRetriever{hits: corpus}, nil, zap.NewNop())

	first, err := r.RecommendByGenre(context.Background(), "sci-fi please", 5, "매트릭스")
	if err != nil {
		t.Fatal(err)
	}
	second, _ := r.RecommendByGenre(context.Background(), "sci-fi please", 5, "매트릭스")
	if !reflect.DeepEqual(first, second) {
		t.Errorf("results differ:\n%+v\n%+v", first, second)
	}
}

func TestRecommendExclusionLaw(t *testing.T) {
	r := NewRanker(&fakeRetriever{hits: sfCorpus()}, nil, zap.NewNop())
	for _, ex := range []string{"인셉", "매트릭스, 인터", "DARK\n다크나이트", "영화", "드라마,코미디"} {
		res, err := r.RecommendByGenre(context.Background(), "SF", 10, ex)
		if err != nil {
			t.Fatal(err)
		}
		for _, rec := range res.Recommendations {
			for _, e := range ParseExclusions(ex) {
				if strings.Contains(strings.ToLower(rec.Title), e) {
					t.Errorf("exclude %q: %s survived", ex, rec.Title)
				}
			}
		}
	}
}

func TestRecommendBackfillsOffGenre(t *testing.T) {
	fr := &fakeRetriever{hits: []rag.Hit{
		movieHit(1, "Only Horror", "2001", 6.0, 1, "공포"),
		movieHit(2, "Drama Low", "2002", 7.0, 1, "드라마"),
		movieHit(3, "Drama High", "2003", 9.0, 1, "드라마"),
	}}
	r := NewRanker(fr, nil, zap.NewNop())
	res, err := r.RecommendByGenre(context.Background(), "공포 영화", 3, "")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := titles(res), []string{"Only Horror", "Drama High", "Drama Low"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if res.Recommendations[1].GenreStrength != 0 {
		t.Errorf("backfilled item has strength %d", res.Recommendations[1].GenreStrength)
	}
}

func TestRecommendDedupesByTitleAndYear(t *testing.T) {
	dup := movieHit(9, "인셉션", "2010", 8.8, 90, "SF")
	dup.ID = "other.pdf::movie_9"
	remake := movieHit(10, "인셉션", "2030", 7.0, 1, "SF")
	fr := &fakeRetriever{hits: append(sfCorpus(), dup, remake)}
	r := NewRanker(fr, nil, zap.NewNop())

	res, _ := r.RecommendByGenre(context.Background(), "SF", 10, "")
	n := 0
	for _, rec := range res.Recommendations {
		if rec.Title == "인셉션" {
			n++
		}
	}
	if n != 2 {
		t.Errorf("got %d 인셉션 entries, want 2 (original and remake)", n)
	}
}

func TestRecommendKeywordFallbackWithoutGenreList(t *testing.T) {
	fr := &fakeRetriever{hits: []rag.Hit{
		{ID: "a", Text: "제목: 무장르 우주 이야기\n평점: 7.5", Metadata: map[string]interface{}{}},
		{ID: "b", Text: "제목: 요리 다큐\n평점: 9.9", Metadata: map[string]interface{}{}},
	}}
	r := NewRanker(fr, nil, zap.NewNop())
	res, _ := r.RecommendByGenre(context.Background(), "우주 배경 영화", 1, "")
	if len(res.Recommendations) != 1 || res.Recommendations[0].Title != "무장르 우주 이야기" {
		t.Fatalf("got %+v", res.Recommendations)
	}
	if res.Recommendations[0].GenreStrength != 1 {
		t.Errorf("strength = %d, want keyword fallback 1", res.Recommendations[0].GenreStrength)
	}
}

func TestRecommendUnknownGenreUsesRawQuery(t *testing.T) {
	fr := &fakeRetriever{hits: []rag.Hit{movieHit(1, "Noir One", "1950", 8.0, 1, "Noir")}}
	r := NewRanker(fr, nil, zap.NewNop())
	res, _ := r.RecommendByGenre(context.Background(), "Noir", 1, "")
	if res.Genre != "Noir" {
		t.Errorf("genre = %q", res.Genre)
	}
	if len(res.Recommendations) != 1 || res.Recommendations[0].GenreStrength != 2 {
		t.Errorf("got %+v", res.Recommendations)
	}
}

func TestMetadataWinsOverParsedFields(t *testing.T) {
	m := extractMovie("제목: Parsed\n평점: 5.0\n장르: 드라마", map[string]interface{}{
		"title":        "FromMeta",
		"vote_average": 8.1,
	})
	if m.Title != "FromMeta" || m.VoteAverage != 8.1 {
		t.Errorf("got %+v", m)
	}
	if len(m.Genres) != 1 || m.Genres[0] != "드라마" {
		t.Errorf("parsed genres lost: %v", m.Genres)
	}
}

func TestExtractEnglishLabels(t *testing.T) {
	m := extractMovie("Title: Inception\nRelease Date: 2010-07-16\nVote Average: 8.4\nPopularity: 120.5\nPoster Path: /x.jpg\nGenres: Action | Science Fiction", nil)
	want := Movie{Title: "Inception", Year: "2010", VoteAverage: 8.4, Popularity: 120.5, PosterPath: "/x.jpg", Genres: []string{"Action", "Science Fiction"}}
	if !reflect.DeepEqual(m, want) {
		t.Errorf("got %+v, want %+v", m, want)
	}
}

func TestParseExclusions(t *testing.T) {
	got := ParseExclusions(" Inception ,\n매트릭스\r\n,, ")
	want := []string{"inception", "매트릭스"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

type memTracker struct{ titles map[string][]string }

func (m *memTracker) Titles(_ context.Context, s string) ([]string, error) { return m.titles[s], nil }
func (m *memTracker) Add(_ context.Context, s string, titles ...string) error {
	m.titles[s] = append(m.titles[s], titles...)
	return nil
}

func TestRecommendSkipsSeenTitlesPerSession(t *testing.T) {
	tr := &memTracker{titles: map[string][]string{}}
	r := NewRanker(&fakeRetriever{hits: sfCorpus()}, tr, zap.NewNop())
	ctx := seen.WithSession(context.Background(), "s1")

	first, _ := r.RecommendByGenre(ctx, "SF", 2, "")
	second, _ := r.RecommendByGenre(ctx, "SF", 2, "")
	for _, a := range titles(first) {
		for _, b := range titles(second) {
			if a == b {
				t.Errorf("%s recommended twice in one session", a)
			}
		}
	}
	if len(tr.titles["s1"]) != 4 {
		t.Errorf("tracked %v", tr.titles["s1"])
	}

	other, _ := r.RecommendByGenre(context.Background(), "SF", 2, "")
	if !reflect.DeepEqual(titles(other), titles(first)) {
		t.Errorf("unbound request affected by session: %v", titles(other))
	}
}

func TestRecommendExplicitExclusionsIgnoreSessionHistory(t *testing.T) {
	tr := &memTracker{titles: map[string][]string{}}
	r := NewRanker(&fakeRetriever{hits: sfCorpus()}, tr, zap.NewNop())
	ctx := seen.WithSession(context.Background(), "s1")

	first, _ := r.RecommendByGenre(ctx, "SF", 2, "매트릭스")
	second, _ := r.RecommendByGenre(ctx, "SF", 2, "매트릭스")
	want := []string{"인셉션", "인터스텔라"}
	if !reflect.DeepEqual(titles(first), want) {
		t.Fatalf("first = %v, want %v", titles(first), want)
	}
	if !reflect.DeepEqual(titles(second), titles(first)) {
		t.Errorf("repeated call = %v, want %v", titles(second), titles(first))
	}
	if len(tr.titles["s1"]) != 4 {
		t.Errorf("shown titles should still be tracked: %v", tr.titles["s1"])
	}
}
