package recommend

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nidhogg/cinechat/internal/rag"
	"github.com/nidhogg/cinechat/internal/seen"
	"go.uber.org/zap"
)

const minOverfetch = 100

// Retriever is the chunk search the ranker draws candidates from.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]rag.Hit, error)
}

// Recommendation is one ranked movie.
type Recommendation struct {
	Title         string   `json:"title"`
	Year          string   `json:"year,omitempty"`
	Genres        []string `json:"genres,omitempty"`
	VoteAverage   float64  `json:"vote_average"`
	Popularity    float64  `json:"popularity"`
	PosterPath    string   `json:"poster_path,omitempty"`
	GenreStrength int      `json:"genre_strength"`
	Source        string   `json:"source"`
}

// Result is the ranker's output.
type Result struct {
	Query           string           `json:"query"`
	Genre           string           `json:"genre"`
	Count           int              `json:"count"`
	Recommendations []Recommendation `json:"recommendations"`
	Sources         []string         `json:"sources"`
}

// Ranker recommends movies of a requested genre from the chunk store.
type Ranker struct {
	retriever Retriever
	seen      seen.Tracker
	logger    *zap.Logger
}

// NewRanker creates a Ranker. A nil tracker disables per-session exclusions.
func NewRanker(retriever Retriever, tracker seen.Tracker, logger *zap.Logger) *Ranker {
	if tracker == nil {
		tracker = seen.Noop{}
	}
	return &Ranker{retriever: retriever, seen: tracker, logger: logger}
}

type candidate struct {
	movie    Movie
	strength int
	keyword  bool
	source   string
	chunkID  string
	key      string
}

// ranksBefore reports whether c should be listed ahead of o.
func (c *candidate) ranksBefore(o *candidate) bool {
	if c.strength != o.strength {
		return c.strength > o.strength
	}
	if c.movie.VoteAverage != o.movie.VoteAverage {
		return c.movie.VoteAverage > o.movie.VoteAverage
	}
	return c.movie.Popularity > o.movie.Popularity
}

// RecommendByGenre ranks up to topK movies matching the genre named in query,
// skipping any whose title contains one of excludeTitles. Without an explicit
// exclusion list, titles already shown in the session are skipped instead.
func (r *Ranker) RecommendByGenre(ctx context.Context, query string, topK int, excludeTitles string) (*Result, error) {
	genre := Classify(query)
	excluded := ParseExclusions(excludeTitles)

	session := seen.SessionFrom(ctx)
	if session != "" && len(excluded) == 0 {
		titles, err := r.seen.Titles(ctx, session)
		if err != nil {
			r.logger.Warn("load seen titles failed", zap.String("session", session), zap.Error(err))
		}
		for _, t := range titles {
			if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
				excluded = append(excluded, t)
			}
		}
	}

	res := &Result{Query: query, Genre: genre.Label, Recommendations: []Recommendation{}, Sources: []string{}}
	if topK <= 0 {
		return res, nil
	}

	hits, err := r.retriever.Retrieve(ctx, query, max(topK*20, minOverfetch))
	if err != nil {
		return nil, fmt.Errorf("retrieve candidates: %w", err)
	}

	var kept, dropped []*candidate
	for _, h := range hits {
		m := extractMovie(h.Text, h.Metadata)
		if isExcluded(m.Title, excluded) {
			continue
		}
		c := &candidate{
			movie:   m,
			source:  h.Source(),
			chunkID: h.ChunkID(),
		}
		c.keyword = genre.InText(h.Text)
		c.strength = genreStrength(genre, m.Genres, c.keyword)
		c.key = dedupeKey(m, h.ID)
		if c.strength == 0 && !c.keyword {
			dropped = append(dropped, c)
			continue
		}
		kept = append(kept, c)
	}

	used := make(map[string]bool)
	ranked := dedupe(kept, used)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].ranksBefore(ranked[j]) })

	if len(ranked) < topK {
		rest := dedupe(dropped, used)
		sort.SliceStable(rest, func(i, j int) bool { return rest[i].ranksBefore(rest[j]) })
		ranked = append(ranked, rest...)
	}
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	titles := make([]string, 0, len(ranked))
	for _, c := range ranked {
		name := c.source
		if name != "unknown" {
			name = filepath.Base(name)
		}
		res.Recommendations = append(res.Recommendations, Recommendation{
			Title:         c.movie.Title,
			Year:          c.movie.Year,
			Genres:        c.movie.Genres,
			VoteAverage:   c.movie.VoteAverage,
			Popularity:    c.movie.Popularity,
			PosterPath:    c.movie.PosterPath,
			GenreStrength: c.strength,
			Source:        name + ":" + c.chunkID,
		})
		res.Sources = append(res.Sources, name+":"+c.chunkID)
		if c.movie.Title != "" {
			titles = append(titles, c.movie.Title)
		}
	}
	res.Count = len(res.Recommendations)

	if session != "" {
		if err := r.seen.Add(ctx, session, titles...); err != nil {
			r.logger.Warn("record seen titles failed", zap.String("session", session), zap.Error(err))
		}
	}
	r.logger.Debug("genre recommendation",
		zap.String("genre", genre.Label),
		zap.Int("candidates", len(hits)),
		zap.Int("returned", res.Count))
	return res, nil
}

// ParseExclusions splits a comma- or newline-separated title list into
// lowercase entries.
func ParseExclusions(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' || r == '\r' }) {
		if t := strings.ToLower(strings.TrimSpace(part)); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func isExcluded(title string, excluded []string) bool {
	if title == "" {
		return false
	}
	t := strings.ToLower(title)
	for _, ex := range excluded {
		if strings.Contains(t, ex) {
			return true
		}
	}
	return false
}

// genreStrength is 2 when g is the first listed genre, 1 when listed
// anywhere, else 0. Without a genre list it falls back to the keyword hit.
func genreStrength(g Genre, genres []string, keyword bool) int {
	if len(genres) == 0 {
		if keyword {
			return 1
		}
		return 0
	}
	for i, name := range genres {
		if g.Matches(name) {
			if i == 0 {
				return 2
			}
			return 1
		}
	}
	return 0
}

func dedupeKey(m Movie, chunkID string) string {
	if m.Title == "" {
		return "id:" + chunkID
	}
	return strings.ToLower(m.Title) + "|" + m.Year
}

func dedupe(cands []*candidate, used map[string]bool) []*candidate {
	out := make([]*candidate, 0, len(cands))
	for _, c := range cands {
		if used[c.key] {
			continue
		}
		used[c.key] = true
		out = append(out, c)
	}
	return out
}
