package recommend

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	titleRe      = regexp.MustCompile(`(?im)^\s*(?:제목|영화\s*제목|title)\s*[:：]\s*(.+?)\s*$`)
	yearRe       = regexp.MustCompile(`(?im)^\s*(?:개봉일|개봉\s*연도|개봉|release[ _]?date|year)\s*[:：]\s*(\d{4})`)
	voteRe       = regexp.MustCompile(`(?im)^\s*(?:평점|vote[ _]?average|rating)\s*[:：]\s*([0-9]+(?:\.[0-9]+)?)`)
	popularityRe = regexp.MustCompile(`(?im)^\s*(?:인기도|popularity)\s*[:：]\s*([0-9]+(?:\.[0-9]+)?)`)
	posterRe     = regexp.MustCompile(`(?im)^\s*(?:포스터(?:\s*경로)?|poster[ _]?path)\s*[:：]\s*(\S+)`)
	genresRe     = regexp.MustCompile(`(?im)^\s*(?:장르|genres?)\s*[:：]\s*(.+?)\s*$`)
	genreSplitRe = regexp.MustCompile(`\s*[,/|·]\s*`)
)

// Movie holds the structured fields of one candidate document.
type Movie struct {
	Title       string
	Year        string
	VoteAverage float64
	Popularity  float64
	PosterPath  string
	Genres      []string
}

// extractMovie parses fields out of text. Values already present in
// metadata win over parsed ones.
func extractMovie(text string, meta map[string]interface{}) Movie {
	m := Movie{
		Title:      firstGroup(titleRe, text),
		Year:       firstGroup(yearRe, text),
		PosterPath: firstGroup(posterRe, text),
	}
	m.VoteAverage, _ = strconv.ParseFloat(firstGroup(voteRe, text), 64)
	m.Popularity, _ = strconv.ParseFloat(firstGroup(popularityRe, text), 64)
	if g := firstGroup(genresRe, text); g != "" {
		m.Genres = splitGenres(g)
	}

	if s := metaString(meta, "title"); s != "" {
		m.Title = s
	}
	if s := metaString(meta, "year"); s != "" {
		m.Year = s
	} else if s := metaString(meta, "release_date"); len(s) >= 4 {
		m.Year = s[:4]
	}
	if f, ok := metaFloat(meta, "vote_average"); ok {
		m.VoteAverage = f
	}
	if f, ok := metaFloat(meta, "popularity"); ok {
		m.Popularity = f
	}
	if s := metaString(meta, "poster_path"); s != "" {
		m.PosterPath = s
	}
	switch g := meta["genres"].(type) {
	case string:
		if g != "" {
			m.Genres = splitGenres(g)
		}
	case []interface{}:
		if len(g) > 0 {
			m.Genres = m.Genres[:0:0]
			for _, v := range g {
				m.Genres = append(m.Genres, fmt.Sprint(v))
			}
		}
	case []string:
		if len(g) > 0 {
			m.Genres = g
		}
	}
	return m
}

func firstGroup(re *regexp.Regexp, text string) string {
	if sm := re.FindStringSubmatch(text); len(sm) > 1 {
		return strings.TrimSpace(sm[1])
	}
	return ""
}

func splitGenres(s string) []string {
	var out []string
	for _, g := range genreSplitRe.Split(strings.Trim(s, "[] "), -1) {
		g = strings.Trim(g, `'" `)
		if g != "" {
			out = append(out, g)
		}
	}
	return out
}

func metaString(meta map[string]interface{}, key string) string {
	switch v := meta[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func metaFloat(meta map[string]interface{}, key string) (float64, bool) {
	switch v := meta[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
