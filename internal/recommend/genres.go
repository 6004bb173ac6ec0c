package recommend

import "strings"

// Genre is a target genre label with the query keywords that select it.
type Genre struct {
	Label    string
	Keywords []string
}

// genreTable is scanned in order; the first genre with a matching keyword wins.
var genreTable = []Genre{
	{"SF", []string{"sf", "sci-fi", "scifi", "science fiction", "공상과학", "우주", "미래"}},
	{"액션", []string{"액션", "action", "전투", "히어로", "hero"}},
	{"코미디", []string{"코미디", "comedy", "웃긴", "유머", "funny"}},
	{"드라마", []string{"드라마", "drama", "감동"}},
	{"공포", []string{"공포", "호러", "horror", "무서운", "scary"}},
	{"로맨스", []string{"로맨스", "romance", "멜로", "사랑", "연애", "romantic"}},
	{"애니메이션", []string{"애니메이션", "애니", "animation", "animated", "만화"}},
	{"스릴러", []string{"스릴러", "thriller", "서스펜스", "suspense"}},
	{"범죄", []string{"범죄", "crime", "갱스터", "gangster"}},
	{"판타지", []string{"판타지", "fantasy", "마법", "magic"}},
	{"모험", []string{"모험", "adventure", "어드벤처"}},
	{"미스터리", []string{"미스터리", "mystery", "추리"}},
	{"가족", []string{"가족", "family", "아이와"}},
	{"전쟁", []string{"전쟁", "war"}},
	{"음악", []string{"음악", "music", "뮤지컬", "musical"}},
	{"다큐멘터리", []string{"다큐멘터리", "다큐", "documentary"}},
	{"역사", []string{"역사", "history", "사극", "historical"}},
}

// Classify returns the first genre whose keyword appears in query.
// When nothing matches, the raw query becomes the label and its only keyword.
func Classify(query string) Genre {
	q := strings.ToLower(query)
	for _, g := range genreTable {
		for _, kw := range g.Keywords {
			if strings.Contains(q, kw) {
				return g
			}
		}
	}
	raw := strings.TrimSpace(query)
	return Genre{Label: raw, Keywords: []string{strings.ToLower(raw)}}
}

// Matches reports whether a candidate's genre name denotes g.
func (g Genre) Matches(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return false
	}
	if n == strings.ToLower(g.Label) {
		return true
	}
	for _, kw := range g.Keywords {
		if n == kw {
			return true
		}
	}
	return false
}

// InText reports whether any of g's keywords occurs in text.
func (g Genre) InText(text string) bool {
	t := strings.ToLower(text)
	for _, kw := range g.Keywords {
		if kw != "" && strings.Contains(t, kw) {
			return true
		}
	}
	return false
}
