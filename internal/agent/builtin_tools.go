package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/nidhogg/cinechat/internal/provider"
	"github.com/nidhogg/cinechat/internal/rag"
	"github.com/nidhogg/cinechat/internal/recommend"
)

const (
	ToolRecommendMovies = "recommend_movies"
	ToolSearchRAG       = "search_rag"

	defaultRecommendCount = 5
	maxRecommendCount     = 20
	defaultSearchTopK     = 3
	maxSearchTopK         = 10
)

const emptyCorpusText = "No documents found in the vector database.\n" +
	"Please index documents first by running:\n" +
	"cinechat index --dir <documents>"

// Recommender ranks movies for a genre request.
type Recommender interface {
	RecommendByGenre(ctx context.Context, query string, topK int, excludeTitles string) (*recommend.Result, error)
}

// Searcher answers chunk searches for the search_rag tool.
type Searcher interface {
	Count(ctx context.Context) (int, error)
	RetrieveWithContext(ctx context.Context, query string, topK int) (*rag.ContextResult, error)
}

// contextCarrier is implemented by tool results that retrieved chunks.
type contextCarrier interface {
	retrieved() []rag.Context
}

// SearchResult is the search_rag payload.
type SearchResult struct {
	rag.ContextResult
	Warning string `json:"warning,omitempty"`
}

func (r *SearchResult) retrieved() []rag.Context { return r.Contexts }

// RegisterMovieTools adds recommend_movies and search_rag to a registry.
func RegisterMovieTools(reg *ToolRegistry, rec Recommender, search Searcher) {
	reg.Register(provider.Tool{
		Type: "function",
		Function: provider.ToolFunction{
			Name:        ToolRecommendMovies,
			Description: "사용자 선호 장르에 맞는 영화를 평점 순으로 추천합니다.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"preferences": map[string]interface{}{
						"type":        "string",
						"description": "사용자 선호도 (장르, 분위기 등)",
					},
					"count": map[string]interface{}{
						"type":        "integer",
						"description": "추천할 영화 개수",
						"default":     defaultRecommendCount,
					},
					"exclude_titles": map[string]interface{}{
						"type":        "string",
						"description": "제외할 영화 제목 (쉼표 또는 줄바꿈으로 구분)",
					},
				},
				"required": []string{"preferences"},
			},
		},
	}, func(ctx context.Context, args string) (interface{}, error) {
		var p struct {
			Preferences   string `json:"preferences"`
			Count         int    `json:"count"`
			ExcludeTitles string `json:"exclude_titles"`
		}
		if err := decodeArgs(args, &p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.Preferences) == "" {
			return nil, fmt.Errorf("preferences is required")
		}
		return rec.RecommendByGenre(ctx, p.Preferences, clamp(p.Count, defaultRecommendCount, maxRecommendCount), p.ExcludeTitles)
	})

	reg.Register(provider.Tool{
		Type: "function",
		Function: provider.ToolFunction{
			Name:        ToolSearchRAG,
			Description: "영화 관련 문서에서 정보를 검색합니다 (RAG).",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{
						"type":        "string",
						"description": "검색할 질문",
					},
					"top_k": map[string]interface{}{
						"type":        "integer",
						"description": "반환할 컨텍스트 개수",
						"default":     defaultSearchTopK,
					},
				},
				"required": []string{"query"},
			},
		},
	}, func(ctx context.Context, args string) (interface{}, error) {
		var p struct {
			Query string `json:"query"`
			TopK  int    `json:"top_k"`
		}
		if err := decodeArgs(args, &p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.Query) == "" {
			return nil, fmt.Errorf("query is required")
		}

		n, err := search.Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("count documents: %w", err)
		}
		if n == 0 {
			return &SearchResult{
				ContextResult: rag.ContextResult{
					Query:       p.Query,
					Contexts:    []rag.Context{},
					ContextText: emptyCorpusText,
					Sources:     []string{},
				},
				Warning: "Database is empty",
			}, nil
		}

		res, err := search.RetrieveWithContext(ctx, p.Query, clamp(p.TopK, defaultSearchTopK, maxSearchTopK))
		if err != nil {
			return nil, err
		}
		return &SearchResult{ContextResult: *res}, nil
	})
}

// clamp applies def to non-positive n and caps it at hi.
func clamp(n, def, hi int) int {
	if n <= 0 {
		return def
	}
	if n > hi {
		return hi
	}
	return n
}
