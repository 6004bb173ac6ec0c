package agent

import (
	"fmt"
	"os"
	"strings"
)

const (
	// FallbackAnswer is returned when a turn ends without any answer.
	FallbackAnswer = "죄송합니다. 답변을 생성하지 못했습니다."
	// UnresolvedAnswer is returned when the loop hits its iteration cap
	// and the forced final call still produces nothing.
	UnresolvedAnswer = "죄송합니다. 요청을 처리하는 데 너무 많은 단계가 필요해 답변을 완료하지 못했습니다. 질문을 조금 더 구체적으로 해 주세요."
)

const defaultSystemPrompt = `당신은 영화 추천 AI 어시스턴트입니다.
- 사용자의 영화 관련 질문에 친절하게 답변합니다.
- 장르 기반 추천이 필요하면 recommend_movies 도구를, 특정 영화 정보가 필요하면 search_rag 도구를 사용합니다.
- 도구 결과에 근거해 구체적이고 유용한 정보를 제공하고, 출처가 있으면 함께 알려 줍니다.`

// Persona defines the assistant's identity.
type Persona struct {
	Name         string `json:"name"`
	SystemPrompt string `json:"system_prompt"`
}

// DefaultPersona returns the built-in movie assistant persona.
func DefaultPersona() Persona {
	return Persona{Name: "cinechat", SystemPrompt: defaultSystemPrompt}
}

// LoadPersona reads a system prompt from path. An empty path yields the default.
func LoadPersona(path string) (Persona, error) {
	p := DefaultPersona()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read system prompt %s: %w", path, err)
	}
	if s := strings.TrimSpace(string(data)); s != "" {
		p.SystemPrompt = s
	}
	return p, nil
}
