package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

type stubProvider struct {
	id     string
	err    error
	calls  int
	models []string
}

func (s *stubProvider) ID() string   { return s.id }
func (s *stubProvider) Name() string { return s.id }
func (s *stubProvider) Chat(_ context.Context, req *ChatRequest) (*ChatResponse, error) {
	s.calls++
	s.models = append(s.models, req.Model)
	if s.err != nil {
		return nil, s.err
	}
	return &ChatResponse{Content: "from " + s.id}, nil
}
func (s *stubProvider) HealthCheck(context.Context) error { return nil }

func TestRouterFallback(t *testing.T) {
	r := NewRouter(BreakerConfig{}, zap.NewNop())
	primary := &stubProvider{id: "primary", err: errors.New("boom")}
	backup := &stubProvider{id: "backup"}
	r.Register(primary)
	r.Register(backup)
	r.SetFallbacks([]string{"backup"})

	resp, err := r.Chat(context.Background(), &ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from backup" {
		t.Errorf("got %q, want from backup", resp.Content)
	}
	if primary.calls != 1 || backup.calls != 1 {
		t.Errorf("calls primary=%d backup=%d, want 1/1", primary.calls, backup.calls)
	}
}

func TestRouterFallbackDropsPinnedModel(t *testing.T) {
	r := NewRouter(BreakerConfig{}, zap.NewNop())
	primary := &stubProvider{id: "openai", err: errors.New("boom")}
	backup := &stubProvider{id: "claude"}
	r.Register(primary)
	r.Register(backup)
	r.SetDefault("openai")
	r.SetFallbacks([]string{"claude"})

	if _, err := r.Chat(context.Background(), &ChatRequest{Model: "gpt-4o-mini"}); err != nil {
		t.Fatal(err)
	}
	if primary.models[0] != "gpt-4o-mini" {
		t.Errorf("default provider got model %q", primary.models[0])
	}
	if backup.models[0] != "" {
		t.Errorf("fallback got model %q, want its own default", backup.models[0])
	}
}

func TestRouterNoProvider(t *testing.T) {
	r := NewRouter(BreakerConfig{}, zap.NewNop())
	if _, err := r.Chat(context.Background(), &ChatRequest{}); !errors.Is(err, ErrNoProvider) {
		t.Fatalf("got %v, want ErrNoProvider", err)
	}
}

func TestRouterBreakerOpens(t *testing.T) {
	r := NewRouter(BreakerConfig{MaxFailures: 2, Timeout: time.Hour}, zap.NewNop())
	p := &stubProvider{id: "flaky", err: errors.New("down")}
	r.Register(p)

	for i := 0; i < 4; i++ {
		if _, err := r.Chat(context.Background(), &ChatRequest{}); err == nil {
			t.Fatal("expected error")
		}
	}
	if p.calls != 2 {
		t.Errorf("provider called %d times, want 2 before the breaker opened", p.calls)
	}
}

func TestOpenAIProviderChatToolCall(t *testing.T) {
	var got map[string]interface{}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "search_rag", "arguments": "{\"query\":\"inception\"}"}
					}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewOpenAIProvider(ProviderConfig{
		ID: "openai", Endpoint: srv.URL + "/v1", APIKey: "sk-test", Model: "gpt-4o-mini",
	}, zap.NewNop())

	resp, err := p.Chat(context.Background(), &ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "tell me about inception"}},
		Tools: []Tool{{Type: "function", Function: ToolFunction{
			Name: "search_rag", Parameters: map[string]interface{}{"type": "object"},
		}}},
		ToolChoice: "auto",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "call_1" {
		t.Fatalf("unexpected tool calls: %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Function.Arguments != `{"query":"inception"}` {
		t.Errorf("got arguments %q", resp.ToolCalls[0].Function.Arguments)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("got total tokens %d, want 15", resp.Usage.TotalTokens)
	}
	if got["model"] != "gpt-4o-mini" {
		t.Errorf("request model = %v, want configured default", got["model"])
	}
	if tools, _ := got["tools"].([]interface{}); len(tools) != 1 {
		t.Errorf("request carried %d tools, want 1", len(tools))
	}
}
