package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/nidhogg/cinechat/internal/memory"
	"github.com/nidhogg/cinechat/internal/provider"
	"go.uber.org/zap"
)

// scriptedChat replays canned responses and records every request.
type scriptedChat struct {
	responses []*provider.ChatResponse
	err       error
	requests  []*provider.ChatRequest
	onCall    func()
}

func (s *scriptedChat) Chat(_ context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	cp := *req
	cp.Messages = append([]provider.Message(nil), req.Messages...)
	s.requests = append(s.requests, &cp)
	if s.onCall != nil {
		s.onCall()
	}
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return &provider.ChatResponse{}, nil
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return r, nil
}

type fakeMemory struct {
	recalled  []memory.Record
	turns     []memory.Turn
	onReflect func()
}

func (m *fakeMemory) Recall(context.Context, string, int) []memory.Record { return m.recalled }

func (m *fakeMemory) ReflectAndSave(_ context.Context, t memory.Turn) (string, bool) {
	m.turns = append(m.turns, t)
	if m.onReflect != nil {
		m.onReflect()
	}
	return "memory_test", true
}

func answer(s string) *provider.ChatResponse {
	return &provider.ChatResponse{Content: s, FinishReason: "stop"}
}

func toolCall(id, name, args string) *provider.ChatResponse {
	return &provider.ChatResponse{
		FinishReason: "tool_calls",
		ToolCalls: []provider.ToolCall{{
			ID:       id,
			Type:     "function",
			Function: provider.ToolCallFunction{Name: name, Arguments: args},
		}},
	}
}

func echoRegistry() *ToolRegistry {
	reg := NewToolRegistry()
	reg.Register(provider.Tool{Type: "function", Function: provider.ToolFunction{Name: "echo"}},
		func(_ context.Context, args string) (interface{}, error) {
			var p struct {
				Text string `json:"text"`
			}
			if err := decodeArgs(args, &p); err != nil {
				return nil, err
			}
			return map[string]string{"echo": p.Text}, nil
		})
	reg.Register(provider.Tool{Type: "function", Function: provider.ToolFunction{Name: "broken"}},
		func(context.Context, string) (interface{}, error) {
			return nil, errors.New("backend unavailable")
		})
	return reg
}

func newTestEngine(chat Chatter, mem Memory, opts Options) *Engine {
	return NewEngine(chat, echoRegistry(), mem, DefaultPersona(), opts, nil, zap.NewNop())
}

func TestTurnDirectAnswer(t *testing.T) {
	chat := &scriptedChat{responses: []*provider.ChatResponse{answer("안녕하세요!")}}
	mem := &fakeMemory{}
	e := newTestEngine(chat, mem, Options{})

	st, err := e.Turn(context.Background(), "안녕", nil)
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if st.FinalAnswer != "안녕하세요!" {
		t.Errorf("answer = %q", st.FinalAnswer)
	}
	if st.ToolUsed {
		t.Error("tool_used should be false")
	}
	if st.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", st.Iterations)
	}
	if len(mem.turns) != 1 || mem.turns[0].UserQuery != "안녕" || mem.turns[0].ToolUsed {
		t.Errorf("reflected turns = %+v", mem.turns)
	}
	if st.SavedMemoryID != "memory_test" {
		t.Errorf("saved id = %q", st.SavedMemoryID)
	}
	if len(chat.requests[0].Tools) != 2 {
		t.Errorf("tools offered = %d, want 2", len(chat.requests[0].Tools))
	}
}

func TestToolDispatchObservationMatchesCallID(t *testing.T) {
	chat := &scriptedChat{responses: []*provider.ChatResponse{
		toolCall("call_abc", "echo", `{"text":"hi"}`),
		answer("done"),
	}}
	mem := &fakeMemory{}
	e := newTestEngine(chat, mem, Options{})

	st, err := e.Turn(context.Background(), "echo hi", nil)
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if !st.ToolUsed {
		t.Error("tool_used should be true")
	}

	second := chat.requests[1].Messages
	last := second[len(second)-1]
	if last.Role != provider.RoleTool || last.ToolCallID != "call_abc" {
		t.Fatalf("last message = %+v", last)
	}
	var obs struct {
		OK     bool              `json:"ok"`
		Tool   string            `json:"tool"`
		Result map[string]string `json:"result"`
	}
	if err := json.Unmarshal([]byte(last.Content), &obs); err != nil {
		t.Fatalf("observation is not JSON: %v", err)
	}
	if !obs.OK || obs.Tool != "echo" || obs.Result["echo"] != "hi" {
		t.Errorf("observation = %+v", obs)
	}
	asst := second[len(second)-2]
	if asst.Role != provider.RoleAssistant || len(asst.ToolCalls) != 1 || asst.ToolCalls[0].ID != "call_abc" {
		t.Errorf("assistant message = %+v", asst)
	}
	if !mem.turns[0].ToolUsed {
		t.Error("reflection should see tool_used")
	}
}

func TestOnlyFirstToolCallHonoured(t *testing.T) {
	resp := toolCall("call_1", "echo", `{"text":"a"}`)
	resp.ToolCalls = append(resp.ToolCalls, provider.ToolCall{
		ID: "call_2", Type: "function",
		Function: provider.ToolCallFunction{Name: "echo", Arguments: `{"text":"b"}`},
	})
	chat := &scriptedChat{responses: []*provider.ChatResponse{resp, answer("ok")}}
	e := newTestEngine(chat, nil, Options{})

	if _, err := e.Turn(context.Background(), "q", nil); err != nil {
		t.Fatal(err)
	}
	msgs := chat.requests[1].Messages
	var toolMsgs int
	for _, m := range msgs {
		if m.Role == provider.RoleTool {
			toolMsgs++
		}
		if m.Role == provider.RoleAssistant && len(m.ToolCalls) != 1 {
			t.Errorf("assistant carries %d tool calls", len(m.ToolCalls))
		}
	}
	if toolMsgs != 1 {
		t.Errorf("tool messages = %d, want 1", toolMsgs)
	}
}

func TestFailedToolsBecomeObservations(t *testing.T) {
	for _, tc := range []struct {
		name, tool, wantErr string
	}{
		{"unknown", "nope", "unknown tool: nope"},
		{"handler error", "broken", "backend unavailable"},
		{"bad args", "echo", "invalid arguments"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			args := `{}`
			if tc.name == "bad args" {
				args = `{not json`
			}
			chat := &scriptedChat{responses: []*provider.ChatResponse{
				toolCall("c1", tc.tool, args),
				answer("sorry"),
			}}
			e := newTestEngine(chat, nil, Options{})
			st, err := e.Turn(context.Background(), "q", nil)
			if err != nil {
				t.Fatalf("tool failure must not fail the turn: %v", err)
			}
			if st.FinalAnswer != "sorry" {
				t.Errorf("answer = %q", st.FinalAnswer)
			}
			msgs := chat.requests[1].Messages
			var obs Observation
			if err := json.Unmarshal([]byte(msgs[len(msgs)-1].Content), &obs); err != nil {
				t.Fatal(err)
			}
			if obs.OK || !strings.Contains(obs.Error, tc.wantErr) {
				t.Errorf("observation = %+v, want error containing %q", obs, tc.wantErr)
			}
		})
	}
}

func TestIterationCapForcesFinalCall(t *testing.T) {
	var responses []*provider.ChatResponse
	for range 3 {
		responses = append(responses, toolCall("c", "echo", `{"text":"loop"}`))
	}
	responses = append(responses, answer("best effort"))
	chat := &scriptedChat{responses: responses}
	mem := &fakeMemory{}
	e := newTestEngine(chat, mem, Options{MaxIterations: 3})

	st, err := e.Turn(context.Background(), "q", nil)
	if err != nil {
		t.Fatal(err)
	}
	if st.FinalAnswer != "best effort" {
		t.Errorf("answer = %q", st.FinalAnswer)
	}
	if len(chat.requests) != 4 {
		t.Fatalf("chat calls = %d, want 4", len(chat.requests))
	}
	if last := chat.requests[3]; len(last.Tools) != 2 || last.ToolChoice != "none" {
		t.Errorf("final call tools=%d choice=%q, want declared tools with choice none", len(last.Tools), last.ToolChoice)
	}
	for i := range 3 {
		if chat.requests[i].ToolChoice != "auto" {
			t.Errorf("call %d choice = %q, want auto", i, chat.requests[i].ToolChoice)
		}
	}
	if len(mem.turns) != 1 {
		t.Error("best-effort answer should be reflected")
	}
}

func TestIterationCapUnresolved(t *testing.T) {
	chat := &scriptedChat{responses: []*provider.ChatResponse{
		toolCall("c", "echo", `{}`),
		toolCall("c", "echo", `{}`),
		{},
	}}
	mem := &fakeMemory{}
	e := newTestEngine(chat, mem, Options{MaxIterations: 2})

	st, err := e.Turn(context.Background(), "q", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Unresolved || st.Answer() != UnresolvedAnswer {
		t.Errorf("unresolved=%v answer=%q", st.Unresolved, st.Answer())
	}
	if len(mem.turns) != 0 {
		t.Error("unresolved turn must not be reflected")
	}
}

func TestEmptyResponseEndsWithFallback(t *testing.T) {
	chat := &scriptedChat{responses: []*provider.ChatResponse{{}}}
	mem := &fakeMemory{}
	e := newTestEngine(chat, mem, Options{})

	got, err := e.GetResponse(context.Background(), "q", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != FallbackAnswer {
		t.Errorf("answer = %q", got)
	}
	if len(mem.turns) != 0 {
		t.Error("turn without answer must not be reflected")
	}
}

func TestReasoningErrorPropagates(t *testing.T) {
	cause := errors.New("rate limited")
	chat := &scriptedChat{err: cause}
	mem := &fakeMemory{}
	e := newTestEngine(chat, mem, Options{})

	_, err := e.Turn(context.Background(), "q", nil)
	if !IsReasoningError(err) || !errors.Is(err, cause) {
		t.Fatalf("err = %v", err)
	}
	if len(mem.turns) != 0 {
		t.Error("failed turn must not be reflected")
	}
}

func TestCancellationStopsTurn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	chat := &scriptedChat{
		responses: []*provider.ChatResponse{toolCall("c", "echo", `{}`), answer("late")},
		onCall:    cancel,
	}
	mem := &fakeMemory{}
	e := newTestEngine(chat, mem, Options{})

	_, err := e.Turn(ctx, "q", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(chat.requests) != 1 {
		t.Errorf("chat calls = %d, want 1", len(chat.requests))
	}
	if len(mem.turns) != 0 {
		t.Error("cancelled turn must not be reflected")
	}
}

func TestCancellationAfterReflectionStillAnswers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	chat := &scriptedChat{responses: []*provider.ChatResponse{answer("hello")}}
	mem := &fakeMemory{onReflect: cancel}
	e := newTestEngine(chat, mem, Options{})

	st, err := e.Turn(ctx, "q", nil)
	if err != nil {
		t.Fatalf("err = %v, want the committed answer", err)
	}
	if st.FinalAnswer != "hello" || st.SavedMemoryID != "memory_test" {
		t.Errorf("answer=%q saved=%q", st.FinalAnswer, st.SavedMemoryID)
	}
	if len(mem.turns) != 1 {
		t.Errorf("reflections = %d, want 1", len(mem.turns))
	}
}

func TestCancellationBeforeReflectionSavesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	chat := &scriptedChat{responses: []*provider.ChatResponse{answer("hello")}, onCall: cancel}
	mem := &fakeMemory{}
	e := newTestEngine(chat, mem, Options{})

	if _, err := e.Turn(ctx, "q", nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(mem.turns) != 0 {
		t.Error("cancelled turn must not be reflected")
	}
}

func TestMemoriesInjectedIntoSystemMessage(t *testing.T) {
	chat := &scriptedChat{responses: []*provider.ChatResponse{answer("네")}}
	mem := &fakeMemory{recalled: []memory.Record{
		{UserQuery: "SF 좋아해", AssistantResponse: "기억할게요"},
	}}
	e := newTestEngine(chat, mem, Options{})

	st, err := e.Turn(context.Background(), "뭐 볼까", nil)
	if err != nil {
		t.Fatal(err)
	}
	sys := chat.requests[0].Messages[0]
	if sys.Role != provider.RoleSystem {
		t.Fatalf("first message role = %s", sys.Role)
	}
	if !strings.HasPrefix(sys.Content, DefaultPersona().SystemPrompt) ||
		!strings.Contains(sys.Content, "[Past Conversations]") ||
		!strings.Contains(sys.Content, "SF 좋아해") {
		t.Errorf("system message = %q", sys.Content)
	}
	if len(st.RelevantMemories) != 1 {
		t.Errorf("relevant memories = %d", len(st.RelevantMemories))
	}
}

func TestMemoriesPrependSystemMessageWhenAbsent(t *testing.T) {
	chat := &scriptedChat{responses: []*provider.ChatResponse{answer("네")}}
	mem := &fakeMemory{recalled: []memory.Record{{UserQuery: "a", AssistantResponse: "b"}}}
	e := newTestEngine(chat, mem, Options{})

	msgs := []provider.Message{{Role: provider.RoleUser, Content: "q"}}
	if _, err := e.Run(context.Background(), msgs, "q"); err != nil {
		t.Fatal(err)
	}
	got := chat.requests[0].Messages
	if len(got) != 2 || got[0].Role != provider.RoleSystem || got[1].Content != "q" {
		t.Errorf("messages = %+v", got)
	}
}

func TestGetResponseSkipsMalformedHistory(t *testing.T) {
	chat := &scriptedChat{responses: []*provider.ChatResponse{answer("ok")}}
	e := newTestEngine(chat, nil, Options{})

	history := []interface{}{
		[]interface{}{"첫 질문", "첫 답변"},
		"bare string",
		map[string]interface{}{"role": "user", "content": "두 번째"},
		42,
		map[string]string{"role": "assistant", "content": "두 번째 답"},
	}
	got, err := e.GetResponse(context.Background(), "세 번째", history)
	if err != nil {
		t.Fatal(err)
	}
	if got != "ok" {
		t.Errorf("answer = %q", got)
	}

	var contents []string
	for _, m := range chat.requests[0].Messages[1:] {
		contents = append(contents, m.Role+":"+m.Content)
	}
	want := []string{
		"user:첫 질문", "assistant:첫 답변",
		"user:두 번째", "assistant:두 번째 답",
		"user:세 번째",
	}
	if strings.Join(contents, "|") != strings.Join(want, "|") {
		t.Errorf("messages = %v, want %v", contents, want)
	}
}

func TestTraceRecordsTransitions(t *testing.T) {
	chat := &scriptedChat{responses: []*provider.ChatResponse{
		toolCall("c", "echo", `{"text":"x"}`),
		answer("done"),
	}}
	e := newTestEngine(chat, &fakeMemory{}, Options{})

	st, err := e.Turn(context.Background(), "q", nil)
	if err != nil {
		t.Fatal(err)
	}
	var types []string
	for _, s := range st.Trace.Steps {
		types = append(types, string(s.Type))
	}
	want := "reasoning,tool_call,tool_result,reasoning,reflection,response"
	if strings.Join(types, ",") != want {
		t.Errorf("trace = %v", types)
	}
}
