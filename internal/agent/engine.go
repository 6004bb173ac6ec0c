package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/nidhogg/cinechat/internal/memory"
	"github.com/nidhogg/cinechat/internal/metrics"
	"github.com/nidhogg/cinechat/internal/provider"
	"github.com/nidhogg/cinechat/internal/seen"
	"go.uber.org/zap"
)

const (
	DefaultMaxIterations = 8
	DefaultMemoryTopK    = 3
	defaultMaxTokens     = 2048
)

// Chatter is the reasoning capability. *provider.Router satisfies it.
type Chatter interface {
	Chat(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error)
}

// Memory recalls past turns and reflects on finished ones.
// *memory.Reflector satisfies it.
type Memory interface {
	Recall(ctx context.Context, query string, topK int) []memory.Record
	ReflectAndSave(ctx context.Context, t memory.Turn) (string, bool)
}

// ReasoningError wraps a failure of the reasoning capability. It always
// fails the turn.
type ReasoningError struct {
	Err error
}

func (e *ReasoningError) Error() string { return "reasoning: " + e.Err.Error() }
func (e *ReasoningError) Unwrap() error { return e.Err }

// Options tunes the turn loop.
type Options struct {
	Model         string  `json:"model"`
	Temperature   float64 `json:"temperature"`
	MaxTokens     int     `json:"max_tokens"`
	MaxIterations int     `json:"max_iterations"`
	MemoryTopK    int     `json:"memory_top_k"`
}

// Engine runs chat turns: reasoning, tool dispatch and reflection.
type Engine struct {
	chat    Chatter
	tools   *ToolRegistry
	memory  Memory
	persona Persona
	opts    Options
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewEngine creates an engine. mem and m may be nil.
func NewEngine(chat Chatter, tools *ToolRegistry, mem Memory, persona Persona, opts Options, m *metrics.Metrics, logger *zap.Logger) *Engine {
	if tools == nil {
		tools = NewToolRegistry()
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.MemoryTopK < 0 {
		opts.MemoryTopK = 0
	} else if opts.MemoryTopK == 0 {
		opts.MemoryTopK = DefaultMemoryTopK
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if persona.SystemPrompt == "" {
		persona = DefaultPersona()
	}
	return &Engine{
		chat:    chat,
		tools:   tools,
		memory:  mem,
		persona: persona,
		opts:    opts,
		metrics: m,
		logger:  logger,
	}
}

// Tools returns the engine's tool registry.
func (e *Engine) Tools() *ToolRegistry { return e.tools }

// Persona returns the assistant persona.
func (e *Engine) Persona() Persona { return e.persona }

// GetResponse answers userMessage given loosely typed history entries.
// See ParseHistory for the accepted shapes.
func (e *Engine) GetResponse(ctx context.Context, userMessage string, history []interface{}) (string, error) {
	st, err := e.Turn(ctx, userMessage, ParseHistory(history))
	if err != nil {
		return "", err
	}
	return st.Answer(), nil
}

// Turn runs one turn with the persona prompt, history and the new message.
func (e *Engine) Turn(ctx context.Context, userMessage string, history []provider.Message) (*State, error) {
	msgs := make([]provider.Message, 0, len(history)+2)
	msgs = append(msgs, provider.Message{Role: provider.RoleSystem, Content: e.persona.SystemPrompt})
	msgs = append(msgs, history...)
	msgs = append(msgs, provider.Message{Role: provider.RoleUser, Content: userMessage})
	return e.Run(ctx, msgs, userMessage)
}

// Run drives the state machine over an already assembled message list.
// Cancellation before reflection returns ctx.Err() and nothing is reflected;
// after reflection the answer is returned.
func (e *Engine) Run(ctx context.Context, messages []provider.Message, userQuery string) (*State, error) {
	st := &State{UserQuery: userQuery, Trace: newTrace(seen.SessionFrom(ctx))}
	defer st.Trace.finish()
	st.AppendMessages(messages...)

	e.recall(ctx, st)

	phase := PhaseReasoning
	for {
		// Once reflection has run the turn is committed and must be returned.
		if err := ctx.Err(); err != nil && phase != PhaseTerminal {
			e.metrics.ObserveTurn("cancelled", st.Iterations)
			return st, err
		}
		switch phase {
		case PhaseReasoning:
			next, err := e.reason(ctx, st)
			if err != nil {
				if ctx.Err() != nil {
					e.metrics.ObserveTurn("cancelled", st.Iterations)
					return st, ctx.Err()
				}
				e.metrics.ObserveTurn("error", st.Iterations)
				return st, err
			}
			phase = next
		case PhaseToolDispatch:
			e.dispatch(ctx, st)
			phase = PhaseReasoning
		case PhaseReflecting:
			e.reflect(ctx, st)
			phase = PhaseTerminal
		case PhaseTerminal:
			outcome := "answered"
			switch {
			case st.Unresolved:
				outcome = "unresolved"
			case st.FinalAnswer == "":
				outcome = "empty"
			}
			st.Trace.add(StepResponse, st.Answer(), nil)
			e.metrics.ObserveTurn(outcome, st.Iterations)
			return st, nil
		}
	}
}

// recall injects relevant long-term memories into the system message.
func (e *Engine) recall(ctx context.Context, st *State) {
	if e.memory == nil || e.opts.MemoryTopK == 0 || st.UserQuery == "" {
		return
	}
	recs := e.memory.Recall(ctx, st.UserQuery, e.opts.MemoryTopK)
	if len(recs) == 0 {
		return
	}
	st.AppendMemories(recs...)
	block := memory.FormatMemories(recs)
	if len(st.Messages) > 0 && st.Messages[0].Role == provider.RoleSystem {
		st.Messages[0].Content += block
	} else {
		sys := provider.Message{Role: provider.RoleSystem, Content: strings.TrimLeft(block, "\n")}
		st.Messages = append([]provider.Message{sys}, st.Messages...)
	}
	st.Trace.add(StepMemoryRecall, fmt.Sprintf("Recalled %d memories", len(recs)), nil)
}

// reason performs one Reasoning step and returns the next phase. Past the
// iteration cap it makes a single call that may not request tools.
func (e *Engine) reason(ctx context.Context, st *State) (Phase, error) {
	final := st.Iterations >= e.opts.MaxIterations
	st.Iterations++

	req := &provider.ChatRequest{
		Model:       e.opts.Model,
		Messages:    st.Messages,
		Temperature: e.opts.Temperature,
		MaxTokens:   e.opts.MaxTokens,
	}
	// The final call still declares tools because the history may carry
	// earlier tool traffic; "none" forbids new calls.
	if defs := e.tools.Definitions(); len(defs) > 0 {
		req.Tools = defs
		req.ToolChoice = "auto"
		if final {
			req.ToolChoice = "none"
		}
	}
	if final {
		st.Trace.add(StepReasoning, "Iteration cap reached, requesting final answer with tool calls disabled", nil)
	} else {
		st.Trace.add(StepReasoning, fmt.Sprintf("Reasoning step %d", st.Iterations), nil)
	}

	resp, err := e.chat.Chat(ctx, req)
	if err != nil {
		return PhaseTerminal, &ReasoningError{Err: err}
	}
	if n := len(st.Trace.Steps); n > 0 {
		st.Trace.Steps[n-1].TokensUsed = resp.Usage.TotalTokens
	}

	if !final && len(resp.ToolCalls) > 0 {
		call := resp.ToolCalls[0]
		if len(resp.ToolCalls) > 1 {
			e.logger.Debug("ignoring extra tool calls", zap.Int("requested", len(resp.ToolCalls)))
		}
		if call.ID == "" {
			call.ID = "call_" + uuid.New().String()
		}
		if call.Type == "" {
			call.Type = "function"
		}
		st.AppendMessages(provider.Message{
			Role:      provider.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: []provider.ToolCall{call},
		})
		st.Pending = &Action{Kind: ActionToolCall, Call: call}
		return PhaseToolDispatch, nil
	}

	if strings.TrimSpace(resp.Content) != "" {
		st.AppendMessages(provider.Message{Role: provider.RoleAssistant, Content: resp.Content})
		st.Pending = &Action{Kind: ActionFinalAnswer, Answer: resp.Content}
		st.FinalAnswer = resp.Content
		return PhaseReflecting, nil
	}

	st.Pending = nil
	if final {
		e.logger.Warn("turn unresolved after iteration cap", zap.Int("iterations", st.Iterations))
		st.FinalAnswer = UnresolvedAnswer
		st.Unresolved = true
	} else {
		e.logger.Warn("reasoning returned neither tool call nor content")
	}
	return PhaseTerminal, nil
}

// dispatch executes the pending tool call and appends its observation.
func (e *Engine) dispatch(ctx context.Context, st *State) {
	call := st.Pending.Call
	st.Pending = nil
	st.ToolUsed = true
	st.Trace.add(StepToolCall, call.Function.Name, call.Function.Arguments)

	obs := e.tools.Execute(ctx, call.Function.Name, call.Function.Arguments)
	if c, ok := obs.Result.(contextCarrier); ok {
		st.AppendContexts(c.retrieved()...)
	}
	e.metrics.ObserveTool(call.Function.Name, obs.OK)

	body, err := json.Marshal(obs)
	if err != nil {
		body, _ = json.Marshal(Observation{Tool: call.Function.Name, Error: "encode result: " + err.Error()})
	}
	st.AppendMessages(provider.Message{
		Role:       provider.RoleTool,
		Content:    string(body),
		ToolCallID: call.ID,
	})
	st.Trace.add(StepToolResult, truncateStr(string(body), 200), nil)
	if !obs.OK {
		e.logger.Info("tool failed", zap.String("tool", call.Function.Name), zap.String("error", obs.Error))
	}
}

func (e *Engine) reflect(ctx context.Context, st *State) {
	if e.memory == nil {
		return
	}
	id, saved := e.memory.ReflectAndSave(ctx, memory.Turn{
		UserQuery:         st.UserQuery,
		FinalAnswer:       st.FinalAnswer,
		ToolUsed:          st.ToolUsed,
		RetrievedContexts: len(st.RetrievedContexts),
	})
	e.metrics.ObserveReflection(saved)
	if saved {
		st.SavedMemoryID = id
		st.Trace.add(StepReflection, "Saved memory "+id, nil)
	} else {
		st.Trace.add(StepReflection, "Memory not saved", nil)
	}
}

// IsReasoningError reports whether err came from the reasoning capability.
func IsReasoningError(err error) bool {
	var re *ReasoningError
	return errors.As(err, &re)
}

func truncateStr(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
