package agent

import (
	"github.com/nidhogg/cinechat/internal/memory"
	"github.com/nidhogg/cinechat/internal/provider"
	"github.com/nidhogg/cinechat/internal/rag"
)

// Phase is a state of the turn loop.
type Phase string

const (
	PhaseReasoning    Phase = "reasoning"
	PhaseToolDispatch Phase = "tool_dispatch"
	PhaseReflecting   Phase = "reflecting"
	PhaseTerminal     Phase = "terminal"
)

// ActionKind tags the variant held by an Action.
type ActionKind int

const (
	ActionToolCall ActionKind = iota + 1
	ActionFinalAnswer
)

// Action is what the last reasoning step asked for: a tool call or a final answer.
type Action struct {
	Kind   ActionKind
	Call   provider.ToolCall
	Answer string
}

// State is the per-turn record threaded through the loop.
// Messages, RetrievedContexts and RelevantMemories only grow.
type State struct {
	Messages          []provider.Message `json:"-"`
	UserQuery         string             `json:"user_query"`
	Pending           *Action            `json:"-"`
	RetrievedContexts []rag.Context      `json:"retrieved_contexts"`
	FinalAnswer       string             `json:"final_answer"`
	RelevantMemories  []memory.Record    `json:"relevant_memories"`
	SavedMemoryID     string             `json:"saved_memory_id,omitempty"`
	ToolUsed          bool               `json:"tool_used"`
	Unresolved        bool               `json:"unresolved,omitempty"`
	Iterations        int                `json:"iterations"`
	Trace             *Trace             `json:"trace"`
}

func (s *State) AppendMessages(msgs ...provider.Message) {
	s.Messages = append(s.Messages, msgs...)
}

func (s *State) AppendMemories(recs ...memory.Record) {
	s.RelevantMemories = append(s.RelevantMemories, recs...)
}

func (s *State) AppendContexts(ctxs ...rag.Context) {
	s.RetrievedContexts = append(s.RetrievedContexts, ctxs...)
}

// Answer returns the final answer, or FallbackAnswer when the turn produced none.
func (s *State) Answer() string {
	if s.FinalAnswer == "" {
		return FallbackAnswer
	}
	return s.FinalAnswer
}
