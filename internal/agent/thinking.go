package agent

import (
	"time"

	"github.com/google/uuid"
)

// StepType identifies the kind of trace step.
type StepType string

const (
	StepMemoryRecall StepType = "memory_recall"
	StepReasoning    StepType = "reasoning"
	StepToolCall     StepType = "tool_call"
	StepToolResult   StepType = "tool_result"
	StepReflection   StepType = "reflection"
	StepResponse     StepType = "response"
)

// Trace records every state transition of one turn.
type Trace struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id,omitempty"`
	Steps     []TraceStep   `json:"steps"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// TraceStep is a single step in the trace.
type TraceStep struct {
	Type       StepType    `json:"type"`
	Content    string      `json:"content"`
	Detail     interface{} `json:"detail,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	TokensUsed int         `json:"tokens_used,omitempty"`
}

func newTrace(sessionID string) *Trace {
	return &Trace{ID: uuid.New().String(), SessionID: sessionID, StartedAt: time.Now()}
}

func (t *Trace) add(typ StepType, content string, detail interface{}) {
	t.Steps = append(t.Steps, TraceStep{Type: typ, Content: content, Detail: detail, Timestamp: time.Now()})
}

func (t *Trace) finish() {
	t.Duration = time.Since(t.StartedAt)
}
