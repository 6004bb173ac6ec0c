package memory

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	baseImportance    = 0.3
	toolBonus         = 0.3
	ragBonus          = 0.2
	longResponseBonus = 0.1
	preferenceBonus   = 0.2

	longResponseRunes  = 200
	recallPreviewRunes = 200
)

// DefaultMinImportance is the save floor. It equals the base score, so every
// turn that passes ShouldSave is stored unless the floor is raised.
const DefaultMinImportance = 0.3

// preferenceKeywords signal a stated taste worth remembering.
var preferenceKeywords = []string{
	"좋아", "선호", "싫어", "관심", "원해", "원하는", "기억",
	"like", "prefer", "dislike", "interested", "want", "remember",
}

// Backend is the part of the memory store the reflector depends on.
type Backend interface {
	Save(ctx context.Context, userQuery, assistantResponse string, mctx Context, importance float64) (string, error)
	Search(ctx context.Context, query string, topK int, minImportance float64) ([]Record, error)
}

// Turn summarizes a finished turn for reflection.
type Turn struct {
	UserQuery         string
	FinalAnswer       string
	ToolUsed          bool
	RetrievedContexts int
}

// Reflector decides whether a turn is worth remembering and persists it.
type Reflector struct {
	backend       Backend
	minImportance float64
	logger        *zap.Logger
}

// NewReflector creates a Reflector. minImportance <= 0 uses DefaultMinImportance.
func NewReflector(backend Backend, minImportance float64, logger *zap.Logger) *Reflector {
	if minImportance <= 0 {
		minImportance = DefaultMinImportance
	}
	return &Reflector{backend: backend, minImportance: minImportance, logger: logger}
}

// ShouldSave reports whether the turn has both a query and an answer.
func ShouldSave(t Turn) bool {
	return t.FinalAnswer != "" && t.UserQuery != ""
}

// ComputeImportance scores a turn in [0, 1]. Each signal only ever adds.
func ComputeImportance(userQuery, response string, mctx Context) float64 {
	score := baseImportance
	if mctx.ToolUsed {
		score += toolBonus
	}
	if mctx.RAGUsed {
		score += ragBonus
	}
	if utf8.RuneCountInString(response) > longResponseRunes {
		score += longResponseBonus
	}
	if hasPreference(userQuery) {
		score += preferenceBonus
	}
	if score > 1 {
		score = 1
	}
	return score
}

func hasPreference(query string) bool {
	q := strings.ToLower(query)
	for _, kw := range preferenceKeywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}

// ReflectAndSave persists the turn if it qualifies. Storage failures are
// logged and reported as not saved; they never fail the turn.
func (r *Reflector) ReflectAndSave(ctx context.Context, t Turn) (string, bool) {
	if !ShouldSave(t) {
		r.logger.Debug("reflection skipped: missing query or answer")
		return "", false
	}
	mctx := Context{
		ToolUsed:               t.ToolUsed,
		RAGUsed:                t.RetrievedContexts > 0,
		RetrievedContextsCount: t.RetrievedContexts,
	}
	importance := ComputeImportance(t.UserQuery, t.FinalAnswer, mctx)
	if importance < r.minImportance {
		r.logger.Debug("reflection skipped: low importance",
			zap.Float64("importance", importance),
			zap.Float64("floor", r.minImportance))
		return "", false
	}

	id, err := r.backend.Save(ctx, t.UserQuery, t.FinalAnswer, mctx, importance)
	if err != nil {
		r.logger.Warn("memory save failed", zap.Error(err))
		return "", false
	}
	return id, true
}

// Recall returns memories relevant to query. Search failures yield none.
func (r *Reflector) Recall(ctx context.Context, query string, topK int) []Record {
	records, err := r.backend.Search(ctx, query, topK, 0)
	if err != nil {
		r.logger.Warn("memory recall failed", zap.Error(err))
		return nil
	}
	r.logger.Debug("recalled memories", zap.Int("count", len(records)))
	return records
}

// FormatMemories renders recalled memories as a system prompt section.
func FormatMemories(records []Record) string {
	if len(records) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\n[Past Conversations]\n")
	for i, rec := range records {
		fmt.Fprintf(&b, "\n%d. User: %s\n", i+1, rec.UserQuery)
		fmt.Fprintf(&b, "   Assistant: %s...\n", truncateRunes(rec.AssistantResponse, recallPreviewRunes))
	}
	return b.String()
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
