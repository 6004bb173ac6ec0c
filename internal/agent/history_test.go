package agent

import (
	"testing"

	"github.com/nidhogg/cinechat/internal/provider"
)

func TestParseHistory(t *testing.T) {
	entries := []interface{}{
		[]string{"q1", ""},
		[]string{"only one"},
		map[string]interface{}{"role": "system", "content": "ignored"},
		map[string]interface{}{"role": "assistant", "content": nil},
		provider.Message{Role: provider.RoleTool, Content: "ignored"},
		provider.Message{Role: provider.RoleAssistant, Content: "a2"},
		nil,
		[]interface{}{"q3", "a3", "extra"},
	}
	got := ParseHistory(entries)
	want := []provider.Message{
		{Role: provider.RoleUser, Content: "q1"},
		{Role: provider.RoleAssistant, Content: "a2"},
		{Role: provider.RoleUser, Content: "q3"},
		{Role: provider.RoleAssistant, Content: "a3"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d messages, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i].Role != want[i].Role || got[i].Content != want[i].Content {
			t.Errorf("message %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestParseHistoryEmpty(t *testing.T) {
	if got := ParseHistory(nil); len(got) != 0 {
		t.Errorf("got %+v", got)
	}
}
