package agent

import (
	"fmt"

	"github.com/nidhogg/cinechat/internal/provider"
)

// ParseHistory reconstructs prior messages from loosely typed UI entries.
// Accepted shapes: a pair of [user, assistant] strings (extra elements are
// ignored), a role-tagged map with role user or assistant, or a
// provider.Message. Empty content and anything else is skipped.
func ParseHistory(entries []interface{}) []provider.Message {
	var out []provider.Message
	add := func(role, content string) {
		if content != "" {
			out = append(out, provider.Message{Role: role, Content: content})
		}
	}
	for _, e := range entries {
		switch v := e.(type) {
		case []string:
			if len(v) >= 2 {
				add(provider.RoleUser, v[0])
				add(provider.RoleAssistant, v[1])
			}
		case []interface{}:
			if len(v) >= 2 {
				add(provider.RoleUser, asString(v[0]))
				add(provider.RoleAssistant, asString(v[1]))
			}
		case map[string]string:
			if isChatRole(v["role"]) {
				add(v["role"], v["content"])
			}
		case map[string]interface{}:
			role := asString(v["role"])
			if isChatRole(role) {
				add(role, asString(v["content"]))
			}
		case provider.Message:
			if isChatRole(v.Role) {
				add(v.Role, v.Content)
			}
		}
	}
	return out
}

func isChatRole(role string) bool {
	return role == provider.RoleUser || role == provider.RoleAssistant
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}
