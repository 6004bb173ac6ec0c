package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nidhogg/cinechat/internal/provider"
)

// ToolHandler executes a tool call with its raw JSON arguments.
type ToolHandler func(ctx context.Context, args string) (interface{}, error)

// Observation is the tool-role message body fed back to the model.
type Observation struct {
	OK     bool        `json:"ok"`
	Tool   string      `json:"tool"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// ToolRegistry holds available tools and their handlers.
type ToolRegistry struct {
	defs     []provider.Tool
	handlers map[string]ToolHandler
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		handlers: make(map[string]ToolHandler),
	}
}

// Register adds a tool definition and its handler.
func (r *ToolRegistry) Register(def provider.Tool, handler ToolHandler) {
	r.defs = append(r.defs, def)
	r.handlers[def.Function.Name] = handler
}

// Definitions returns all tool definitions for the LLM request.
func (r *ToolRegistry) Definitions() []provider.Tool {
	return r.defs
}

// Execute runs a tool by name. Unknown tools, handler errors and panics
// all come back as a failed Observation.
func (r *ToolRegistry) Execute(ctx context.Context, name, args string) (obs Observation) {
	obs.Tool = name
	h, ok := r.handlers[name]
	if !ok {
		obs.Error = fmt.Sprintf("unknown tool: %s", name)
		return obs
	}
	defer func() {
		if p := recover(); p != nil {
			obs = Observation{Tool: name, Error: fmt.Sprintf("tool panicked: %v", p)}
		}
	}()
	result, err := h(ctx, args)
	if err != nil {
		obs.Error = err.Error()
		return obs
	}
	obs.OK = true
	obs.Result = result
	return obs
}

// decodeArgs unmarshals tool arguments, treating an empty string as {}.
func decodeArgs(args string, v interface{}) error {
	if args == "" {
		args = "{}"
	}
	if err := json.Unmarshal([]byte(args), v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
