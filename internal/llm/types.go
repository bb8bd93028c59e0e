// Package llm provides LLM client implementations.
package llm

import (
	"log/slog"
	"time"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message represents a chat message for the LLM.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
}

// ToolCall represents a tool call from the model.
type ToolCall struct {
	ID       string `json:"id,omitempty"` // Provider-assigned ID (required by Anthropic for tool_result correlation)
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

// ToolDef describes a tool made available to the model.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

// ChatResponse is the unified response from an LLM provider.
// All fields use proper Go types; wire format conversion happens
// at the provider boundary (anthropic.go).
type ChatResponse struct {
	Model     string
	CreatedAt time.Time
	Message   Message

	// StopReason is why the model stopped: "end_turn", "tool_use",
	// "max_tokens", or "stop_sequence".
	StopReason string

	// Token usage (provider-neutral)
	InputTokens  int
	OutputTokens int
}
