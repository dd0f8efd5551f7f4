// Package llm holds the wire types shared by the model client, the tool
// registry, and the conversation orchestrator.
package llm

import "encoding/json"

// Message is one entry of the conversation history sent to the model.
// Assistant messages may carry tool calls; tool messages carry the structured
// result for one call.
type Message struct {
	Role       string          `json:"role"`
	Content    string          `json:"content,omitempty"`
	ToolCalls  []ToolCall      `json:"toolCalls,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	ToolResult json.RawMessage `json:"toolResult,omitempty"`
}

// Tool declares one callable capability to the model.
type Tool struct {
	Name        string
	Description string
	Parameters  Schema
}

// Schema is a minimal JSON-schema object description, enough for flat tool
// parameter records.
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// Property describes a single schema field.
type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ToolResult is the structured outcome of one executed tool call.
type ToolResult struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Result     json.RawMessage `json:"result"`
}

// Request is one model invocation: a system prompt, the running history, and
// the declared tools.
type Request struct {
	System   string
	Messages []Message
	Tools    []Tool
}
