package llm

// EventType discriminates entries of a streamed model turn.
type EventType string

const (
	// EventTextDelta carries an incremental chunk of assistant text.
	EventTextDelta EventType = "text-delta"
	// EventToolCall announces a tool invocation requested by the model.
	// Server-executed tools are resolved in-stream; confirmAction arrives
	// with no result and suspends until a human responds.
	EventToolCall EventType = "tool-call"
	// EventToolResult carries the structured outcome of an executed call.
	EventToolResult EventType = "tool-result"
	// EventError reports a turn-level failure the client should render inline.
	EventError EventType = "error"
	// EventDone closes a turn.
	EventDone EventType = "done"
)

// Event is one element of the stream delivered to the chat client.
type Event struct {
	Type       EventType   `json:"type"`
	TextDelta  string      `json:"textDelta,omitempty"`
	ToolCall   *ToolCall   `json:"toolCall,omitempty"`
	ToolResult *ToolResult `json:"toolResult,omitempty"`
	// ConfirmationToken accompanies a confirmAction tool call; the client
	// presents it when taking the direct mutation path.
	ConfirmationToken string `json:"confirmationToken,omitempty"`
	Error             string `json:"error,omitempty"`
}

// Sink consumes stream events. The HTTP layer implements it with an SSE
// writer; tests implement it with a slice collector.
type Sink interface {
	Send(Event) error
}
