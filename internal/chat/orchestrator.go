// Package chat drives one conversation turn: persist the user message,
// backfill the thread title, stream the model with the declared tools,
// execute server-side tool calls inline, and persist the assistant's final
// text. Tool-call state is stream-local; only message text (and confirmation
// reports) survive in storage.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"sheetchat/internal/confirm"
	"sheetchat/internal/llm"
	"sheetchat/internal/storage"
	"sheetchat/internal/tools"
)

// maxToolRounds bounds server-side tool round trips per turn, so a
// misbehaving model cannot loop forever. Exceeding it ends the turn with
// whatever text has been produced.
const maxToolRounds = 5

const titleLimit = 50

var (
	// ErrMissingAPIKey marks a turn refused because no upstream credential
	// is configured. Surfaced as a 500-class failure before any model call.
	ErrMissingAPIKey = errors.New("missing Gemini API key")
	// ErrInvalidTurn marks a malformed turn request (400-class).
	ErrInvalidTurn = errors.New("invalid turn request")
)

// ModelStream yields the events of one model invocation.
type ModelStream interface {
	Next() (llm.Event, error)
	Close()
}

// Model is the language-model capability: given a system prompt, history and
// tool declarations, produce a stream of text deltas and tool calls.
type Model interface {
	Stream(ctx context.Context, req llm.Request) (ModelStream, error)
}

// ModelFunc adapts a function to the Model interface.
type ModelFunc func(ctx context.Context, req llm.Request) (ModelStream, error)

func (f ModelFunc) Stream(ctx context.Context, req llm.Request) (ModelStream, error) {
	return f(ctx, req)
}

// ToolExecutor is the slice of the registry the orchestrator needs.
type ToolExecutor interface {
	Declarations() []llm.Tool
	ServerSide(name string) bool
	Execute(ctx context.Context, call llm.ToolCall) llm.ToolResult
}

// SheetLister feeds the sheet inventory into the system prompt.
type SheetLister interface {
	ListSheets() []string
}

// Confirmer registers pending confirmation cards for out-of-band resolution.
type Confirmer interface {
	Register(confirm.Card) confirm.Card
}

// IncomingMessage is one history entry submitted by the client. Content is
// raw JSON: plain strings are the common case, structured content is
// serialized verbatim.
type IncomingMessage struct {
	ID      string          `json:"id,omitempty"`
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// TurnRequest is the payload of one POST /chat.
type TurnRequest struct {
	ThreadID string            `json:"threadId"`
	Messages []IncomingMessage `json:"messages"`
}

// Orchestrator runs conversation turns.
type Orchestrator struct {
	store    *storage.Store
	sheets   SheetLister
	registry ToolExecutor
	confirms Confirmer
	model    Model // nil when no API key is configured
	logger   *slog.Logger
}

func NewOrchestrator(store *storage.Store, sheets SheetLister, registry ToolExecutor, confirms Confirmer, model Model, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:    store,
		sheets:   sheets,
		registry: registry,
		confirms: confirms,
		model:    model,
		logger:   logger,
	}
}

// Run executes one turn, writing stream events to sink. Errors returned
// before the first event are classified with ErrInvalidTurn / ErrMissingAPIKey
// so the HTTP layer can map them; once streaming has begun, failures are
// delivered as error events and Run returns nil.
func (o *Orchestrator) Run(ctx context.Context, req TurnRequest, sink llm.Sink) error {
	if req.ThreadID == "" {
		return fmt.Errorf("%w: threadId is required", ErrInvalidTurn)
	}
	if len(req.Messages) == 0 {
		return fmt.Errorf("%w: messages must not be empty", ErrInvalidTurn)
	}
	if o.model == nil {
		return ErrMissingAPIKey
	}

	thread, err := o.store.GetThread(req.ThreadID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: unknown thread %q", ErrInvalidTurn, req.ThreadID)
		}
		return fmt.Errorf("loading thread: %w", err)
	}

	last := req.Messages[len(req.Messages)-1]
	lastText, isText := contentText(last.Content)

	// Persist the incoming user message before touching the model; a failed
	// turn still leaves the user's words in the transcript.
	if last.Role == storage.RoleUser {
		id := last.ID
		if id == "" {
			id = uuid.New().String()
		}
		content := lastText
		if !isText {
			content = string(last.Content)
		}
		if err := o.store.SaveMessage(storage.Message{
			ID:       id,
			ThreadID: req.ThreadID,
			Role:     storage.RoleUser,
			Content:  content,
		}); err != nil {
			return fmt.Errorf("persisting user message: %w", err)
		}

		o.backfillTitle(thread, lastText, isText)
	}

	history := o.toHistory(req.Messages)
	o.streamTurn(ctx, req.ThreadID, history, sink)
	return nil
}

// backfillTitle sets the thread title from the first user message. Re-runs
// every turn but is a no-op once the title is non-empty.
func (o *Orchestrator) backfillTitle(thread storage.Thread, text string, isText bool) {
	if thread.Title != "" {
		return
	}
	title := "New Chat"
	if isText && strings.TrimSpace(text) != "" {
		title = truncateRunes(text, titleLimit)
	}
	if err := o.store.UpdateThreadTitle(thread.ID, title); err != nil {
		o.logger.Error("backfilling thread title", "thread", thread.ID, "error", err)
	}
}

// streamTurn runs the bounded model/tool loop. All failures past this point
// become error events: an aborted transport would leave the client with a
// broken stream instead of a renderable message.
func (o *Orchestrator) streamTurn(ctx context.Context, threadID string, history []llm.Message, sink llm.Sink) {
	var final strings.Builder

	for round := 0; ; round++ {
		stream, err := o.model.Stream(ctx, llm.Request{
			System:   systemPrompt(o.sheets.ListSheets()),
			Messages: history,
			Tools:    o.registry.Declarations(),
		})
		if err != nil {
			o.failTurn(sink, err)
			return
		}

		roundText, calls, err := o.drain(stream, sink)
		stream.Close()
		if err != nil {
			o.failTurn(sink, err)
			return
		}

		if roundText != "" {
			if final.Len() > 0 {
				final.WriteString("\n\n")
			}
			final.WriteString(roundText)
		}

		serverCalls, suspended, err := o.splitCalls(threadID, calls, sink)
		if err != nil {
			o.logger.Debug("client went away mid-turn", "thread", threadID, "error", err)
			return
		}

		// Server-side calls always execute, even when the same round also
		// raised a confirmation: every forwarded call must get a result.
		if len(serverCalls) > 0 {
			assistant := llm.Message{Role: storage.RoleAssistant, Content: roundText, ToolCalls: serverCalls}
			history = append(history, assistant)
			for _, call := range serverCalls {
				result := o.registry.Execute(ctx, call)
				if err := sink.Send(llm.Event{Type: llm.EventToolResult, ToolResult: &result}); err != nil {
					o.logger.Debug("client went away mid-turn", "thread", threadID, "error", err)
					return
				}
				history = append(history, llm.Message{
					Role:       storage.RoleTool,
					ToolCallID: result.ToolCallID,
					ToolName:   result.ToolName,
					ToolResult: result.Result,
				})
			}
		}

		if suspended || len(serverCalls) == 0 {
			break
		}
		if round+1 >= maxToolRounds {
			o.logger.Warn("tool round limit reached, ending turn", "thread", threadID, "rounds", maxToolRounds)
			break
		}
	}

	// Tool-only turns persist nothing; the transcript waits for real text.
	if text := final.String(); text != "" {
		if err := o.store.SaveMessage(storage.Message{
			ID:       uuid.New().String(),
			ThreadID: threadID,
			Role:     storage.RoleAssistant,
			Content:  text,
		}); err != nil {
			o.logger.Error("persisting assistant message", "thread", threadID, "error", err)
		}
	}

	sink.Send(llm.Event{Type: llm.EventDone})
}

// drain consumes one model stream, forwarding text deltas and collecting
// tool calls.
func (o *Orchestrator) drain(stream ModelStream, sink llm.Sink) (string, []llm.ToolCall, error) {
	var text strings.Builder
	var calls []llm.ToolCall

	for {
		ev, err := stream.Next()
		if err == io.EOF {
			return text.String(), calls, nil
		}
		if err != nil {
			return "", nil, err
		}

		switch ev.Type {
		case llm.EventTextDelta:
			text.WriteString(ev.TextDelta)
			if err := sink.Send(ev); err != nil {
				return "", nil, err
			}
		case llm.EventToolCall:
			if ev.ToolCall != nil {
				calls = append(calls, *ev.ToolCall)
			}
		}
	}
}

// splitCalls forwards every tool call to the client, registers confirmAction
// cards, and returns the server-side calls. suspended is true when a
// confirmAction reached the client: after this round's server-side calls
// resolve, the turn ends and the human's answer arrives out-of-band. A send
// error means the client is gone and the turn should stop.
func (o *Orchestrator) splitCalls(threadID string, calls []llm.ToolCall, sink llm.Sink) (serverCalls []llm.ToolCall, suspended bool, err error) {
	for _, call := range calls {
		call := call
		ev := llm.Event{Type: llm.EventToolCall, ToolCall: &call}

		if o.registry.ServerSide(call.Name) {
			serverCalls = append(serverCalls, call)
		} else if call.Name == tools.ConfirmAction {
			card := o.registerCard(threadID, call)
			ev.ConfirmationToken = card.Token
			suspended = true
		}
		if err := sink.Send(ev); err != nil {
			return nil, false, err
		}
	}
	return serverCalls, suspended, nil
}

func (o *Orchestrator) registerCard(threadID string, call llm.ToolCall) confirm.Card {
	var args struct {
		Action  string `json:"action"`
		Message string `json:"message"`
		Sheet   string `json:"sheet"`
		Cell    string `json:"cell"`
		Value   string `json:"value"`
	}
	if err := json.Unmarshal(call.Args, &args); err != nil {
		o.logger.Warn("malformed confirmAction args", "thread", threadID, "error", err)
	}
	return o.confirms.Register(confirm.Card{
		ID:       call.ID,
		ThreadID: threadID,
		Action:   args.Action,
		Message:  args.Message,
		Sheet:    args.Sheet,
		Cell:     args.Cell,
		Value:    args.Value,
	})
}

func (o *Orchestrator) failTurn(sink llm.Sink, err error) {
	o.logger.Error("model turn failed", "error", err)
	sink.Send(llm.Event{Type: llm.EventError, Error: err.Error()})
	sink.Send(llm.Event{Type: llm.EventDone})
}

// toHistory converts client-submitted messages to the model history. Tool
// reports written by the confirmation flow round-trip through the client as
// role "tool" with a JSON body.
func (o *Orchestrator) toHistory(messages []IncomingMessage) []llm.Message {
	history := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		text, isText := contentText(m.Content)
		if !isText {
			text = string(m.Content)
		}

		if m.Role == storage.RoleTool {
			history = append(history, toolReportMessage(text))
			continue
		}
		history = append(history, llm.Message{Role: m.Role, Content: text})
	}
	return history
}

// toolReportMessage parses a persisted confirmation report back into a tool
// message. Unparseable bodies are wrapped rather than dropped.
func toolReportMessage(content string) llm.Message {
	var report struct {
		ToolCallID string          `json:"toolCallId"`
		ToolName   string          `json:"toolName"`
		Result     json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal([]byte(content), &report); err == nil && report.ToolName != "" {
		return llm.Message{
			Role:       storage.RoleTool,
			ToolCallID: report.ToolCallID,
			ToolName:   report.ToolName,
			ToolResult: report.Result,
		}
	}
	wrapped, _ := json.Marshal(map[string]string{"result": content})
	return llm.Message{Role: storage.RoleTool, ToolName: tools.ConfirmAction, ToolResult: wrapped}
}

// contentText extracts plain text content; ok is false for structured
// (non-string) content.
func contentText(raw json.RawMessage) (text string, ok bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
