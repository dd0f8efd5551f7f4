// Package gemini implements the model capability over the Google GenAI API.
// The rest of the system reaches it through the narrow chat.Model interface;
// nothing outside this package knows the provider's wire format.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"

	"google.golang.org/genai"

	"sheetchat/internal/llm"
)

// Client streams Gemini responses for a message history plus declared tools.
type Client struct {
	ai    *genai.Client
	model string
}

// NewClient builds a client for the given API key and model name.
func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	ai, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &Client{ai: ai, model: model}, nil
}

// Stream starts one model invocation and returns an event stream of text
// deltas and tool calls. The caller must Close the stream.
func (c *Client) Stream(ctx context.Context, req llm.Request) (*Stream, error) {
	contents, err := toContents(req.Messages)
	if err != nil {
		return nil, err
	}

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: toDeclarations(req.Tools)}}
	}

	seq := c.ai.Models.GenerateContentStream(ctx, c.model, contents, cfg)
	next, stop := iter.Pull2(seq)
	return &Stream{next: next, stop: stop}, nil
}

// Stream adapts the SDK's response iterator to per-event pulls.
type Stream struct {
	next    func() (*genai.GenerateContentResponse, error, bool)
	stop    func()
	pending []llm.Event
	calls   int
}

// Next returns the next event, or io.EOF once the model turn is complete.
func (s *Stream) Next() (llm.Event, error) {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}

		resp, err, ok := s.next()
		if !ok {
			return llm.Event{}, io.EOF
		}
		if err != nil {
			return llm.Event{}, fmt.Errorf("model stream: %w", err)
		}
		if err := s.collect(resp); err != nil {
			return llm.Event{}, err
		}
	}
}

// Close releases the underlying iterator.
func (s *Stream) Close() {
	s.stop()
}

func (s *Stream) collect(resp *genai.GenerateContentResponse) error {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" {
			s.pending = append(s.pending, llm.Event{Type: llm.EventTextDelta, TextDelta: part.Text})
		}
		if part.FunctionCall != nil {
			call, err := toToolCall(part.FunctionCall, s.calls)
			if err != nil {
				return err
			}
			s.calls++
			s.pending = append(s.pending, llm.Event{Type: llm.EventToolCall, ToolCall: &call})
		}
	}
	return nil
}

func toToolCall(fc *genai.FunctionCall, ordinal int) (llm.ToolCall, error) {
	args, err := json.Marshal(fc.Args)
	if err != nil {
		return llm.ToolCall{}, fmt.Errorf("marshaling tool-call args: %w", err)
	}
	id := fc.ID
	if id == "" {
		id = fmt.Sprintf("call_%d", ordinal)
	}
	return llm.ToolCall{ID: id, Name: fc.Name, Args: args}, nil
}

func toContents(messages []llm.Message) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "assistant":
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, call := range m.ToolCalls {
				args, err := decodeArgs(call.Args)
				if err != nil {
					return nil, fmt.Errorf("decoding args for %s: %w", call.Name, err)
				}
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   call.ID,
					Name: call.Name,
					Args: args,
				}})
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
		case "tool":
			response, err := decodeResult(m.ToolResult)
			if err != nil {
				return nil, fmt.Errorf("decoding result for %s: %w", m.ToolName, err)
			}
			part := &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       m.ToolCallID,
				Name:     m.ToolName,
				Response: response,
			}}
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser))
		default:
			// user and system history entries both travel as user text.
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return contents, nil
}

func decodeArgs(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	return args, nil
}

// decodeResult turns an arbitrary JSON tool result into the object form the
// FunctionResponse API requires; non-object results are wrapped.
func decodeResult(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return map[string]any{"result": v}, nil
}

func toDeclarations(tools []llm.Tool) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  toSchema(t.Parameters),
		})
	}
	return decls
}

func toSchema(s llm.Schema) *genai.Schema {
	out := &genai.Schema{
		Type:     toType(s.Type),
		Required: s.Required,
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, p := range s.Properties {
			out.Properties[name] = &genai.Schema{
				Type:        toType(p.Type),
				Description: p.Description,
				Enum:        p.Enum,
			}
		}
	}
	return out
}

func toType(t string) genai.Type {
	switch t {
	case "object":
		return genai.TypeObject
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	default:
		return genai.TypeString
	}
}
