// Package tools declares the three capabilities exposed to the model and
// executes the server-side ones against the workbook adapter.
//
// readTable and writeCell run on the server; confirmAction deliberately has
// no handler here; the model's call is forwarded to the client unresolved
// and a human settles it through the confirmation flow.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"sheetchat/internal/llm"
)

// Tool names. The set and the parameter shapes are fixed; they are declared
// to the model on every turn.
const (
	ReadTable     = "readTable"
	WriteCell     = "writeCell"
	ConfirmAction = "confirmAction"
)

// Workbook is the slice of the tabular adapter the registry needs.
type Workbook interface {
	ListSheets() []string
	ReadAll(sheet string) ([][]string, error)
	ReadRange(sheet, rangeSpec string) ([][]string, error)
	WriteCell(sheet, cell, value string) error
}

// Registry owns the tool declarations and the server-side handlers.
type Registry struct {
	workbook Workbook
	logger   *slog.Logger
}

func NewRegistry(wb Workbook, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{workbook: wb, logger: logger}
}

// Declarations returns the tools advertised to the model.
func (r *Registry) Declarations() []llm.Tool {
	return []llm.Tool{
		{
			Name:        ReadTable,
			Description: "Read data from the spreadsheet. Safe and repeatable.",
			Parameters: llm.Schema{
				Type: "object",
				Properties: map[string]llm.Property{
					"sheet": {Type: "string", Description: "Sheet name to read"},
					"range": {Type: "string", Description: "Optional A1-style range like 'A1:B10'; omit for the whole sheet"},
				},
				Required: []string{"sheet"},
			},
		},
		{
			Name:        WriteCell,
			Description: "Update a single cell in the spreadsheet. REQUIRES user confirmation first via confirmAction.",
			Parameters: llm.Schema{
				Type: "object",
				Properties: map[string]llm.Property{
					"sheet": {Type: "string", Description: "Sheet name"},
					"cell":  {Type: "string", Description: "A1-style cell reference, e.g. 'B2'"},
					"value": {Type: "string", Description: "New cell value"},
				},
				Required: []string{"sheet", "cell", "value"},
			},
		},
		{
			Name:        ConfirmAction,
			Description: "Ask the user to confirm a dangerous action (update/delete) before performing it.",
			Parameters: llm.Schema{
				Type: "object",
				Properties: map[string]llm.Property{
					"action":  {Type: "string", Description: "The action awaiting confirmation", Enum: []string{"update", "delete"}},
					"message": {Type: "string", Description: "Question to show the user"},
					"sheet":   {Type: "string", Description: "Target sheet, when known"},
					"cell":    {Type: "string", Description: "Target cell, when known"},
					"value":   {Type: "string", Description: "Value to write, when known"},
				},
				Required: []string{"action", "message"},
			},
		},
	}
}

// ServerSide reports whether the named tool executes on the server.
// confirmAction does not: it suspends the turn for the client.
func (r *Registry) ServerSide(name string) bool {
	return name == ReadTable || name == WriteCell
}

// Execute runs a server-side tool call. Failures never escape as errors:
// every outcome is a structured result the model can react to, because a
// raised error inside tool execution would abort the whole streamed turn.
func (r *Registry) Execute(ctx context.Context, call llm.ToolCall) llm.ToolResult {
	var result any
	switch call.Name {
	case ReadTable:
		result = r.execReadTable(call.Args)
	case WriteCell:
		result = r.execWriteCell(call.Args)
	default:
		result = map[string]any{"error": fmt.Sprintf("unknown tool %q", call.Name)}
	}

	raw, err := json.Marshal(result)
	if err != nil {
		r.logger.Error("marshaling tool result", "tool", call.Name, "error", err)
		raw = json.RawMessage(`{"error":"internal: unencodable tool result"}`)
	}
	return llm.ToolResult{ToolCallID: call.ID, ToolName: call.Name, Result: raw}
}

type readTableArgs struct {
	Sheet string `json:"sheet"`
	Range string `json:"range"`
}

// ReadTableResult mirrors the structured payload returned for readTable.
type ReadTableResult struct {
	Data  [][]string `json:"data,omitempty"`
	Sheet string     `json:"sheet"`
	Range string     `json:"range"`
	Error string     `json:"error,omitempty"`
}

func (r *Registry) execReadTable(rawArgs json.RawMessage) ReadTableResult {
	var args readTableArgs
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return ReadTableResult{Error: fmt.Sprintf("invalid arguments: %v", err)}
	}

	res := ReadTableResult{Sheet: args.Sheet, Range: args.Range}
	if res.Range == "" {
		res.Range = "All"
	}

	var data [][]string
	var err error
	if args.Range == "" {
		data, err = r.workbook.ReadAll(args.Sheet)
	} else {
		data, err = r.workbook.ReadRange(args.Sheet, args.Range)
	}
	if err != nil {
		r.logger.Debug("readTable failed", "sheet", args.Sheet, "range", args.Range, "error", err)
		res.Error = err.Error()
		return res
	}
	res.Data = data
	return res
}

type writeCellArgs struct {
	Sheet string          `json:"sheet"`
	Cell  string          `json:"cell"`
	Value json.RawMessage `json:"value"`
}

// WriteCellResult mirrors the structured payload returned for writeCell.
type WriteCellResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (r *Registry) execWriteCell(rawArgs json.RawMessage) WriteCellResult {
	var args writeCellArgs
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return WriteCellResult{Success: false, Error: fmt.Sprintf("invalid arguments: %v", err)}
	}

	value, err := CoerceScalar(args.Value)
	if err != nil {
		return WriteCellResult{Success: false, Error: fmt.Sprintf("invalid value: %v", err)}
	}

	if err := r.workbook.WriteCell(args.Sheet, args.Cell, value); err != nil {
		r.logger.Error("writeCell failed", "sheet", args.Sheet, "cell", args.Cell, "error", err)
		return WriteCellResult{Success: false, Error: err.Error()}
	}
	return WriteCellResult{
		Success: true,
		Message: fmt.Sprintf("Updated %s!%s to %q", args.Sheet, args.Cell, value),
	}
}

// CoerceScalar renders a JSON scalar as the string the adapter writes. The
// schema says string, but models occasionally send bare numbers or booleans.
func CoerceScalar(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("value is required")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	switch val := v.(type) {
	case string:
		return val, nil
	case json.Number:
		return val.String(), nil
	case bool:
		return fmt.Sprintf("%t", val), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("value must be a scalar")
	}
}
