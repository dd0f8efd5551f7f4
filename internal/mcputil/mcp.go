// Package mcputil exposes the spreadsheet over the Model Context Protocol
// so external MCP clients can inspect and edit the same workbook the chat
// assistant works on.
package mcputil

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Workbook abstracts spreadsheet access for the MCP layer.
type Workbook interface {
	ListSheets() []string
	ReadAll(sheet string) ([][]string, error)
	ReadRange(sheet, rangeSpec string) ([][]string, error)
	WriteCell(sheet, cell, value string) error
}

// Deps holds dependencies for the MCP server.
type Deps struct {
	Workbook Workbook

	// StrictWrites rejects write_cell entirely; in that mode all
	// mutations must go through the chat confirmation flow.
	StrictWrites bool
}

// NewServer creates an MCP server with the spreadsheet tools and
// resources registered.
func NewServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"sheetchat",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("sheetchat — read and edit the shared spreadsheet workbook."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("read_table",
			mcp.WithDescription("Read spreadsheet data as a JSON array of rows."),
			mcp.WithString("sheet", mcp.Description("Sheet name"), mcp.Required()),
			mcp.WithString("range", mcp.Description("Optional A1 range like A1:C10; omit for the whole sheet")),
		),
		mcpReadTable(deps),
	)

	s.AddTool(
		mcp.NewTool("write_cell",
			mcp.WithDescription("Write a single cell of the spreadsheet."),
			mcp.WithString("sheet", mcp.Description("Sheet name"), mcp.Required()),
			mcp.WithString("cell", mcp.Description("Cell reference like B4"), mcp.Required()),
			mcp.WithString("value", mcp.Description("Value to write; numeric strings are stored as numbers"), mcp.Required()),
		),
		mcpWriteCell(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"workbook://sheets",
			"Workbook Sheets",
			mcp.WithResourceDescription("Names of the sheets in the workbook as a JSON array"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSheets(deps),
	)

	return s
}

func mcpReadTable(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sheet, err := req.RequireString("sheet")
		if err != nil {
			return mcpError("sheet is required"), nil
		}
		rangeSpec := req.GetString("range", "")

		var rows [][]string
		if rangeSpec == "" {
			rows, err = deps.Workbook.ReadAll(sheet)
		} else {
			rows, err = deps.Workbook.ReadRange(sheet, rangeSpec)
		}
		if err != nil {
			return mcpError(fmt.Sprintf("read failed: %v", err)), nil
		}

		if len(rows) == 0 {
			return mcpText("[]"), nil
		}
		b, err := json.Marshal(rows)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal rows: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpWriteCell(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.StrictWrites {
			return mcpError("writes are disabled; use the chat confirmation flow"), nil
		}

		sheet, err := req.RequireString("sheet")
		if err != nil {
			return mcpError("sheet is required"), nil
		}
		cell, err := req.RequireString("cell")
		if err != nil {
			return mcpError("cell is required"), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}

		if err := deps.Workbook.WriteCell(sheet, cell, value); err != nil {
			return mcpError(fmt.Sprintf("write failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Successfully updated %s!%s to %q", sheet, cell, value)), nil
	}
}

func mcpResourceSheets(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		sheets := deps.Workbook.ListSheets()
		if sheets == nil {
			sheets = []string{}
		}
		b, err := json.Marshal(sheets)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal sheet list: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
