package mcputil

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"sheetchat/internal/workbook"
)

func newTestDeps(t *testing.T, strict bool) (Deps, *workbook.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "example.xlsx")
	if err := workbook.Seed(path); err != nil {
		t.Fatalf("workbook.Seed: %v", err)
	}
	wb := workbook.New(path)
	return Deps{Workbook: wb, StrictWrites: strict}, wb
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestMCPTool_ReadTable(t *testing.T) {
	deps, _ := newTestDeps(t, false)
	handler := mcpReadTable(deps)

	result, err := handler(context.Background(), makeCallToolRequest("read_table", map[string]interface{}{
		"sheet": "Sheet1",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var rows [][]string
	if err := json.Unmarshal([]byte(toolText(t, result)), &rows); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(rows))
	}
	if rows[0][0] != "Email" {
		t.Fatalf("unexpected header: %v", rows[0])
	}
}

func TestMCPTool_ReadTable_Range(t *testing.T) {
	deps, _ := newTestDeps(t, false)
	handler := mcpReadTable(deps)

	result, err := handler(context.Background(), makeCallToolRequest("read_table", map[string]interface{}{
		"sheet": "Sheet1",
		"range": "A2:B2",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var rows [][]string
	if err := json.Unmarshal([]byte(toolText(t, result)), &rows); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(rows) != 1 || rows[0][1] != "Alice" {
		t.Fatalf("unexpected rows: %v", rows)
	}
}

func TestMCPTool_ReadTable_UnknownSheet(t *testing.T) {
	deps, _ := newTestDeps(t, false)
	handler := mcpReadTable(deps)

	result, err := handler(context.Background(), makeCallToolRequest("read_table", map[string]interface{}{
		"sheet": "Nope",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for unknown sheet")
	}
}

func TestMCPTool_WriteCell(t *testing.T) {
	deps, wb := newTestDeps(t, false)
	handler := mcpWriteCell(deps)

	result, err := handler(context.Background(), makeCallToolRequest("write_cell", map[string]interface{}{
		"sheet": "Sheet1",
		"cell":  "C2",
		"value": "42",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	rows, err := wb.ReadRange("Sheet1", "C2:C2")
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if rows[0][0] != "42" {
		t.Fatalf("cell = %q, want 42", rows[0][0])
	}
}

func TestMCPTool_WriteCell_Strict(t *testing.T) {
	deps, wb := newTestDeps(t, true)
	handler := mcpWriteCell(deps)

	result, err := handler(context.Background(), makeCallToolRequest("write_cell", map[string]interface{}{
		"sheet": "Sheet1",
		"cell":  "C2",
		"value": "42",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected strict mode to reject the write")
	}

	rows, err := wb.ReadRange("Sheet1", "C2:C2")
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if rows[0][0] != "90" {
		t.Fatalf("cell = %q, want untouched value 90", rows[0][0])
	}
}

func TestMCPResource_Sheets(t *testing.T) {
	deps, _ := newTestDeps(t, false)
	handler := mcpResourceSheets(deps)

	contents, err := handler(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "workbook://sheets"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}

	var sheets []string
	if err := json.Unmarshal([]byte(text.Text), &sheets); err != nil {
		t.Fatalf("failed to parse sheets: %v", err)
	}
	if len(sheets) != 2 || sheets[0] != "Sheet1" || sheets[1] != "Summary" {
		t.Fatalf("sheets = %v", sheets)
	}
}
