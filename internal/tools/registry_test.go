package tools

import (
	"context"
	"encoding/json"
	"testing"

	"sheetchat/internal/llm"
	"sheetchat/internal/workbook"
)

// fakeWorkbook records writes and serves a fixed grid.
type fakeWorkbook struct {
	sheets []string
	grid   [][]string
	err    error

	wroteSheet, wroteCell, wroteValue string
	writes                            int
}

func (f *fakeWorkbook) ListSheets() []string { return f.sheets }

func (f *fakeWorkbook) ReadAll(sheet string) ([][]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.grid, nil
}

func (f *fakeWorkbook) ReadRange(sheet, rangeSpec string) ([][]string, error) {
	return f.ReadAll(sheet)
}

func (f *fakeWorkbook) WriteCell(sheet, cell, value string) error {
	if f.err != nil {
		return f.err
	}
	f.writes++
	f.wroteSheet, f.wroteCell, f.wroteValue = sheet, cell, value
	return nil
}

func TestDeclarationsFixedSet(t *testing.T) {
	r := NewRegistry(&fakeWorkbook{}, nil)

	decls := r.Declarations()
	if len(decls) != 3 {
		t.Fatalf("got %d tools, want 3", len(decls))
	}

	names := map[string]bool{}
	for _, d := range decls {
		names[d.Name] = true
	}
	for _, want := range []string{ReadTable, WriteCell, ConfirmAction} {
		if !names[want] {
			t.Errorf("missing declaration %q", want)
		}
	}
}

func TestServerSide(t *testing.T) {
	r := NewRegistry(&fakeWorkbook{}, nil)

	if !r.ServerSide(ReadTable) || !r.ServerSide(WriteCell) {
		t.Error("readTable/writeCell must be server-side")
	}
	if r.ServerSide(ConfirmAction) {
		t.Error("confirmAction must not be server-side")
	}
}

func TestExecuteReadTableWholeSheet(t *testing.T) {
	wb := &fakeWorkbook{grid: [][]string{{"Email", "Name"}, {"a@x.com", "Alice"}}}
	r := NewRegistry(wb, nil)

	call := llm.ToolCall{ID: "call_0", Name: ReadTable, Args: json.RawMessage(`{"sheet":"Sheet1"}`)}
	res := r.Execute(context.Background(), call)

	var out ReadTableResult
	if err := json.Unmarshal(res.Result, &out); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if out.Error != "" {
		t.Fatalf("unexpected error: %s", out.Error)
	}
	if out.Range != "All" {
		t.Errorf("range = %q, want All", out.Range)
	}
	if len(out.Data) != 2 || out.Data[1][1] != "Alice" {
		t.Errorf("data = %v", out.Data)
	}
}

func TestExecuteReadTableMissingSheet(t *testing.T) {
	wb := &fakeWorkbook{err: workbook.ErrNotFound}
	r := NewRegistry(wb, nil)

	call := llm.ToolCall{ID: "call_0", Name: ReadTable, Args: json.RawMessage(`{"sheet":"Nope","range":"A1:B2"}`)}
	res := r.Execute(context.Background(), call)

	var out ReadTableResult
	if err := json.Unmarshal(res.Result, &out); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if out.Error == "" {
		t.Error("want structured error for missing sheet")
	}
	if out.Sheet != "Nope" || out.Range != "A1:B2" {
		t.Errorf("echoed args = %q %q", out.Sheet, out.Range)
	}
}

func TestExecuteWriteCell(t *testing.T) {
	wb := &fakeWorkbook{}
	r := NewRegistry(wb, nil)

	call := llm.ToolCall{ID: "call_1", Name: WriteCell, Args: json.RawMessage(`{"sheet":"Sheet1","cell":"B2","value":"42"}`)}
	res := r.Execute(context.Background(), call)

	var out WriteCellResult
	if err := json.Unmarshal(res.Result, &out); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if !out.Success {
		t.Fatalf("write failed: %s", out.Error)
	}
	if wb.wroteSheet != "Sheet1" || wb.wroteCell != "B2" || wb.wroteValue != "42" {
		t.Errorf("write = (%q, %q, %q)", wb.wroteSheet, wb.wroteCell, wb.wroteValue)
	}
}

func TestExecuteWriteCellNumericValue(t *testing.T) {
	wb := &fakeWorkbook{}
	r := NewRegistry(wb, nil)

	call := llm.ToolCall{ID: "call_1", Name: WriteCell, Args: json.RawMessage(`{"sheet":"Sheet1","cell":"C3","value":99.5}`)}
	res := r.Execute(context.Background(), call)

	var out WriteCellResult
	if err := json.Unmarshal(res.Result, &out); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if !out.Success {
		t.Fatalf("write failed: %s", out.Error)
	}
	if wb.wroteValue != "99.5" {
		t.Errorf("value = %q, want 99.5 (no float mangling)", wb.wroteValue)
	}
}

func TestExecuteWriteCellFailureIsStructured(t *testing.T) {
	wb := &fakeWorkbook{err: workbook.ErrNotFound}
	r := NewRegistry(wb, nil)

	call := llm.ToolCall{ID: "call_1", Name: WriteCell, Args: json.RawMessage(`{"sheet":"Gone","cell":"B2","value":"x"}`)}
	res := r.Execute(context.Background(), call)

	var out WriteCellResult
	if err := json.Unmarshal(res.Result, &out); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if out.Success || out.Error == "" {
		t.Errorf("want structured failure, got %+v", out)
	}
}

func TestExecuteMalformedArgs(t *testing.T) {
	r := NewRegistry(&fakeWorkbook{}, nil)

	call := llm.ToolCall{ID: "call_2", Name: WriteCell, Args: json.RawMessage(`{not json`)}
	res := r.Execute(context.Background(), call)

	var out WriteCellResult
	if err := json.Unmarshal(res.Result, &out); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if out.Success || out.Error == "" {
		t.Errorf("want structured failure for malformed args, got %+v", out)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	r := NewRegistry(&fakeWorkbook{}, nil)

	res := r.Execute(context.Background(), llm.ToolCall{ID: "x", Name: "dropTable"})

	var out map[string]any
	if err := json.Unmarshal(res.Result, &out); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if out["error"] == nil {
		t.Errorf("want error payload, got %v", out)
	}
}

func TestCoerceScalar(t *testing.T) {
	cases := []struct {
		raw  string
		want string
		ok   bool
	}{
		{`"hello"`, "hello", true},
		{`42`, "42", true},
		{`99.5`, "99.5", true},
		{`true`, "true", true},
		{`null`, "", true},
		{`{"nested":1}`, "", false},
		{`[1,2]`, "", false},
	}
	for _, c := range cases {
		got, err := CoerceScalar(json.RawMessage(c.raw))
		if c.ok && err != nil {
			t.Errorf("CoerceScalar(%s) error: %v", c.raw, err)
			continue
		}
		if !c.ok && err == nil {
			t.Errorf("CoerceScalar(%s) succeeded, want error", c.raw)
			continue
		}
		if got != c.want {
			t.Errorf("CoerceScalar(%s) = %q, want %q", c.raw, got, c.want)
		}
	}
}
