package workbook

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"
)

// Seed creates the demo workbook at path: a Sheet1 roster plus a Summary
// sheet. Refuses to clobber an existing file.
func Seed(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("refusing to overwrite existing workbook at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	roster := [][]any{
		{"Email", "Name", "Score", "Approved"},
		{"alice@example.com", "Alice", 90, true},
		{"bob@example.com", "Bob", 85, false},
		{"charlie@example.com", "Charlie", 95, true},
	}
	for i, row := range roster {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			return fmt.Errorf("writing roster row %d: %w", i+1, err)
		}
	}

	if _, err := f.NewSheet("Summary"); err != nil {
		return fmt.Errorf("creating Summary sheet: %w", err)
	}
	summary := [][]any{
		{"Metric", "Value"},
		{"Participants", 3},
		{"Average score", 90},
	}
	for i, row := range summary {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow("Summary", cell, &row); err != nil {
			return fmt.Errorf("writing summary row %d: %w", i+1, err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving %s: %w", path, err)
	}
	return nil
}
