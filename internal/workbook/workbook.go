// Package workbook adapts a single .xlsx file as the tabular data source
// behind the chat tools. Every write re-reads the whole document, mutates it
// in memory, and rewrites the file: the workbook is a single-slot checkpoint
// store, not a cell-level one. Concurrent writers race last-write-wins.
package workbook

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrNotFound is returned when the document or the named sheet is absent.
var ErrNotFound = errors.New("not found")

// ErrInvalidRange is returned for malformed A1-style cell or range references.
var ErrInvalidRange = errors.New("invalid range")

// Store reads and writes one spreadsheet document on disk.
type Store struct {
	path string
}

// New returns a store bound to the .xlsx file at path. The file does not need
// to exist yet; reads against a missing file report not-found, and ListSheets
// reports an empty list.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the document location.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) open() (*excelize.File, error) {
	if _, err := os.Stat(s.path); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat %s: %w", s.path, err)
	}
	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", s.path, err)
	}
	return f, nil
}

// ListSheets returns the document's sheet names. A missing document yields an
// empty list, not an error.
func (s *Store) ListSheets() []string {
	f, err := s.open()
	if err != nil {
		return []string{}
	}
	defer f.Close()
	return f.GetSheetList()
}

func sheetExists(f *excelize.File, sheet string) bool {
	idx, err := f.GetSheetIndex(sheet)
	return err == nil && idx >= 0
}

// ReadAll returns every populated row of the sheet as a ragged 2D grid.
func (s *Store) ReadAll(sheet string) ([][]string, error) {
	f, err := s.open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if !sheetExists(f, sheet) {
		return nil, ErrNotFound
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheet, err)
	}
	return rows, nil
}

// ReadRange returns the rectangle addressed by an A1-style range such as
// "A1:D10". A bare cell reference ("B2") addresses a 1x1 rectangle.
func (s *Store) ReadRange(sheet, rangeSpec string) ([][]string, error) {
	startCol, startRow, endCol, endRow, err := parseRange(rangeSpec)
	if err != nil {
		return nil, err
	}

	f, err := s.open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if !sheetExists(f, sheet) {
		return nil, ErrNotFound
	}

	grid := make([][]string, 0, endRow-startRow+1)
	for row := startRow; row <= endRow; row++ {
		line := make([]string, 0, endCol-startCol+1)
		for col := startCol; col <= endCol; col++ {
			cell, err := excelize.CoordinatesToCellName(col, row)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidRange, err)
			}
			value, err := f.GetCellValue(sheet, cell)
			if err != nil {
				return nil, fmt.Errorf("reading cell %s: %w", cell, err)
			}
			line = append(line, value)
		}
		grid = append(grid, line)
	}
	return grid, nil
}

// WriteCell writes a scalar value at a single A1-style cell reference,
// rewriting the whole document. Numeric-looking values are stored as numbers,
// everything else as a plain string; the value is never interpreted as a
// formula.
func (s *Store) WriteCell(sheet, cellRef, value string) error {
	if _, _, err := excelize.CellNameToCoordinates(cellRef); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidRange, cellRef)
	}

	f, err := s.open()
	if err != nil {
		return err
	}
	defer f.Close()

	if !sheetExists(f, sheet) {
		return ErrNotFound
	}

	if n, err := strconv.ParseFloat(value, 64); err == nil && strings.TrimSpace(value) == value && value != "" {
		if err := f.SetCellValue(sheet, cellRef, n); err != nil {
			return fmt.Errorf("setting cell %s: %w", cellRef, err)
		}
	} else {
		if err := f.SetCellStr(sheet, cellRef, value); err != nil {
			return fmt.Errorf("setting cell %s: %w", cellRef, err)
		}
	}

	if err := f.Save(); err != nil {
		return fmt.Errorf("saving %s: %w", s.path, err)
	}
	return nil
}

// parseRange splits an A1-style range into inclusive 1-based coordinates.
func parseRange(spec string) (startCol, startRow, endCol, endRow int, err error) {
	if spec == "" {
		return 0, 0, 0, 0, fmt.Errorf("%w: empty range", ErrInvalidRange)
	}

	parts := strings.Split(spec, ":")
	if len(parts) > 2 {
		return 0, 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidRange, spec)
	}

	startCol, startRow, err = cellCoordinates(parts[0])
	if err != nil {
		return 0, 0, 0, 0, err
	}
	endCol, endRow = startCol, startRow
	if len(parts) == 2 {
		endCol, endRow, err = cellCoordinates(parts[1])
		if err != nil {
			return 0, 0, 0, 0, err
		}
	}

	if endCol < startCol || endRow < startRow {
		return 0, 0, 0, 0, fmt.Errorf("%w: %q is inverted", ErrInvalidRange, spec)
	}
	return startCol, startRow, endCol, endRow, nil
}

func cellCoordinates(ref string) (col, row int, err error) {
	col, row, err = excelize.CellNameToCoordinates(strings.TrimSpace(ref))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidRange, ref)
	}
	return col, row, nil
}
