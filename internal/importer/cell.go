// Package importer implements the spreadsheet roster import pipeline:
// reading an xlsx workbook, mapping its header columns to student fields,
// parsing and validating rows, resolving duplicates and roll-number
// conflicts, diffing against the existing roster, and committing the
// result to the backend. It has no HTTP dependencies and is driven by
// both the web server and the rosterctl CLI.
package importer

import (
	"strconv"
	"strings"
)

// CellKind tags the closed set of raw cell value shapes a spreadsheet can
// produce. Downstream normalizers switch on the kind instead of guessing
// types at runtime.
type CellKind int

const (
	CellEmpty CellKind = iota
	CellText
	CellNumber
)

// Cell is one raw spreadsheet cell. For CellNumber both the parsed value
// and the original text are kept; error messages always show the original.
type Cell struct {
	Kind   CellKind
	Text   string
	Number float64
}

// NewCell classifies a raw cell string from the workbook reader.
func NewCell(raw string) Cell {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Cell{Kind: CellEmpty}
	}
	if n, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return Cell{Kind: CellNumber, Text: trimmed, Number: n}
	}
	return Cell{Kind: CellText, Text: trimmed}
}

// IsEmpty reports whether the cell holds no value.
func (c Cell) IsEmpty() bool {
	return c.Kind == CellEmpty
}

// String returns the trimmed textual form of the cell, or "" when empty.
func (c Cell) String() string {
	return c.Text
}

// Row is one data row, positionally aligned to the header row.
type Row []Cell

// At returns the cell at index i, or an empty cell when the row is short.
// Spreadsheet libraries trim trailing empty cells, so short rows are normal.
func (r Row) At(i int) Cell {
	if i < 0 || i >= len(r) {
		return Cell{Kind: CellEmpty}
	}
	return r[i]
}

// IsEmpty reports whether every cell in the row is empty.
func (r Row) IsEmpty() bool {
	for _, c := range r {
		if !c.IsEmpty() {
			return false
		}
	}
	return true
}
