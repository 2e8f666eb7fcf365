package importer

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// MaxFileSize is the maximum accepted workbook size (20MB). Rosters are a
// few hundred rows; anything larger is a wrong file.
var MaxFileSize int64 = 20 * 1024 * 1024

// ErrEmptyWorkbook is returned when the workbook has no sheets or the first
// sheet has no header row.
var ErrEmptyWorkbook = errors.New("workbook has no data")

// Sheet is the parsed first worksheet: the header row as raw strings and
// the data rows as classified cells. Data row i corresponds to spreadsheet
// row i+2 (row 1 is the header).
type Sheet struct {
	Headers []string
	Rows    []Row
}

// RowNumber returns the 1-based spreadsheet row number for data row index i.
func (s *Sheet) RowNumber(i int) int {
	return i + 2
}

// ReadWorkbook parses an xlsx file held in memory. Only the first sheet is
// read. Cells are read raw (unformatted) so serial date numbers and
// full-precision numerics survive to the normalizers.
func ReadWorkbook(data []byte) (*Sheet, error) {
	if int64(len(data)) > MaxFileSize {
		return nil, fmt.Errorf("file exceeds %dMB limit", MaxFileSize/(1024*1024))
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyWorkbook
	}

	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, ErrEmptyWorkbook
	}

	sheet := &Sheet{Headers: rows[0]}
	for _, raw := range rows[1:] {
		row := make(Row, len(raw))
		for i, v := range raw {
			row[i] = NewCell(v)
		}
		sheet.Rows = append(sheet.Rows, row)
	}
	return sheet, nil
}
