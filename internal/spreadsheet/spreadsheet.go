// Package spreadsheet validates workbooks before they are sent to the query
// service and exports result sets back to .xlsx.
package spreadsheet

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/natural-query/webapp/internal/models"
	"github.com/xuri/excelize/v2"
)

const (
	FormatXLSX = "xlsx"
	FormatXLS  = "xls"
)

var (
	ErrUnsupportedType = errors.New("only .xlsx and .xls files are supported")
	ErrEmptyFile       = errors.New("file is empty")
	ErrCorrupt         = errors.New("file is not a readable workbook")
	ErrNoRows          = errors.New("workbook has no rows")
)

// oleSignature opens every legacy BIFF (.xls) compound document.
var oleSignature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// AllowedExtensions is the file-picker filter.
var AllowedExtensions = []string{".xlsx", ".xls"}

// Summary describes a workbook that passed inspection.
type Summary struct {
	Format   string   `json:"format"`
	Sheets   []string `json:"sheets,omitempty"`
	Header   []string `json:"header,omitempty"`
	RowCount int      `json:"rowCount"` // data rows in the first sheet, header excluded
}

// FormatOf returns the workbook format implied by a file name.
func FormatOf(name string) (string, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx":
		return FormatXLSX, nil
	case ".xls":
		return FormatXLS, nil
	}
	return "", ErrUnsupportedType
}

// Inspect checks that data is a workbook matching name's extension. For .xlsx
// the first sheet is read to report its header and row count.
func Inspect(name string, data []byte) (*Summary, error) {
	format, err := FormatOf(name)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}

	if format == FormatXLS {
		if !bytes.HasPrefix(data, oleSignature) {
			return nil, ErrCorrupt
		}
		return &Summary{Format: FormatXLS}, nil
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoRows
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(rows) == 0 {
		return nil, ErrNoRows
	}

	return &Summary{
		Format:   FormatXLSX,
		Sheets:   sheets,
		Header:   rows[0],
		RowCount: len(rows) - 1,
	}, nil
}

// WriteResult writes rs as a single-sheet workbook: the header row followed by
// the rows in order.
func WriteResult(w io.Writer, rs *models.ResultSet, sheet string) error {
	if rs == nil {
		return errors.New("no result to export")
	}

	f := excelize.NewFile()
	defer f.Close()

	if sheet == "" {
		sheet = "Results"
	}
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}

	header := make([]any, len(rs.Columns))
	for i, c := range rs.Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, row := range rs.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := make([]any, len(row))
		for j, v := range row {
			values[j] = NativeValue(v)
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("writing row %d: %w", i+1, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

// NativeValue turns json.Number into a native number so Excel and MessagePack
// encoders see it as numeric.
func NativeValue(v any) any {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	case nil:
		return nil
	case string, bool, float64, int, int64:
		return n
	default:
		b, err := json.Marshal(n)
		if err != nil {
			return fmt.Sprint(n)
		}
		return string(b)
	}
}
