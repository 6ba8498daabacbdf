package tabular

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXOptions configures the XLSX parser.
type XLSXOptions struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
	MaxRows    int    // 0 = unlimited
}

// ReadXLSX parses an XLSX workbook held in memory and returns the rows of
// one sheet as string slices.
func ReadXLSX(data []byte, opts XLSXOptions) ([][]string, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open workbook")
	}

	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}

	if opts.MaxRows > 0 && len(sheet.Rows) > opts.MaxRows {
		return nil, eris.Wrapf(ErrTooManyRows, "xlsx: more than %d rows", opts.MaxRows)
	}

	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		rows = append(rows, rowToStrings(row))
	}
	return rows, nil
}

// WriteXLSX writes headers and rows to a single-sheet workbook.
func WriteXLSX(w io.Writer, sheetName string, headers []string, rows [][]string) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}

	addRow(sheet, headers)
	for _, r := range rows {
		addRow(sheet, r)
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "xlsx: write workbook")
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func getSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}

	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}

	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
