// Package tabular reads and writes delimited text and XLSX tables.
package tabular

import (
	"bytes"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// CSVOptions configures the CSV parser.
type CSVOptions struct {
	Delimiter  rune // default ','
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
	TrimSpace  bool
	MaxRows    int // 0 = unlimited; counts all records including the header
}

// ErrTooManyRows is returned when a table exceeds MaxRows.
var ErrTooManyRows = eris.New("tabular: too many rows")

// ReadCSV reads all records from r. Records may have differing field counts.
func ReadCSV(r io.Reader, opts CSVOptions) ([][]string, error) {
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	if opts.Comment != 0 {
		reader.Comment = opts.Comment
	}
	reader.LazyQuotes = opts.LazyQuotes
	reader.FieldsPerRecord = -1 // allow variable fields

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, eris.Wrap(err, "csv: read row")
		}

		if opts.TrimSpace {
			for i, field := range record {
				record[i] = strings.TrimSpace(field)
			}
		}

		rows = append(rows, record)
		if opts.MaxRows > 0 && len(rows) > opts.MaxRows {
			return nil, eris.Wrapf(ErrTooManyRows, "csv: more than %d rows", opts.MaxRows)
		}
	}
}

// DecodeText converts raw upload bytes to UTF-8. A UTF-8 or UTF-16 byte
// order mark selects the encoding and is removed; input without a BOM is
// treated as UTF-8.
func DecodeText(data []byte) ([]byte, error) {
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, _, err := transform.Bytes(dec, data)
	if err != nil {
		return nil, eris.Wrap(err, "tabular: decode text")
	}
	return out, nil
}

// SniffDelimiter picks tab, semicolon or comma from the first line of text.
func SniffDelimiter(text []byte) rune {
	line := text
	if i := bytes.IndexByte(text, '\n'); i >= 0 {
		line = text[:i]
	}
	counts := map[rune]int{
		'\t': bytes.Count(line, []byte{'\t'}),
		';':  bytes.Count(line, []byte{';'}),
		',':  bytes.Count(line, []byte{','}),
	}
	best := ','
	for _, d := range []rune{'\t', ';'} {
		if counts[d] > counts[best] {
			best = d
		}
	}
	return best
}

// WriteCSV writes headers followed by rows.
func WriteCSV(w io.Writer, headers []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(headers); err != nil {
		return eris.Wrap(err, "csv: write header")
	}
	if err := cw.WriteAll(rows); err != nil {
		return eris.Wrap(err, "csv: write rows")
	}
	return nil
}
