// Package ingest turns uploaded tabular files into normalized tables with
// detected column roles.
package ingest

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/assay-cli/internal/entity"
	"github.com/sells-group/assay-cli/internal/matcher"
	"github.com/sells-group/assay-cli/internal/model"
	"github.com/sells-group/assay-cli/internal/tabular"
)

const (
	DefaultMaxFileBytes = 50 << 20
	DefaultMaxRows      = 200000
)

// Options bounds what a single upload may contain.
type Options struct {
	MaxFileBytes int64 `mapstructure:"max_file_bytes"`
	MaxRows      int   `mapstructure:"max_rows"`
}

func (o *Options) applyDefaults() {
	if o.MaxFileBytes <= 0 {
		o.MaxFileBytes = DefaultMaxFileBytes
	}
	if o.MaxRows <= 0 {
		o.MaxRows = DefaultMaxRows
	}
}

// DetectFormat maps a filename extension to a format. For .txt the delimiter
// is sniffed later and the format reported as tsv or csv accordingly.
func DetectFormat(filename string) (model.FileFormat, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".txt":
		return model.FormatCSV, nil
	case ".tsv", ".tab":
		return model.FormatTSV, nil
	case ".xlsx":
		return model.FormatXLSX, nil
	default:
		return "", model.FormatError(nil, "unsupported file type %q", filename)
	}
}

// Ingest parses raw upload bytes into a normalized table. Structural
// failures return a format or schema error; row-level problems are recorded
// on the table and do not stop ingestion.
func Ingest(filename string, data []byte, opts Options) (*model.NormalizedTable, error) {
	opts.applyDefaults()

	format, err := DetectFormat(filename)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, model.FormatError(nil, "%s: file is empty", filename)
	}
	if int64(len(data)) > opts.MaxFileBytes {
		return nil, model.FormatError(nil, "%s: file is %d bytes, limit is %d", filename, len(data), opts.MaxFileBytes)
	}

	records, format, err := readRecords(filename, format, data, opts.MaxRows+1)
	if err != nil {
		if eris.Is(err, tabular.ErrTooManyRows) {
			return nil, model.FormatError(err, "%s: more than %d rows", filename, opts.MaxRows)
		}
		return nil, model.FormatError(err, "%s: cannot parse as %s", filename, format)
	}

	records = dropBlankRows(records)
	if len(records) == 0 {
		return nil, model.FormatError(nil, "%s: no header row", filename)
	}

	headers := normalizeHeaders(records[0])
	table := &model.NormalizedTable{
		Filename: filename,
		Format:   format,
		Headers:  headers,
	}

	for i, rec := range records[1:] {
		row := i + 1
		if len(rec) != len(headers) {
			table.Issues = append(table.Issues, model.RowIssue{
				File:   filename,
				Row:    row,
				Reason: fmt.Sprintf("row has %d fields, header has %d", len(rec), len(headers)),
			})
		}
		table.Rows = append(table.Rows, fitRow(rec, len(headers)))
	}

	table.Columns = detectColumns(headers, table.Rows)
	if !hasIdentifier(table.Columns) {
		return nil, model.SchemaError("%s: no sequence, name or alias column (headers: %s)", filename, strings.Join(headers, ", "))
	}

	table.Issues = append(table.Issues, cellIssues(table)...)

	zap.L().Debug("ingest: table parsed",
		zap.String("file", filename),
		zap.String("format", string(format)),
		zap.Int("rows", len(table.Rows)),
		zap.Int("columns", len(headers)),
		zap.Int("issues", len(table.Issues)),
	)
	if len(table.Issues) > 0 {
		zap.L().Warn("ingest: row issues recorded",
			zap.String("file", filename),
			zap.Int("issues", len(table.Issues)),
		)
	}
	return table, nil
}

func readRecords(filename string, format model.FileFormat, data []byte, maxRows int) ([][]string, model.FileFormat, error) {
	if format == model.FormatXLSX {
		rows, err := tabular.ReadXLSX(data, tabular.XLSXOptions{MaxRows: maxRows})
		return rows, format, err
	}

	text, err := tabular.DecodeText(data)
	if err != nil {
		return nil, format, err
	}

	var delim rune
	switch {
	case format == model.FormatTSV:
		delim = '\t'
	case strings.EqualFold(filepath.Ext(filename), ".txt"):
		delim = tabular.SniffDelimiter(text)
	default:
		// .csv: semicolon when the header has more semicolons than commas
		delim = ','
		if d := tabular.SniffDelimiter(text); d == ';' {
			delim = d
		}
	}
	if delim == '\t' {
		format = model.FormatTSV
	}

	rows, err := tabular.ReadCSV(bytes.NewReader(text), tabular.CSVOptions{
		Delimiter:  delim,
		LazyQuotes: true,
		MaxRows:    maxRows,
	})
	return rows, format, err
}

func normalizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	for i, h := range raw {
		h = strings.TrimSpace(h)
		if h == "" {
			h = fmt.Sprintf("column_%d", i+1)
		}
		headers[i] = h
	}
	return headers
}

func dropBlankRows(records [][]string) [][]string {
	out := records[:0]
	for _, r := range records {
		if !blank(r) {
			out = append(out, r)
		}
	}
	return out
}

func blank(r []string) bool {
	for _, v := range r {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// fitRow pads or truncates a record to n trimmed cells.
func fitRow(rec []string, n int) []string {
	row := make([]string, n)
	for i := 0; i < n && i < len(rec); i++ {
		row[i] = strings.TrimSpace(rec[i])
	}
	return row
}

func hasIdentifier(cols []model.Column) bool {
	for _, c := range cols {
		if c.Role.Identifying() {
			return true
		}
	}
	return false
}

// cellIssues records non-numeric result values and invalid mutation tokens.
func cellIssues(t *model.NormalizedTable) []model.RowIssue {
	var issues []model.RowIssue
	resultCol, hasResult := t.ColumnFor(model.RoleResultValue)
	mutCol, hasMut := t.ColumnFor(model.RoleMutations)

	for i, row := range t.Rows {
		if hasResult {
			if v := row[resultCol.Index]; v != "" && !IsNumber(v) {
				issues = append(issues, model.RowIssue{
					File:   t.Filename,
					Row:    i + 1,
					Column: resultCol.Name,
					Reason: fmt.Sprintf("result value %q is not numeric", v),
				})
			}
		}
		if hasMut {
			if _, invalid := entity.ParseMutations(row[mutCol.Index]); len(invalid) > 0 {
				issues = append(issues, model.RowIssue{
					File:   t.Filename,
					Row:    i + 1,
					Column: mutCol.Name,
					Reason: "invalid mutation tokens " + strings.Join(invalid, ","),
				})
			}
		}
	}
	return issues
}

// Query builds the match query for data row i (0-based).
func Query(t *model.NormalizedTable, i int) matcher.Query {
	return matcher.Query{
		Name:      t.Value(i, model.RoleName),
		Alias:     t.Value(i, model.RoleAlias),
		Sequence:  t.Value(i, model.RoleSequence),
		Mutations: t.Value(i, model.RoleMutations),
		Parent:    t.Value(i, model.RoleParent),
	}
}

// Tests matches every row of t and returns one Test per row in row order.
func Tests(t *model.NormalizedTable, m *matcher.Matcher) []model.Test {
	out := make([]model.Test, len(t.Rows))
	for i := range t.Rows {
		test := model.Test{
			SourceFile: t.Filename,
			Row:        i + 1,
			Name:       firstNonEmpty(t.Value(i, model.RoleName), t.Value(i, model.RoleAlias)),
			ResultUnit: t.Value(i, model.RoleResultUnit),
			TestType:   t.Value(i, model.RoleTestType),
			AssayName:  t.Value(i, model.RoleAssayName),
			Technician: t.Value(i, model.RoleTechnician),
			Match:      m.Match(Query(t, i)),
		}
		if v, ok := ParseNumber(t.Value(i, model.RoleResultValue)); ok {
			test.ResultValue = &v
		}
		out[i] = test
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
