// Package views derives plots, analyses and filtered previews from a
// session's merged table. Views never modify the table.
package views

import (
	"strings"

	"github.com/sells-group/assay-cli/internal/ingest"
	"github.com/sells-group/assay-cli/internal/model"
)

// Options configures derived views.
type Options struct {
	HistogramBins       int `mapstructure:"histogram_bins"`
	MinCorrelationPairs int `mapstructure:"min_correlation_pairs"`
	SampleRows          int `mapstructure:"sample_rows"`
}

func (o *Options) applyDefaults() {
	if o.HistogramBins <= 0 {
		o.HistogramBins = 10
	}
	if o.MinCorrelationPairs <= 0 {
		o.MinCorrelationPairs = 3
	}
	if o.SampleRows <= 0 {
		o.SampleRows = 10
	}
}

// table is a read-only view over merged headers and rows.
type table struct {
	headers []string
	rows    [][]string
	index   map[string]int
}

func newTable(m *model.CachedMerge) *table {
	t := &table{headers: m.Headers, rows: m.Rows, index: make(map[string]int, len(m.Headers))}
	for i, h := range m.Headers {
		if _, dup := t.index[h]; !dup {
			t.index[h] = i
		}
	}
	return t
}

// column resolves a header exactly, then case-insensitively.
func (t *table) column(name string) (int, bool) {
	if i, ok := t.index[name]; ok {
		return i, true
	}
	for i, h := range t.headers {
		if strings.EqualFold(h, name) {
			return i, true
		}
	}
	return -1, false
}

func (t *table) cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}

func (t *table) number(row []string, col int) (float64, bool) {
	return ingest.ParseNumber(t.cell(row, col))
}

// isNumeric reports whether the column has a non-empty value and every
// non-empty value parses as a float.
func (t *table) isNumeric(col int) bool {
	seen := false
	for _, r := range t.rows {
		v := strings.TrimSpace(t.cell(r, col))
		if v == "" {
			continue
		}
		if !ingest.IsNumber(v) {
			return false
		}
		seen = true
	}
	return seen
}

// numericColumns returns numeric data columns in column order. The merge
// metadata columns are never included.
func (t *table) numericColumns() []int {
	var out []int
	for i, h := range t.headers {
		if model.IsMergeMeta(h) {
			continue
		}
		if t.isNumeric(i) {
			out = append(out, i)
		}
	}
	return out
}

func (t *table) names(cols []int) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = t.headers[c]
	}
	return out
}

func (t *table) shape() [2]int {
	return [2]int{len(t.rows), len(t.headers)}
}

func (t *table) unknownColumn(name string) error {
	return model.InvalidRequestError("unknown column %q (available: %s)", name, strings.Join(t.headers, ", "))
}
