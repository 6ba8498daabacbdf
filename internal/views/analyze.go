package views

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sells-group/assay-cli/internal/model"
)

// Quality issue kinds.
const (
	IssueMissing    = "missing_values"
	IssueConstant   = "constant_column"
	IssueDuplicates = "duplicate_rows"
	IssueUnmatched  = "unmatched_rows"
	IssueIngestion  = "ingestion_issue"
)

const strongCorrelation = 0.7

// Analyze summarizes the merged table.
func Analyze(m *model.CachedMerge, opts Options) *model.AnalysisReport {
	opts.applyDefaults()
	t := newTable(m)
	numeric := t.numericColumns()

	rep := &model.AnalysisReport{
		DatasetInfo:     t.datasetInfo(numeric),
		QualityIssues:   []model.QualityIssue{},
		Correlations:    []model.Correlation{},
		Recommendations: []string{},
	}

	missing := t.missingValues()
	constant := t.constantColumns()
	dups := t.duplicateRows()

	for _, c := range missing {
		rep.QualityIssues = append(rep.QualityIssues, model.QualityIssue{
			Column: t.headers[c.col],
			Kind:   IssueMissing,
			Detail: fmt.Sprintf("%d of %d values missing (%.1f%%)", c.n, len(t.rows), pct(c.n, len(t.rows))),
		})
	}
	for _, c := range constant {
		rep.QualityIssues = append(rep.QualityIssues, model.QualityIssue{
			Column: t.headers[c],
			Kind:   IssueConstant,
			Detail: fmt.Sprintf("every value is %q", t.firstValue(c)),
		})
	}
	if dups > 0 {
		rep.QualityIssues = append(rep.QualityIssues, model.QualityIssue{
			Kind:   IssueDuplicates,
			Detail: fmt.Sprintf("%d rows repeat an earlier row's data columns", dups),
		})
	}
	if n := rep.DatasetInfo.Unmatched; n > 0 {
		rep.QualityIssues = append(rep.QualityIssues, model.QualityIssue{
			Column: model.ColEntityID,
			Kind:   IssueUnmatched,
			Detail: fmt.Sprintf("%d of %d rows did not match an entity", n, len(t.rows)),
		})
	}
	for _, iss := range m.Issues {
		rep.QualityIssues = append(rep.QualityIssues, model.QualityIssue{
			Column: iss.Column,
			Kind:   IssueIngestion,
			Detail: fmt.Sprintf("%s:%d: %s", iss.File, iss.Row, iss.Reason),
		})
	}

	rep.Correlations = t.correlations(numeric, opts.MinCorrelationPairs)
	rep.Recommendations = t.recommendations(rep, numeric, missing, constant, dups)
	return rep
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(n) / float64(total)
}

func (t *table) datasetInfo(numeric []int) model.DatasetInfo {
	info := model.DatasetInfo{
		Rows:           len(t.rows),
		Columns:        len(t.headers),
		NumericColumns: t.names(numeric),
	}
	idCol, ok := t.column(model.ColEntityID)
	for _, r := range t.rows {
		if ok && t.cell(r, idCol) != "" {
			info.Matched++
		}
	}
	info.Unmatched = info.Rows - info.Matched
	if info.Rows > 0 {
		info.MatchRate = float64(info.Matched) / float64(info.Rows)
	}
	return info
}

// dataColumns are the non-metadata columns.
func (t *table) dataColumns() []int {
	var out []int
	for i, h := range t.headers {
		if !model.IsMergeMeta(h) {
			out = append(out, i)
		}
	}
	return out
}

type columnCount struct {
	col int
	n   int
}

func (t *table) missingValues() []columnCount {
	var out []columnCount
	for _, c := range t.dataColumns() {
		n := 0
		for _, r := range t.rows {
			if strings.TrimSpace(t.cell(r, c)) == "" {
				n++
			}
		}
		if n > 0 {
			out = append(out, columnCount{col: c, n: n})
		}
	}
	return out
}

// constantColumns are data columns with more than one row whose values are
// all present and identical.
func (t *table) constantColumns() []int {
	if len(t.rows) < 2 {
		return nil
	}
	var out []int
	for _, c := range t.dataColumns() {
		first := t.cell(t.rows[0], c)
		if first == "" {
			continue
		}
		same := true
		for _, r := range t.rows[1:] {
			if t.cell(r, c) != first {
				same = false
				break
			}
		}
		if same {
			out = append(out, c)
		}
	}
	return out
}

func (t *table) firstValue(col int) string {
	if len(t.rows) == 0 {
		return ""
	}
	return t.cell(t.rows[0], col)
}

// duplicateRows counts rows whose entity and data columns repeat an earlier
// row. Source references are ignored.
func (t *table) duplicateRows() int {
	cols := t.dataColumns()
	if id, ok := t.column(model.ColEntityID); ok {
		cols = append([]int{id}, cols...)
	}
	seen := make(map[string]bool, len(t.rows))
	dups := 0
	for _, r := range t.rows {
		key := make([]string, len(cols))
		for i, c := range cols {
			key[i] = t.cell(r, c)
		}
		k := strings.Join(key, "\x1f")
		if seen[k] {
			dups++
			continue
		}
		seen[k] = true
	}
	return dups
}

func (t *table) correlations(numeric []int, minPairs int) []model.Correlation {
	out := []model.Correlation{}
	for i := 0; i < len(numeric); i++ {
		for j := i + 1; j < len(numeric); j++ {
			var xs, ys []float64
			for _, r := range t.rows {
				x, okX := t.number(r, numeric[i])
				y, okY := t.number(r, numeric[j])
				if okX && okY {
					xs = append(xs, x)
					ys = append(ys, y)
				}
			}
			if len(xs) < minPairs {
				continue
			}
			r, ok := pearson(xs, ys)
			if !ok {
				continue
			}
			out = append(out, model.Correlation{
				X:     t.headers[numeric[i]],
				Y:     t.headers[numeric[j]],
				R:     r,
				Pairs: len(xs),
			})
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return math.Abs(out[a].R) > math.Abs(out[b].R)
	})
	return out
}

// pearson returns the correlation coefficient, or false when either series
// has zero variance.
func pearson(xs, ys []float64) (float64, bool) {
	mx, my := mean(xs), mean(ys)
	var sxy, sxx, syy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0, false
	}
	r := sxy / math.Sqrt(sxx*syy)
	return math.Max(-1, math.Min(1, r)), true
}

func (t *table) recommendations(rep *model.AnalysisReport, numeric []int, missing []columnCount, constant []int, dups int) []string {
	out := []string{}
	if len(t.rows) == 0 {
		return append(out, "The merged table is empty; upload files with overlapping entities")
	}
	if n := rep.DatasetInfo.Unmatched; n > 0 {
		out = append(out, fmt.Sprintf("%d rows did not match any entity; check names, sequences and mutation lists against the entity registry", n))
	}
	for _, c := range missing {
		name := t.headers[c.col]
		out = append(out, fmt.Sprintf("Column %q is missing %d values; filter with %q before plotting it", name, c.n, quoteIdent(name)+" IS NOT NULL"))
	}
	for _, c := range constant {
		out = append(out, fmt.Sprintf("Column %q is constant and can be ignored", t.headers[c]))
	}
	if dups > 0 {
		out = append(out, fmt.Sprintf("Remove %d duplicate rows before aggregating", dups))
	}
	switch {
	case len(numeric) == 0:
		out = append(out, "No numeric columns found; include a result_value column to enable plots and correlations")
	case len(numeric) == 1:
		out = append(out, fmt.Sprintf("Plot a histogram of %q to inspect its distribution", t.headers[numeric[0]]))
	}
	for _, c := range rep.Correlations {
		if math.Abs(c.R) >= strongCorrelation {
			out = append(out, fmt.Sprintf("%q and %q are strongly correlated (r=%.2f); try a scatter plot", c.X, c.Y, c.R))
		}
	}
	return out
}

// quoteIdent quotes a column name for use in a query when it is not a bare
// identifier.
func quoteIdent(name string) string {
	if name != "" && !strings.ContainsAny(name, " \t\"`=!<>'") {
		return name
	}
	return "`" + name + "`"
}
