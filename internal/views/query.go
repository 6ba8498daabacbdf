package views

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/sells-group/assay-cli/internal/ingest"
	"github.com/sells-group/assay-cli/internal/model"
)

// supportedShapes is reported when a predicate cannot be parsed.
const supportedShapes = "column OP value (OP is one of = == != <> < <= > >=), column [NOT] LIKE 'pattern', column IS [NOT] NULL"

// Predicate is a parsed row filter. The set of implementations is closed.
type Predicate interface {
	// Match reports whether a row satisfies the predicate.
	Match(row []string) bool
	String() string

	isPredicate()
}

// Comparison is `column OP value`. Empty cells never satisfy a comparison.
type Comparison struct {
	Column string
	Op     string
	Value  string

	col int
}

// Like is `column [NOT] LIKE pattern` with % and _ wildcards, case-insensitive.
type Like struct {
	Column  string
	Pattern string
	Negate  bool

	col int
	re  *regexp.Regexp
}

// NullCheck is `column IS [NOT] NULL`; a cell is null when blank.
type NullCheck struct {
	Column string
	Negate bool

	col int
}

func (Comparison) isPredicate() {}
func (Like) isPredicate()       {}
func (NullCheck) isPredicate()  {}

func (c Comparison) Match(row []string) bool {
	cell := strings.TrimSpace(cellAt(row, c.col))
	if cell == "" {
		return false
	}
	cmp := compareValues(cell, c.Value)
	switch c.Op {
	case "=", "==":
		return cmp == 0
	case "!=", "<>":
		return cmp != 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	}
	return false
}

func (c Comparison) String() string {
	return fmt.Sprintf("%s %s %s", quoteIdent(c.Column), c.Op, quoteValue(c.Value))
}

func (l Like) Match(row []string) bool {
	cell := cellAt(row, l.col)
	if strings.TrimSpace(cell) == "" {
		return false
	}
	return l.re.MatchString(cell) != l.Negate
}

func (l Like) String() string {
	op := "LIKE"
	if l.Negate {
		op = "NOT LIKE"
	}
	return fmt.Sprintf("%s %s %s", quoteIdent(l.Column), op, quoteValue(l.Pattern))
}

func (n NullCheck) Match(row []string) bool {
	isNull := strings.TrimSpace(cellAt(row, n.col)) == ""
	return isNull != n.Negate
}

func (n NullCheck) String() string {
	if n.Negate {
		return quoteIdent(n.Column) + " IS NOT NULL"
	}
	return quoteIdent(n.Column) + " IS NULL"
}

func cellAt(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}

// compareValues compares numerically when both sides parse as numbers, and
// as strings otherwise.
func compareValues(a, b string) int {
	fa, okA := ingest.ParseNumber(a)
	fb, okB := ingest.ParseNumber(b)
	if okA && okB {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}

func quoteValue(v string) string {
	if ingest.IsNumber(v) {
		return v
	}
	return "'" + v + "'"
}

// likeRegexp translates a LIKE pattern to an anchored case-insensitive regexp.
func likeRegexp(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("(?is)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}

var comparisonOps = []string{">=", "<=", "<>", "!=", "==", "=", "<", ">"}

// ParsePredicate parses text against the given headers.
func ParsePredicate(text string, headers []string) (Predicate, error) {
	t := &table{headers: headers, index: make(map[string]int, len(headers))}
	for i, h := range headers {
		if _, dup := t.index[h]; !dup {
			t.index[h] = i
		}
	}
	return t.parsePredicate(text)
}

func (t *table) parsePredicate(text string) (Predicate, error) {
	bad := func() error {
		return model.InvalidRequestError("cannot parse predicate %q; supported forms: %s", text, supportedShapes)
	}

	s := strings.TrimSpace(text)
	name, rest, ok := splitColumn(s)
	if !ok {
		return nil, bad()
	}
	rest = strings.TrimSpace(rest)

	resolve := func() (int, error) {
		col, found := t.column(name)
		if !found {
			return -1, t.unknownColumn(name)
		}
		return col, nil
	}

	words := strings.Fields(rest)
	upper := make([]string, len(words))
	for i, w := range words {
		upper[i] = strings.ToUpper(w)
	}

	switch {
	case len(upper) == 2 && upper[0] == "IS" && upper[1] == "NULL",
		len(upper) == 3 && upper[0] == "IS" && upper[1] == "NOT" && upper[2] == "NULL":
		col, err := resolve()
		if err != nil {
			return nil, err
		}
		return NullCheck{Column: t.headers[col], Negate: len(upper) == 3, col: col}, nil

	case len(upper) >= 2 && upper[0] == "LIKE",
		len(upper) >= 3 && upper[0] == "NOT" && upper[1] == "LIKE":
		negate := upper[0] == "NOT"
		keyword := "LIKE"
		idx := strings.Index(strings.ToUpper(rest), keyword)
		pattern, ok := parseValue(rest[idx+len(keyword):])
		if !ok {
			return nil, bad()
		}
		col, err := resolve()
		if err != nil {
			return nil, err
		}
		return Like{Column: t.headers[col], Pattern: pattern, Negate: negate, col: col, re: likeRegexp(pattern)}, nil
	}

	for _, op := range comparisonOps {
		if !strings.HasPrefix(rest, op) {
			continue
		}
		value, ok := parseValue(rest[len(op):])
		if !ok {
			return nil, bad()
		}
		col, err := resolve()
		if err != nil {
			return nil, err
		}
		return Comparison{Column: t.headers[col], Op: op, Value: value, col: col}, nil
	}
	return nil, bad()
}

// splitColumn reads a leading column name, quoted with " or ` or bare.
func splitColumn(s string) (name, rest string, ok bool) {
	if s == "" {
		return "", "", false
	}
	if q := s[0]; q == '"' || q == '`' {
		end := strings.IndexByte(s[1:], q)
		if end <= 0 {
			return "", "", false
		}
		return s[1 : end+1], s[end+2:], true
	}
	end := strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune("=!<>", r)
	})
	if end <= 0 {
		return "", "", false
	}
	return s[:end], s[end:], true
}

// parseValue reads a single- or double-quoted value, or a bare token.
func parseValue(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if q := s[0]; q == '\'' || q == '"' {
		if len(s) < 2 || s[len(s)-1] != q {
			return "", false
		}
		return s[1 : len(s)-1], true
	}
	if strings.ContainsAny(s, " \t'\"") {
		return "", false
	}
	return s, true
}

// Query filters the merged table with a predicate.
func Query(m *model.CachedMerge, text string, opts Options) (*model.QueryResult, error) {
	opts.applyDefaults()
	t := newTable(m)
	p, err := t.parsePredicate(text)
	if err != nil {
		return nil, err
	}

	var kept [][]string
	for _, r := range t.rows {
		if p.Match(r) {
			kept = append(kept, r)
		}
	}

	sample := kept
	if len(sample) > opts.SampleRows {
		sample = sample[:opts.SampleRows]
	}
	if sample == nil {
		sample = [][]string{}
	}

	return &model.QueryResult{
		Predicate:     p.String(),
		FilteredShape: [2]int{len(kept), len(t.headers)},
		RowsRemoved:   len(t.rows) - len(kept),
		Columns:       t.headers,
		SampleRows:    sample,
	}, nil
}
