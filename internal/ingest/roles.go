package ingest

import (
	"math"
	"strconv"
	"strings"

	"github.com/sells-group/assay-cli/internal/model"
)

// headerRoles maps normalized header names to column roles.
var headerRoles = map[string]model.ColumnRole{
	"name":           model.RoleName,
	"clone":          model.RoleName,
	"clone_name":     model.RoleName,
	"variant":        model.RoleName,
	"variant_name":   model.RoleName,
	"construct":      model.RoleName,
	"sample":         model.RoleName,
	"sample_name":    model.RoleName,
	"alias":          model.RoleAlias,
	"aka":            model.RoleAlias,
	"sequence":       model.RoleSequence,
	"seq":            model.RoleSequence,
	"aa_sequence":    model.RoleSequence,
	"protein_seq":    model.RoleSequence,
	"dna_sequence":   model.RoleSequence,
	"mutations":      model.RoleMutations,
	"mutation":       model.RoleMutations,
	"mutation_list":  model.RoleMutations,
	"mutations_list": model.RoleMutations,
	"parent":         model.RoleParent,
	"parent_id":      model.RoleParent,
	"parent_name":    model.RoleParent,
	"result_value":   model.RoleResultValue,
	"result":         model.RoleResultValue,
	"value":          model.RoleResultValue,
	"measurement":    model.RoleResultValue,
	"result_unit":    model.RoleResultUnit,
	"unit":           model.RoleResultUnit,
	"units":          model.RoleResultUnit,
	"test_type":      model.RoleTestType,
	"assay_type":     model.RoleTestType,
	"assay_name":     model.RoleAssayName,
	"assay":          model.RoleAssayName,
	"technician":     model.RoleTechnician,
	"tech":           model.RoleTechnician,
	"operator":       model.RoleTechnician,
}

// normalizeHeader lowercases a header and folds spaces and dashes to underscores.
func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.NewReplacer(" ", "_", "-", "_", ".", "_").Replace(h)
	for strings.Contains(h, "__") {
		h = strings.ReplaceAll(h, "__", "_")
	}
	return strings.Trim(h, "_")
}

// RoleForHeader returns the role implied by a header name alone.
func RoleForHeader(h string) (model.ColumnRole, bool) {
	r, ok := headerRoles[normalizeHeader(h)]
	return r, ok
}

// IsNumber reports whether a cell parses as a float.
func IsNumber(s string) bool {
	_, ok := ParseNumber(s)
	return ok
}

// ParseNumber parses a numeric cell, tolerating surrounding space. NaN and
// infinities are rejected.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// detectColumns assigns a role to every header. Named roles come first; a
// role claimed by an earlier column is not reassigned, so later duplicates
// fall back to unknown/numeric. When no column is named as a result value,
// the first all-numeric column that is not key-like becomes the result value.
func detectColumns(headers []string, rows [][]string) []model.Column {
	cols := make([]model.Column, len(headers))
	claimed := make(map[model.ColumnRole]bool)

	for i, h := range headers {
		cols[i] = model.Column{Name: h, Index: i, Role: model.RoleUnknown, Numeric: numericColumn(rows, i)}
		if r, ok := RoleForHeader(h); ok && !claimed[r] {
			cols[i].Role = r
			claimed[r] = true
		}
	}

	for i := range cols {
		if cols[i].Role == model.RoleUnknown && cols[i].Numeric {
			cols[i].Role = model.RoleNumeric
		}
	}

	if !claimed[model.RoleResultValue] {
		for i := range cols {
			if cols[i].Role == model.RoleNumeric && !keyLikeColumn(rows, i) {
				cols[i].Role = model.RoleResultValue
				break
			}
		}
	}
	return cols
}

// numericColumn reports whether column i has at least one non-empty cell and
// every non-empty cell is numeric.
func numericColumn(rows [][]string, i int) bool {
	seen := false
	for _, r := range rows {
		if i >= len(r) {
			continue
		}
		v := strings.TrimSpace(r[i])
		if v == "" {
			continue
		}
		if !IsNumber(v) {
			return false
		}
		seen = true
	}
	return seen
}

// keyLikeColumn reports whether column i holds one distinct integer per
// non-empty cell across at least two cells, as row counters and well or
// sample indexes do. Such a column has no repeated values and is never
// promoted to result value.
func keyLikeColumn(rows [][]string, i int) bool {
	seen := make(map[float64]struct{})
	for _, r := range rows {
		if i >= len(r) {
			continue
		}
		f, ok := ParseNumber(r[i])
		if !ok {
			continue
		}
		if f != math.Trunc(f) {
			return false
		}
		if _, dup := seen[f]; dup {
			return false
		}
		seen[f] = struct{}{}
	}
	return len(seen) >= 2
}
