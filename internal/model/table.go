package model

// ColumnRole is the interpreted meaning of an uploaded column.
type ColumnRole string

const (
	RoleName        ColumnRole = "name"
	RoleAlias       ColumnRole = "alias"
	RoleSequence    ColumnRole = "sequence"
	RoleMutations   ColumnRole = "mutations"
	RoleParent      ColumnRole = "parent"
	RoleResultValue ColumnRole = "result_value"
	RoleResultUnit  ColumnRole = "result_unit"
	RoleTestType    ColumnRole = "test_type"
	RoleAssayName   ColumnRole = "assay_name"
	RoleTechnician  ColumnRole = "technician"
	RoleNumeric     ColumnRole = "numeric"
	RoleUnknown     ColumnRole = "unknown"
)

// Identifying reports whether a column with this role can identify an entity.
func (r ColumnRole) Identifying() bool {
	return r == RoleName || r == RoleAlias || r == RoleSequence
}

// FileFormat is the detected tabular format of an upload.
type FileFormat string

const (
	FormatCSV  FileFormat = "csv"
	FormatTSV  FileFormat = "tsv"
	FormatXLSX FileFormat = "xlsx"
)

// Column describes one detected column of an uploaded table.
type Column struct {
	Name    string     `json:"name"`
	Index   int        `json:"index"`
	Role    ColumnRole `json:"role"`
	Numeric bool       `json:"numeric"`
}

// RowIssue records a non-fatal problem found in one row.
type RowIssue struct {
	File   string `json:"file"`
	Row    int    `json:"row"`
	Column string `json:"column,omitempty"`
	Reason string `json:"reason"`
}

// NormalizedTable is an uploaded file parsed into rows with detected column
// roles. Rows are padded or truncated to len(Headers). Row numbers in issues
// are 1-based data row positions (the header is not counted).
type NormalizedTable struct {
	Filename string     `json:"filename"`
	Format   FileFormat `json:"format"`
	Headers  []string   `json:"headers"`
	Columns  []Column   `json:"columns"`
	Rows     [][]string `json:"rows"`
	Issues   []RowIssue `json:"issues,omitempty"`
}

// ColumnFor returns the first column with the given role.
func (t *NormalizedTable) ColumnFor(role ColumnRole) (Column, bool) {
	for _, c := range t.Columns {
		if c.Role == role {
			return c, true
		}
	}
	return Column{}, false
}

// Value returns the cell of row i for the first column with role, or "".
func (t *NormalizedTable) Value(i int, role ColumnRole) string {
	c, ok := t.ColumnFor(role)
	if !ok || i < 0 || i >= len(t.Rows) || c.Index >= len(t.Rows[i]) {
		return ""
	}
	return t.Rows[i][c.Index]
}

// Roles returns the header → role mapping.
func (t *NormalizedTable) Roles() map[string]ColumnRole {
	out := make(map[string]ColumnRole, len(t.Columns))
	for _, c := range t.Columns {
		out[c.Name] = c.Role
	}
	return out
}
