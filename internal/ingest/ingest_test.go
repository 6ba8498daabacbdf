package ingest

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/assay-cli/internal/entity"
	"github.com/sells-group/assay-cli/internal/matcher"
	"github.com/sells-group/assay-cli/internal/model"
	"github.com/sells-group/assay-cli/internal/tabular"
)

func TestIngest_CSV(t *testing.T) {
	data := []byte("Name,Sequence,Result Value,Unit\nClone_7,MGTLFK,1.5,nM\nX9,,2,nM\n")

	table, err := Ingest("plate1.csv", data, Options{})
	require.NoError(t, err)

	assert.Equal(t, model.FormatCSV, table.Format)
	assert.Equal(t, []string{"Name", "Sequence", "Result Value", "Unit"}, table.Headers)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, []string{"X9", "", "2", "nM"}, table.Rows[1])
	assert.Empty(t, table.Issues)

	roles := table.Roles()
	assert.Equal(t, model.RoleName, roles["Name"])
	assert.Equal(t, model.RoleSequence, roles["Sequence"])
	assert.Equal(t, model.RoleResultValue, roles["Result Value"])
	assert.Equal(t, model.RoleResultUnit, roles["Unit"])
}

func TestIngest_TSVAndTxtSniffing(t *testing.T) {
	tsv, err := Ingest("a.tsv", []byte("name\tod600\nA\t0.5\n"), Options{})
	require.NoError(t, err)
	assert.Equal(t, model.FormatTSV, tsv.Format)
	assert.Equal(t, []string{"A", "0.5"}, tsv.Rows[0])

	txt, err := Ingest("a.txt", []byte("name\tod600\nA\t0.5\n"), Options{})
	require.NoError(t, err)
	assert.Equal(t, model.FormatTSV, txt.Format)

	semi, err := Ingest("a.csv", []byte("name;od600\nA;0.5\n"), Options{})
	require.NoError(t, err)
	assert.Equal(t, model.FormatCSV, semi.Format)
	assert.Equal(t, []string{"name", "od600"}, semi.Headers)
}

func TestIngest_XLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, tabular.WriteXLSX(&buf, "Sheet1",
		[]string{"alias", "mutations", "activity"},
		[][]string{{"bld-72", "L72F", "3.25"}}))

	table, err := Ingest("results.XLSX", buf.Bytes(), Options{})
	require.NoError(t, err)
	assert.Equal(t, model.FormatXLSX, table.Format)
	assert.Equal(t, model.RoleAlias, table.Roles()["alias"])
	assert.Equal(t, model.RoleMutations, table.Roles()["mutations"])
	assert.Equal(t, model.RoleResultValue, table.Roles()["activity"])
	assert.Equal(t, "3.25", table.Value(0, model.RoleResultValue))
}

func TestIngest_BOMAndBlankHandling(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte("name,,score\n\n ,  ,\nA,x,1\n")...)

	table, err := Ingest("bom.csv", data, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "column_2", "score"}, table.Headers)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "A", table.Rows[0][0])
}

func TestIngest_FormatErrors(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		data     []byte
		opts     Options
		contains string
	}{
		{"unsupported extension", "notes.pdf", []byte("x"), Options{}, "unsupported file type"},
		{"empty", "a.csv", []byte("  \n"), Options{}, "file is empty"},
		{"too large", "a.csv", []byte("name\nA\n"), Options{MaxFileBytes: 3}, "limit is 3"},
		{"too many rows", "a.csv", []byte("name\nA\nB\nC\n"), Options{MaxRows: 2}, "more than 2 rows"},
		{"not a workbook", "a.xlsx", []byte("name\nA\n"), Options{}, "cannot parse as xlsx"},
		{"only blank rows", "a.csv", []byte(",,\n,\n"), Options{}, "no header row"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Ingest(tt.filename, tt.data, tt.opts)
			require.Error(t, err)
			assert.Equal(t, model.KindFormat, model.KindOf(err))
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestIngest_SchemaError(t *testing.T) {
	_, err := Ingest("a.csv", []byte("od600,temp\n0.5,37\n"), Options{})
	require.Error(t, err)
	assert.Equal(t, model.KindSchema, model.KindOf(err))
	assert.Contains(t, err.Error(), "od600, temp")
}

func TestIngest_RowIssues(t *testing.T) {
	data := []byte("name,mutations,result_value\nA,L72F,1\nB,L72F;bogus,n/a\nC\n")

	table, err := Ingest("issues.csv", data, Options{})
	require.NoError(t, err)
	require.Len(t, table.Rows, 3)
	assert.Equal(t, []string{"C", "", ""}, table.Rows[2])

	var reasons []string
	for _, iss := range table.Issues {
		assert.Equal(t, "issues.csv", iss.File)
		reasons = append(reasons, iss.Reason)
	}
	joined := strings.Join(reasons, "|")
	assert.Contains(t, joined, "row has 1 fields, header has 3")
	assert.Contains(t, joined, `result value "n/a" is not numeric`)
	assert.Contains(t, joined, "invalid mutation tokens BOGUS")
}

func TestDetectColumns_FirstNumericBecomesResult(t *testing.T) {
	headers := []string{"name", "plate", "od600", "od450"}
	rows := [][]string{{"A", "p1", "0.5", "1"}, {"B", "p2", "", "2"}}

	cols := detectColumns(headers, rows)
	assert.Equal(t, model.RoleUnknown, cols[1].Role)
	assert.Equal(t, model.RoleResultValue, cols[2].Role)
	assert.Equal(t, model.RoleNumeric, cols[3].Role)
	assert.True(t, cols[3].Numeric)
}

func TestDetectColumns_KeyLikeColumnSkipped(t *testing.T) {
	tests := []struct {
		name       string
		rows       [][]string
		wantResult int
	}{
		{
			name:       "distinct integer index skipped",
			rows:       [][]string{{"A", "1", "0.5"}, {"B", "2", "0.7"}, {"C", "3", "0.5"}},
			wantResult: 2,
		},
		{
			name:       "repeated integers kept",
			rows:       [][]string{{"A", "1", "0.5"}, {"B", "1", "0.7"}, {"C", "2", "0.9"}},
			wantResult: 1,
		},
		{
			name:       "single value kept",
			rows:       [][]string{{"A", "7", "0.5"}},
			wantResult: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cols := detectColumns([]string{"name", "well", "od600"}, tt.rows)
			assert.Equal(t, model.RoleResultValue, cols[tt.wantResult].Role)
			for i, c := range cols {
				if i != tt.wantResult && c.Numeric {
					assert.Equal(t, model.RoleNumeric, c.Role)
				}
			}
		})
	}
}

func TestDetectColumns_DuplicateRoleNotReassigned(t *testing.T) {
	cols := detectColumns([]string{"name", "Clone Name", "value"}, [][]string{{"a", "b", "1"}})
	assert.Equal(t, model.RoleName, cols[0].Role)
	assert.Equal(t, model.RoleUnknown, cols[1].Role)
	assert.Equal(t, model.RoleResultValue, cols[2].Role)
}

func TestRoleForHeader(t *testing.T) {
	tests := []struct {
		header string
		want   model.ColumnRole
		ok     bool
	}{
		{"Sequence", model.RoleSequence, true},
		{" assay-name ", model.RoleAssayName, true},
		{"Test Type", model.RoleTestType, true},
		{"Parent ID", model.RoleParent, true},
		{"od600", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got, ok := RoleForHeader(tt.header)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTests_MatchesEveryRow(t *testing.T) {
	store, err := entity.New([]model.Entity{
		{ID: "D-1", Kind: model.EntityDesign, Name: "Clone_7", Sequence: "MGTLFK"},
		{ID: "B-1", Kind: model.EntityBuild, Name: "Build L72F", Mutations: []string{"L72F"}, ParentID: "D-1"},
	})
	require.NoError(t, err)
	m := matcher.New(store, matcher.Config{})

	table, err := Ingest("a.csv", []byte("name,sequence,mutations,result_value\nClone_7,MGTLFK,,1.5\nX9,,L72F,\ntotally_unknown,,,x\n"), Options{})
	require.NoError(t, err)

	tests := Tests(table, m)
	require.Len(t, tests, 3)

	assert.Equal(t, "D-1", tests[0].Match.EntityID)
	require.NotNil(t, tests[0].ResultValue)
	assert.Equal(t, 1.5, *tests[0].ResultValue)

	assert.Equal(t, "B-1", tests[1].Match.EntityID)
	assert.Nil(t, tests[1].ResultValue)

	assert.False(t, tests[2].Match.Matched())
	assert.Equal(t, 3, tests[2].Row)
	assert.Equal(t, "a.csv", tests[2].SourceFile)
}

func TestParseNumber(t *testing.T) {
	v, ok := ParseNumber(" 2.5e1 ")
	assert.True(t, ok)
	assert.Equal(t, 25.0, v)

	for _, s := range []string{"", "abc", "NaN", "Inf", "1,5"} {
		_, ok := ParseNumber(s)
		assert.False(t, ok, s)
	}
}
