package tabular

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func createTestXLSX(t *testing.T, sheets map[string][][]string) []byte {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				cell := row.AddCell()
				cell.SetString(cellData)
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func TestReadXLSX_Basic(t *testing.T) {
	data := createTestXLSX(t, map[string][][]string{
		"Sheet1": {
			{"name", "sequence"},
			{"Clone_7", "MGTK"},
			{"X9", ""},
		},
	})

	rows, err := ReadXLSX(data, XLSXOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"name", "sequence"}, rows[0])
	assert.Equal(t, []string{"Clone_7", "MGTK"}, rows[1])
	assert.Equal(t, "X9", rows[2][0])
}

func TestReadXLSX_SheetByName(t *testing.T) {
	data := createTestXLSX(t, map[string][][]string{
		"Results": {{"a"}, {"1"}},
	})

	rows, err := ReadXLSX(data, XLSXOptions{SheetName: "Results"})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a"}, {"1"}}, rows)

	_, err = ReadXLSX(data, XLSXOptions{SheetName: "Missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `sheet "Missing" not found`)
}

func TestReadXLSX_SheetIndexOutOfRange(t *testing.T) {
	data := createTestXLSX(t, map[string][][]string{"Sheet1": {{"a"}}})
	_, err := ReadXLSX(data, XLSXOptions{SheetIndex: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestReadXLSX_NotAWorkbook(t *testing.T) {
	_, err := ReadXLSX([]byte("name,sequence\n"), XLSXOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xlsx: open workbook")
}

func TestReadXLSX_MaxRows(t *testing.T) {
	data := createTestXLSX(t, map[string][][]string{"Sheet1": {{"a"}, {"1"}, {"2"}}})
	_, err := ReadXLSX(data, XLSXOptions{MaxRows: 2})
	require.ErrorIs(t, err, ErrTooManyRows)
}

func TestWriteXLSX_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	headers := []string{"entity_id", "result_value"}
	rows := [][]string{{"D-1", "1.5"}, {"", "2"}}
	require.NoError(t, WriteXLSX(&buf, "merged", headers, rows))

	got, err := ReadXLSX(buf.Bytes(), XLSXOptions{SheetName: "merged"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, headers, got[0])
	assert.Equal(t, []string{"D-1", "1.5"}, got[1])
	assert.Equal(t, "2", got[2][1])
}
