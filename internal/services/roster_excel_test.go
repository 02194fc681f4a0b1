package services

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/primeestate/room-selection-backend/internal/models"
)

func TestExportRosterExcel(t *testing.T) {
	users := []models.User{
		{ID: "admin-1", Name: "系统管理员", Phone: "13800000000", MaxSelections: 0, IsAdmin: true},
		{ID: "u-1", Name: "张三", Phone: "13912345678", MaxSelections: 1},
	}

	data, err := ExportRosterExcel(users)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(rosterSheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, []string{"客户姓名", "电话号码", "限购数量", "是否管理员", "系统ID"}, rows[0])
	assert.Equal(t, []string{"系统管理员", "13800000000", "0", "TRUE", "admin-1"}, rows[1])
	assert.Equal(t, []string{"张三", "13912345678", "1", "FALSE", "u-1"}, rows[2])
}

func TestImportRosterExcel_RoundTrip(t *testing.T) {
	users := []models.User{
		{ID: "admin-1", Name: "系统管理员", Phone: "13800000000", MaxSelections: 0, IsAdmin: true},
		{ID: "u-1", Name: "张三", Phone: "13912345678", MaxSelections: 1},
	}

	data, err := ExportRosterExcel(users)
	require.NoError(t, err)

	parsed, rowErrs, err := ImportRosterExcel(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Empty(t, rowErrs)
	assert.Equal(t, users, parsed)
}

func buildWorkbook(t *testing.T, header []string, rows [][]string) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetList()[0]
	for i, h := range header {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		require.NoError(t, err)
		require.NoError(t, f.SetCellValue(sheet, cell, h))
	}
	for r, row := range rows {
		for i, v := range row {
			cell, err := excelize.CoordinatesToCellName(i+1, r+2)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue(sheet, cell, v))
		}
	}

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func TestImportRosterExcel_AlternateHeadersAndDefaults(t *testing.T) {
	// Hand-maintained sheets use short headers, omit quota and ids
	data := buildWorkbook(t,
		[]string{"姓名", "电话", "限额"},
		[][]string{
			{"张三", "13912345678", "2"},
			{"李四", "13987654321", ""},
		},
	)

	users, rowErrs, err := ImportRosterExcel(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Empty(t, rowErrs)
	require.Len(t, users, 2)

	assert.Equal(t, "张三", users[0].Name)
	assert.Equal(t, 2, users[0].MaxSelections)
	assert.False(t, users[0].IsAdmin)
	// Blank 系统ID gets a generated id; blank quota defaults to 1
	assert.NotEmpty(t, users[0].ID)
	assert.Equal(t, 1, users[1].MaxSelections)
	assert.NotEqual(t, users[0].ID, users[1].ID)
}

func TestImportRosterExcel_RowErrorsAndSkips(t *testing.T) {
	data := buildWorkbook(t,
		[]string{"客户姓名", "电话号码", "限购数量", "是否管理员", "系统ID"},
		[][]string{
			{"张三", "13912345678", "1", "FALSE", "u-1"},
			{"", "", "", "", ""},                 // fully blank: skipped
			{"李四", "", "1", "FALSE", "u-2"},    // missing phone: error
			{"王五", "13511112222", "abc", "", ""}, // bad quota: error
		},
	)

	users, rowErrs, err := ImportRosterExcel(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "u-1", users[0].ID)

	require.Len(t, rowErrs, 2)
	assert.Equal(t, 4, rowErrs[0].Line)
	assert.Equal(t, 5, rowErrs[1].Line)
}

func TestImportRosterExcel_NotAWorkbook(t *testing.T) {
	_, _, err := ImportRosterExcel(bytes.NewReader([]byte("not an xlsx")))
	assert.Error(t, err)
}
