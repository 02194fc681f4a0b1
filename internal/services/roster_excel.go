package services

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/primeestate/room-selection-backend/internal/models"
	"github.com/primeestate/room-selection-backend/pkg/validator"
)

var phoneValidator = validator.NewPhoneValidator()

const rosterSheetName = "客户名单"

var rosterHeader = []string{"客户姓名", "电话号码", "限购数量", "是否管理员", "系统ID"}

// ExportRosterExcel renders the user roster as an xlsx workbook
func ExportRosterExcel(users []models.User) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(rosterSheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	header := make([]interface{}, len(rosterHeader))
	for i, h := range rosterHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(rosterSheetName, "A1", &header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	for i, user := range users {
		isAdmin := "FALSE"
		if user.IsAdmin {
			isAdmin = "TRUE"
		}
		row := []interface{}{user.Name, user.Phone, user.MaxSelections, isAdmin, user.ID}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, fmt.Errorf("failed to address row %d: %w", i+2, err)
		}
		if err := f.SetSheetRow(rosterSheetName, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write user %s: %w", user.ID, err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// rosterAliases maps each roster field to the header spellings seen in
// the sales office's spreadsheets.
var rosterAliases = map[string][]string{
	"name":  {"客户姓名", "姓名"},
	"phone": {"电话号码", "电话"},
	"quota": {"限购数量", "限额"},
	"admin": {"是否管理员"},
	"id":    {"系统ID"},
}

// ImportRosterExcel parses the first sheet of an xlsx workbook into
// users. Rows without both a name and a phone are skipped the way the
// office's hand-maintained sheets require; structural problems are
// reported per row. Blank 系统ID cells get generated ids.
func ImportRosterExcel(r io.Reader) ([]models.User, []RowError, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return []models.User{}, nil, nil
	}

	columns := map[string]int{}
	for i, header := range rows[0] {
		header = strings.TrimSpace(header)
		for field, aliases := range rosterAliases {
			for _, alias := range aliases {
				if header == alias {
					if _, taken := columns[field]; !taken {
						columns[field] = i
					}
				}
			}
		}
	}

	cell := func(row []string, field string) string {
		idx, ok := columns[field]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	users := []models.User{}
	rowErrs := []RowError{}

	for i, row := range rows[1:] {
		line := i + 2

		name := cell(row, "name")
		phone := cell(row, "phone")
		if name == "" && phone == "" {
			continue
		}
		if name == "" || phone == "" {
			rowErrs = append(rowErrs, RowError{Line: line, Message: "name and phone are both required"})
			continue
		}
		phone, err = phoneValidator.Validate(phone)
		if err != nil {
			rowErrs = append(rowErrs, RowError{Line: line, Message: fmt.Sprintf("invalid phone: %v", err)})
			continue
		}

		quota := 1
		if raw := cell(row, "quota"); raw != "" {
			quota, err = strconv.Atoi(raw)
			if err != nil || quota < 0 {
				rowErrs = append(rowErrs, RowError{Line: line, Message: fmt.Sprintf("invalid quota %q", raw)})
				continue
			}
		}

		id := cell(row, "id")
		if id == "" {
			id = "u-" + uuid.NewString()
		}

		users = append(users, models.User{
			ID:            id,
			Name:          name,
			Phone:         phone,
			MaxSelections: quota,
			IsAdmin:       strings.EqualFold(cell(row, "admin"), "TRUE"),
		})
	}

	return users, rowErrs, nil
}
