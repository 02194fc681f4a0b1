package services

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/primeestate/room-selection-backend/internal/models"
)

// utf8BOM keeps spreadsheet applications from misreading the Chinese
// headers as the local legacy encoding.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// inventoryCSVHeader is the interchange format shared with the sales
// office spreadsheets. Column order is fixed.
var inventoryCSVHeader = []string{
	"ID", "楼栋", "楼层", "房号", "面积", "状态", "拥有者ID", "拥有者姓名", "拥有者电话",
}

// ExportInventoryCSV renders the inventory as UTF-8 CSV with a BOM.
// Owner name and phone are resolved from the roster for human readers;
// only the owner id is authoritative on re-import.
func ExportInventoryCSV(rooms []models.Room, users []models.User) ([]byte, error) {
	byID := make(map[string]models.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	var buf bytes.Buffer
	buf.Write(utf8BOM)
	w := csv.NewWriter(&buf)

	if err := w.Write(inventoryCSVHeader); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	for _, room := range rooms {
		ownerID, ownerName, ownerPhone := "", "", ""
		if room.OwnerID != nil {
			ownerID = *room.OwnerID
			if owner, ok := byID[ownerID]; ok {
				ownerName = owner.Name
				ownerPhone = owner.Phone
			}
		}
		record := []string{
			room.ID,
			room.Building,
			strconv.Itoa(room.Floor),
			room.Number,
			strconv.FormatFloat(room.Area, 'f', -1, 64),
			string(room.Status),
			ownerID,
			ownerName,
			ownerPhone,
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write room %s: %w", room.ID, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// RowError pins an import problem to its source line
type RowError struct {
	Line    int
	Message string
}

func (e RowError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

// ImportInventoryCSV parses an inventory CSV back into rooms. Rows whose
// owner column carries a name materialize users unknown to the roster
// (quota 1, non-admin), matching what the sales office expects from a
// round trip. Any row error rejects the whole file.
func ImportInventoryCSV(r io.Reader) ([]models.Room, []models.User, []RowError) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rooms := []models.Room{}
	users := []models.User{}
	seenUsers := map[string]bool{}
	rowErrs := []RowError{}

	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			rowErrs = append(rowErrs, RowError{Line: line, Message: err.Error()})
			continue
		}
		if line == 1 {
			// Header row; tolerate a BOM on the first cell
			continue
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		if len(record) < 6 {
			rowErrs = append(rowErrs, RowError{Line: line, Message: fmt.Sprintf("expected at least 6 columns, got %d", len(record))})
			continue
		}

		room, ownerName, ownerPhone, errs := parseInventoryRow(record, line)
		rowErrs = append(rowErrs, errs...)
		if len(errs) > 0 {
			continue
		}
		rooms = append(rooms, room)

		if room.OwnerID != nil && ownerName != "" && !seenUsers[*room.OwnerID] {
			seenUsers[*room.OwnerID] = true
			users = append(users, models.User{
				ID:            *room.OwnerID,
				Name:          ownerName,
				Phone:         ownerPhone,
				MaxSelections: 1,
			})
		}
	}

	return rooms, users, rowErrs
}

// parseInventoryRow converts one CSV record into a typed room. It never
// guesses: every malformed cell is reported against its line.
func parseInventoryRow(record []string, line int) (models.Room, string, string, []RowError) {
	var errs []RowError
	fail := func(msg string) {
		errs = append(errs, RowError{Line: line, Message: msg})
	}

	id := strings.TrimSpace(strings.TrimPrefix(record[0], string(utf8BOM)))
	if id == "" {
		fail("missing room id")
	}

	building := strings.TrimSpace(record[1])
	if building == "" {
		fail("missing building")
	}

	floor, err := strconv.Atoi(strings.TrimSpace(record[2]))
	if err != nil || floor < 1 {
		fail(fmt.Sprintf("invalid floor %q", record[2]))
	}

	number := strings.TrimSpace(record[3])
	if number == "" {
		fail("missing room number")
	}

	area, err := strconv.ParseFloat(strings.TrimSpace(record[4]), 64)
	if err != nil || area <= 0 {
		fail(fmt.Sprintf("invalid area %q", record[4]))
	}

	status := models.RoomStatus(strings.TrimSpace(record[5]))
	if !status.Valid() {
		fail(fmt.Sprintf("unknown status %q", record[5]))
	}

	var ownerID *string
	ownerName, ownerPhone := "", ""
	if len(record) > 6 {
		if v := strings.TrimSpace(record[6]); v != "" {
			ownerID = &v
		}
	}
	if len(record) > 7 {
		ownerName = strings.TrimSpace(record[7])
	}
	if len(record) > 8 {
		ownerPhone = strings.TrimSpace(record[8])
	}

	if status == models.RoomStatusSelected && ownerID == nil {
		fail("SELECTED row without an owner id")
	}
	if status != models.RoomStatusSelected && ownerID != nil {
		fail(fmt.Sprintf("owner id on %s row", status))
	}

	if len(errs) > 0 {
		return models.Room{}, "", "", errs
	}

	return models.Room{
		ID:       id,
		Building: building,
		Floor:    floor,
		Number:   number,
		Area:     area,
		Status:   status,
		OwnerID:  ownerID,
		Version:  1,
	}, ownerName, ownerPhone, nil
}
