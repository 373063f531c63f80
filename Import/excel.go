package Import

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"AcesFuel/Models"
	"AcesFuel/Tasks"

	"github.com/xuri/excelize/v2"
)

var (
	ErrNoSheet       = errors.New("workbook has no sheets")
	ErrMissingHeader = errors.New("missing required column")
)

// Columns is the header row of an import workbook.
var Columns = []string{
	"site_name", "site_id", "driver_name", "driver_phone",
	"scheduled_at", "required_liters", "notes", "admin_status",
}

var headerAliases = map[string]string{
	"site":     "site_name",
	"driver":   "driver_name",
	"phone":    "driver_phone",
	"date":     "scheduled_at",
	"schedule": "scheduled_at",
	"liters":   "required_liters",
	"status":   "admin_status",
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02/01/2006 15:04",
	"02/01/2006",
}

// ParseWorkbook reads the first sheet of an xlsx upload into dispatcher
// tasks. Blank rows are skipped; the first bad cell fails the whole file.
func ParseWorkbook(r io.Reader, loc *time.Location) ([]Tasks.NewTask, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoSheet
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	index := headerIndex(rows[0])
	for _, required := range []string{"site_name", "driver_name"} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingHeader, required)
		}
	}
	if loc == nil {
		loc = time.UTC
	}

	var out []Tasks.NewTask
	for i, row := range rows[1:] {
		cell := func(name string) string {
			col, ok := index[name]
			if !ok || col >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[col])
		}
		if isBlank(row) {
			continue
		}

		rowNum := i + 2
		task := Tasks.NewTask{
			SiteName:    cell("site_name"),
			DriverName:  cell("driver_name"),
			DriverPhone: cell("driver_phone"),
			Notes:       cell("notes"),
			AdminStatus: Models.AdminStatus(cell("admin_status")),
		}
		if id := cell("site_id"); id != "" {
			task.SiteID = &id
		}
		if raw := cell("scheduled_at"); raw != "" {
			at, err := parseDate(raw, loc)
			if err != nil {
				return nil, fmt.Errorf("row %d: scheduled_at: %w", rowNum, err)
			}
			task.ScheduledAt = &at
		}
		if raw := cell("required_liters"); raw != "" {
			liters, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: required_liters %q is not a number", rowNum, raw)
			}
			task.RequiredLiters = &liters
		}
		out = append(out, task)
	}
	return out, nil
}

// Template returns an empty workbook with the import header row.
func Template() (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Tasks"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("error removing default sheet: %w", err)
	}

	for i, header := range Columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			return nil, err
		}
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6E6FA"}, Pattern: 1},
	})
	if err == nil {
		_ = f.SetRowStyle(sheetName, 1, 1, headerStyle)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("error writing workbook: %w", err)
	}
	return buf, nil
}

func headerIndex(header []string) map[string]int {
	index := make(map[string]int, len(header))
	for i, raw := range header {
		name := strings.ToLower(strings.TrimSpace(raw))
		name = strings.ReplaceAll(name, " ", "_")
		if alias, ok := headerAliases[name]; ok {
			name = alias
		}
		if _, seen := index[name]; !seen && name != "" {
			index[name] = i
		}
	}
	return index
}

func parseDate(raw string, loc *time.Location) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	// Unformatted date cells come through as Excel serial numbers.
	if serial, err := strconv.ParseFloat(raw, 64); err == nil {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, err
		}
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
