package export

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"academy/internal/attendance"
)

const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"

	sheetAttendance = "Attendance"
	sheetSummary    = "Summary"
)

var header = []string{"student_id", "student_name", "course", "date", "status", "check_in", "check_out", "notes"}

// Filename returns the download name of a roster export.
func Filename(date, format string) string {
	return fmt.Sprintf("attendance_%s.%s", date, format)
}

// ContentType returns the MIME type of format.
func ContentType(format string) string {
	if format == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

func row(r attendance.Record) []string {
	return []string{
		text(r.StudentID), text(r.StudentName), text(r.CourseName), r.Date,
		string(r.Status), r.CheckInTime, r.CheckOutTime, text(r.Notes),
	}
}

// text keeps free text from being read as a formula by spreadsheet apps.
func text(s string) string {
	if s == "" {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + s
	}
	return s
}

// WriteCSV writes records as CSV with a header row.
func WriteCSV(w io.Writer, records []attendance.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range records {
		if err := cw.Write(row(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes records to an Attendance sheet and the stats to a
// Summary sheet.
func WriteXLSX(w io.Writer, records []attendance.Record, stats attendance.Stats) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", sheetAttendance); err != nil {
		return err
	}
	for i, h := range header {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheetAttendance, cell, h); err != nil {
			return err
		}
	}
	for rIdx, r := range records {
		for cIdx, v := range row(r) {
			cell, _ := excelize.CoordinatesToCellName(cIdx+1, rIdx+2)
			if err := f.SetCellValue(sheetAttendance, cell, v); err != nil {
				return err
			}
		}
	}
	if err := formatSheet(f, sheetAttendance, len(header)); err != nil {
		return err
	}

	if _, err := f.NewSheet(sheetSummary); err != nil {
		return err
	}
	summary := [][]any{
		{"Total", stats.Total},
		{"Present", stats.Present},
		{"Absent", stats.Absent},
		{"Late", stats.Late},
		{"Not marked", stats.NotMarked},
		{"Attendance rate (%)", stats.AttendanceRate},
	}
	for i, kv := range summary {
		if err := f.SetSheetRow(sheetSummary, fmt.Sprintf("A%d", i+1), &kv); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(sheetSummary, "A", "A", 22)

	_, err := f.WriteTo(w)
	return err
}

// formatSheet bolds the header row, adds an autofilter and widens columns.
func formatSheet(f *excelize.File, sheet string, cols int) error {
	last, _ := excelize.ColumnNumberToName(cols)
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last+"1", style); err != nil {
		return err
	}
	if err := f.AutoFilter(sheet, fmt.Sprintf("A1:%s1", last), nil); err != nil {
		return err
	}
	return f.SetColWidth(sheet, "A", last, 16)
}
