package backend

import (
	"bytes"
	"encoding/json"
	"time"
)

// DateLayout is the calendar-day format used in query strings.
const DateLayout = "2006-01-02"

// ID accepts both JSON strings and numbers; the backend is not consistent.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// Course is a course a student is enrolled in.
type Course struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// AttendanceInfo is the server's view of a student's attendance for the day.
type AttendanceInfo struct {
	Status       string  `json:"status"`
	CheckInTime  *string `json:"check_in_time"`
	CheckOutTime *string `json:"check_out_time"`
	Notes        *string `json:"notes"`
}

// Student is one row of GET /api/attendance/students.
type Student struct {
	ID         ID              `json:"id"`
	FullName   string          `json:"full_name"`
	BranchID   ID              `json:"branch_id"`
	Courses    []Course        `json:"courses"`
	Attendance *AttendanceInfo `json:"attendance"`
}

// StudentsResponse is the body of GET /api/attendance/students.
type StudentsResponse struct {
	Students []Student `json:"students"`
}

// MarkRequest is the body of POST /api/attendance/mark.
type MarkRequest struct {
	UserID         string     `json:"user_id"`
	UserType       string     `json:"user_type"`
	CourseID       string     `json:"course_id"`
	BranchID       string     `json:"branch_id"`
	AttendanceDate time.Time  `json:"attendance_date"`
	Status         string     `json:"status"`
	CheckInTime    *time.Time `json:"check_in_time"`
	Notes          string     `json:"notes"`

	// Cycle tags every write of one save batch; sent as a header.
	Cycle string `json:"-"`
}

// ReportQuery filters GET /api/attendance/reports.
type ReportQuery struct {
	BranchID  string
	StartDate string
	EndDate   string
}

// ReportRecord is one historical attendance row.
type ReportRecord struct {
	StudentID    ID      `json:"student_id"`
	StudentName  string  `json:"student_name"`
	BranchID     ID      `json:"branch_id"`
	CourseID     ID      `json:"course_id"`
	CourseName   string  `json:"course_name"`
	Date         string  `json:"date"`
	Status       string  `json:"status"`
	CheckInTime  *string `json:"check_in_time"`
	CheckOutTime *string `json:"check_out_time"`
	Notes        *string `json:"notes"`
}

// ReportResponse is the body of GET /api/attendance/reports.
type ReportResponse struct {
	Records []ReportRecord `json:"records"`
}

// ExportFile is the body of GET /api/attendance/export.
type ExportFile struct {
	Content  string `json:"content"`
	Filename string `json:"filename"`
}
