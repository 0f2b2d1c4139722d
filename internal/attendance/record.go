package attendance

import (
	"fmt"
	"strings"

	"academy/internal/backend"
)

// Status is the attendance mark of one record.
type Status string

const (
	StatusPresent   Status = "present"
	StatusAbsent    Status = "absent"
	StatusLate      Status = "late"
	StatusNotMarked Status = "not_marked"
)

// ParseStatus accepts the statuses a coach can set.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPresent, StatusAbsent, StatusLate:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// normalizeStatus maps a server status onto the known set.
func normalizeStatus(s string, def Status) Status {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPresent, StatusAbsent, StatusLate, StatusNotMarked:
		return st
	}
	return def
}

// Record is one row per (student, course, date).
type Record struct {
	ID           string `json:"id"`
	StudentID    string `json:"student_id"`
	StudentName  string `json:"student_name"`
	BranchID     string `json:"branch_id"`
	CourseID     string `json:"course_id"`
	CourseName   string `json:"course_name"`
	Date         string `json:"date"`
	Status       Status `json:"status"`
	CheckInTime  string `json:"check_in_time,omitempty"`
	CheckOutTime string `json:"check_out_time,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

// RecordID derives the stable identifier of a record. Re-fetching the same
// roster always yields the same IDs.
func RecordID(studentID, courseID, date string) string {
	if courseID == "" {
		return studentID + "_" + date
	}
	return studentID + "_" + courseID + "_" + date
}

// Filter narrows a roster to one branch and/or course.
type Filter struct {
	BranchID string `json:"branch_id,omitempty"`
	CourseID string `json:"course_id,omitempty"`
}

func (f Filter) match(r Record) bool {
	if f.BranchID != "" && r.BranchID != f.BranchID {
		return false
	}
	if f.CourseID != "" && r.CourseID != f.CourseID {
		return false
	}
	return true
}

// BuildRoster turns the students payload into records, one per enrolled
// course. Students without courses get a single branch-level record.
// Duplicate IDs keep the first occurrence.
func BuildRoster(students []backend.Student, date string, f Filter, def Status) []Record {
	out := make([]Record, 0, len(students))
	seen := make(map[string]struct{}, len(students))

	add := func(s backend.Student, courseID, courseName string) {
		rec := Record{
			ID:          RecordID(string(s.ID), courseID, date),
			StudentID:   string(s.ID),
			StudentName: s.FullName,
			BranchID:    string(s.BranchID),
			CourseID:    courseID,
			CourseName:  courseName,
			Date:        date,
			Status:      def,
		}
		if a := s.Attendance; a != nil {
			rec.Status = normalizeStatus(a.Status, def)
			rec.CheckInTime = deref(a.CheckInTime)
			rec.CheckOutTime = deref(a.CheckOutTime)
			rec.Notes = deref(a.Notes)
		}
		if !f.match(rec) {
			return
		}
		if _, dup := seen[rec.ID]; dup {
			return
		}
		seen[rec.ID] = struct{}{}
		out = append(out, rec)
	}

	for _, s := range students {
		if s.ID == "" {
			continue
		}
		if len(s.Courses) == 0 {
			add(s, "", "")
			continue
		}
		for _, c := range s.Courses {
			add(s, string(c.ID), c.Name)
		}
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// FromReports converts history rows into records so they can be counted
// with ComputeStats. Unknown statuses count as not marked.
func FromReports(rows []backend.ReportRecord) []Record {
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, Record{
			ID:           RecordID(string(r.StudentID), string(r.CourseID), r.Date),
			StudentID:    string(r.StudentID),
			StudentName:  r.StudentName,
			BranchID:     string(r.BranchID),
			CourseID:     string(r.CourseID),
			CourseName:   r.CourseName,
			Date:         r.Date,
			Status:       normalizeStatus(r.Status, StatusNotMarked),
			CheckInTime:  deref(r.CheckInTime),
			CheckOutTime: deref(r.CheckOutTime),
			Notes:        deref(r.Notes),
		})
	}
	return out
}
