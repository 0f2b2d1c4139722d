package sandbox

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"academy/internal/attendance"
	"academy/internal/backend"
)

// ErrUnknownStudent is returned when a mark references a student that does not exist.
var ErrUnknownStudent = errors.New("sandbox: unknown student")

// Mark is one validated write to attendance_records.
type Mark struct {
	UserID      int64
	UserType    string
	CourseID    int64
	BranchID    int64
	Date        time.Time
	Status      string
	CheckInTime *time.Time
	Notes       string
	Cycle       string
	MarkedBy    string
}

// Repository persists the sandbox roster in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Students returns every active student with courses and the attendance
// recorded for date. When several course records exist for one student the
// most recently updated one is reported.
func (r *Repository) Students(ctx context.Context, date time.Time, branchID int64) ([]backend.Student, error) {
	query := `SELECT id, full_name, branch_id FROM students WHERE active`
	args := []any{}
	if branchID > 0 {
		query += ` AND branch_id = $1`
		args = append(args, branchID)
	}
	query += ` ORDER BY full_name, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []backend.Student{}
	index := make(map[int64]int)
	for rows.Next() {
		var (
			id, branch int64
			name       string
		)
		if err := rows.Scan(&id, &name, &branch); err != nil {
			return nil, err
		}
		index[id] = len(out)
		out = append(out, backend.Student{
			ID:       formatID(id),
			FullName: name,
			BranchID: formatID(branch),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	if err := r.attachCourses(ctx, out, index); err != nil {
		return nil, err
	}
	if err := r.attachAttendance(ctx, out, index, date); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) attachCourses(ctx context.Context, students []backend.Student, index map[int64]int) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT e.student_id, c.id, c.name
		FROM enrollments e
		JOIN courses c ON c.id = e.course_id
		ORDER BY e.student_id, c.id
	`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			sid, cid int64
			name     string
		)
		if err := rows.Scan(&sid, &cid, &name); err != nil {
			return err
		}
		if i, ok := index[sid]; ok {
			students[i].Courses = append(students[i].Courses, backend.Course{ID: formatID(cid), Name: name})
		}
	}
	return rows.Err()
}

func (r *Repository) attachAttendance(ctx context.Context, students []backend.Student, index map[int64]int, date time.Time) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, status, check_in_time, check_out_time, notes
		FROM attendance_records
		WHERE attendance_date = $1
		ORDER BY updated_at
	`, date.Format(backend.DateLayout))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			uid               int64
			status, notes     string
			checkIn, checkOut sql.NullTime
		)
		if err := rows.Scan(&uid, &status, &checkIn, &checkOut, &notes); err != nil {
			return err
		}
		if i, ok := index[uid]; ok {
			students[i].Attendance = &backend.AttendanceInfo{
				Status:       status,
				CheckInTime:  formatTime(checkIn),
				CheckOutTime: formatTime(checkOut),
				Notes:        &notes,
			}
		}
	}
	return rows.Err()
}

// UpsertMark writes one record, replacing any earlier mark for the same
// student, course and day. It returns the record id.
func (r *Repository) UpsertMark(ctx context.Context, m Mark) (string, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM students WHERE id = $1)`, m.UserID).Scan(&exists); err != nil {
		return "", err
	}
	if !exists {
		return "", ErrUnknownStudent
	}
	if m.UserType == "" {
		m.UserType = "student"
	}

	var checkIn any
	if m.CheckInTime != nil {
		checkIn = m.CheckInTime.UTC()
	}
	var id string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records
			(id, user_id, user_type, course_id, branch_id, attendance_date, status, check_in_time, notes, save_cycle, marked_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (user_id, course_id, attendance_date) DO UPDATE SET
			user_type = EXCLUDED.user_type,
			branch_id = EXCLUDED.branch_id,
			status = EXCLUDED.status,
			check_in_time = EXCLUDED.check_in_time,
			notes = EXCLUDED.notes,
			save_cycle = EXCLUDED.save_cycle,
			marked_by = EXCLUDED.marked_by,
			updated_at = NOW()
		RETURNING id
	`, uuid.NewString(), m.UserID, m.UserType, m.CourseID, m.BranchID, m.Date.Format(backend.DateLayout),
		m.Status, checkIn, m.Notes, m.Cycle, m.MarkedBy).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

// Reports returns stored records in a date range, oldest first.
func (r *Repository) Reports(ctx context.Context, branchID int64, start, end time.Time) ([]backend.ReportRecord, error) {
	query := `
		SELECT ar.user_id, s.full_name, ar.branch_id, ar.course_id, COALESCE(c.name, ''),
		       ar.attendance_date, ar.status, ar.check_in_time, ar.check_out_time, ar.notes
		FROM attendance_records ar
		JOIN students s ON s.id = ar.user_id
		LEFT JOIN courses c ON c.id = ar.course_id
		WHERE ar.attendance_date BETWEEN $1 AND $2`
	args := []any{start.Format(backend.DateLayout), end.Format(backend.DateLayout)}
	if branchID > 0 {
		query += ` AND ar.branch_id = $3`
		args = append(args, branchID)
	}
	query += ` ORDER BY ar.attendance_date, s.full_name, ar.course_id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []backend.ReportRecord{}
	for rows.Next() {
		var (
			uid, branch, course int64
			day                 time.Time
			checkIn, checkOut   sql.NullTime
			notes               string
			rec                 backend.ReportRecord
		)
		if err := rows.Scan(&uid, &rec.StudentName, &branch, &course, &rec.CourseName,
			&day, &rec.Status, &checkIn, &checkOut, &notes); err != nil {
			return nil, err
		}
		rec.StudentID = formatID(uid)
		rec.BranchID = formatID(branch)
		if course > 0 {
			rec.CourseID = formatID(course)
		}
		rec.Date = day.Format(backend.DateLayout)
		rec.CheckInTime = formatTime(checkIn)
		rec.CheckOutTime = formatTime(checkOut)
		rec.Notes = &notes
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpsertDailyStats stores the materialised stats of one branch and day.
func (r *Repository) UpsertDailyStats(ctx context.Context, branchID int64, date time.Time, st attendance.Stats) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_daily_stats
			(branch_id, stat_date, total_students, present, absent, late, not_marked, attendance_rate)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (branch_id, stat_date) DO UPDATE SET
			total_students = EXCLUDED.total_students,
			present = EXCLUDED.present,
			absent = EXCLUDED.absent,
			late = EXCLUDED.late,
			not_marked = EXCLUDED.not_marked,
			attendance_rate = EXCLUDED.attendance_rate,
			updated_at = NOW()
	`, branchID, date.Format(backend.DateLayout), st.Total, st.Present, st.Absent, st.Late, st.NotMarked, st.AttendanceRate)
	return err
}

// DailyStats returns the materialised stats, or nil when none exist yet.
func (r *Repository) DailyStats(ctx context.Context, branchID int64, date time.Time) (*attendance.Stats, error) {
	var st attendance.Stats
	err := r.db.QueryRowContext(ctx, `
		SELECT total_students, present, absent, late, not_marked, attendance_rate::float8
		FROM attendance_daily_stats
		WHERE branch_id = $1 AND stat_date = $2
	`, branchID, date.Format(backend.DateLayout)).Scan(&st.Total, &st.Present, &st.Absent, &st.Late, &st.NotMarked, &st.AttendanceRate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &st, nil
}

func formatID(id int64) backend.ID { return backend.ID(strconv.FormatInt(id, 10)) }

func formatTime(t sql.NullTime) *string {
	if !t.Valid {
		return nil
	}
	s := t.Time.UTC().Format(time.RFC3339)
	return &s
}
