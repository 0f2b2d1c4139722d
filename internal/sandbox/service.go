package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"academy/internal/attendance"
	"academy/internal/backend"
	"academy/internal/export"
	"academy/internal/metrics"
	"academy/internal/queue"
)

var (
	// ErrInvalidInput wraps every request validation failure.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnsupportedFormat is returned for export formats the sandbox does not render.
	ErrUnsupportedFormat = errors.New("export format not supported")
)

// Repo is the persistence the service needs.
type Repo interface {
	Students(ctx context.Context, date time.Time, branchID int64) ([]backend.Student, error)
	UpsertMark(ctx context.Context, m Mark) (string, error)
	Reports(ctx context.Context, branchID int64, start, end time.Time) ([]backend.ReportRecord, error)
	UpsertDailyStats(ctx context.Context, branchID int64, date time.Time, st attendance.Stats) error
	DailyStats(ctx context.Context, branchID int64, date time.Time) (*attendance.Stats, error)
}

// Publisher sends attendance events to the worker.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Service implements the sandbox backend on top of Repo.
type Service struct {
	repo Repo
	pub  Publisher
	log  *zap.Logger
	loc  *time.Location
	now  func() time.Time
}

// NewService creates a service. pub may be nil to skip events.
func NewService(repo Repo, pub Publisher, log *zap.Logger, loc *time.Location) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{repo: repo, pub: pub, log: log, loc: loc, now: time.Now}
}

// Students returns the roster for a calendar day.
func (s *Service) Students(ctx context.Context, date string) ([]backend.Student, error) {
	day, err := s.parseDate(date)
	if err != nil {
		return nil, err
	}
	return s.repo.Students(ctx, day, 0)
}

// Mark validates and stores one record, then publishes an event.
func (s *Service) Mark(ctx context.Context, req backend.MarkRequest, markedBy string) (string, error) {
	userID, err := parseID("user_id", req.UserID, true)
	if err != nil {
		return "", err
	}
	branchID, err := parseID("branch_id", req.BranchID, true)
	if err != nil {
		return "", err
	}
	courseID, err := parseID("course_id", req.CourseID, false)
	if err != nil {
		return "", err
	}
	status, err := attendance.ParseStatus(req.Status)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if req.UserType != "" && req.UserType != "student" {
		return "", fmt.Errorf("%w: unsupported user_type %q", ErrInvalidInput, req.UserType)
	}
	if req.AttendanceDate.IsZero() {
		return "", fmt.Errorf("%w: attendance_date required", ErrInvalidInput)
	}

	m := Mark{
		UserID:      userID,
		UserType:    "student",
		CourseID:    courseID,
		BranchID:    branchID,
		Date:        req.AttendanceDate.In(s.loc),
		Status:      string(status),
		CheckInTime: req.CheckInTime,
		Notes:       strings.TrimSpace(req.Notes),
		Cycle:       req.Cycle,
		MarkedBy:    markedBy,
	}
	if status == attendance.StatusAbsent {
		m.CheckInTime = nil
	}

	id, err := s.repo.UpsertMark(ctx, m)
	if err != nil {
		return "", err
	}
	s.publish(ctx, m)
	return id, nil
}

func (s *Service) publish(ctx context.Context, m Mark) {
	if s.pub == nil {
		return
	}
	evt := queue.MarkedEvent{
		StudentID: strconv.FormatInt(m.UserID, 10),
		BranchID:  strconv.FormatInt(m.BranchID, 10),
		Date:      m.Date.Format(backend.DateLayout),
		Status:    m.Status,
		Cycle:     m.Cycle,
		At:        s.now().UTC(),
	}
	if m.CourseID > 0 {
		evt.CourseID = strconv.FormatInt(m.CourseID, 10)
	}
	msg, err := queue.NewMarked(evt)
	if err == nil {
		err = s.pub.Publish(ctx, msg)
	}
	if err != nil {
		metrics.QueueEvents.WithLabelValues("failed").Inc()
		s.log.Warn("queue publish failed", zap.Error(err), zap.String("student_id", evt.StudentID))
		return
	}
	metrics.QueueEvents.WithLabelValues("published").Inc()
}

// Reports returns history for a branch. A missing end defaults to start; a
// missing start defaults to today.
func (s *Service) Reports(ctx context.Context, branch, start, end string) ([]backend.ReportRecord, error) {
	branchID, err := parseID("branch_id", branch, false)
	if err != nil {
		return nil, err
	}
	if start == "" {
		start = s.today()
	}
	if end == "" {
		end = start
	}
	from, err := s.parseDate(start)
	if err != nil {
		return nil, err
	}
	to, err := s.parseDate(end)
	if err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, fmt.Errorf("%w: end_date before start_date", ErrInvalidInput)
	}
	return s.repo.Reports(ctx, branchID, from, to)
}

// Export renders the day's roster. Only CSV is produced here.
func (s *Service) Export(ctx context.Context, format, date string) (backend.ExportFile, error) {
	if format == "" {
		format = export.FormatCSV
	}
	if format != export.FormatCSV {
		return backend.ExportFile{}, ErrUnsupportedFormat
	}
	if date == "" {
		date = s.today()
	}
	day, err := s.parseDate(date)
	if err != nil {
		return backend.ExportFile{}, err
	}
	students, err := s.repo.Students(ctx, day, 0)
	if err != nil {
		return backend.ExportFile{}, err
	}
	records := attendance.BuildRoster(students, date, attendance.Filter{}, attendance.StatusNotMarked)
	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, records); err != nil {
		return backend.ExportFile{}, err
	}
	return backend.ExportFile{Content: buf.String(), Filename: export.Filename(date, format)}, nil
}

// DailyStats returns the materialised stats for a branch, computing them
// live when the worker has not run yet.
func (s *Service) DailyStats(ctx context.Context, branch, date string) (attendance.Stats, error) {
	branchID, err := parseID("branch_id", branch, true)
	if err != nil {
		return attendance.Stats{}, err
	}
	if date == "" {
		date = s.today()
	}
	day, err := s.parseDate(date)
	if err != nil {
		return attendance.Stats{}, err
	}
	st, err := s.repo.DailyStats(ctx, branchID, day)
	if err != nil {
		return attendance.Stats{}, err
	}
	if st != nil {
		return *st, nil
	}
	return s.liveStats(ctx, branchID, day)
}

// RecomputeDailyStats recalculates and stores the stats of one branch and day.
func (s *Service) RecomputeDailyStats(ctx context.Context, branch, date string) (attendance.Stats, error) {
	branchID, err := parseID("branch_id", branch, true)
	if err != nil {
		return attendance.Stats{}, err
	}
	day, err := s.parseDate(date)
	if err != nil {
		return attendance.Stats{}, err
	}
	st, err := s.liveStats(ctx, branchID, day)
	if err != nil {
		return attendance.Stats{}, err
	}
	if err := s.repo.UpsertDailyStats(ctx, branchID, day, st); err != nil {
		return attendance.Stats{}, err
	}
	return st, nil
}

func (s *Service) liveStats(ctx context.Context, branchID int64, day time.Time) (attendance.Stats, error) {
	students, err := s.repo.Students(ctx, day, branchID)
	if err != nil {
		return attendance.Stats{}, err
	}
	date := day.Format(backend.DateLayout)
	filter := attendance.Filter{BranchID: strconv.FormatInt(branchID, 10)}
	return attendance.ComputeStats(attendance.BuildRoster(students, date, filter, attendance.StatusNotMarked)), nil
}

func (s *Service) today() string {
	return s.now().In(s.loc).Format(backend.DateLayout)
}

func (s *Service) parseDate(v string) (time.Time, error) {
	t, err := time.ParseInLocation(backend.DateLayout, v, s.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidInput, v)
	}
	return t, nil
}

func parseID(field, v string, required bool) (int64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		if required {
			return 0, fmt.Errorf("%w: %s required", ErrInvalidInput, field)
		}
		return 0, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", ErrInvalidInput, field)
	}
	return id, nil
}
