package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"academy/internal/attendance"
	"academy/internal/auth"
	"academy/internal/backend"
	"academy/internal/queue"
)

const (
	testKey    = "sandbox-test-key"
	testIssuer = "academy-sandbox"
)

type fakeRepo struct {
	mu       sync.Mutex
	students []backend.Student
	marks    []Mark
	stored   map[string]attendance.Stats
}

func newFakeRepo() *fakeRepo {
	str := func(s string) *string { return &s }
	return &fakeRepo{
		students: []backend.Student{
			{ID: "1", FullName: "Ana", BranchID: "7", Courses: []backend.Course{{ID: "10", Name: "Kids"}},
				Attendance: &backend.AttendanceInfo{Status: "present", CheckInTime: str("2026-10-19T09:00:00Z")}},
			{ID: "2", FullName: "Ben", BranchID: "7", Courses: []backend.Course{{ID: "10", Name: "Kids"}}},
			{ID: "3", FullName: "Cy", BranchID: "8"},
		},
		stored: map[string]attendance.Stats{},
	}
}

func (f *fakeRepo) Students(_ context.Context, _ time.Time, branchID int64) ([]backend.Student, error) {
	if branchID == 0 {
		return f.students, nil
	}
	var out []backend.Student
	for _, s := range f.students {
		if string(s.BranchID) == formatIDString(branchID) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeRepo) UpsertMark(_ context.Context, m Mark) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m.UserID == 99 {
		return "", ErrUnknownStudent
	}
	f.marks = append(f.marks, m)
	return "rec-1", nil
}

func (f *fakeRepo) Reports(context.Context, int64, time.Time, time.Time) ([]backend.ReportRecord, error) {
	return []backend.ReportRecord{{StudentID: "1", StudentName: "Ana", Date: "2026-10-19", Status: "present"}}, nil
}

func (f *fakeRepo) UpsertDailyStats(_ context.Context, branchID int64, date time.Time, st attendance.Stats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored[formatIDString(branchID)+"/"+date.Format(backend.DateLayout)] = st
	return nil
}

func (f *fakeRepo) DailyStats(_ context.Context, branchID int64, date time.Time) (*attendance.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.stored[formatIDString(branchID)+"/"+date.Format(backend.DateLayout)]; ok {
		return &st, nil
	}
	return nil, nil
}

func formatIDString(id int64) string { return string(formatID(id)) }

func newTestServer(t *testing.T) (*gin.Engine, *fakeRepo, *queue.InMemory, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	repo := newFakeRepo()
	q := queue.NewInMemory(16)
	svc := NewService(repo, q, nil, time.UTC)
	svc.now = func() time.Time { return time.Date(2026, 10, 19, 14, 0, 0, 0, time.UTC) }

	r := gin.New()
	NewHandler(svc, testKey, testIssuer, time.Hour, nil).Register(r)

	token, _, err := auth.Issue(auth.Identity{UserID: "coach-1", Role: "coach"}, testIssuer, testKey, time.Hour)
	require.NoError(t, err)
	return r, repo, q, token
}

func do(r http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStudentsRequiresTokenAndLabelsResponses(t *testing.T) {
	r, _, _, token := newTestServer(t)

	w := do(r, http.MethodGet, "/api/attendance/students?date=2026-10-19", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "true", w.Header().Get("X-Sandbox"))

	w = do(r, http.MethodGet, "/api/attendance/students?date=2026-10-19", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "true", w.Header().Get("X-Sandbox"))
	var resp backend.StudentsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Students, 3)

	w = do(r, http.MethodGet, "/api/attendance/students?date=19-10-2026", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIssueToken(t *testing.T) {
	r, _, _, _ := newTestServer(t)
	w := do(r, http.MethodPost, "/api/auth/token", "", map[string]string{"user_id": "42", "branch_id": "7"})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	claims, err := auth.Parse(resp.AccessToken, testKey, testIssuer)
	require.NoError(t, err)
	assert.Equal(t, "42", claims.Subject)
	assert.Equal(t, "coach", claims.Role)
}

func TestMarkStoresAndPublishes(t *testing.T) {
	r, repo, q, token := newTestServer(t)
	checkIn := time.Date(2026, 10, 19, 14, 7, 0, 0, time.UTC)
	body := map[string]any{
		"user_id":         "2",
		"user_type":       "student",
		"course_id":       "10",
		"branch_id":       "7",
		"attendance_date": "2026-10-19T12:00:00Z",
		"status":          "late",
		"check_in_time":   checkIn,
		"notes":           " traffic ",
	}

	req := httptest.NewRequest(http.MethodPost, "/api/attendance/mark", strings.NewReader(mustJSON(t, body)))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Save-Cycle", "cycle-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.Len(t, repo.marks, 1)
	m := repo.marks[0]
	assert.Equal(t, int64(2), m.UserID)
	assert.Equal(t, int64(10), m.CourseID)
	assert.Equal(t, "late", m.Status)
	assert.Equal(t, "traffic", m.Notes)
	assert.Equal(t, "cycle-1", m.Cycle)
	assert.Equal(t, "coach-1", m.MarkedBy)
	require.NotNil(t, m.CheckInTime)
	assert.True(t, checkIn.Equal(*m.CheckInTime))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ch, err := q.Consume(ctx)
	require.NoError(t, err)
	msg := <-ch
	assert.Equal(t, queue.TypeMarked, msg.Type)
	var evt queue.MarkedEvent
	require.NoError(t, json.Unmarshal(msg.Body, &evt))
	assert.Equal(t, "7", evt.BranchID)
	assert.Equal(t, "2026-10-19", evt.Date)
	assert.Equal(t, "cycle-1", evt.Cycle)
}

func TestMarkValidation(t *testing.T) {
	r, repo, _, token := newTestServer(t)
	base := func() map[string]any {
		return map[string]any{
			"user_id": "2", "branch_id": "7", "attendance_date": "2026-10-19T12:00:00Z", "status": "present",
		}
	}

	bad := base()
	bad["status"] = "not_marked"
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/attendance/mark", token, bad).Code)

	bad = base()
	bad["user_id"] = "abc"
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/attendance/mark", token, bad).Code)

	bad = base()
	delete(bad, "branch_id")
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/attendance/mark", token, bad).Code)

	unknown := base()
	unknown["user_id"] = "99"
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/api/attendance/mark", token, unknown).Code)

	assert.Empty(t, repo.marks)
}

func TestMarkAbsentDropsCheckIn(t *testing.T) {
	r, repo, _, token := newTestServer(t)
	body := map[string]any{
		"user_id": "2", "branch_id": "7", "attendance_date": "2026-10-19T12:00:00Z",
		"status": "absent", "check_in_time": "2026-10-19T09:00:00Z",
	}
	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/attendance/mark", token, body).Code)
	require.Len(t, repo.marks, 1)
	assert.Nil(t, repo.marks[0].CheckInTime)
	assert.Zero(t, repo.marks[0].CourseID)
}

func TestExport(t *testing.T) {
	r, _, _, token := newTestServer(t)

	w := do(r, http.MethodGet, "/api/attendance/export?format=csv&date=2026-10-19", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var file backend.ExportFile
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &file))
	assert.Equal(t, "attendance_2026-10-19.csv", file.Filename)
	assert.Contains(t, file.Content, "Ana")
	assert.Equal(t, 4, strings.Count(file.Content, "\n"), "header plus three records")

	w = do(r, http.MethodGet, "/api/attendance/export?format=xlsx", token, nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestReportsDateRange(t *testing.T) {
	r, _, _, token := newTestServer(t)
	w := do(r, http.MethodGet, "/api/attendance/reports?branch_id=7&start_date=2026-10-01&end_date=2026-10-19", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp backend.ReportResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Records, 1)

	w = do(r, http.MethodGet, "/api/attendance/reports?start_date=2026-10-19&end_date=2026-10-01", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDailyStatsLiveThenMaterialised(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, nil, nil, time.UTC)
	ctx := context.Background()

	live, err := svc.DailyStats(ctx, "7", "2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, 2, live.Total)
	assert.Equal(t, 1, live.Present)
	assert.Equal(t, 1, live.NotMarked)
	assert.Equal(t, 50.0, live.AttendanceRate)

	repo.students[1].Attendance = &backend.AttendanceInfo{Status: "late"}
	st, err := svc.RecomputeDailyStats(ctx, "7", "2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, 100.0, st.AttendanceRate)

	stored, err := svc.DailyStats(ctx, "7", "2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, st, stored)

	_, err = svc.DailyStats(ctx, "", "2026-10-19")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}
