package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"academy/internal/auth"
)

func TestStudentsDecodesMixedIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/attendance/students", r.URL.Path)
		assert.Equal(t, "2026-10-19", r.URL.Query().Get("date"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"students":[
			{"id": 12, "full_name": "Ana Silva", "branch_id": "b1",
			 "courses": [{"id": 3, "name": "Kids BJJ"}],
			 "attendance": {"status": "present", "check_in_time": "09:05 AM", "check_out_time": null, "notes": "early"}}
		]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, auth.Static("tok"), time.Second)
	students, err := c.Students(context.Background(), "2026-10-19")
	require.NoError(t, err)
	require.Len(t, students, 1)
	s := students[0]
	assert.Equal(t, ID("12"), s.ID)
	assert.Equal(t, ID("b1"), s.BranchID)
	assert.Equal(t, ID("3"), s.Courses[0].ID)
	require.NotNil(t, s.Attendance)
	assert.Equal(t, "present", s.Attendance.Status)
	assert.Equal(t, "early", *s.Attendance.Notes)
	assert.Nil(t, s.Attendance.CheckOutTime)
}

func TestStudentsRejectsBadDate(t *testing.T) {
	c := New("http://unused", auth.Static("tok"), time.Second)
	_, err := c.Students(context.Background(), "19/10/2026")
	assert.Error(t, err)
}

func TestUnauthorizedIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, auth.Static("expired"), time.Second)
	_, err := c.Students(context.Background(), "2026-10-19")
	assert.ErrorIs(t, err, ErrAuth)
}

func TestMissingTokenNeverCallsBackend(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := New(srv.URL, auth.Static(""), time.Second)
	err := c.Mark(context.Background(), MarkRequest{UserID: "1"})
	assert.ErrorIs(t, err, ErrAuth)
	assert.False(t, called)
}

func TestNetworkAndStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	c := New(srv.URL, auth.Static("tok"), time.Second)
	err := c.Mark(context.Background(), MarkRequest{UserID: "1"})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.Code)
	assert.Equal(t, "boom", se.Body)
	assert.False(t, IsNetwork(err))

	srv.Close()
	err = c.Mark(context.Background(), MarkRequest{UserID: "1"})
	assert.True(t, IsNetwork(err))
}

func TestMarkPayload(t *testing.T) {
	var got map[string]any
	var cycle string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cycle = r.Header.Get("X-Save-Cycle")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	day := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	c := New(srv.URL, auth.Static("tok"), time.Second)
	err := c.Mark(context.Background(), MarkRequest{
		UserID: "12", CourseID: "3", BranchID: "b1",
		AttendanceDate: day, Status: "absent", Cycle: "cycle-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "cycle-1", cycle)
	assert.Equal(t, "student", got["user_type"])
	assert.Equal(t, "2026-10-19T12:00:00Z", got["attendance_date"])
	assert.Contains(t, got, "check_in_time")
	assert.Nil(t, got["check_in_time"])
}

func TestExportUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := New(srv.URL, auth.Static("tok"), time.Second)
	_, err := c.Export(context.Background(), "csv", "")
	assert.ErrorIs(t, err, ErrExportUnavailable)
}

func TestReportsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "b1", q.Get("branch_id"))
		assert.Equal(t, "2026-10-01", q.Get("start_date"))
		assert.Equal(t, "2026-10-19", q.Get("end_date"))
		_, _ = w.Write([]byte(`{"records":[{"student_id":1,"student_name":"Ana","date":"2026-10-02","status":"late"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, auth.Static("tok"), time.Second)
	recs, err := c.Reports(context.Background(), ReportQuery{BranchID: "b1", StartDate: "2026-10-01", EndDate: "2026-10-19"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, ID("1"), recs[0].StudentID)
	assert.Equal(t, "late", recs[0].Status)
}
