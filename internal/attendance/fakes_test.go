package attendance

import (
	"context"
	"errors"
	"sync"
	"time"

	"academy/internal/backend"
)

type fakeSource struct {
	mu       sync.Mutex
	students map[string][]backend.Student
	err      error
	calls    int

	// optional: block Students(date) until the gate is closed
	gates   map[string]chan struct{}
	started chan string
}

func (f *fakeSource) Students(ctx context.Context, date string) ([]backend.Student, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gates[date]
	started := f.started
	f.mu.Unlock()

	if started != nil {
		started <- date
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.students[date], nil
}

func (f *fakeSource) set(date string, students ...backend.Student) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.students == nil {
		f.students = make(map[string][]backend.Student)
	}
	f.students[date] = students
}

func student(id, name, branch string, courses ...backend.Course) backend.Student {
	return backend.Student{ID: backend.ID(id), FullName: name, BranchID: backend.ID(branch), Courses: courses}
}

func course(id, name string) backend.Course {
	return backend.Course{ID: backend.ID(id), Name: name}
}

type fakeWriter struct {
	mu     sync.Mutex
	fail   map[string]error
	reqs   []backend.MarkRequest
	delay  time.Duration
	onMark func(backend.MarkRequest)
}

func (w *fakeWriter) Mark(ctx context.Context, req backend.MarkRequest) error {
	if w.delay > 0 {
		time.Sleep(w.delay)
	}
	w.mu.Lock()
	w.reqs = append(w.reqs, req)
	err := w.fail[req.UserID]
	hook := w.onMark
	w.mu.Unlock()
	if hook != nil {
		hook(req)
	}
	return err
}

func (w *fakeWriter) requests() []backend.MarkRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]backend.MarkRequest(nil), w.reqs...)
}

var errOffline = &backend.NetworkError{Op: "mark", Err: errors.New("connection refused")}

var fixedNow = time.Date(2026, 10, 19, 14, 7, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }
