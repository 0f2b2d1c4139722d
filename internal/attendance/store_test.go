package attendance

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"academy/internal/backend"
)

const day = "2026-10-19"

func loadedStore(t *testing.T, students ...backend.Student) (*Store, *fakeSource) {
	t.Helper()
	src := &fakeSource{}
	src.set(day, students...)
	s := NewStore(src, WithClock(fixedClock), WithLocation(time.UTC))
	_, err := s.Load(context.Background(), day, Filter{})
	require.NoError(t, err)
	return s, src
}

func TestBuildRosterOneRecordPerCourse(t *testing.T) {
	notes := "bring gi"
	ana := student("1", "Ana", "b1", course("10", "Kids BJJ"), course("11", "Judo"))
	ana.Attendance = &backend.AttendanceInfo{Status: "late", Notes: &notes}
	ben := student("2", "Ben", "b2")
	dup := student("1", "Ana again", "b1", course("10", "Kids BJJ"))

	recs := BuildRoster([]backend.Student{ana, ben, dup}, day, Filter{}, StatusNotMarked)
	require.Len(t, recs, 3)
	assert.Equal(t, "1_10_"+day, recs[0].ID)
	assert.Equal(t, "1_11_"+day, recs[1].ID)
	assert.Equal(t, "2_"+day, recs[2].ID)
	assert.Equal(t, StatusLate, recs[0].Status)
	assert.Equal(t, "bring gi", recs[1].Notes)
	assert.Equal(t, StatusNotMarked, recs[2].Status)
	assert.Equal(t, "Ana", recs[0].StudentName)

	filtered := BuildRoster([]backend.Student{ana, ben}, day, Filter{CourseID: "11"}, StatusAbsent)
	require.Len(t, filtered, 1)
	assert.Equal(t, "Judo", filtered[0].CourseName)
}

func TestBuildRosterDefaultStatus(t *testing.T) {
	s := student("3", "Caio", "b1")
	s.Attendance = &backend.AttendanceInfo{Status: ""}
	recs := BuildRoster([]backend.Student{s}, day, Filter{}, StatusAbsent)
	require.Len(t, recs, 1)
	assert.Equal(t, StatusAbsent, recs[0].Status)
}

func TestReloadDoesNotDuplicate(t *testing.T) {
	s, _ := loadedStore(t, student("1", "Ana", "b1", course("10", "BJJ")), student("2", "Ben", "b1"))
	_, err := s.Load(context.Background(), day, Filter{})
	require.NoError(t, err)
	assert.Len(t, s.Snapshot().Records, 2)
}

func TestSetStatusStampsAndClears(t *testing.T) {
	s, _ := loadedStore(t, student("1", "Ana", "b1"))
	id := RecordID("1", "", day)

	require.NoError(t, s.SetStatus(id, "present"))
	rec, ok := s.Snapshot().Record(id)
	require.True(t, ok)
	assert.Equal(t, StatusPresent, rec.Status)
	assert.Equal(t, "02:07 PM", rec.CheckInTime)
	assert.True(t, rec.Dirty)
	assert.True(t, s.Snapshot().Dirty)

	require.NoError(t, s.SetStatus(id, "absent"))
	rec, _ = s.Snapshot().Record(id)
	assert.Empty(t, rec.CheckInTime)
	assert.Empty(t, rec.CheckOutTime)
}

func TestSetAbsentClearsServerTimes(t *testing.T) {
	in, out := "08:00 AM", "09:30 AM"
	st := student("1", "Ana", "b1")
	st.Attendance = &backend.AttendanceInfo{Status: "absent", CheckInTime: &in, CheckOutTime: &out}
	s, _ := loadedStore(t, st)
	id := RecordID("1", "", day)

	require.NoError(t, s.SetStatus(id, "absent"))
	rec, _ := s.Snapshot().Record(id)
	assert.Empty(t, rec.CheckInTime)
	assert.Empty(t, rec.CheckOutTime)
}

func TestSetStatusIdempotent(t *testing.T) {
	s, _ := loadedStore(t, student("1", "Ana", "b1"), student("2", "Ben", "b1"))
	id := RecordID("1", "", day)

	require.NoError(t, s.SetStatus(id, "present"))
	once := s.Snapshot()
	require.NoError(t, s.SetStatus(id, "present"))
	twice := s.Snapshot()

	assert.Equal(t, once.Records, twice.Records)
	assert.Equal(t, once.Stats, twice.Stats)
	assert.Equal(t, once.Dirty, twice.Dirty)
}

func TestSetStatusErrors(t *testing.T) {
	s := NewStore(&fakeSource{})
	assert.ErrorIs(t, s.SetStatus("x", "present"), ErrNoRoster)

	s, _ = loadedStore(t, student("1", "Ana", "b1"))
	assert.ErrorIs(t, s.SetStatus("nope", "present"), ErrUnknownRecord)
	assert.ErrorIs(t, s.SetStatus(RecordID("1", "", day), "excused"), ErrInvalidStatus)
	assert.ErrorIs(t, s.SetStatus(RecordID("1", "", day), "not_marked"), ErrInvalidStatus)
}

func TestStatsInvariantUnderRandomEdits(t *testing.T) {
	var students []backend.Student
	for i := 0; i < 25; i++ {
		students = append(students, student(string(rune('A'+i)), "s", "b1"))
	}
	s, _ := loadedStore(t, students...)
	rng := rand.New(rand.NewSource(42))
	statuses := []string{"present", "absent", "late"}

	for i := 0; i < 500; i++ {
		id := RecordID(string(rune('A'+rng.Intn(25))), "", day)
		require.NoError(t, s.SetStatus(id, statuses[rng.Intn(3)]))
		st := s.Stats()
		require.Equal(t, 25, st.Total)
		require.Equal(t, st.Total, st.Present+st.Absent+st.Late+st.NotMarked)
	}
}

func TestEmptyRosterIsNotAnError(t *testing.T) {
	src := &fakeSource{}
	src.set(day)
	s := NewStore(src)
	snap, err := s.Load(context.Background(), day, Filter{})
	require.NoError(t, err)
	assert.Equal(t, RosterEmpty, snap.State)
	assert.True(t, snap.NoRecords)
	assert.Equal(t, 0, snap.Stats.Total)
	assert.Empty(t, snap.Error)
}

func TestLoadFailureReplacesRoster(t *testing.T) {
	s, src := loadedStore(t, student("1", "Ana", "b1"))
	require.NoError(t, s.SetStatus(RecordID("1", "", day), "late"))

	src.err = errOffline
	snap, err := s.Load(context.Background(), "2026-10-20", Filter{})
	assert.True(t, backend.IsNetwork(err))
	assert.Equal(t, RosterFailed, snap.State)
	assert.Empty(t, snap.Records)
	assert.False(t, snap.Dirty)
	assert.Contains(t, snap.Error, "connection refused")
}

func TestLoadRejectsMalformedDate(t *testing.T) {
	src := &fakeSource{}
	s := NewStore(src)
	snap, err := s.Load(context.Background(), "yesterday", Filter{})
	assert.Error(t, err)
	assert.Equal(t, RosterFailed, snap.State)
	assert.Zero(t, src.calls)
}

func TestStaleLoadDiscarded(t *testing.T) {
	const dateA, dateB = "2026-10-18", "2026-10-19"
	gateA, gateB := make(chan struct{}), make(chan struct{})
	src := &fakeSource{
		gates:   map[string]chan struct{}{dateA: gateA, dateB: gateB},
		started: make(chan string, 2),
	}
	src.set(dateA, student("1", "From A", "b1"))
	src.set(dateB, student("2", "From B", "b1"), student("3", "Also B", "b1"))
	s := NewStore(src)

	errA := make(chan error, 1)
	go func() {
		_, err := s.Load(context.Background(), dateA, Filter{})
		errA <- err
	}()
	require.Equal(t, dateA, <-src.started)

	errB := make(chan error, 1)
	go func() {
		_, err := s.Load(context.Background(), dateB, Filter{})
		errB <- err
	}()
	require.Equal(t, dateB, <-src.started)

	close(gateB)
	require.NoError(t, <-errB)
	close(gateA)
	assert.True(t, errors.Is(<-errA, ErrStaleLoad))

	snap := s.Snapshot()
	assert.Equal(t, dateB, snap.Date)
	assert.Equal(t, RosterLoaded, snap.State)
	require.Len(t, snap.Records, 2)
	assert.Equal(t, "From B", snap.Records[0].StudentName)
}

func TestReconcileKeepsLocalEdits(t *testing.T) {
	s, src := loadedStore(t, student("1", "Ana", "b1"), student("2", "Ben", "b1"))
	require.NoError(t, s.SetStatus(RecordID("2", "", day), "late"))

	notes := "normalised"
	ana := student("1", "Ana", "b1")
	ana.Attendance = &backend.AttendanceInfo{Status: "present", Notes: &notes}
	src.set(day, ana, student("2", "Ben", "b1"))

	snap, err := s.Reconcile(context.Background())
	require.NoError(t, err)
	a, _ := snap.Record(RecordID("1", "", day))
	b, _ := snap.Record(RecordID("2", "", day))
	assert.Equal(t, "normalised", a.Notes)
	assert.Equal(t, StatusPresent, a.Status)
	assert.Equal(t, StatusLate, b.Status)
	assert.True(t, b.Dirty)
	assert.True(t, snap.Dirty)
}

func TestDiscard(t *testing.T) {
	s, _ := loadedStore(t, student("1", "Ana", "b1"), student("2", "Ben", "b1"))
	id1, id2 := RecordID("1", "", day), RecordID("2", "", day)
	require.NoError(t, s.SetStatus(id1, "present"))
	require.NoError(t, s.SetStatus(id2, "present"))

	require.NoError(t, s.Discard(id1))
	snap := s.Snapshot()
	r1, _ := snap.Record(id1)
	assert.Equal(t, StatusNotMarked, r1.Status)
	assert.False(t, r1.Dirty)
	assert.True(t, snap.Dirty)

	s.DiscardAll()
	snap = s.Snapshot()
	assert.False(t, snap.Dirty)
	assert.Equal(t, 2, snap.Stats.NotMarked)
}

func TestSetNotes(t *testing.T) {
	s, _ := loadedStore(t, student("1", "Ana", "b1"))
	id := RecordID("1", "", day)
	require.NoError(t, s.SetNotes(id, "left early"))
	rec, _ := s.Snapshot().Record(id)
	assert.Equal(t, "left early", rec.Notes)
	assert.True(t, rec.Dirty)
}
