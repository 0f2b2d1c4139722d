package attendance

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"academy/internal/backend"
	"academy/internal/metrics"
)

// CheckInLayout is how local check-in stamps are displayed.
const CheckInLayout = "03:04 PM"

// RosterSource fetches the students payload for a day.
type RosterSource interface {
	Students(ctx context.Context, date string) ([]backend.Student, error)
}

// RosterState describes what the store currently holds.
type RosterState string

const (
	RosterIdle    RosterState = "idle"
	RosterLoading RosterState = "loading"
	RosterLoaded  RosterState = "loaded"
	RosterEmpty   RosterState = "empty"
	RosterFailed  RosterState = "failed"
)

// SaveState is the per-record save overlay.
type SaveState string

const (
	SaveIdle    SaveState = "idle"
	SaveSaving  SaveState = "saving"
	SaveSuccess SaveState = "success"
	SaveError   SaveState = "error"
)

// RecordView is a record with its local bookkeeping.
type RecordView struct {
	Record
	Dirty     bool      `json:"dirty"`
	SaveState SaveState `json:"save_state"`
	SaveError string    `json:"save_error,omitempty"`
}

// Snapshot is an immutable copy of the store.
type Snapshot struct {
	Generation uint64       `json:"generation"`
	Date       string       `json:"date"`
	Filter     Filter       `json:"filter"`
	State      RosterState  `json:"state"`
	Error      string       `json:"error,omitempty"`
	Records    []RecordView `json:"records"`
	Dirty      bool         `json:"dirty"`
	Stats      Stats        `json:"stats"`
	NoRecords  bool         `json:"no_records"`
}

// Record returns the view of one record.
func (s Snapshot) Record(id string) (RecordView, bool) {
	for _, r := range s.Records {
		if r.ID == id {
			return r, true
		}
	}
	return RecordView{}, false
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) StoreOption {
	return func(s *Store) { s.log = l }
}

// WithDefaultStatus sets the status of records the server has not marked.
// Branch-level coach rosters use StatusAbsent.
func WithDefaultStatus(st Status) StoreOption {
	return func(s *Store) { s.defaultStatus = st }
}

// WithLocation sets the zone used for check-in stamps.
func WithLocation(loc *time.Location) StoreOption {
	return func(s *Store) { s.loc = loc }
}

// Store owns the roster of the selected day. It keeps the last-synced
// records and an overlay of unsaved local edits; the two are merged for
// display and only folded together when a save is confirmed.
type Store struct {
	src           RosterSource
	log           *zap.Logger
	now           func() time.Time
	loc           *time.Location
	defaultStatus Status

	mu sync.RWMutex

	// gen tags every fetch; epoch changes only when the roster is replaced
	// by Load, so saves survive a background Reconcile.
	gen         uint64
	epoch       uint64
	date        string
	filter      Filter
	state       RosterState
	loadErr     error
	order       []string
	synced      map[string]Record
	edits       map[string]Record
	dirty       map[string]bool
	rosterDirty bool
	saves       map[string]SaveState
	saveErrs    map[string]string
}

// NewStore creates an empty store.
func NewStore(src RosterSource, opts ...StoreOption) *Store {
	s := &Store{
		src:           src,
		log:           zap.NewNop(),
		now:           time.Now,
		loc:           time.Local,
		defaultStatus: StatusNotMarked,
		state:         RosterIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.reset(nil)
	return s
}

// reset installs records as the authoritative layer and drops all local state.
// Callers hold mu.
func (s *Store) reset(records []Record) {
	s.order = make([]string, 0, len(records))
	s.synced = make(map[string]Record, len(records))
	for _, r := range records {
		s.order = append(s.order, r.ID)
		s.synced[r.ID] = r
	}
	s.edits = make(map[string]Record)
	s.dirty = make(map[string]bool)
	s.saves = make(map[string]SaveState)
	s.saveErrs = make(map[string]string)
	s.rosterDirty = false
}

// Load replaces the roster with the given day. The roster is cleared as soon
// as the load is issued; a failed fetch leaves an explicit failed state. If a
// newer load was issued meanwhile, the result is dropped and ErrStaleLoad
// returned.
func (s *Store) Load(ctx context.Context, date string, f Filter) (Snapshot, error) {
	s.mu.Lock()
	s.gen++
	s.epoch++
	gen := s.gen
	s.date = date
	s.filter = f
	s.state = RosterLoading
	s.loadErr = nil
	s.reset(nil)
	s.mu.Unlock()

	var students []backend.Student
	_, err := time.Parse(backend.DateLayout, date)
	if err == nil {
		students, err = s.src.Students(ctx, date)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		metrics.RosterLoads.WithLabelValues("stale").Inc()
		s.log.Debug("discarding stale roster", zap.String("date", date), zap.Uint64("gen", gen), zap.Uint64("current", s.gen))
		return s.snapshotLocked(), ErrStaleLoad
	}
	if err != nil {
		s.state = RosterFailed
		s.loadErr = err
		metrics.RosterLoads.WithLabelValues("error").Inc()
		s.log.Warn("roster load failed", zap.String("date", date), zap.Error(err))
		return s.snapshotLocked(), err
	}

	records := BuildRoster(students, date, f, s.defaultStatus)
	s.reset(records)
	if len(records) == 0 {
		s.state = RosterEmpty
		metrics.RosterLoads.WithLabelValues("empty").Inc()
	} else {
		s.state = RosterLoaded
		metrics.RosterLoads.WithLabelValues("ok").Inc()
	}
	s.log.Debug("roster loaded", zap.String("date", date), zap.Int("records", len(records)))
	return s.snapshotLocked(), nil
}

// Reconcile re-fetches the current day and replaces the authoritative layer
// only. Unsaved edits made since the last save stay in the overlay. A failed
// reconcile keeps the displayed roster.
func (s *Store) Reconcile(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	if s.state != RosterLoaded && s.state != RosterEmpty {
		s.mu.Unlock()
		return Snapshot{}, ErrNoRoster
	}
	s.gen++
	gen, date, f := s.gen, s.date, s.filter
	s.mu.Unlock()

	students, err := s.src.Students(ctx, date)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		metrics.RosterLoads.WithLabelValues("stale").Inc()
		return s.snapshotLocked(), ErrStaleLoad
	}
	if err != nil {
		metrics.RosterLoads.WithLabelValues("error").Inc()
		return s.snapshotLocked(), err
	}

	records := BuildRoster(students, date, f, s.defaultStatus)
	edits, dirty, saves, saveErrs, rosterDirty := s.edits, s.dirty, s.saves, s.saveErrs, s.rosterDirty
	s.reset(records)
	for id := range s.synced {
		if e, ok := edits[id]; ok {
			s.edits[id] = e
		}
		if dirty[id] {
			s.dirty[id] = true
		}
		if st, ok := saves[id]; ok {
			s.saves[id] = st
			if msg, ok := saveErrs[id]; ok {
				s.saveErrs[id] = msg
			}
		}
	}
	s.rosterDirty = rosterDirty || len(s.dirty) > 0
	if len(records) == 0 {
		s.state = RosterEmpty
	} else {
		s.state = RosterLoaded
	}
	metrics.RosterLoads.WithLabelValues("ok").Inc()
	return s.snapshotLocked(), nil
}

// SetStatus changes a record locally and marks it unsaved. Marking a record
// absent clears its check-in/out times; any other status stamps the current
// time. Repeating the same status does not change the record.
func (s *Store) SetStatus(id, status string) error {
	st, err := ParseStatus(status)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.editableLocked(id)
	if err != nil {
		return err
	}

	changed := rec.Status != st
	rec.Status = st
	if st == StatusAbsent {
		rec.CheckInTime = ""
		rec.CheckOutTime = ""
	} else if changed || rec.CheckInTime == "" {
		rec.CheckInTime = s.clock()
	}
	s.markLocked(rec)
	return nil
}

// SetNotes changes a record's notes locally.
func (s *Store) SetNotes(id, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.editableLocked(id)
	if err != nil {
		return err
	}
	rec.Notes = notes
	s.markLocked(rec)
	return nil
}

// Discard drops the local edit of one record, restoring the synced value.
func (s *Store) Discard(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.editableLocked(id); err != nil {
		return err
	}
	delete(s.edits, id)
	delete(s.dirty, id)
	delete(s.saves, id)
	delete(s.saveErrs, id)
	s.rosterDirty = len(s.dirty) > 0
	return nil
}

// DiscardAll drops every local edit except those being saved.
func (s *Store) DiscardAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		if s.saves[id] == SaveSaving {
			continue
		}
		delete(s.edits, id)
		delete(s.dirty, id)
		delete(s.saves, id)
		delete(s.saveErrs, id)
	}
	s.rosterDirty = len(s.dirty) > 0
}

// Snapshot returns the current roster.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Stats returns the stats of the current roster.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ComputeStats(s.recordsLocked())
}

// Date returns the selected day and filter.
func (s *Store) Date() (string, Filter) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.date, s.filter
}

func (s *Store) clock() string {
	return s.now().In(s.loc).Format(CheckInLayout)
}

func (s *Store) editableLocked(id string) (Record, error) {
	if s.state != RosterLoaded {
		return Record{}, ErrNoRoster
	}
	rec, ok := s.currentLocked(id)
	if !ok {
		return Record{}, ErrUnknownRecord
	}
	if s.saves[id] == SaveSaving {
		return Record{}, ErrSaveInFlight
	}
	return rec, nil
}

func (s *Store) markLocked(rec Record) {
	s.edits[rec.ID] = rec
	s.dirty[rec.ID] = true
	s.rosterDirty = true
	if s.saves[rec.ID] == SaveSuccess {
		delete(s.saves, rec.ID)
	}
}

func (s *Store) currentLocked(id string) (Record, bool) {
	if e, ok := s.edits[id]; ok {
		return e, true
	}
	r, ok := s.synced[id]
	return r, ok
}

func (s *Store) recordsLocked() []Record {
	out := make([]Record, 0, len(s.order))
	for _, id := range s.order {
		if r, ok := s.currentLocked(id); ok {
			out = append(out, r)
		}
	}
	return out
}

func (s *Store) snapshotLocked() Snapshot {
	records := s.recordsLocked()
	views := make([]RecordView, 0, len(records))
	for _, r := range records {
		st := s.saves[r.ID]
		if st == "" {
			st = SaveIdle
		}
		views = append(views, RecordView{
			Record:    r,
			Dirty:     s.dirty[r.ID],
			SaveState: st,
			SaveError: s.saveErrs[r.ID],
		})
	}
	snap := Snapshot{
		Generation: s.gen,
		Date:       s.date,
		Filter:     s.filter,
		State:      s.state,
		Records:    views,
		Dirty:      s.rosterDirty,
		Stats:      ComputeStats(records),
		NoRecords:  s.state == RosterEmpty,
	}
	if s.loadErr != nil {
		snap.Error = s.loadErr.Error()
	}
	return snap
}

// batch is the view captured at the start of a save.
type batch struct {
	epoch   uint64
	date    string
	records []Record
	skipped int
}

// beginSave marks every marked record of the current view as saving.
// Records nobody has marked yet have nothing to write and are skipped.
func (s *Store) beginSave() (batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != RosterLoaded && s.state != RosterEmpty {
		return batch{}, ErrNoRoster
	}
	all := s.recordsLocked()
	for _, r := range all {
		if s.saves[r.ID] == SaveSaving {
			return batch{}, ErrSaveInFlight
		}
	}
	// a reconcile fetched before this batch must not overwrite what it confirms
	s.gen++
	b := batch{epoch: s.epoch, date: s.date, records: make([]Record, 0, len(all))}
	for _, r := range all {
		if r.Status == StatusNotMarked {
			b.skipped++
			continue
		}
		s.saves[r.ID] = SaveSaving
		delete(s.saveErrs, r.ID)
		b.records = append(b.records, r)
	}
	return b, nil
}

// applyResult records the outcome of one write. A confirmed record is folded
// into the synced layer; a failed one keeps its edit and stays dirty.
// Results of a superseded roster are ignored.
func (s *Store) applyResult(epoch uint64, sent Record, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return false
	}
	if _, ok := s.synced[sent.ID]; !ok {
		return false
	}
	if err != nil {
		s.saves[sent.ID] = SaveError
		s.saveErrs[sent.ID] = err.Error()
		s.dirty[sent.ID] = true
		return true
	}
	s.gen++
	s.synced[sent.ID] = sent
	delete(s.edits, sent.ID)
	delete(s.dirty, sent.ID)
	s.saves[sent.ID] = SaveSuccess
	delete(s.saveErrs, sent.ID)
	return true
}

// finishBatch clears the roster dirty flag after a fully successful save,
// unless the roster changed in the meantime.
func (s *Store) finishBatch(epoch uint64, clean bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return false
	}
	if clean && len(s.dirty) == 0 {
		s.rosterDirty = false
	}
	return true
}

// settle returns a success state to idle.
func (s *Store) settle(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saves[id] == SaveSuccess {
		delete(s.saves, id)
	}
}
