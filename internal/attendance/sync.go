package attendance

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"academy/internal/backend"
	"academy/internal/metrics"
)

// MarkWriter persists one attendance record.
type MarkWriter interface {
	Mark(ctx context.Context, req backend.MarkRequest) error
}

// BatchResult is the consolidated outcome of one SaveAll.
type BatchResult struct {
	CycleID      string            `json:"cycle_id"`
	SuccessCount int               `json:"success_count"`
	ErrorCount   int               `json:"error_count"`
	Skipped      int               `json:"skipped"`
	Failures     map[string]string `json:"failures,omitempty"`
	AuthFailed   bool              `json:"auth_failed"`
}

// Clean reports whether every write succeeded.
func (r BatchResult) Clean() bool { return r.ErrorCount == 0 }

// SyncOption configures a SyncController.
type SyncOption func(*SyncController)

// WithConcurrency bounds the number of writes in flight. 1 saves sequentially.
func WithConcurrency(n int) SyncOption {
	return func(c *SyncController) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithSuccessReset sets how long a record shows success before going idle.
// Zero keeps the success state until the next edit.
func WithSuccessReset(d time.Duration) SyncOption {
	return func(c *SyncController) { c.successReset = d }
}

// WithSyncLogger sets the logger.
func WithSyncLogger(l *zap.Logger) SyncOption {
	return func(c *SyncController) { c.log = l }
}

// WithSyncClock replaces time.Now.
func WithSyncClock(now func() time.Time) SyncOption {
	return func(c *SyncController) { c.now = now }
}

// WithSyncLocation sets the zone the selected day is anchored in.
func WithSyncLocation(loc *time.Location) SyncOption {
	return func(c *SyncController) { c.loc = loc }
}

// SyncController writes the roster back to the backend.
type SyncController struct {
	store        *Store
	writer       MarkWriter
	log          *zap.Logger
	now          func() time.Time
	loc          *time.Location
	concurrency  int
	successReset time.Duration

	// one batch at a time
	batchMu sync.Mutex
	saving  atomic.Int32
	bg      sync.WaitGroup
}

// NewSyncController creates a controller for store.
func NewSyncController(store *Store, writer MarkWriter, opts ...SyncOption) *SyncController {
	c := &SyncController{
		store:        store,
		writer:       writer,
		log:          zap.NewNop(),
		now:          time.Now,
		loc:          time.Local,
		concurrency:  4,
		successReset: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type saveResult struct {
	sent Record
	err  error
}

// SaveAll writes every record of the current view, one request per record.
// A failing record never stops its siblings. Records still not_marked have
// nothing to write; they are counted in Skipped, so SuccessCount plus
// ErrorCount covers the marked records only. When all writes succeed the
// roster is marked clean and re-fetched in the background.
func (c *SyncController) SaveAll(ctx context.Context) (BatchResult, error) {
	c.saving.Add(1)
	defer c.saving.Add(-1)
	c.batchMu.Lock()
	defer c.batchMu.Unlock()

	b, err := c.store.beginSave()
	if err != nil {
		return BatchResult{}, err
	}
	start := time.Now()
	res := BatchResult{CycleID: uuid.NewString(), Skipped: b.skipped}
	log := c.log.With(zap.String("cycle", res.CycleID), zap.String("date", b.date))

	day, err := time.ParseInLocation(backend.DateLayout, b.date, c.loc)
	if err != nil {
		for _, r := range b.records {
			c.store.applyResult(b.epoch, r, err)
		}
		return BatchResult{}, err
	}
	day = time.Date(day.Year(), day.Month(), day.Day(), 12, 0, 0, 0, c.loc)

	results := make(chan saveResult, len(b.records))
	go func() {
		var g errgroup.Group
		g.SetLimit(c.concurrency)
		for _, rec := range b.records {
			rec := rec
			g.Go(func() error {
				req, sent := c.request(rec, day, res.CycleID)
				results <- saveResult{sent: sent, err: c.writer.Mark(ctx, req)}
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	var saved []string
	for r := range results {
		c.store.applyResult(b.epoch, r.sent, r.err)
		if r.err != nil {
			res.ErrorCount++
			if res.Failures == nil {
				res.Failures = make(map[string]string)
			}
			res.Failures[r.sent.ID] = r.err.Error()
			if errors.Is(r.err, backend.ErrAuth) {
				res.AuthFailed = true
			}
			metrics.RecordWrites.WithLabelValues("error").Inc()
			log.Debug("attendance write failed", zap.String("record", r.sent.ID), zap.Error(r.err))
			continue
		}
		res.SuccessCount++
		saved = append(saved, r.sent.ID)
		metrics.RecordWrites.WithLabelValues("success").Inc()
	}
	metrics.ObserveSave(time.Since(start))

	current := c.store.finishBatch(b.epoch, res.Clean())
	if c.successReset > 0 {
		for _, id := range saved {
			id := id
			time.AfterFunc(c.successReset, func() { c.store.settle(id) })
		}
	}

	if !res.Clean() {
		metrics.SaveBatches.WithLabelValues("partial").Inc()
		log.Warn("attendance saved with errors",
			zap.Int("success", res.SuccessCount), zap.Int("errors", res.ErrorCount), zap.Bool("auth", res.AuthFailed))
		return res, nil
	}
	metrics.SaveBatches.WithLabelValues("clean").Inc()
	log.Info("attendance saved", zap.Int("records", res.SuccessCount))

	if current {
		c.bg.Add(1)
		go func() {
			defer c.bg.Done()
			if _, err := c.store.Reconcile(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, ErrStaleLoad) {
				log.Warn("post-save reconcile failed", zap.Error(err))
			}
		}()
	}
	return res, nil
}

// Busy reports whether a SaveAll is running or queued.
func (c *SyncController) Busy() bool { return c.saving.Load() > 0 }

// Wait blocks until background reconciles have finished.
func (c *SyncController) Wait() { c.bg.Wait() }

// request builds the write for rec and the record as it will look once
// confirmed. The day is sent at a fixed time of day because the backend
// keys attendance by calendar day.
func (c *SyncController) request(rec Record, day time.Time, cycle string) (backend.MarkRequest, Record) {
	req := backend.MarkRequest{
		UserID:         rec.StudentID,
		UserType:       "student",
		CourseID:       rec.CourseID,
		BranchID:       rec.BranchID,
		AttendanceDate: day,
		Status:         string(rec.Status),
		Notes:          rec.Notes,
		Cycle:          cycle,
	}
	sent := rec
	if rec.Status != StatusAbsent {
		now := c.now()
		req.CheckInTime = &now
		if sent.CheckInTime == "" {
			sent.CheckInTime = now.In(c.loc).Format(CheckInLayout)
		}
	}
	return req, sent
}
