package dashboard

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"academy/internal/attendance"
	"academy/internal/auth"
	"academy/internal/backend"
	"academy/internal/export"
	"academy/internal/observability"
)

const emptyRosterMessage = "No students found for this date and filter. Check the branch or course, or pick another day."

// Handler exposes the marking workflow to the browser.
type Handler struct {
	reg *Registry
	log *zap.Logger
	loc *time.Location
	now func() time.Time
}

// NewHandler creates the HTTP layer over reg.
func NewHandler(reg *Registry, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{reg: reg, log: log, loc: reg.opts.Location, now: time.Now}
}

// Register mounts the /v1 routes behind the given auth middleware.
func (h *Handler) Register(r gin.IRouter, authMW gin.HandlerFunc) {
	v1 := r.Group("/v1", authMW)
	v1.GET("/roster", h.loadRoster)
	v1.GET("/roster/current", h.currentRoster)
	v1.POST("/roster/refresh", h.refreshRoster)
	v1.POST("/roster/records/:id/status", h.setStatus)
	v1.POST("/roster/records/:id/notes", h.setNotes)
	v1.POST("/roster/records/:id/discard", h.discard)
	v1.POST("/roster/discard", h.discardAll)
	v1.POST("/roster/save", h.save)
	v1.GET("/reports", h.reports)
	v1.GET("/export", h.export)
}

type rosterResponse struct {
	attendance.Snapshot
	Message string `json:"message,omitempty"`
}

func (h *Handler) session(c *gin.Context) *Session {
	return h.reg.Get(auth.SessionKey(c), auth.TokenFrom(c), auth.ClaimsFrom(c).Identity())
}

func (h *Handler) today() string {
	return h.now().In(h.loc).Format(backend.DateLayout)
}

func (h *Handler) loadRoster(c *gin.Context) {
	date := c.DefaultQuery("date", h.today())
	if _, err := time.Parse(backend.DateLayout, date); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}
	f := attendance.Filter{BranchID: c.Query("branch_id"), CourseID: c.Query("course_id")}
	h.load(c, h.session(c), date, f)
}

func (h *Handler) refreshRoster(c *gin.Context) {
	s := h.session(c)
	date, f := s.Store.Date()
	if date == "" {
		h.fail(c, attendance.ErrNoRoster)
		return
	}
	h.load(c, s, date, f)
}

func (h *Handler) load(c *gin.Context, s *Session, date string, f attendance.Filter) {
	snap, err := s.Store.Load(c.Request.Context(), date, f)
	if err != nil {
		h.failWith(c, err, gin.H{"roster": snap})
		return
	}
	c.JSON(http.StatusOK, roster(snap))
}

func (h *Handler) currentRoster(c *gin.Context) {
	c.JSON(http.StatusOK, roster(h.session(c).Store.Snapshot()))
}

func roster(snap attendance.Snapshot) rosterResponse {
	resp := rosterResponse{Snapshot: snap}
	if snap.NoRecords {
		resp.Message = emptyRosterMessage
	}
	return resp
}

func (h *Handler) setStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s := h.session(c)
	if err := s.Store.SetStatus(c.Param("id"), req.Status); err != nil {
		h.fail(c, err)
		return
	}
	h.record(c, s)
}

func (h *Handler) setNotes(c *gin.Context) {
	var req struct {
		Notes string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s := h.session(c)
	if err := s.Store.SetNotes(c.Param("id"), req.Notes); err != nil {
		h.fail(c, err)
		return
	}
	h.record(c, s)
}

func (h *Handler) discard(c *gin.Context) {
	s := h.session(c)
	if err := s.Store.Discard(c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	h.record(c, s)
}

func (h *Handler) discardAll(c *gin.Context) {
	s := h.session(c)
	s.Store.DiscardAll()
	c.JSON(http.StatusOK, roster(s.Store.Snapshot()))
}

func (h *Handler) record(c *gin.Context, s *Session) {
	snap := s.Store.Snapshot()
	rec, _ := snap.Record(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"record": rec, "dirty": snap.Dirty, "stats": snap.Stats})
}

func (h *Handler) save(c *gin.Context) {
	s := h.session(c)
	// a batch runs to completion even if the browser goes away
	res, err := s.Sync.SaveAll(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		h.fail(c, err)
		return
	}
	code := http.StatusOK
	switch {
	case res.AuthFailed:
		code = http.StatusUnauthorized
	case !res.Clean():
		code = http.StatusMultiStatus
	}
	c.JSON(code, gin.H{"result": res, "roster": roster(s.Store.Snapshot())})
}

func (h *Handler) reports(c *gin.Context) {
	s := h.session(c)
	q := backend.ReportQuery{
		BranchID:  c.Query("branch_id"),
		StartDate: c.Query("start_date"),
		EndDate:   c.Query("end_date"),
	}
	rows, err := s.Client.Reports(c.Request.Context(), q)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"records": rows,
		"stats":   attendance.ComputeStats(attendance.FromReports(rows)),
	})
}

// export serves the backend's CSV when it has one, otherwise renders the
// roster locally. XLSX is always rendered locally.
func (h *Handler) export(c *gin.Context) {
	format := strings.ToLower(c.DefaultQuery("format", export.FormatCSV))
	if format != export.FormatCSV && format != export.FormatXLSX {
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be csv or xlsx"})
		return
	}
	s := h.session(c)
	date := c.Query("date")
	if date == "" {
		date, _ = s.Store.Date()
	}
	if date == "" {
		date = h.today()
	}
	if _, err := time.Parse(backend.DateLayout, date); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}
	ctx := c.Request.Context()

	if format == export.FormatCSV {
		file, err := s.Client.Export(ctx, format, date)
		switch {
		case err == nil:
			c.Header("Content-Disposition", `attachment; filename="`+file.Filename+`"`)
			c.Data(http.StatusOK, export.ContentType(format), []byte(file.Content))
			return
		case !errors.Is(err, backend.ErrExportUnavailable):
			h.fail(c, err)
			return
		}
		h.log.Debug("backend export unavailable, rendering locally", zap.String("date", date))
	}

	records, err := h.exportRecords(ctx, s, date)
	if err != nil {
		h.fail(c, err)
		return
	}
	var buf bytes.Buffer
	if format == export.FormatXLSX {
		err = export.WriteXLSX(&buf, records, attendance.ComputeStats(records))
	} else {
		err = export.WriteCSV(&buf, records)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+export.Filename(date, format)+`"`)
	c.Data(http.StatusOK, export.ContentType(format), buf.Bytes())
}

// exportRecords uses the loaded roster, edits included, when it is for
// date; any other day is fetched fresh.
func (h *Handler) exportRecords(ctx context.Context, s *Session, date string) ([]attendance.Record, error) {
	snap := s.Store.Snapshot()
	if snap.Date == date && (snap.State == attendance.RosterLoaded || snap.State == attendance.RosterEmpty) {
		out := make([]attendance.Record, len(snap.Records))
		for i, r := range snap.Records {
			out[i] = r.Record
		}
		return out, nil
	}
	students, err := s.Client.Students(ctx, date)
	if err != nil {
		return nil, err
	}
	return attendance.BuildRoster(students, date, attendance.Filter{}, h.reg.opts.DefaultStatus), nil
}

func (h *Handler) fail(c *gin.Context, err error) {
	h.failWith(c, err, nil)
}

func (h *Handler) failWith(c *gin.Context, err error, extra gin.H) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		observability.CaptureErr(err, "path", c.FullPath(), "request_id", c.GetString("request_id"))
		h.log.Error("dashboard request failed", zap.Error(err), zap.String("path", c.FullPath()))
	}
	body := gin.H{"error": message(err)}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(code, body)
}
