package sandbox

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"academy/internal/auth"
	"academy/internal/backend"
)

// Handler serves the REST contract the dashboard consumes.
type Handler struct {
	svc    *Service
	key    string
	issuer string
	ttl    time.Duration
	log    *zap.Logger
}

// NewHandler builds the HTTP layer. signingKey is required: the sandbox is
// the token authority for its own endpoints.
func NewHandler(svc *Service, signingKey, issuer string, ttl time.Duration, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{svc: svc, key: signingKey, issuer: issuer, ttl: ttl, log: log}
}

// Header labels every sandbox response.
func Header() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Sandbox", "true")
		c.Next()
	}
}

// Register mounts the /api routes.
func (h *Handler) Register(r gin.IRouter) {
	api := r.Group("/api", Header())
	api.POST("/auth/token", h.issueToken)

	att := api.Group("/attendance", auth.Bearer(h.key, h.issuer))
	att.GET("/students", h.students)
	att.POST("/mark", h.mark)
	att.GET("/reports", h.reports)
	att.GET("/export", h.export)
	att.GET("/stats", h.stats)
}

func (h *Handler) issueToken(c *gin.Context) {
	var req struct {
		UserID   string `json:"user_id" binding:"required"`
		Role     string `json:"role"`
		BranchID string `json:"branch_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Role == "" {
		req.Role = "coach"
	}
	token, exp, err := auth.Issue(auth.Identity{UserID: req.UserID, Role: req.Role, BranchID: req.BranchID}, h.issuer, h.key, h.ttl)
	if err != nil {
		h.log.Error("token issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"access_token": token, "expires_at": exp.Unix()})
}

func (h *Handler) students(c *gin.Context) {
	students, err := h.svc.Students(c.Request.Context(), c.Query("date"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, backend.StudentsResponse{Students: students})
}

func (h *Handler) mark(c *gin.Context) {
	var req backend.MarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.Cycle = c.GetHeader("X-Save-Cycle")
	id, err := h.svc.Mark(c.Request.Context(), req, auth.ClaimsFrom(c).Subject)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": id})
}

func (h *Handler) reports(c *gin.Context) {
	records, err := h.svc.Reports(c.Request.Context(), c.Query("branch_id"), c.Query("start_date"), c.Query("end_date"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, backend.ReportResponse{Records: records})
}

func (h *Handler) export(c *gin.Context) {
	file, err := h.svc.Export(c.Request.Context(), strings.ToLower(c.Query("format")), c.Query("date"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, file)
}

func (h *Handler) stats(c *gin.Context) {
	st, err := h.svc.DailyStats(c.Request.Context(), c.Query("branch_id"), c.Query("date"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrUnknownStudent):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrUnsupportedFormat):
		c.JSON(http.StatusNotImplemented, gin.H{"error": err.Error()})
	default:
		h.log.Error("sandbox request failed", zap.Error(err), zap.String("path", c.FullPath()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
