package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wsserial/backend/internal/model"
	"github.com/wsserial/backend/internal/repository"
	"github.com/wsserial/backend/internal/run"
)

const (
	defaultRunListLimit = 50
	maxRunListLimit     = 500
)

// RunHandler serves the bridge run history.
type RunHandler struct {
	repo *repository.RunRepository
	runs *run.Manager
}

// NewRunHandler creates a new RunHandler.
func NewRunHandler(repo *repository.RunRepository, runs *run.Manager) *RunHandler {
	return &RunHandler{
		repo: repo,
		runs: runs,
	}
}

// RunResponse represents a run in API responses.
type RunResponse struct {
	ID            string `json:"id"`
	Path          string `json:"path"`
	TxCapacity    int    `json:"txCapacity"`
	RxCapacity    int    `json:"rxCapacity"`
	Status        string `json:"status"`
	BytesReceived uint64 `json:"bytesReceived"`
	BytesDropped  uint64 `json:"bytesDropped"`
	BytesSent     uint64 `json:"bytesSent"`
	Broadcasts    uint64 `json:"broadcasts"`
	HasCapture    bool   `json:"hasCapture"`
	Duration      string `json:"duration"`
	StartedAt     string `json:"startedAt"`
	EndedAt       string `json:"endedAt,omitempty"`
}

// toRunResponse converts a model.Run to RunResponse.
func toRunResponse(r *model.Run) *RunResponse {
	resp := &RunResponse{
		ID:            r.ID,
		Path:          r.Path,
		TxCapacity:    r.TxCapacity,
		RxCapacity:    r.RxCapacity,
		Status:        string(r.Status),
		BytesReceived: r.BytesReceived,
		BytesDropped:  r.BytesDropped,
		BytesSent:     r.BytesSent,
		Broadcasts:    r.Broadcasts,
		HasCapture:    r.CapturePath != "",
		Duration:      formatDuration(r.Duration()),
		StartedAt:     r.StartedAt.Format(time.RFC3339),
	}
	if r.EndedAt != nil {
		resp.EndedAt = r.EndedAt.Format(time.RFC3339)
	}
	return resp
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return time.Duration(h*time.Hour + m*time.Minute + s*time.Second).String()
	}
	if m > 0 {
		return time.Duration(m*time.Minute + s*time.Second).String()
	}
	return time.Duration(s * time.Second).String()
}

// live replaces the stored row of the active run with its live counters.
func (h *RunHandler) live(r *model.Run) *model.Run {
	if r.Status != model.RunStatusActive || h.runs == nil {
		return r
	}
	if cur := h.runs.Current(); cur != nil && cur.ID == r.ID {
		return cur
	}
	return r
}

// List handles GET /api/runs - lists recent runs, newest first.
func (h *RunHandler) List(c *gin.Context) {
	limit := defaultRunListLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxRunListLimit {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR",
				"limit must be an integer between 1 and "+strconv.Itoa(maxRunListLimit))
			return
		}
		limit = n
	}

	runs, err := h.repo.List(c.Request.Context(), limit)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list runs: "+err.Error())
		return
	}

	response := make([]*RunResponse, len(runs))
	for i, r := range runs {
		response[i] = toRunResponse(h.live(r))
	}

	c.JSON(http.StatusOK, response)
}

// Get handles GET /api/runs/:id - gets a specific run.
func (h *RunHandler) Get(c *gin.Context) {
	r, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toRunResponse(h.live(r)))
}

// GetCapture handles GET /api/runs/:id/capture - downloads the traffic capture.
func (h *RunHandler) GetCapture(c *gin.Context) {
	r, ok := h.lookup(c)
	if !ok {
		return
	}

	if r.CapturePath == "" {
		sendError(c, http.StatusNotFound, "CAPTURE_NOT_FOUND", "No capture recorded for run "+r.ID)
		return
	}

	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Content-Disposition", "attachment; filename="+r.ID+".jsonl")
	c.File(r.CapturePath)
}

func (h *RunHandler) lookup(c *gin.Context) (*model.Run, bool) {
	runID := c.Param("id")
	if runID == "" {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Run ID is required")
		return nil, false
	}

	r, err := h.repo.GetByID(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, model.ErrRunNotFound) {
			sendError(c, http.StatusNotFound, "RUN_NOT_FOUND", "Run "+runID+" not found")
			return nil, false
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get run: "+err.Error())
		return nil, false
	}
	return r, true
}

// RegisterRoutes registers the run handler routes on a Gin router group.
func (h *RunHandler) RegisterRoutes(rg *gin.RouterGroup) {
	runs := rg.Group("/runs")
	{
		runs.GET("", h.List)
		runs.GET("/:id", h.Get)
		runs.GET("/:id/capture", h.GetCapture)
	}
}
