package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wsserial/backend/internal/run"
	"github.com/wsserial/backend/internal/serial"
)

// ClientCounter reports how many peers are connected at an endpoint path.
type ClientCounter interface {
	ClientCount(path string) int
}

// SerialHandler reports the state of the serial bridge.
type SerialHandler struct {
	bridge  *serial.Bridge
	clients ClientCounter
	runs    *run.Manager
}

// NewSerialHandler creates a new SerialHandler. runs may be nil.
func NewSerialHandler(bridge *serial.Bridge, clients ClientCounter, runs *run.Manager) *SerialHandler {
	return &SerialHandler{
		bridge:  bridge,
		clients: clients,
		runs:    runs,
	}
}

// SerialStatusResponse is the body of GET /api/serial.
type SerialStatusResponse struct {
	Path              string       `json:"path"`
	Bound             bool         `json:"bound"`
	TxCapacity        int          `json:"txCapacity"`
	RxCapacity        int          `json:"rxCapacity"`
	Available         int          `json:"available"`
	AwaitingSend      int          `json:"awaitingSend"`
	AvailableForWrite int          `json:"availableForWrite"`
	Clients           int          `json:"clients"`
	Stats             serial.Stats `json:"stats"`
	RunID             string       `json:"runId,omitempty"`
}

// Status handles GET /api/serial - reports buffer levels and counters.
func (h *SerialHandler) Status(c *gin.Context) {
	resp := SerialStatusResponse{
		Path:              h.bridge.Path(),
		Bound:             h.bridge.Bound(),
		TxCapacity:        h.bridge.TxCapacity(),
		RxCapacity:        h.bridge.RxCapacity(),
		Available:         h.bridge.Available(),
		AwaitingSend:      h.bridge.AwaitingSend(),
		AvailableForWrite: h.bridge.AvailableForWrite(),
		Stats:             h.bridge.Stats(),
	}
	if h.clients != nil {
		resp.Clients = h.clients.ClientCount(h.bridge.Path())
	}
	if h.runs != nil {
		if cur := h.runs.Current(); cur != nil {
			resp.RunID = cur.ID
		}
	}

	c.JSON(http.StatusOK, resp)
}

// RegisterRoutes registers the serial handler routes on a Gin router group.
func (h *SerialHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/serial", h.Status)
}
