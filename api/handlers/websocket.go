package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wsserial/backend/internal/ws"
)

// WebSocketHandler accepts peers for the serial endpoint.
type WebSocketHandler struct {
	wsHandler *ws.Handler
	path      string
	logger    *zap.Logger
}

// NewWebSocketHandler creates a new WebSocketHandler for the endpoint at path.
func NewWebSocketHandler(wsHandler *ws.Handler, path string, logger *zap.Logger) *WebSocketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketHandler{
		wsHandler: wsHandler,
		path:      path,
		logger:    logger,
	}
}

// Connect handles GET <path> - upgrades the request and joins the endpoint.
func (h *WebSocketHandler) Connect(c *gin.Context) {
	if err := h.wsHandler.HandleConnection(c.Writer, c.Request, h.path); err != nil {
		// The upgrader has already written the HTTP error
		h.logger.Debug("websocket upgrade failed",
			zap.String("path", h.path),
			zap.String("remote", c.ClientIP()),
			zap.Error(err),
		)
	}
}

// RegisterRoutes registers the websocket route on a Gin router.
func (h *WebSocketHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET(h.path, h.Connect)
}
