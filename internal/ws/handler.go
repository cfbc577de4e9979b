package ws

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Larger messages close the
	// connection; anything up to it reaches the handler whole.
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler accepts WebSocket connections and pumps frames between the peers
// and the hub of the requested path.
type Handler struct {
	hubManager *HubManager
	logger     *zap.Logger
}

// NewHandler creates a new WebSocket handler.
func NewHandler(hubManager *HubManager, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		hubManager: hubManager,
		logger:     logger,
	}
}

// HandleConnection upgrades the request and attaches the connection to the
// hub for path. It returns once the pumps are running.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request, path string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	hub := h.hubManager.GetOrCreate(path)
	client := NewClient(conn)

	h.logger.Debug("client connected",
		zap.String("path", path),
		zap.String("client", client.ID()),
		zap.String("remote", r.RemoteAddr),
	)

	hub.Register(client)

	go h.writePump(client)
	go h.readPump(client, hub)

	return nil
}

// readPump pumps messages from the WebSocket connection to the hub.
func (h *Handler) readPump(client *Client, hub *Hub) {
	defer func() {
		hub.Unregister(client)
		client.Conn().Close()
		h.logger.Debug("client disconnected",
			zap.String("path", hub.Path()),
			zap.String("client", client.ID()),
		)
	}()

	client.Conn().SetReadLimit(maxMessageSize)
	client.Conn().SetReadDeadline(time.Now().Add(pongWait))
	client.Conn().SetPongHandler(func(string) error {
		client.Conn().SetReadDeadline(time.Now().Add(pongWait))
		hub.Dispatch(Event{Kind: EventPong, ClientID: client.ID()})
		return nil
	})

	for {
		messageType, message, err := client.Conn().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read failed",
					zap.String("path", hub.Path()),
					zap.String("client", client.ID()),
					zap.Error(err),
				)
				hub.Dispatch(Event{Kind: EventError, ClientID: client.ID(), Err: err})
			}
			break
		}

		if messageType != websocket.BinaryMessage && messageType != websocket.TextMessage {
			continue
		}

		hub.Dispatch(Event{Kind: EventData, ClientID: client.ID(), Data: message})
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn().Close()
	}()

	for {
		select {
		case message, ok := <-client.SendChan():
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				client.Conn().WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Each broadcast is one binary frame; queued ones are not merged
			if err := client.Conn().WriteMessage(websocket.BinaryMessage, message); err != nil {
				h.logger.Debug("websocket write failed", zap.String("client", client.ID()), zap.Error(err))
				return
			}

			n := len(client.SendChan())
			for i := 0; i < n; i++ {
				queued, ok := <-client.SendChan()
				if !ok {
					client.Conn().WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.Conn().WriteMessage(websocket.BinaryMessage, queued); err != nil {
					return
				}
			}
		case <-ticker.C:
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn().WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SetCheckOrigin sets a custom origin checker for the WebSocket upgrader.
func SetCheckOrigin(fn func(r *http.Request) bool) {
	upgrader.CheckOrigin = fn
}

// AllowOrigins returns an origin checker that accepts requests without an
// Origin header and requests whose Origin is in origins. An empty list or a
// "*" entry accepts every origin.
func AllowOrigins(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			allowed[strings.ToLower(o)] = true
		}
	}
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return allowed[strings.ToLower(origin)]
	}
}
