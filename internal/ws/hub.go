// Package ws provides the broadcast websocket transport the serial bridge runs on.
package ws

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// EventKind identifies what happened on an endpoint.
type EventKind int

const (
	EventConnect EventKind = iota
	EventDisconnect
	EventError
	EventPong
	EventData
)

// String returns the lower-case name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	case EventError:
		return "error"
	case EventPong:
		return "pong"
	case EventData:
		return "data"
	default:
		return "unknown"
	}
}

// Event is delivered to the handler registered on a hub.
type Event struct {
	Kind     EventKind
	ClientID string

	// Data holds the full message for EventData. It is owned by the handler
	// for the duration of the call only.
	Data []byte

	// Err is set for EventError.
	Err error
}

// EventHandler receives hub events. Calls for one hub never overlap.
type EventHandler func(Event)

// Client represents a WebSocket client connection.
type Client struct {
	conn        *websocket.Conn
	id          string
	connectedAt time.Time
	send        chan []byte
	mu          sync.Mutex
	closed      bool
}

// NewClient creates a new WebSocket client.
func NewClient(conn *websocket.Conn) *Client {
	return &Client{
		conn:        conn,
		id:          uuid.NewString(),
		connectedAt: time.Now(),
		send:        make(chan []byte, 256),
	}
}

// Send queues a message to be sent to the client.
func (c *Client) Send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		// Buffer full, close the client
		c.closeLocked()
	}
}

// Close closes the client connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed returns true if the client is closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ID returns the client identifier used in events.
func (c *Client) ID() string {
	return c.id
}

// ConnectedAt returns when the client was accepted.
func (c *Client) ConnectedAt() time.Time {
	return c.connectedAt
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// SendChan returns the send channel for the client.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}

// Hub manages the clients of one endpoint path and serializes event delivery
// to the endpoint's handler.
type Hub struct {
	path    string
	clients map[*Client]bool
	mu      sync.RWMutex

	// dispatchMu guards handler and keeps at most one event in flight.
	dispatchMu sync.Mutex
	handler    EventHandler

	onClose func()
}

// NewHub creates a new Hub for the given endpoint path.
func NewHub(path string) *Hub {
	return &Hub{
		path:    path,
		clients: make(map[*Client]bool),
	}
}

// Path returns the endpoint path for this hub.
func (h *Hub) Path() string {
	return h.path
}

// SetHandler installs the event handler, replacing any previous one.
func (h *Hub) SetHandler(handler EventHandler) {
	h.dispatchMu.Lock()
	defer h.dispatchMu.Unlock()
	h.handler = handler
}

// ClearHandler removes the event handler. It returns only after any event
// being delivered has finished.
func (h *Hub) ClearHandler() {
	h.dispatchMu.Lock()
	defer h.dispatchMu.Unlock()
	h.handler = nil
}

// SetOnClose sets the callback for when all clients disconnect.
func (h *Hub) SetOnClose(callback func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onClose = callback
}

// Dispatch delivers ev to the handler, if any.
func (h *Hub) Dispatch(ev Event) {
	h.dispatchMu.Lock()
	defer h.dispatchMu.Unlock()

	if h.handler != nil {
		h.handler(ev)
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	h.Dispatch(Event{Kind: EventConnect, ClientID: client.ID()})
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	_, present := h.clients[client]
	delete(h.clients, client)
	clientCount := len(h.clients)
	onClose := h.onClose
	h.mu.Unlock()

	client.Close()

	if !present {
		return
	}

	h.Dispatch(Event{Kind: EventDisconnect, ClientID: client.ID()})

	// Call onClose callback if no clients remain
	if clientCount == 0 && onClose != nil {
		onClose()
	}
}

// Broadcast queues data for every connected client.
func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		client.Send(data)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HasClients returns true if there are connected clients.
func (h *Hub) HasClients() bool {
	return h.ClientCount() > 0
}

// CleanupClients forgets clients that are already closed and, when limit > 0,
// closes the oldest clients beyond limit. Closed clients are reported as
// disconnected; clients closed here leave through their read pump.
func (h *Hub) CleanupClients(limit int) {
	h.mu.Lock()
	var stale []*Client
	live := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if client.IsClosed() {
			stale = append(stale, client)
			delete(h.clients, client)
			continue
		}
		live = append(live, client)
	}
	h.mu.Unlock()

	for _, client := range stale {
		h.Dispatch(Event{Kind: EventDisconnect, ClientID: client.ID()})
	}

	if limit <= 0 || len(live) <= limit {
		return
	}

	sort.Slice(live, func(i, j int) bool {
		return live[i].ConnectedAt().Before(live[j].ConnectedAt())
	})
	for _, client := range live[:len(live)-limit] {
		client.Close()
	}
}

// Close closes all client connections and the hub.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
}

// HubManager manages one hub per endpoint path.
type HubManager struct {
	hubs map[string]*Hub
	mu   sync.RWMutex
}

// NewHubManager creates a new HubManager.
func NewHubManager() *HubManager {
	return &HubManager{
		hubs: make(map[string]*Hub),
	}
}

// GetOrCreate returns an existing hub or creates a new one for the path.
func (m *HubManager) GetOrCreate(path string) *Hub {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hub, ok := m.hubs[path]; ok {
		return hub
	}

	hub := NewHub(path)
	m.hubs[path] = hub
	return hub
}

// Get returns the hub for the path, or nil if not found.
func (m *HubManager) Get(path string) *Hub {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hubs[path]
}

// List returns all hubs.
func (m *HubManager) List() []*Hub {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Hub, 0, len(m.hubs))
	for _, hub := range m.hubs {
		result = append(result, hub)
	}
	return result
}

// Remove removes the hub for the path.
func (m *HubManager) Remove(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hub, ok := m.hubs[path]; ok {
		hub.Close()
		delete(m.hubs, path)
	}
}

// Close closes all hubs.
func (m *HubManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, hub := range m.hubs {
		hub.Close()
	}
	m.hubs = make(map[string]*Hub)
}
