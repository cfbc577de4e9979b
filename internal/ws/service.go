package ws

import (
	"go.uber.org/zap"
)

// Service is the transport the serial bridge binds to: it routes events from
// each endpoint path to one registered handler and broadcasts to every peer
// of a path.
type Service struct {
	hubManager *HubManager
	handler    *Handler
	logger     *zap.Logger

	// MaxClients caps the peers kept per path by CleanupClients. 0 means no cap.
	MaxClients int
}

// NewService creates a new WebSocket service.
func NewService(maxClients int, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "ws"))

	hubManager := NewHubManager()
	return &Service{
		hubManager: hubManager,
		handler:    NewHandler(hubManager, logger),
		logger:     logger,
		MaxClients: maxClients,
	}
}

// Handler returns the WebSocket handler.
func (s *Service) Handler() *Handler {
	return s.handler
}

// HubManager returns the hub manager.
func (s *Service) HubManager() *HubManager {
	return s.hubManager
}

// RegisterHandler binds handler to the endpoint at path.
func (s *Service) RegisterHandler(path string, handler EventHandler) {
	hub := s.hubManager.GetOrCreate(path)
	hub.SetHandler(handler)
	hub.SetOnClose(func() {
		s.logger.Debug("all clients disconnected", zap.String("path", path))
	})
	s.logger.Info("handler registered", zap.String("path", path))
}

// UnregisterHandler unbinds the handler at path. Connected peers stay
// connected; their messages are ignored until a handler is registered again.
func (s *Service) UnregisterHandler(path string) {
	hub := s.hubManager.Get(path)
	if hub == nil {
		return
	}
	hub.ClearHandler()
	s.logger.Info("handler unregistered", zap.String("path", path))
}

// Broadcast sends data as one message to every peer connected at path.
// Delivery failures are per peer and are not reported.
func (s *Service) Broadcast(path string, data []byte) {
	hub := s.hubManager.Get(path)
	if hub == nil || !hub.HasClients() {
		return
	}
	hub.Broadcast(data)
}

// CleanupClients drops dead peers and enforces MaxClients on every path.
func (s *Service) CleanupClients() {
	for _, hub := range s.hubManager.List() {
		hub.CleanupClients(s.MaxClients)
	}
}

// ClientCount returns the number of peers connected at path.
func (s *Service) ClientCount(path string) int {
	hub := s.hubManager.Get(path)
	if hub == nil {
		return 0
	}
	return hub.ClientCount()
}

// Close closes all WebSocket connections and cleans up resources.
func (s *Service) Close() {
	s.hubManager.Close()
}
