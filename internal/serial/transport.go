package serial

import (
	"github.com/wsserial/backend/internal/ws"
)

// Transport is the broadcast channel a Bridge is bound to. *ws.Service
// implements it.
type Transport interface {
	// RegisterHandler binds h to the endpoint at path. Calls to h for one
	// path must never overlap.
	RegisterHandler(path string, h ws.EventHandler)

	// UnregisterHandler unbinds the endpoint at path. It must not return
	// while a call to the handler is still running.
	UnregisterHandler(path string)

	// Broadcast sends data as one message to every peer connected at path.
	Broadcast(path string, data []byte)

	// CleanupClients drops stale peers.
	CleanupClients()
}

// Observer is notified about bytes crossing the bridge.
//
// OnReceive runs on the transport's goroutine, OnSend on the goroutine that
// called Send or Write. Neither may retain the slices after returning.
type Observer interface {
	OnReceive(accepted []byte, dropped int)
	OnSend(data []byte)
}
