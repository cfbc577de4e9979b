// Package ws provides the broadcast websocket transport the serial bridge runs on.
//
// The package implements:
//   - Hub: the peers of one endpoint path, broadcast to all of them, and
//     serialized delivery of connect, disconnect, error, pong and data events
//   - HubManager: one hub per endpoint path
//   - Handler: upgrade plus read/write pumps with ping/pong keepalive
//   - Service: the transport surface consumed by the serial bridge
//     (RegisterHandler, UnregisterHandler, Broadcast, CleanupClients)
//
// Messages are raw bytes. Every Broadcast becomes one binary frame per peer;
// inbound text and binary frames are both delivered as EventData. A peer
// sending a single message larger than 1 MiB is disconnected and the message
// is not delivered.
package ws
