// Package serial exposes a serial-port style byte stream on top of a broadcast
// websocket endpoint.
//
// Inbound messages from any peer are copied into a receive ring which the
// application polls with Available, Peek and Read. Bytes the application
// writes are coalesced in a transmit ring and leave as one broadcast message
// when Send is called or when the ring fills up.
//
// The receive ring has exactly one producer (the transport's event delivery)
// and one consumer (the application). The transmit ring is touched only by
// the application. Write, Send and the Discard family must therefore be called
// from a single goroutine. Nothing in this package blocks.
package serial

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wsserial/backend/internal/buffer"
	"github.com/wsserial/backend/internal/ws"
)

const (
	// DefaultTxCapacity is the transmit ring size used when none is configured.
	DefaultTxCapacity = 256

	// DefaultRxCapacity is the receive ring size used when none is configured.
	DefaultRxCapacity = 256

	// MaxCapacity is the hard limit either ring is clamped to.
	MaxCapacity = 16384
)

// binding is the state that exists between Begin and End.
type binding struct {
	transport Transport
	tx        *buffer.RingChannel
	rx        *buffer.RingChannel
}

// Stats counts bytes moved by a Bridge since the last Begin.
type Stats struct {
	Received   uint64 `json:"received"`
	Dropped    uint64 `json:"dropped"`
	Sent       uint64 `json:"sent"`
	Broadcasts uint64 `json:"broadcasts"`
}

// Bridge is a serial-port style stream bound to one websocket endpoint path.
// The zero value is not usable; create one with New.
type Bridge struct {
	path      string
	maxBuffer int
	logger    *zap.Logger
	observers []Observer

	bound atomic.Pointer[binding]

	received   atomic.Uint64
	dropped    atomic.Uint64
	sent       atomic.Uint64
	broadcasts atomic.Uint64
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithObserver adds an observer notified about received and sent bytes.
func WithObserver(o Observer) Option {
	return func(b *Bridge) {
		if o != nil {
			b.observers = append(b.observers, o)
		}
	}
}

// WithMaxBuffer overrides MaxCapacity as the clamp for both rings.
func WithMaxBuffer(n int) Option {
	return func(b *Bridge) {
		if n >= 0 {
			b.maxBuffer = n
		}
	}
}

// New creates an unbound Bridge for the endpoint at path.
func New(path string, logger *zap.Logger, opts ...Option) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bridge{
		path:      path,
		maxBuffer: MaxCapacity,
		logger:    logger.With(zap.String("component", "serial"), zap.String("path", path)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Path returns the endpoint path the bridge registers on.
func (b *Bridge) Path() string {
	return b.path
}

// Begin binds the bridge to t, allocates both rings and registers the event
// handler. A capacity of 0 disables buffering in that direction. Calling
// Begin on a bound bridge ends the previous binding first.
func (b *Bridge) Begin(t Transport, txCapacity, rxCapacity int) {
	if b.bound.Load() != nil {
		b.End()
	}

	bd := &binding{
		transport: t,
		tx:        buffer.NewRingChannel(b.clamp(txCapacity)),
		rx:        buffer.NewRingChannel(b.clamp(rxCapacity)),
	}

	b.received.Store(0)
	b.dropped.Store(0)
	b.sent.Store(0)
	b.broadcasts.Store(0)

	b.bound.Store(bd)
	t.RegisterHandler(b.path, b.HandleEvent)

	b.logger.Info("bridge started",
		zap.Int("tx_capacity", bd.tx.Cap()),
		zap.Int("rx_capacity", bd.rx.Cap()),
	)
}

// End unregisters the handler and releases both rings. Unsent bytes are
// discarded. It is safe to call End more than once.
func (b *Bridge) End() {
	bd := b.bound.Load()
	if bd == nil {
		return
	}

	bd.transport.UnregisterHandler(b.path)
	b.bound.Store(nil)

	b.logger.Info("bridge stopped",
		zap.Uint64("received", b.received.Load()),
		zap.Uint64("dropped", b.dropped.Load()),
		zap.Uint64("sent", b.sent.Load()),
	)
}

// Bound reports whether the bridge is between Begin and End.
func (b *Bridge) Bound() bool {
	return b.bound.Load() != nil
}

// TxCapacity returns the transmit ring capacity, 0 when unbound or disabled.
func (b *Bridge) TxCapacity() int {
	bd := b.bound.Load()
	if bd == nil {
		return 0
	}
	return bd.tx.Cap()
}

// RxCapacity returns the receive ring capacity, 0 when unbound or disabled.
func (b *Bridge) RxCapacity() int {
	bd := b.bound.Load()
	if bd == nil {
		return 0
	}
	return bd.rx.Cap()
}

// Available returns the number of bytes ready to read.
func (b *Bridge) Available() int {
	bd := b.bound.Load()
	if bd == nil {
		return 0
	}
	return bd.rx.Len()
}

// AwaitingSend returns the number of bytes written but not yet sent.
func (b *Bridge) AwaitingSend() int {
	bd := b.bound.Load()
	if bd == nil {
		return 0
	}
	return bd.tx.Len()
}

// AvailableForWrite returns the transmit capacity minus AwaitingSend. It is 0
// when transmit buffering is disabled, meaning every write goes out at once.
func (b *Bridge) AvailableForWrite() int {
	bd := b.bound.Load()
	if bd == nil || bd.tx.Cap() == 0 {
		return 0
	}
	return bd.tx.Cap() - bd.tx.Len()
}

// Peek returns the next byte without consuming it.
func (b *Bridge) Peek() (byte, bool) {
	bd := b.bound.Load()
	if bd == nil {
		return 0, false
	}
	return bd.rx.Peek()
}

// Next consumes and returns the next byte.
func (b *Bridge) Next() (byte, bool) {
	bd := b.bound.Load()
	if bd == nil {
		return 0, false
	}
	return bd.rx.Dequeue()
}

// Read copies up to len(p) buffered bytes into p and returns how many were
// copied. It never waits for more data and the error is always nil.
func (b *Bridge) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		c, ok := b.Next()
		if !ok {
			break
		}
		p[n] = c
		n++
	}
	return n, nil
}

// WriteByte queues c for the next Send. A full transmit ring is sent first.
// With transmit buffering disabled c is broadcast on its own, which costs one
// network message per byte. The error is always nil.
func (b *Bridge) WriteByte(c byte) error {
	bd := b.bound.Load()
	if bd == nil {
		return nil
	}
	b.writeByte(bd, c)
	return nil
}

// Write applies WriteByte to every byte of p in order, so a ring that fills up
// part way is sent before the rest is queued. It always returns len(p), nil.
func (b *Bridge) Write(p []byte) (int, error) {
	bd := b.bound.Load()
	if bd == nil {
		return len(p), nil
	}
	for _, c := range p {
		b.writeByte(bd, c)
	}
	return len(p), nil
}

func (b *Bridge) writeByte(bd *binding, c byte) {
	if bd.tx.Cap() == 0 {
		b.broadcast(bd, []byte{c})
		return
	}

	if bd.tx.Free() == 0 {
		b.send(bd)
	}

	// A one-slot ring never accepts a byte
	if !bd.tx.Enqueue(c) {
		b.broadcast(bd, []byte{c})
	}
}

// Send broadcasts everything queued by Write as a single message and empties
// the transmit ring. It returns the number of bytes sent, 0 if nothing was
// queued.
func (b *Bridge) Send() int {
	bd := b.bound.Load()
	if bd == nil {
		return 0
	}
	return b.send(bd)
}

func (b *Bridge) send(bd *binding) int {
	data := bd.tx.DrainAll()
	if len(data) == 0 {
		return 0
	}
	// DrainAll leaves head == tail. The indices are not rewound: status
	// readers on other goroutines must never see them half reset.
	b.broadcast(bd, data)
	return len(data)
}

func (b *Bridge) broadcast(bd *binding, data []byte) {
	bd.transport.Broadcast(b.path, data)

	b.sent.Add(uint64(len(data)))
	b.broadcasts.Add(1)
	for _, o := range b.observers {
		o.OnSend(data)
	}
}

// Discard drops all buffered bytes in both directions without sending them.
func (b *Bridge) Discard() {
	b.DiscardRecv()
	b.DiscardSend()
}

// DiscardRecv drops every unread received byte.
func (b *Bridge) DiscardRecv() {
	bd := b.bound.Load()
	if bd == nil {
		return
	}
	bd.rx.Discard()
}

// DiscardSend drops every queued byte without sending it.
func (b *Bridge) DiscardSend() {
	bd := b.bound.Load()
	if bd == nil {
		return
	}
	bd.tx.Discard()
}

// HandleEvent is the transport event handler. Data is copied into the
// receive ring until it is full; the rest of that message is dropped.
// Other event kinds are only logged.
func (b *Bridge) HandleEvent(ev ws.Event) {
	switch ev.Kind {
	case ws.EventData:
		b.receive(ev)
	case ws.EventError:
		b.logger.Debug("peer error", zap.String("client", ev.ClientID), zap.Error(ev.Err))
	default:
		b.logger.Debug("peer event", zap.Stringer("kind", ev.Kind), zap.String("client", ev.ClientID))
	}
}

func (b *Bridge) receive(ev ws.Event) {
	bd := b.bound.Load()
	if bd == nil || len(ev.Data) == 0 {
		return
	}

	n := bd.rx.EnqueueFrom(ev.Data)
	dropped := len(ev.Data) - n

	b.received.Add(uint64(n))
	if dropped > 0 {
		b.dropped.Add(uint64(dropped))
		b.logger.Debug("receive buffer full",
			zap.String("client", ev.ClientID),
			zap.Int("accepted", n),
			zap.Int("dropped", dropped),
		)
	}

	for _, o := range b.observers {
		o.OnReceive(ev.Data[:n], dropped)
	}
}

// Housekeeping forwards periodic maintenance to the transport.
func (b *Bridge) Housekeeping() {
	bd := b.bound.Load()
	if bd == nil {
		return
	}
	bd.transport.CleanupClients()
}

// Stats returns the counters accumulated since the last Begin.
func (b *Bridge) Stats() Stats {
	return Stats{
		Received:   b.received.Load(),
		Dropped:    b.dropped.Load(),
		Sent:       b.sent.Load(),
		Broadcasts: b.broadcasts.Load(),
	}
}

func (b *Bridge) clamp(capacity int) int {
	if capacity < 0 {
		return 0
	}
	if capacity > b.maxBuffer {
		return b.maxBuffer
	}
	return capacity
}
