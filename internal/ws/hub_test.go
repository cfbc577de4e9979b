package ws

import (
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// eventRecorder collects events delivered to a hub handler.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func receiveWithTimeout(t *testing.T, client *Client, timeout time.Duration) []byte {
	t.Helper()
	select {
	case data := <-client.SendChan():
		return data
	case <-time.After(timeout):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func TestHubClientManagement(t *testing.T) {
	hub := NewHub("/serial")
	defer hub.Close()

	client1 := NewClient(nil)
	client2 := NewClient(nil)

	if hub.HasClients() {
		t.Error("new hub should have no clients")
	}

	hub.Register(client1)
	hub.Register(client2)

	if !hub.HasClients() {
		t.Error("expected hub to report clients")
	}
	if hub.ClientCount() != 2 {
		t.Errorf("expected 2 clients, got %d", hub.ClientCount())
	}

	testData := []byte("test broadcast message")
	hub.Broadcast(testData)

	received1 := receiveWithTimeout(t, client1, 100*time.Millisecond)
	received2 := receiveWithTimeout(t, client2, 100*time.Millisecond)

	if string(received1) != string(testData) {
		t.Errorf("client1 received wrong data: %s", received1)
	}
	if string(received2) != string(testData) {
		t.Errorf("client2 received wrong data: %s", received2)
	}

	hub.Unregister(client1)
	if hub.ClientCount() != 1 {
		t.Errorf("expected 1 client after unregister, got %d", hub.ClientCount())
	}
	if !client1.IsClosed() {
		t.Error("unregistered client should be closed")
	}
}

func TestHubEvents(t *testing.T) {
	hub := NewHub("/serial")
	defer hub.Close()

	rec := &eventRecorder{}
	hub.SetHandler(rec.handle)

	client := NewClient(nil)
	hub.Register(client)
	hub.Dispatch(Event{Kind: EventData, ClientID: client.ID(), Data: []byte("x")})
	hub.Unregister(client)

	// A second unregister must not report the client twice
	hub.Unregister(client)

	want := []EventKind{EventConnect, EventData, EventDisconnect}
	got := rec.kinds()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestHubClearHandler(t *testing.T) {
	hub := NewHub("/serial")
	rec := &eventRecorder{}
	hub.SetHandler(rec.handle)
	hub.ClearHandler()

	hub.Dispatch(Event{Kind: EventData, Data: []byte("ignored")})

	if len(rec.kinds()) != 0 {
		t.Errorf("expected no events after ClearHandler, got %v", rec.kinds())
	}
}

func TestHubClearHandlerWaitsForDispatch(t *testing.T) {
	hub := NewHub("/serial")

	entered := make(chan struct{})
	release := make(chan struct{})
	hub.SetHandler(func(Event) {
		close(entered)
		<-release
	})

	go hub.Dispatch(Event{Kind: EventData})
	<-entered

	cleared := make(chan struct{})
	go func() {
		hub.ClearHandler()
		close(cleared)
	}()

	select {
	case <-cleared:
		t.Fatal("ClearHandler returned while an event was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-cleared:
	case <-time.After(time.Second):
		t.Fatal("ClearHandler did not return")
	}
}

func TestHubCleanupClients(t *testing.T) {
	hub := NewHub("/serial")
	defer hub.Close()

	rec := &eventRecorder{}
	hub.SetHandler(rec.handle)

	dead := NewClient(nil)
	hub.Register(dead)
	dead.Close()

	oldest := NewClient(nil)
	oldest.connectedAt = time.Now().Add(-time.Minute)
	newer := NewClient(nil)
	newest := NewClient(nil)
	newest.connectedAt = time.Now().Add(time.Minute)
	hub.Register(oldest)
	hub.Register(newer)
	hub.Register(newest)

	hub.CleanupClients(2)

	if hub.ClientCount() != 3 {
		t.Errorf("expected dead client removed, got %d clients", hub.ClientCount())
	}
	if !oldest.IsClosed() {
		t.Error("expected the oldest client to be closed")
	}
	if newer.IsClosed() || newest.IsClosed() {
		t.Error("newer clients should stay open")
	}

	kinds := rec.kinds()
	if kinds[len(kinds)-1] != EventDisconnect {
		t.Errorf("expected disconnect for dead client, got %v", kinds)
	}
}

func TestClientSendOverflowCloses(t *testing.T) {
	hub := NewHub("/serial")
	_ = hub
	client := NewClient(nil)

	for i := 0; i < cap(client.send)+1; i++ {
		client.Send([]byte{byte(i)})
	}

	if !client.IsClosed() {
		t.Error("expected client to close when its send buffer overflows")
	}

	// Sending to a closed client is a no-op
	client.Send([]byte("late"))
}

func TestHubManager(t *testing.T) {
	manager := NewHubManager()
	defer manager.Close()

	hub := manager.GetOrCreate("/a")
	if manager.GetOrCreate("/a") != hub {
		t.Error("expected the same hub for the same path")
	}
	manager.GetOrCreate("/b")
	if len(manager.List()) != 2 {
		t.Errorf("expected 2 hubs, got %d", len(manager.List()))
	}

	manager.Remove("/a")
	if manager.Get("/a") != nil {
		t.Error("expected hub to be removed")
	}
}

func TestHubBroadcastProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("broadcast delivers the same bytes to every client", prop.ForAll(
		func(numClients int, data []byte) bool {
			hub := NewHub("/serial")
			defer hub.Close()

			clients := make([]*Client, numClients)
			for i := range clients {
				clients[i] = NewClient(nil)
				hub.Register(clients[i])
			}

			hub.Broadcast(data)

			for _, client := range clients {
				select {
				case got := <-client.SendChan():
					if string(got) != string(data) {
						return false
					}
				case <-time.After(100 * time.Millisecond):
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 10),
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}
