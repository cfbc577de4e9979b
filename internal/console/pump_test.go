package console

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wsserial/backend/internal/config"
	"github.com/wsserial/backend/internal/serial"
	"github.com/wsserial/backend/internal/ws"
)

// sentRecorder collects every broadcast of a bridge.
type sentRecorder struct {
	mu   sync.Mutex
	sent [][]byte
}

func (r *sentRecorder) OnReceive([]byte, int) {}

func (r *sentRecorder) OnSend(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, append([]byte(nil), data...))
}

func (r *sentRecorder) messages() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.sent...)
}

type testRig struct {
	svc    *ws.Service
	bridge *serial.Bridge
	sent   *sentRecorder
}

func newRig(t *testing.T, tx, rx int) *testRig {
	t.Helper()
	rec := &sentRecorder{}
	svc := ws.NewService(0, nil)
	bridge := serial.New("/serial", nil, serial.WithObserver(rec))
	bridge.Begin(svc, tx, rx)
	t.Cleanup(bridge.End)
	return &testRig{svc: svc, bridge: bridge, sent: rec}
}

func (r *testRig) deliver(data string) {
	r.svc.HubManager().Get("/serial").Dispatch(ws.Event{Kind: ws.EventData, Data: []byte(data)})
}

func TestPump_ConsoleModeWritesReceivedBytes(t *testing.T) {
	rig := newRig(t, 64, 64)
	var out bytes.Buffer
	pump := NewPump(rig.bridge, &out, Options{Mode: config.ModeConsole}, nil)

	rig.deliver("hello ")
	rig.deliver("world")
	pump.Poll()

	assert.Equal(t, "hello world", out.String())
	assert.Zero(t, rig.bridge.Available())
	assert.Empty(t, rig.sent.messages())
}

func TestPump_FeedIsSentAsOneMessage(t *testing.T) {
	rig := newRig(t, 64, 64)
	pump := NewPump(rig.bridge, nil, Options{}, nil)

	require.True(t, pump.Feed([]byte("ab")))
	require.True(t, pump.Feed([]byte("cd")))
	pump.Poll()

	sent := rig.sent.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, []byte("abcd"), sent[0])
	assert.Zero(t, rig.bridge.AwaitingSend())
}

func TestPump_FeedFullQueue(t *testing.T) {
	rig := newRig(t, 64, 64)
	pump := NewPump(rig.bridge, nil, Options{}, nil)

	for i := 0; i < inputQueueLen; i++ {
		require.True(t, pump.Feed([]byte{byte(i)}))
	}
	assert.False(t, pump.Feed([]byte("x")))
}

func TestPump_EchoMode(t *testing.T) {
	rig := newRig(t, 64, 64)
	var out bytes.Buffer
	pump := NewPump(rig.bridge, &out, Options{Mode: config.ModeEcho}, nil)

	rig.deliver("ping")
	pump.Poll()

	assert.Empty(t, out.String())
	sent := rig.sent.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, []byte("ping"), sent[0])
}

func TestPump_EchoLargerThanTransmitRing(t *testing.T) {
	// 7 usable transmit bytes; 20 echoed bytes leave in 3 messages.
	rig := newRig(t, 8, 64)
	pump := NewPump(rig.bridge, nil, Options{Mode: config.ModeEcho}, nil)

	payload := strings.Repeat("z", 20)
	rig.deliver(payload)
	pump.Poll()

	var total []byte
	for _, m := range rig.sent.messages() {
		total = append(total, m...)
	}
	assert.Equal(t, payload, string(total))
	assert.Len(t, rig.sent.messages(), 3)
}

func TestPump_HousekeepingHook(t *testing.T) {
	rig := newRig(t, 8, 8)
	var calls int
	pump := NewPump(rig.bridge, nil, Options{OnHousekeeping: func() { calls++ }}, nil)

	pump.Housekeeping()
	pump.Housekeeping()
	assert.Equal(t, 2, calls)
}

func TestPump_ReadFrom(t *testing.T) {
	rig := newRig(t, 64, 64)
	pump := NewPump(rig.bridge, nil, Options{}, nil)

	err := pump.ReadFrom(context.Background(), strings.NewReader("typed"))
	require.NoError(t, err)

	pump.Poll()
	sent := rig.sent.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, []byte("typed"), sent[0])
}

func TestPump_RunStopsOnCancel(t *testing.T) {
	rig := newRig(t, 64, 64)
	var out safeBuffer
	var hk atomic.Int32
	pump := NewPump(rig.bridge, &out, Options{
		PollInterval:         time.Millisecond,
		HousekeepingInterval: 5 * time.Millisecond,
		OnHousekeeping:       func() { hk.Add(1) },
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pump.Run(ctx) }()

	rig.deliver("abc")
	deadline := time.Now().Add(2 * time.Second)
	for out.String() != "abc" || hk.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("pump did not run: out=%q housekeeping=%d", out.String(), hk.Load())
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
