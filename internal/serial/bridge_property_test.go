package serial

import (
	"bytes"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestBridgeTransmitOrderingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("broadcasts concatenate to the written bytes", prop.ForAll(
		func(txCapacity int, data []byte) bool {
			transport := newFakeTransport()
			bridge := New("/serial", nil)
			bridge.Begin(transport, txCapacity, 16)
			defer bridge.End()

			bridge.Write(data)
			bridge.Send()

			var joined []byte
			for _, msg := range transport.sent() {
				joined = append(joined, msg...)
			}
			return bytes.Equal(joined, data)
		},
		gen.IntRange(0, 64),
		gen.SliceOf(gen.UInt8()),
	))

	properties.Property("writes longer than the ring flush part way", prop.ForAll(
		func(txCapacity int, extra int) bool {
			transport := newFakeTransport()
			bridge := New("/serial", nil)
			bridge.Begin(transport, txCapacity, 16)
			defer bridge.End()

			data := make([]byte, txCapacity+extra)
			for i := range data {
				data[i] = byte(i)
			}
			bridge.Write(data)

			// At least one automatic send happened before the explicit one
			if len(transport.sent()) == 0 {
				return false
			}
			return bridge.AwaitingSend() <= txCapacity-1
		},
		gen.IntRange(2, 64),
		gen.IntRange(0, 64),
	))

	properties.Property("single byte writes match bulk writes", prop.ForAll(
		func(txCapacity int, data []byte) bool {
			bulk := newFakeTransport()
			a := New("/serial", nil)
			a.Begin(bulk, txCapacity, 16)
			defer a.End()
			a.Write(data)

			single := newFakeTransport()
			b := New("/serial", nil)
			b.Begin(single, txCapacity, 16)
			defer b.End()
			for _, c := range data {
				b.WriteByte(c)
			}

			x, y := bulk.sent(), single.sent()
			if len(x) != len(y) || a.AwaitingSend() != b.AwaitingSend() {
				return false
			}
			for i := range x {
				if !bytes.Equal(x[i], y[i]) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 32),
		gen.SliceOf(gen.UInt8()),
	))

	properties.Property("received bytes are a prefix of the message", prop.ForAll(
		func(rxCapacity int, data []byte) bool {
			transport := newFakeTransport()
			bridge := New("/serial", nil)
			bridge.Begin(transport, 8, rxCapacity)
			defer bridge.End()

			transport.deliver("/serial", data)

			want := len(data)
			if rxCapacity == 0 {
				want = 0
			} else if want > rxCapacity-1 {
				want = rxCapacity - 1
			}
			if bridge.Available() != want {
				return false
			}

			got := make([]byte, len(data))
			n, _ := bridge.Read(got)
			return bytes.Equal(got[:n], data[:want])
		},
		gen.IntRange(0, 64),
		gen.SliceOf(gen.UInt8()),
	))

	properties.TestingRun(t)
}
