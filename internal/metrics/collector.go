// Package metrics exports serial bridge traffic to Prometheus.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Collector counts bridge traffic. It implements serial.Observer.
type Collector struct {
	bytesReceived prometheus.Counter
	bytesDropped  prometheus.Counter
	bytesSent     prometheus.Counter
	broadcasts    prometheus.Counter
	clients       prometheus.Gauge

	logger *zap.Logger
}

// NewCollector creates the bridge metrics under namespace and registers them
// on reg.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) (*Collector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Collector{
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "serial",
			Name:      "bytes_received_total",
			Help:      "Bytes accepted into the receive buffer",
		}),
		bytesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "serial",
			Name:      "bytes_dropped_total",
			Help:      "Inbound bytes dropped because the receive buffer was full",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "serial",
			Name:      "bytes_sent_total",
			Help:      "Bytes broadcast to connected peers",
		}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "serial",
			Name:      "broadcasts_total",
			Help:      "Broadcast messages sent",
		}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "serial",
			Name:      "clients",
			Help:      "Peers connected to the serial endpoint",
		}),
		logger: logger.With(zap.String("component", "metrics")),
	}

	for _, collector := range []prometheus.Collector{
		c.bytesReceived, c.bytesDropped, c.bytesSent, c.broadcasts, c.clients,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	c.logger.Debug("metrics registered", zap.String("namespace", namespace))
	return c, nil
}

// OnReceive counts accepted and dropped inbound bytes.
func (c *Collector) OnReceive(accepted []byte, dropped int) {
	c.bytesReceived.Add(float64(len(accepted)))
	if dropped > 0 {
		c.bytesDropped.Add(float64(dropped))
	}
}

// OnSend counts one broadcast message.
func (c *Collector) OnSend(data []byte) {
	c.bytesSent.Add(float64(len(data)))
	c.broadcasts.Inc()
}

// SetClients records the current number of connected peers.
func (c *Collector) SetClients(n int) {
	c.clients.Set(float64(n))
}
