// Package console drives a serial bridge from the application side.
//
// A Pump owns the application goroutine: it is the only caller of the
// bridge's read and write operations, which keeps the receive ring
// single-consumer and the transmit ring single-goroutine.
package console

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/wsserial/backend/internal/config"
	"github.com/wsserial/backend/internal/serial"
)

const (
	readChunkSize = 1024
	inputQueueLen = 64
)

// Options configures a Pump.
type Options struct {
	// Mode is config.ModeConsole or config.ModeEcho.
	Mode string

	PollInterval         time.Duration
	HousekeepingInterval time.Duration

	// OnHousekeeping, if set, runs on every housekeeping tick after the
	// bridge's own housekeeping.
	OnHousekeeping func()
}

// Pump moves bytes between a bridge and a local terminal.
type Pump struct {
	bridge *serial.Bridge
	out    io.Writer
	opts   Options
	logger *zap.Logger

	input chan []byte
	buf   []byte
}

// NewPump creates a Pump. Received bytes are written to out in console mode
// and written back to the bridge in echo mode.
func NewPump(bridge *serial.Bridge, out io.Writer, opts Options, logger *zap.Logger) *Pump {
	if logger == nil {
		logger = zap.NewNop()
	}
	if out == nil {
		out = io.Discard
	}
	if opts.Mode == "" {
		opts.Mode = config.ModeConsole
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Millisecond
	}
	if opts.HousekeepingInterval <= 0 {
		opts.HousekeepingInterval = time.Second
	}
	return &Pump{
		bridge: bridge,
		out:    out,
		opts:   opts,
		logger: logger.With(zap.String("component", "console"), zap.String("mode", opts.Mode)),
		input:  make(chan []byte, inputQueueLen),
		buf:    make([]byte, readChunkSize),
	}
}

// Feed queues data for the bridge without waiting. It reports false when the
// input queue is full and data was not queued.
func (p *Pump) Feed(data []byte) bool {
	chunk := append([]byte(nil), data...)
	select {
	case p.input <- chunk:
		return true
	default:
		return false
	}
}

// ReadFrom copies r into the input queue until r is exhausted or ctx is
// done. It blocks in r.Read, so run it on its own goroutine.
func (p *Pump) ReadFrom(ctx context.Context, r io.Reader) error {
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case p.input <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if errors.Is(err, io.EOF) {
			p.logger.Debug("input closed")
			return nil
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Run polls the bridge until ctx is done. Pending input is flushed once more
// before Run returns.
func (p *Pump) Run(ctx context.Context) error {
	poll := time.NewTicker(p.opts.PollInterval)
	defer poll.Stop()

	housekeeping := time.NewTicker(p.opts.HousekeepingInterval)
	defer housekeeping.Stop()

	p.logger.Info("console started",
		zap.String("path", p.bridge.Path()),
		zap.Duration("poll", p.opts.PollInterval),
	)

	for {
		select {
		case <-ctx.Done():
			p.Poll()
			p.logger.Info("console stopped")
			return nil
		case <-poll.C:
			p.Poll()
		case <-housekeeping.C:
			p.Housekeeping()
		}
	}
}

// Poll runs one application step: drain received bytes, queue pending input
// and send whatever was written.
func (p *Pump) Poll() {
	for {
		n, _ := p.bridge.Read(p.buf)
		if n == 0 {
			break
		}
		p.deliver(p.buf[:n])
	}

queued:
	for {
		select {
		case chunk := <-p.input:
			p.bridge.Write(chunk)
		default:
			break queued
		}
	}

	p.bridge.Send()
}

func (p *Pump) deliver(data []byte) {
	if p.opts.Mode == config.ModeEcho {
		p.bridge.Write(data)
		return
	}
	if _, err := p.out.Write(data); err != nil {
		p.logger.Warn("failed to write output", zap.Error(err))
	}
}

// Housekeeping runs the bridge's periodic maintenance and the configured hook.
func (p *Pump) Housekeeping() {
	p.bridge.Housekeeping()
	if p.opts.OnHousekeeping != nil {
		p.opts.OnHousekeeping()
	}
}
