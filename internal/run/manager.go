// Package run tracks bridge bindings as persistent runs. Each Begin..End of a
// serial bridge becomes one row in the run history, optionally paired with a
// traffic capture file.
package run

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wsserial/backend/internal/capture"
	"github.com/wsserial/backend/internal/model"
	"github.com/wsserial/backend/internal/repository"
	"github.com/wsserial/backend/internal/serial"
)

// Manager starts and stops bridge runs.
type Manager struct {
	repo       *repository.RunRepository
	captureDir string
	logger     *zap.Logger

	tap captureTap

	mu       sync.Mutex
	current  *model.Run
	bridge   *serial.Bridge
	recorder *capture.Recorder
}

// NewManager creates a Manager. An empty captureDir disables captures.
func NewManager(repo *repository.RunRepository, captureDir string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		repo:       repo,
		captureDir: captureDir,
		logger:     logger.With(zap.String("component", "run")),
	}
}

// Observer returns the observer that forwards bridge traffic to the capture
// of the active run. Attach it with serial.WithObserver when creating the
// bridge; it does nothing while no capture is open.
func (m *Manager) Observer() serial.Observer {
	return &m.tap
}

// Start binds bridge to t and records the new run. It fails with
// model.ErrRunActive if a run is already in progress.
func (m *Manager) Start(ctx context.Context, bridge *serial.Bridge, t serial.Transport, txCapacity, rxCapacity int) (*model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return nil, model.ErrRunActive
	}

	run := &model.Run{
		ID:        uuid.New().String(),
		Path:      bridge.Path(),
		Status:    model.RunStatusActive,
		StartedAt: time.Now(),
	}

	var recorder *capture.Recorder
	if m.captureDir != "" {
		if err := os.MkdirAll(m.captureDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create capture directory: %w", err)
		}
		run.CapturePath = filepath.Join(m.captureDir, run.ID+".jsonl")

		var err error
		recorder, err = capture.NewRecorder(run.CapturePath, run.Path, m.logger)
		if err != nil {
			return nil, err
		}
		m.tap.attach(recorder)
	}

	bridge.Begin(t, txCapacity, rxCapacity)
	run.TxCapacity = bridge.TxCapacity()
	run.RxCapacity = bridge.RxCapacity()

	if err := m.repo.Create(ctx, run); err != nil {
		bridge.End()
		if recorder != nil {
			m.tap.attach(nil)
			recorder.Close()
			os.Remove(run.CapturePath)
		}
		return nil, err
	}

	m.current = run
	m.bridge = bridge
	m.recorder = recorder

	m.logger.Info("run started",
		zap.String("run", run.ID),
		zap.String("path", run.Path),
		zap.Int("tx", run.TxCapacity),
		zap.Int("rx", run.RxCapacity),
		zap.String("capture", run.CapturePath),
	)

	return copyRun(run), nil
}

// Stop unbinds the bridge and stores the final counters of the active run.
// It fails with model.ErrNoActiveRun if nothing is running.
func (m *Manager) Stop(ctx context.Context) (*model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return nil, model.ErrNoActiveRun
	}

	run := m.current
	m.bridge.End()

	stats := m.bridge.Stats()
	run.BytesReceived = stats.Received
	run.BytesDropped = stats.Dropped
	run.BytesSent = stats.Sent
	run.Broadcasts = stats.Broadcasts
	endedAt := time.Now()
	run.EndedAt = &endedAt

	if m.recorder != nil {
		m.tap.attach(nil)
		if err := m.recorder.Err(); err != nil {
			m.logger.Warn("capture incomplete", zap.String("run", run.ID), zap.Error(err))
		}
		if err := m.recorder.Close(); err != nil {
			m.logger.Warn("failed to close capture", zap.String("run", run.ID), zap.Error(err))
		}
	}

	m.current = nil
	m.bridge = nil
	m.recorder = nil

	if err := m.repo.Finish(ctx, run); err != nil {
		return nil, err
	}

	m.logger.Info("run stopped",
		zap.String("run", run.ID),
		zap.Uint64("received", run.BytesReceived),
		zap.Uint64("dropped", run.BytesDropped),
		zap.Uint64("sent", run.BytesSent),
		zap.Duration("duration", run.Duration()),
	)

	return copyRun(run), nil
}

// Current returns a snapshot of the active run with live counters, or nil.
func (m *Manager) Current() *model.Run {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return nil
	}

	run := copyRun(m.current)
	stats := m.bridge.Stats()
	run.BytesReceived = stats.Received
	run.BytesDropped = stats.Dropped
	run.BytesSent = stats.Sent
	run.Broadcasts = stats.Broadcasts
	return run
}

func copyRun(r *model.Run) *model.Run {
	c := *r
	if r.EndedAt != nil {
		t := *r.EndedAt
		c.EndedAt = &t
	}
	return &c
}

// captureTap forwards to the recorder of the active run, if any. The bridge
// calls it from both the receive and the application side, so the recorder
// is swapped atomically.
type captureTap struct {
	recorder atomic.Pointer[capture.Recorder]
}

func (t *captureTap) attach(r *capture.Recorder) {
	t.recorder.Store(r)
}

func (t *captureTap) OnReceive(accepted []byte, dropped int) {
	if r := t.recorder.Load(); r != nil {
		r.OnReceive(accepted, dropped)
	}
}

func (t *captureTap) OnSend(data []byte) {
	if r := t.recorder.Load(); r != nil {
		r.OnSend(data)
	}
}
