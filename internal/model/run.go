package model

import (
	"time"
)

// RunStatus represents the status of a bridge run.
type RunStatus string

const (
	RunStatusActive RunStatus = "active"
	RunStatusClosed RunStatus = "closed"
)

// Run is one binding of the serial bridge to its endpoint, from Begin to End.
type Run struct {
	ID            string     `json:"id"`
	Path          string     `json:"path"`
	TxCapacity    int        `json:"txCapacity"`
	RxCapacity    int        `json:"rxCapacity"`
	Status        RunStatus  `json:"status"`
	BytesReceived uint64     `json:"bytesReceived"`
	BytesDropped  uint64     `json:"bytesDropped"`
	BytesSent     uint64     `json:"bytesSent"`
	Broadcasts    uint64     `json:"broadcasts"`
	CapturePath   string     `json:"capturePath,omitempty"`
	StartedAt     time.Time  `json:"startedAt"`
	EndedAt       *time.Time `json:"endedAt,omitempty"`
}

// Duration returns how long the run lasted, or has lasted so far.
func (r *Run) Duration() time.Duration {
	if r.EndedAt != nil {
		return r.EndedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}
