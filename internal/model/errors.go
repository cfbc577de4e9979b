package model

import "errors"

var (
	// ErrRunNotFound is returned when a run is not found.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunActive is returned when a run is started while another is active.
	ErrRunActive = errors.New("a bridge run is already active")

	// ErrNoActiveRun is returned when stopping without an active run.
	ErrNoActiveRun = errors.New("no active bridge run")
)
