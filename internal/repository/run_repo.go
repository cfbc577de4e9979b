// Package repository provides data access for bridge run history.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/wsserial/backend/internal/model"
)

// RunRepository provides data access for runs.
type RunRepository struct {
	db *sql.DB
}

// NewRunRepository creates a new RunRepository.
func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

const runColumns = `id, path, tx_capacity, rx_capacity, status, bytes_received, bytes_dropped,
		bytes_sent, broadcasts, capture_path, started_at, ended_at`

// Create inserts a new run into the database.
func (r *RunRepository) Create(ctx context.Context, run *model.Run) error {
	query := `
		INSERT INTO runs (id, path, tx_capacity, rx_capacity, status, capture_path, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	var capturePath sql.NullString
	if run.CapturePath != "" {
		capturePath = sql.NullString{String: run.CapturePath, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.Path,
		run.TxCapacity,
		run.RxCapacity,
		run.Status,
		capturePath,
		run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// Finish marks a run closed and stores its final counters.
func (r *RunRepository) Finish(ctx context.Context, run *model.Run) error {
	query := `
		UPDATE runs
		SET status = ?, bytes_received = ?, bytes_dropped = ?, bytes_sent = ?, broadcasts = ?, ended_at = ?
		WHERE id = ?
	`

	endedAt := time.Now()
	if run.EndedAt != nil {
		endedAt = *run.EndedAt
	}

	// SQLite integers are signed 64-bit
	result, err := r.db.ExecContext(ctx, query,
		model.RunStatusClosed,
		int64(run.BytesReceived),
		int64(run.BytesDropped),
		int64(run.BytesSent),
		int64(run.Broadcasts),
		endedAt,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return model.ErrRunNotFound
	}

	run.Status = model.RunStatusClosed
	run.EndedAt = &endedAt
	return nil
}

// GetByID retrieves a run by its ID.
func (r *RunRepository) GetByID(ctx context.Context, id string) (*model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, model.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// List retrieves the most recent runs, newest first. A limit <= 0 returns
// all runs.
func (r *RunRepository) List(ctx context.Context, limit int) ([]*model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// CloseActive marks every run still active as closed. It is used at startup
// to settle runs left open by a process that did not shut down cleanly.
func (r *RunRepository) CloseActive(ctx context.Context) (int, error) {
	query := `
		UPDATE runs
		SET status = ?, ended_at = ?
		WHERE status = ?
	`

	result, err := r.db.ExecContext(ctx, query, model.RunStatusClosed, time.Now(), model.RunStatusActive)
	if err != nil {
		return 0, fmt.Errorf("failed to close active runs: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rowsAffected), nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*model.Run, error) {
	run := &model.Run{}
	var received, dropped, sent, broadcasts int64
	var capturePath sql.NullString
	var endedAt sql.NullTime

	err := row.Scan(
		&run.ID,
		&run.Path,
		&run.TxCapacity,
		&run.RxCapacity,
		&run.Status,
		&received,
		&dropped,
		&sent,
		&broadcasts,
		&capturePath,
		&run.StartedAt,
		&endedAt,
	)
	if err != nil {
		return nil, err
	}

	run.BytesReceived = uint64(received)
	run.BytesDropped = uint64(dropped)
	run.BytesSent = uint64(sent)
	run.Broadcasts = uint64(broadcasts)

	if capturePath.Valid {
		run.CapturePath = capturePath.String
	}

	if endedAt.Valid {
		t := endedAt.Time
		run.EndedAt = &t
	}

	return run, nil
}
