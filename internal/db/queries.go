package db

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// RunEvent is a row of the run_events table.
type RunEvent struct {
	ID        int64
	RunID     string
	Event     string
	Stage     string
	Detail    string
	CreatedAt time.Time
}

// CorrectionAttemptRow is a row of the correction_attempts table.
type CorrectionAttemptRow struct {
	ID          int64
	RunID       string
	Phase       string
	Attempt     int
	Fingerprint string
	Errors      int
	Warnings    int
	Corrections string
	CreatedAt   time.Time
}

// ContainerEvent is a row of the container_events table.
type ContainerEvent struct {
	ID        int64
	Name      string
	RunID     string
	Event     string
	Detail    string
	CreatedAt time.Time
}

// LogRunEvent inserts a run event.
func (d *DB) LogRunEvent(ctx context.Context, runID, event, stage, detail string) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO run_events (run_id, event, stage, detail) VALUES ($1, $2, $3, $4)`,
		runID, event, stage, detail)
	if err != nil {
		return fmt.Errorf("log run event: %w", err)
	}
	return nil
}

// LogCorrectionAttempt inserts a correction attempt record.
func (d *DB) LogCorrectionAttempt(ctx context.Context, runID, phase string, attempt int, fingerprint string, errors, warnings int, corrections []string) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO correction_attempts (run_id, phase, attempt, fingerprint, errors, warnings, corrections)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		runID, phase, attempt, fingerprint, errors, warnings, strings.Join(corrections, "\n"))
	if err != nil {
		return fmt.Errorf("log correction attempt: %w", err)
	}
	return nil
}

// LogContainerEvent inserts a container lifecycle event.
func (d *DB) LogContainerEvent(ctx context.Context, name, runID, event, detail string) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO container_events (name, run_id, event, detail) VALUES ($1, $2, $3, $4)`,
		name, runID, event, detail)
	if err != nil {
		return fmt.Errorf("log container event: %w", err)
	}
	return nil
}

// GetRunHistory returns all events for a run, newest first.
func (d *DB) GetRunHistory(ctx context.Context, runID string) ([]RunEvent, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT id, run_id, event, COALESCE(stage, ''), COALESCE(detail, ''), created_at
		 FROM run_events WHERE run_id = $1 ORDER BY created_at DESC, id DESC`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("get run history: %w", err)
	}
	defer rows.Close()

	var events []RunEvent
	for rows.Next() {
		var e RunEvent
		if err := rows.Scan(&e.ID, &e.RunID, &e.Event, &e.Stage, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetCorrectionHistory returns all correction attempts for a run in
// ledger order.
func (d *DB) GetCorrectionHistory(ctx context.Context, runID string) ([]CorrectionAttemptRow, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT id, run_id, phase, attempt, fingerprint, errors, warnings, COALESCE(corrections, ''), created_at
		 FROM correction_attempts WHERE run_id = $1 ORDER BY id`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("get correction history: %w", err)
	}
	defer rows.Close()

	var attempts []CorrectionAttemptRow
	for rows.Next() {
		var a CorrectionAttemptRow
		if err := rows.Scan(&a.ID, &a.RunID, &a.Phase, &a.Attempt, &a.Fingerprint, &a.Errors, &a.Warnings, &a.Corrections, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan correction attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// GetContainerHistory returns lifecycle events for containers whose name
// matches the given prefix, newest first.
func (d *DB) GetContainerHistory(ctx context.Context, namePrefix string, limit int) ([]ContainerEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.pool.Query(ctx,
		`SELECT id, name, run_id, event, COALESCE(detail, ''), created_at
		 FROM container_events WHERE name LIKE $1 || '%'
		 ORDER BY created_at DESC, id DESC LIMIT $2`,
		namePrefix, limit)
	if err != nil {
		return nil, fmt.Errorf("get container history: %w", err)
	}
	defer rows.Close()

	var events []ContainerEvent
	for rows.Next() {
		var e ContainerEvent
		if err := rows.Scan(&e.ID, &e.Name, &e.RunID, &e.Event, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan container event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
