package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run records one extraction or whitening invocation against the store.
type Run struct {
	ID         string    `json:"id"`
	Preset     string    `json:"preset"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Extracted  int       `json:"extracted"`
	Skipped    int       `json:"skipped"`
}

// BeginRun inserts an unfinished run row and returns its id.
func (s *Store) BeginRun(ctx context.Context, preset string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate run id: %w", err)
	}
	err = s.exec(ctx, `INSERT INTO runs (id, preset, started_at) VALUES (?, ?, ?)`,
		id.String(), preset, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("failed to record run: %w", err)
	}
	return id.String(), nil
}

// FinishRun stamps the run with its counters.
func (s *Store) FinishRun(ctx context.Context, id string, extracted, skipped int) error {
	err := s.exec(ctx, `UPDATE runs SET finished_at = ?, extracted = ?, skipped = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), extracted, skipped, id)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", id, err)
	}
	return nil
}

// Runs lists recorded runs, oldest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, preset, started_at, COALESCE(finished_at, ''), extracted, skipped
		FROM runs ORDER BY started_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished string
		if err := rows.Scan(&r.ID, &r.Preset, &started, &finished, &r.Extracted, &r.Skipped); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		if finished != "" {
			r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
