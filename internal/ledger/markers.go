package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// LookupMarker returns the stored plan for a directory's marker content.
func (s *Store) LookupMarker(ctx context.Context, dir, markerHash string) (string, bool, error) {
	var planJSON string
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT plan_json FROM instruction_markers WHERE dir = ? AND marker_hash = ?`,
		dir, markerHash,
	).Scan(&planJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup marker: %w", err)
	}
	return planJSON, true, nil
}

// SaveMarker stores the parsed plan of a marker the first time it is applied.
// It reports false when another caller stored the same marker first.
func (s *Store) SaveMarker(ctx context.Context, dir, markerHash, planJSON string) (bool, error) {
	res, err := s.execWithRetry(ctx,
		`INSERT INTO instruction_markers (dir, marker_hash, plan_json, applied_at) VALUES (?, ?, ?, ?)
         ON CONFLICT(dir, marker_hash) DO NOTHING`,
		dir, markerHash, planJSON, s.timestamp(),
	)
	if err != nil {
		return false, fmt.Errorf("save marker: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
