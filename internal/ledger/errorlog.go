package ledger

import (
	"context"
	"database/sql"
	"fmt"
)

// AppendError adds a row to the error log.
func (s *Store) AppendError(ctx context.Context, entry ErrorEntry) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		return appendErrorTx(ctx, tx, s.timestamp(), entry.Path, entry.Hash, entry.Kind, entry.Message)
	})
}

func appendErrorTx(ctx context.Context, tx *sql.Tx, ts, path, hash, kind, message string) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO error_log (ts, path, hash, kind, message) VALUES (?, ?, ?, ?, ?)`,
		ts, nullableString(path), nullableString(hash), kind, message,
	); err != nil {
		return fmt.Errorf("append error log: %w", err)
	}
	return nil
}

// ListErrors returns the newest error log rows first.
func (s *Store) ListErrors(ctx context.Context, limit int) ([]ErrorEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT id, ts, COALESCE(path, ''), COALESCE(hash, ''), kind, message
         FROM error_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list errors: %w", err)
	}
	defer rows.Close()

	var out []ErrorEntry
	for rows.Next() {
		var (
			entry ErrorEntry
			ts    string
		)
		if err := rows.Scan(&entry.ID, &ts, &entry.Path, &entry.Hash, &entry.Kind, &entry.Message); err != nil {
			return nil, err
		}
		entry.Time, _ = parseTimeString(ts)
		out = append(out, entry)
	}
	return out, rows.Err()
}

// TrimErrors keeps only the newest retain rows of the error log.
func (s *Store) TrimErrors(ctx context.Context, retain int) (int64, error) {
	if retain <= 0 {
		return 0, nil
	}
	res, err := s.execWithRetry(ctx,
		`DELETE FROM error_log WHERE id <= (SELECT id FROM error_log ORDER BY id DESC LIMIT 1 OFFSET ?)`,
		retain)
	if err != nil {
		return 0, fmt.Errorf("trim error log: %w", err)
	}
	return res.RowsAffected()
}
