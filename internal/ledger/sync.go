package ledger

import (
	"context"
	"fmt"
)

// RecordDelivery stores an ack (deliveryErr == nil) or nack for one target
// and bumps the attempt counter.
func (s *Store) RecordDelivery(ctx context.Context, hash, target string, deliveryErr error) error {
	status := DeliveryAcked
	var lastError any
	if deliveryErr != nil {
		status = DeliveryNacked
		lastError = deliveryErr.Error()
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO sync_deliveries (hash, target, status, attempts, last_error, updated_at)
         VALUES (?, ?, ?, 1, ?, ?)
         ON CONFLICT(hash, target) DO UPDATE SET
             status = excluded.status,
             attempts = sync_deliveries.attempts + 1,
             last_error = excluded.last_error,
             updated_at = excluded.updated_at`,
		hash, target, status, lastError, s.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

// Deliveries lists per-target delivery state for hash.
func (s *Store) Deliveries(ctx context.Context, hash string) ([]Delivery, error) {
	return s.queryDeliveries(ctx,
		`SELECT hash, target, status, attempts, COALESCE(last_error, ''), updated_at
         FROM sync_deliveries WHERE hash = ? ORDER BY target`, hash)
}

// PendingDeliveries lists nacked deliveries that have not exhausted
// maxAttempts.
func (s *Store) PendingDeliveries(ctx context.Context, maxAttempts int) ([]Delivery, error) {
	return s.queryDeliveries(ctx,
		`SELECT hash, target, status, attempts, COALESCE(last_error, ''), updated_at
         FROM sync_deliveries WHERE status = ? AND attempts < ? ORDER BY updated_at, hash, target`,
		DeliveryNacked, maxAttempts)
}

func (s *Store) queryDeliveries(ctx context.Context, query string, args ...any) ([]Delivery, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var (
			d       Delivery
			updated string
		)
		if err := rows.Scan(&d.Hash, &d.Target, &d.Status, &d.Attempts, &d.LastError, &updated); err != nil {
			return nil, err
		}
		d.UpdatedAt, _ = parseTimeString(updated)
		out = append(out, d)
	}
	return out, rows.Err()
}
