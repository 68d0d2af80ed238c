package ledger

import (
	"context"
	"fmt"
)

// AddPlacement records a path the executor produced for hash.
func (s *Store) AddPlacement(ctx context.Context, hash, action, path string) error {
	_, err := s.execWithRetry(ctx,
		`INSERT INTO placements (hash, action, path, created_at) VALUES (?, ?, ?, ?)
         ON CONFLICT(hash, path) DO UPDATE SET action = excluded.action`,
		hash, action, path, s.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("add placement: %w", err)
	}
	return nil
}

// Placements lists the outputs produced for hash.
func (s *Store) Placements(ctx context.Context, hash string) ([]Placement, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT action, path, created_at FROM placements WHERE hash = ? ORDER BY created_at, path`, hash)
	if err != nil {
		return nil, fmt.Errorf("list placements: %w", err)
	}
	defer rows.Close()

	var out []Placement
	for rows.Next() {
		var (
			placement Placement
			created   string
		)
		if err := rows.Scan(&placement.Action, &placement.Path, &created); err != nil {
			return nil, err
		}
		placement.CreatedAt, _ = parseTimeString(created)
		out = append(out, placement)
	}
	return out, rows.Err()
}

// RegisterCapability adds a browser extension to the capability index.
func (s *Store) RegisterCapability(ctx context.Context, c Capability) error {
	_, err := s.execWithRetry(ctx,
		`INSERT INTO capabilities (hash, browser, name, path, registered_at) VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(hash, browser) DO UPDATE SET name = excluded.name, path = excluded.path`,
		c.Hash, c.Browser, c.Name, c.Path, s.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("register capability: %w", err)
	}
	return nil
}

// Capabilities returns the capability index.
func (s *Store) Capabilities(ctx context.Context) ([]Capability, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT hash, browser, name, path, registered_at FROM capabilities ORDER BY browser, name`)
	if err != nil {
		return nil, fmt.Errorf("list capabilities: %w", err)
	}
	defer rows.Close()

	var out []Capability
	for rows.Next() {
		var (
			c   Capability
			reg string
		)
		if err := rows.Scan(&c.Hash, &c.Browser, &c.Name, &c.Path, &reg); err != nil {
			return nil, err
		}
		c.RegisteredAt, _ = parseTimeString(reg)
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecordPublish stores the result of a publishing hand-off.
func (s *Store) RecordPublish(ctx context.Context, req PublishRequest) error {
	_, err := s.execWithRetry(ctx,
		`INSERT INTO publish_requests (id, hash, platform, kind, status, external_id, error, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.Hash, req.Platform, req.Kind, req.Status,
		nullableString(req.ExternalID), nullableString(req.Error), s.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("record publish request: %w", err)
	}
	return nil
}

// PublishRequests lists publishing hand-offs for hash.
func (s *Store) PublishRequests(ctx context.Context, hash string) ([]PublishRequest, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT id, hash, platform, kind, status, COALESCE(external_id, ''), COALESCE(error, ''), created_at
         FROM publish_requests WHERE hash = ? ORDER BY created_at, id`, hash)
	if err != nil {
		return nil, fmt.Errorf("list publish requests: %w", err)
	}
	defer rows.Close()

	var out []PublishRequest
	for rows.Next() {
		var (
			req     PublishRequest
			created string
		)
		if err := rows.Scan(&req.ID, &req.Hash, &req.Platform, &req.Kind, &req.Status, &req.ExternalID, &req.Error, &created); err != nil {
			return nil, err
		}
		req.CreatedAt, _ = parseTimeString(created)
		out = append(out, req)
	}
	return out, rows.Err()
}

// RecordAccountRequest stores an account-creation hand-off. It reports false
// when the marker already has a request for the platform.
func (s *Store) RecordAccountRequest(ctx context.Context, req AccountRequest) (bool, error) {
	res, err := s.execWithRetry(ctx,
		`INSERT INTO account_requests (id, dir, marker_hash, platform, status, external_id, error, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(dir, marker_hash, platform) DO NOTHING`,
		req.ID, req.Dir, req.MarkerHash, req.Platform, req.Status,
		nullableString(req.ExternalID), nullableString(req.Error), s.timestamp(),
	)
	if err != nil {
		return false, fmt.Errorf("record account request: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// HasAccountRequest reports whether the marker already asked for an
// account on platform.
func (s *Store) HasAccountRequest(ctx context.Context, dir, markerHash, platform string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT COUNT(1) FROM account_requests WHERE dir = ? AND marker_hash = ? AND platform = ?`,
		dir, markerHash, platform,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check account request: %w", err)
	}
	return count > 0, nil
}

// AccountRequests lists the account-creation hand-offs made for dir.
func (s *Store) AccountRequests(ctx context.Context, dir string) ([]AccountRequest, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT id, dir, marker_hash, platform, status, COALESCE(external_id, ''), COALESCE(error, ''), created_at
         FROM account_requests WHERE dir = ? ORDER BY created_at, platform`, dir)
	if err != nil {
		return nil, fmt.Errorf("list account requests: %w", err)
	}
	defer rows.Close()

	var out []AccountRequest
	for rows.Next() {
		var (
			req     AccountRequest
			created string
		)
		if err := rows.Scan(&req.ID, &req.Dir, &req.MarkerHash, &req.Platform, &req.Status, &req.ExternalID, &req.Error, &created); err != nil {
			return nil, err
		}
		req.CreatedAt, _ = parseTimeString(created)
		out = append(out, req)
	}
	return out, rows.Err()
}
