package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"hopper/internal/services"
)

const recordColumns = "hash, status, first_path, size, category, action_hint, risk, plan_json, outcome, failure_kind, failure_reason, origin_hash, depth, sync_targets, owner, created_at, updated_at, completed_at"

// Claim performs the atomic check-and-set behind deduplication. A new hash is
// inserted as pending and admitted. An existing terminal hash is skipped and
// the path is added to its sightings. A non-terminal hash owned by this run is
// reported in flight. A non-terminal hash owned by an earlier run is either
// re-claimed (nothing ran yet) or failed as interrupted (it was executing).
func (s *Store) Claim(ctx context.Context, req ClaimRequest) (ClaimOutcome, *Record, error) {
	if strings.TrimSpace(req.Hash) == "" {
		return ClaimSkipped, nil, errors.New("claim: empty hash")
	}
	var (
		outcome ClaimOutcome
		record  *Record
	)
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		ts := s.timestamp()
		res, err := tx.ExecContext(ctx,
			`INSERT INTO file_records (hash, status, first_path, size, origin_hash, depth, owner, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
             ON CONFLICT(hash) DO NOTHING`,
			req.Hash, StatusPending, req.Path, req.Size, nullableString(req.OriginHash), req.Depth, req.Owner, ts, ts,
		)
		if err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
		if err := insertSighting(ctx, tx, req.Hash, req.Path, ts); err != nil {
			return err
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		current, err := getRecord(ctx, tx, req.Hash)
		if err != nil {
			return err
		}
		record = current
		if inserted == 1 {
			outcome = ClaimAdmitted
			return nil
		}

		switch {
		case current.Status.IsTerminal():
			outcome = ClaimSkipped
			return nil
		case current.Owner == req.Owner:
			outcome = ClaimInFlight
			return nil
		case current.Status == StatusExecuting:
			if _, err := tx.ExecContext(ctx,
				`UPDATE file_records
                 SET status = ?, failure_kind = ?, failure_reason = ?, updated_at = ?, completed_at = ?
                 WHERE hash = ? AND status = ? AND owner = ?`,
				StatusFailed, string(services.KindExecutionFailure), InterruptedReason, ts, ts,
				req.Hash, StatusExecuting, current.Owner,
			); err != nil {
				return fmt.Errorf("fail interrupted record: %w", err)
			}
			if err := appendErrorTx(ctx, tx, ts, current.FirstPath, req.Hash, string(services.KindExecutionFailure), InterruptedReason); err != nil {
				return err
			}
			outcome = ClaimInterrupted
		default:
			if _, err := tx.ExecContext(ctx,
				`UPDATE file_records
                 SET status = ?, owner = ?, updated_at = ?
                 WHERE hash = ? AND owner = ?`,
				StatusPending, req.Owner, ts, req.Hash, current.Owner,
			); err != nil {
				return fmt.Errorf("reclaim record: %w", err)
			}
			outcome = ClaimAdmitted
		}
		record, err = getRecord(ctx, tx, req.Hash)
		return err
	})
	if err != nil {
		return ClaimSkipped, nil, err
	}
	return outcome, record, nil
}

// RecordUnreadable stores a terminal failed record for a file that could
// not be hashed. Its identity is derived from the path so the next scan finds
// it without reading the file again.
func (s *Store) RecordUnreadable(ctx context.Context, key, path, owner, reason string) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		ts := s.timestamp()
		res, err := tx.ExecContext(ctx,
			`INSERT INTO file_records (hash, status, first_path, failure_kind, failure_reason, owner, created_at, updated_at, completed_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
             ON CONFLICT(hash) DO NOTHING`,
			key, StatusFailed, path, string(services.KindIO), reason, owner, ts, ts, ts,
		)
		if err != nil {
			return fmt.Errorf("insert unreadable record: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		if err := insertSighting(ctx, tx, key, path, ts); err != nil {
			return err
		}
		return appendErrorTx(ctx, tx, ts, path, key, string(services.KindIO), reason)
	})
}

// Get fetches a record by hash. It returns ErrNotFound when absent.
func (s *Store) Get(ctx context.Context, hash string) (*Record, error) {
	return getRecord(ensureContext(ctx), s.db, hash)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getRecord(ctx context.Context, q queryRower, hash string) (*Record, error) {
	row := q.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM file_records WHERE hash = ?`, hash)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return record, nil
}

// List returns records ordered by creation time, optionally filtered by status.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]Record, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + recordColumns + ` FROM file_records`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query += ` ORDER BY created_at, hash`
	return s.queryRecords(ctx, query, args...)
}

// ListModifiable returns completed records whose category a content
// generator may rework.
func (s *Store) ListModifiable(ctx context.Context, categories []string) ([]Record, error) {
	if len(categories) == 0 {
		return nil, nil
	}
	args := []any{StatusCompleted}
	for _, category := range categories {
		args = append(args, category)
	}
	return s.queryRecords(ensureContext(ctx),
		`SELECT `+recordColumns+` FROM file_records
         WHERE status = ? AND category IN (`+makePlaceholders(len(categories))+`)
         ORDER BY completed_at DESC, hash`,
		args...,
	)
}

// ListByOrigin returns records extracted from the archive with the given hash.
func (s *Store) ListByOrigin(ctx context.Context, originHash string) ([]Record, error) {
	return s.queryRecords(ensureContext(ctx),
		`SELECT `+recordColumns+` FROM file_records WHERE origin_hash = ? ORDER BY first_path`,
		originHash,
	)
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// Counts returns the number of records per status.
func (s *Store) Counts(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM file_records GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("record counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// MarkClassified moves a pending record to classified.
func (s *Store) MarkClassified(ctx context.Context, hash string, c Classification) error {
	return s.transition(ctx, hash, StatusClassified,
		`category = ?, action_hint = ?, risk = ?`,
		c.Category, c.ActionHint, c.Risk,
	)
}

// MarkPlanned moves a classified record to planned and stores its plan and
// chosen sync targets.
func (s *Store) MarkPlanned(ctx context.Context, hash, planJSON string, syncTargets []string) error {
	return s.transition(ctx, hash, StatusPlanned,
		`plan_json = ?, sync_targets = ?`,
		planJSON, strings.Join(syncTargets, ","),
	)
}

// SetSyncTargets records the sync targets of a record that failed before it
// could be planned. An empty list is stored as "no targets".
func (s *Store) SetSyncTargets(ctx context.Context, hash string, syncTargets []string) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE file_records SET sync_targets = ?, updated_at = ? WHERE hash = ?`,
		strings.Join(syncTargets, ","), s.timestamp(), hash,
	)
	if err != nil {
		return fmt.Errorf("set sync targets: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	return nil
}

// MarkExecuting moves a planned record to executing.
func (s *Store) MarkExecuting(ctx context.Context, hash string) error {
	return s.transition(ctx, hash, StatusExecuting, "")
}

// MarkCompleted moves an executing record to completed with an outcome.
func (s *Store) MarkCompleted(ctx context.Context, hash, outcome string) error {
	return s.transition(ctx, hash, StatusCompleted,
		`outcome = ?, completed_at = ?`,
		outcome, s.timestamp(),
	)
}

// MarkFailed moves any non-terminal record to failed and appends the failure
// to the error log.
func (s *Store) MarkFailed(ctx context.Context, hash, path, kind, reason string) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		current, err := getRecord(ctx, tx, hash)
		if err != nil {
			return err
		}
		if !CanTransition(current.Status, StatusFailed) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, StatusFailed)
		}
		ts := s.timestamp()
		if _, err := tx.ExecContext(ctx,
			`UPDATE file_records
             SET status = ?, failure_kind = ?, failure_reason = ?, updated_at = ?, completed_at = ?
             WHERE hash = ? AND status = ?`,
			StatusFailed, kind, reason, ts, ts, hash, current.Status,
		); err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		if path == "" {
			path = current.FirstPath
		}
		return appendErrorTx(ctx, tx, ts, path, hash, kind, reason)
	})
}

// transition applies one forward step. assignments is an optional SQL SET
// fragment whose placeholders are bound to args.
func (s *Store) transition(ctx context.Context, hash string, to Status, assignments string, args ...any) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		var from Status
		if err := tx.QueryRowContext(ctx, `SELECT status FROM file_records WHERE hash = ?`, hash).Scan(&from); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrNotFound, hash)
			}
			return fmt.Errorf("read status: %w", err)
		}
		if !CanTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}
		set := `status = ?, updated_at = ?`
		if assignments != "" {
			set += ", " + assignments
		}
		bound := append([]any{to, s.timestamp()}, args...)
		bound = append(bound, hash, from)
		if _, err := tx.ExecContext(ctx, `UPDATE file_records SET `+set+` WHERE hash = ? AND status = ?`, bound...); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		return nil
	})
}

// RecoverInterrupted fails every executing record not owned by owner. It
// runs at daemon start, before any scan, so records whose source has since
// disappeared still reach a terminal state.
func (s *Store) RecoverInterrupted(ctx context.Context, owner string) (int, error) {
	var count int
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT hash, first_path FROM file_records WHERE status = ? AND (owner IS NULL OR owner != ?)`,
			StatusExecuting, owner,
		)
		if err != nil {
			return fmt.Errorf("query interrupted: %w", err)
		}
		type stale struct{ hash, path string }
		var found []stale
		for rows.Next() {
			var item stale
			if err := rows.Scan(&item.hash, &item.path); err != nil {
				rows.Close()
				return err
			}
			found = append(found, item)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		ts := s.timestamp()
		for _, item := range found {
			if _, err := tx.ExecContext(ctx,
				`UPDATE file_records
                 SET status = ?, failure_kind = ?, failure_reason = ?, updated_at = ?, completed_at = ?
                 WHERE hash = ? AND status = ?`,
				StatusFailed, string(services.KindExecutionFailure), InterruptedReason, ts, ts, item.hash, StatusExecuting,
			); err != nil {
				return fmt.Errorf("fail interrupted record: %w", err)
			}
			if err := appendErrorTx(ctx, tx, ts, item.path, item.hash, string(services.KindExecutionFailure), InterruptedReason); err != nil {
				return err
			}
		}
		count = len(found)
		return nil
	})
	return count, err
}

// Invalidate deletes a record and everything keyed by its hash so the content
// is processed again the next time it is seen. Error log rows are kept.
func (s *Store) Invalidate(ctx context.Context, hash string) error {
	res, err := s.execWithRetry(ctx, `DELETE FROM file_records WHERE hash = ?`, hash)
	if err != nil {
		return fmt.Errorf("invalidate record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	return nil
}

// Sightings lists every path at which a record's content was seen.
func (s *Store) Sightings(ctx context.Context, hash string) ([]Sighting, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT path, seen_at FROM record_paths WHERE hash = ? ORDER BY seen_at, path`, hash)
	if err != nil {
		return nil, fmt.Errorf("list sightings: %w", err)
	}
	defer rows.Close()

	var out []Sighting
	for rows.Next() {
		var (
			sighting Sighting
			seenRaw  string
		)
		if err := rows.Scan(&sighting.Path, &seenRaw); err != nil {
			return nil, err
		}
		sighting.SeenAt, _ = parseTimeString(seenRaw)
		out = append(out, sighting)
	}
	return out, rows.Err()
}

func insertSighting(ctx context.Context, tx *sql.Tx, hash, path, ts string) error {
	if path == "" {
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO record_paths (hash, path, seen_at) VALUES (?, ?, ?) ON CONFLICT(hash, path) DO NOTHING`,
		hash, path, ts,
	); err != nil {
		return fmt.Errorf("record sighting: %w", err)
	}
	return nil
}

// Describe assembles the full knowledge entry for a hash.
func (s *Store) Describe(ctx context.Context, hash string) (*Entry, error) {
	record, err := s.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	entry := &Entry{Record: *record}
	if entry.Sightings, err = s.Sightings(ctx, hash); err != nil {
		return nil, err
	}
	if entry.Placements, err = s.Placements(ctx, hash); err != nil {
		return nil, err
	}
	if entry.Deliveries, err = s.Deliveries(ctx, hash); err != nil {
		return nil, err
	}
	if entry.Publications, err = s.PublishRequests(ctx, hash); err != nil {
		return nil, err
	}
	return entry, nil
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		record        Record
		status        string
		category      sql.NullString
		hint          sql.NullString
		risk          sql.NullString
		planJSON      sql.NullString
		outcome       sql.NullString
		failureKind   sql.NullString
		failureReason sql.NullString
		origin        sql.NullString
		syncTargets   sql.NullString
		owner         sql.NullString
		createdRaw    string
		updatedRaw    string
		completedRaw  sql.NullString
	)
	if err := scanner.Scan(
		&record.Hash,
		&status,
		&record.FirstPath,
		&record.Size,
		&category,
		&hint,
		&risk,
		&planJSON,
		&outcome,
		&failureKind,
		&failureReason,
		&origin,
		&record.Depth,
		&syncTargets,
		&owner,
		&createdRaw,
		&updatedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}
	record.Status = Status(status)
	record.Category = category.String
	record.ActionHint = hint.String
	record.Risk = risk.String
	record.PlanJSON = planJSON.String
	record.Outcome = outcome.String
	record.FailureKind = failureKind.String
	record.FailureReason = failureReason.String
	record.OriginHash = origin.String
	record.Owner = owner.String
	if syncTargets.Valid {
		record.SyncResolved = true
		if syncTargets.String != "" {
			record.SyncTargets = strings.Split(syncTargets.String, ",")
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		record.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		record.UpdatedAt = updated
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			record.CompletedAt = &completed
		}
	}
	return &record, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}
