package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// topExtensionLimit bounds the extension histogram kept in a snapshot.
const topExtensionLimit = 10

// ExtensionCount is one row of the extension histogram.
type ExtensionCount struct {
	Extension string `json:"extension"`
	Count     int    `json:"count"`
}

// Snapshot is the periodic pattern/statistics summary of the ledger.
type Snapshot struct {
	TakenAt       time.Time        `json:"taken_at"`
	Total         int              `json:"total"`
	ByStatus      map[string]int   `json:"by_status"`
	ByCategory    map[string]int   `json:"by_category"`
	TopExtensions []ExtensionCount `json:"top_extensions"`
	Blocked       int              `json:"blocked"`
	FailureRate   float64          `json:"failure_rate"`
	PendingSync   int              `json:"pending_sync"`
}

// ComputeSnapshot aggregates the current ledger contents.
func (s *Store) ComputeSnapshot(ctx context.Context) (Snapshot, error) {
	ctx = ensureContext(ctx)
	snap := Snapshot{
		TakenAt:    s.now(),
		ByStatus:   map[string]int{},
		ByCategory: map[string]int{},
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COALESCE(category, ''), COALESCE(outcome, ''), first_path FROM file_records`)
	if err != nil {
		return snap, fmt.Errorf("snapshot records: %w", err)
	}
	extensions := map[string]int{}
	for rows.Next() {
		var status, category, outcome, path string
		if err := rows.Scan(&status, &category, &outcome, &path); err != nil {
			rows.Close()
			return snap, err
		}
		snap.Total++
		snap.ByStatus[status]++
		if category != "" {
			snap.ByCategory[category]++
		}
		if outcome == OutcomeBlocked {
			snap.Blocked++
		}
		if ext := strings.ToLower(filepath.Ext(path)); ext != "" {
			extensions[ext]++
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return snap, err
	}

	for ext, count := range extensions {
		snap.TopExtensions = append(snap.TopExtensions, ExtensionCount{Extension: ext, Count: count})
	}
	sort.Slice(snap.TopExtensions, func(i, j int) bool {
		a, b := snap.TopExtensions[i], snap.TopExtensions[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Extension < b.Extension
	})
	if len(snap.TopExtensions) > topExtensionLimit {
		snap.TopExtensions = snap.TopExtensions[:topExtensionLimit]
	}

	terminal := snap.ByStatus[string(StatusCompleted)] + snap.ByStatus[string(StatusFailed)]
	if terminal > 0 {
		snap.FailureRate = float64(snap.ByStatus[string(StatusFailed)]) / float64(terminal)
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM sync_deliveries WHERE status = ?`, DeliveryNacked,
	).Scan(&snap.PendingSync); err != nil {
		return snap, fmt.Errorf("snapshot deliveries: %w", err)
	}
	return snap, nil
}

// SaveSnapshot appends snap to pattern_snapshots.
func (s *Store) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO pattern_snapshots (taken_at, snapshot_json) VALUES (?, ?)`,
		snap.TakenAt.UTC().Format(time.RFC3339Nano), string(data),
	); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the newest stored snapshot, if any.
func (s *Store) LatestSnapshot(ctx context.Context) (*Snapshot, error) {
	var data string
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT snapshot_json FROM pattern_snapshots ORDER BY id DESC LIMIT 1`,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}
