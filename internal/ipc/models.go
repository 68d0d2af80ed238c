package ipc

import (
	"time"

	"hopper/internal/ledger"
)

// Record is the wire form of a ledger record.
type Record struct {
	Hash          string   `json:"hash"`
	Status        string   `json:"status"`
	Path          string   `json:"path"`
	Size          int64    `json:"size"`
	Category      string   `json:"category,omitempty"`
	ActionHint    string   `json:"action_hint,omitempty"`
	Risk          string   `json:"risk,omitempty"`
	Outcome       string   `json:"outcome,omitempty"`
	FailureKind   string   `json:"failure_kind,omitempty"`
	FailureReason string   `json:"failure_reason,omitempty"`
	OriginHash    string   `json:"origin_hash,omitempty"`
	Depth         int      `json:"depth"`
	SyncTargets   []string `json:"sync_targets,omitempty"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at"`
	CompletedAt   string   `json:"completed_at,omitempty"`
}

// Sighting is one path a record's content was seen at.
type Sighting struct {
	Path   string `json:"path"`
	SeenAt string `json:"seen_at"`
}

// Placement is one produced output.
type Placement struct {
	Action    string `json:"action"`
	Path      string `json:"path"`
	CreatedAt string `json:"created_at"`
}

// Delivery is the per-target sync state.
type Delivery struct {
	Target    string `json:"target"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
	UpdatedAt string `json:"updated_at"`
}

// Publication is one publishing receipt.
type Publication struct {
	ID         string `json:"id"`
	Platform   string `json:"platform"`
	Kind       string `json:"kind"`
	Status     string `json:"status"`
	ExternalID string `json:"external_id,omitempty"`
	Error      string `json:"error,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// Entry is a record with everything known about it.
type Entry struct {
	Record       Record        `json:"record"`
	Plan         string        `json:"plan,omitempty"`
	Sightings    []Sighting    `json:"sightings"`
	Placements   []Placement   `json:"placements"`
	Deliveries   []Delivery    `json:"deliveries"`
	Publications []Publication `json:"publications"`
}

// ErrorEntry is one error log row.
type ErrorEntry struct {
	ID      int64  `json:"id"`
	Time    string `json:"time"`
	Path    string `json:"path"`
	Hash    string `json:"hash,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// FromRecord converts a ledger record to its wire form.
func FromRecord(r ledger.Record) Record {
	out := Record{
		Hash:          r.Hash,
		Status:        string(r.Status),
		Path:          r.FirstPath,
		Size:          r.Size,
		Category:      r.Category,
		ActionHint:    r.ActionHint,
		Risk:          r.Risk,
		Outcome:       r.Outcome,
		FailureKind:   r.FailureKind,
		FailureReason: r.FailureReason,
		OriginHash:    r.OriginHash,
		Depth:         r.Depth,
		SyncTargets:   r.SyncTargets,
		CreatedAt:     formatTime(r.CreatedAt),
		UpdatedAt:     formatTime(r.UpdatedAt),
	}
	if r.CompletedAt != nil {
		out.CompletedAt = formatTime(*r.CompletedAt)
	}
	return out
}

// FromEntry converts a ledger entry to its wire form.
func FromEntry(e *ledger.Entry) Entry {
	if e == nil {
		return Entry{}
	}
	out := Entry{
		Record:       FromRecord(e.Record),
		Plan:         e.Record.PlanJSON,
		Sightings:    make([]Sighting, 0, len(e.Sightings)),
		Placements:   make([]Placement, 0, len(e.Placements)),
		Deliveries:   make([]Delivery, 0, len(e.Deliveries)),
		Publications: make([]Publication, 0, len(e.Publications)),
	}
	for _, s := range e.Sightings {
		out.Sightings = append(out.Sightings, Sighting{Path: s.Path, SeenAt: formatTime(s.SeenAt)})
	}
	for _, p := range e.Placements {
		out.Placements = append(out.Placements, Placement{Action: p.Action, Path: p.Path, CreatedAt: formatTime(p.CreatedAt)})
	}
	for _, d := range e.Deliveries {
		out.Deliveries = append(out.Deliveries, Delivery{
			Target: d.Target, Status: d.Status, Attempts: d.Attempts, LastError: d.LastError, UpdatedAt: formatTime(d.UpdatedAt),
		})
	}
	for _, p := range e.Publications {
		out.Publications = append(out.Publications, Publication{
			ID: p.ID, Platform: p.Platform, Kind: p.Kind, Status: p.Status,
			ExternalID: p.ExternalID, Error: p.Error, CreatedAt: formatTime(p.CreatedAt),
		})
	}
	return out
}

// FromErrorEntry converts an error log row to its wire form.
func FromErrorEntry(e ledger.ErrorEntry) ErrorEntry {
	return ErrorEntry{ID: e.ID, Time: formatTime(e.Time), Path: e.Path, Hash: e.Hash, Kind: e.Kind, Message: e.Message}
}
