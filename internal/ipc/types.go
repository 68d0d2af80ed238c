package ipc

import "hopper/internal/pipeline"

// StopRequest stops the daemon.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// TickSummary is the last scan's counters.
type TickSummary = pipeline.Summary

// StatusResponse represents combined daemon and ledger status.
type StatusResponse struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	Owner        string         `json:"owner"`
	StartedAt    string         `json:"started_at,omitempty"`
	Counts       map[string]int `json:"counts"`
	LastTick     *TickSummary   `json:"last_tick,omitempty"`
	LastError    string         `json:"last_error,omitempty"`
	LockPath     string         `json:"lock_path"`
	LedgerPath   string         `json:"ledger_path"`
	LogPath      string         `json:"log_path"`
	Watching     bool           `json:"watching"`
	MediaMonitor bool           `json:"media_monitor"`
}

// RecordsRequest filters records by status.
type RecordsRequest struct {
	Statuses []string `json:"statuses"`
}

// RecordsResponse contains matching records.
type RecordsResponse struct {
	Records []Record `json:"records"`
}

// ShowRequest fetches a single entry by hash.
type ShowRequest struct {
	Hash string `json:"hash"`
}

// ShowResponse contains the entry.
type ShowResponse struct {
	Entry Entry `json:"entry"`
}

// ErrorsRequest limits the error log listing.
type ErrorsRequest struct {
	Limit int `json:"limit"`
}

// ErrorsResponse contains error log rows, newest first.
type ErrorsResponse struct {
	Errors []ErrorEntry `json:"errors"`
}

// InvalidateRequest names the hash to forget.
type InvalidateRequest struct {
	Hash string `json:"hash"`
}

// InvalidateResponse confirms invalidation.
type InvalidateResponse struct {
	Invalidated bool `json:"invalidated"`
}

// ScanRequest asks for an early scan.
type ScanRequest struct {
	Reason string `json:"reason"`
}

// ScanResponse reports whether the request was queued or coalesced.
type ScanResponse struct {
	Queued  bool   `json:"queued"`
	Message string `json:"message"`
}

// TestNotificationRequest triggers a test notification.
type TestNotificationRequest struct{}

// TestNotificationResponse contains notification result details.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
