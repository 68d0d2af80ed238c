package pipeline

import (
	"sync/atomic"
	"time"
)

// Summary counts what one scan tick did.
type Summary struct {
	TickID           string        `json:"tick_id"`
	Reason           string        `json:"reason"`
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration"`
	Seen             int           `json:"seen"`
	Processed        int           `json:"processed"`
	SkippedDuplicate int           `json:"skipped_duplicate"`
	InFlight         int           `json:"in_flight"`
	Blocked          int           `json:"blocked"`
	Failed           int           `json:"failed"`
	Members          int           `json:"members"`
	Markers          int           `json:"markers"`
	Cycles           int           `json:"cycles"`
	Aborted          bool          `json:"aborted"`
}

type counters struct {
	seen, processed, skipped, inFlight, blocked, failed, members, markers atomic.Int64
}

func (c *counters) fill(s *Summary) {
	s.Seen = int(c.seen.Load())
	s.Processed = int(c.processed.Load())
	s.SkippedDuplicate = int(c.skipped.Load())
	s.InFlight = int(c.inFlight.Load())
	s.Blocked = int(c.blocked.Load())
	s.Failed = int(c.failed.Load())
	s.Members = int(c.members.Load())
	s.Markers = int(c.markers.Load())
}
