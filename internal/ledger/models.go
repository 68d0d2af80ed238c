package ledger

import (
	"errors"
	"time"
)

// Status represents the lifecycle of a file record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusClassified Status = "classified"
	StatusPlanned    Status = "planned"
	StatusExecuting  Status = "executing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// AllStatuses lists statuses in lifecycle order.
var AllStatuses = []Status{
	StatusPending,
	StatusClassified,
	StatusPlanned,
	StatusExecuting,
	StatusCompleted,
	StatusFailed,
}

// IsTerminal reports whether a record in this status is finished for good.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseStatus validates a user-supplied status name.
func ParseStatus(value string) (Status, bool) {
	for _, status := range AllStatuses {
		if string(status) == value {
			return status, true
		}
	}
	return "", false
}

// next maps each non-terminal status to the only forward step it may take.
var next = map[Status]Status{
	StatusPending:    StatusClassified,
	StatusClassified: StatusPlanned,
	StatusPlanned:    StatusExecuting,
	StatusExecuting:  StatusCompleted,
}

// CanTransition reports whether from -> to is a legal ledger transition.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	return next[from] == to
}

// Record outcomes for completed records.
const (
	OutcomeDone    = "done"
	OutcomeBlocked = "unsafe_action_blocked"
)

// InterruptedReason is stored on records whose execution was cut short by a
// previous daemon run ending.
const InterruptedReason = "interrupted: daemon stopped while executing"

// UnreadablePrefix prefixes the identity of records created for files that
// could not be hashed.
const UnreadablePrefix = "unreadable:"

var (
	// ErrNotFound is returned when a hash has no record.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidTransition is returned when a status change would skip a step
	// or leave a terminal state.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Record is the durable state of one unique content hash.
type Record struct {
	Hash          string
	Status        Status
	FirstPath     string
	Size          int64
	Category      string
	ActionHint    string
	Risk          string
	PlanJSON      string
	Outcome       string
	FailureKind   string
	FailureReason string
	OriginHash    string
	Depth         int
	SyncTargets   []string
	// SyncResolved is set once sync targets were chosen for the record. An
	// empty SyncTargets then means no target, not every target.
	SyncResolved bool
	Owner         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

// Sighting is one path at which a record's content was seen.
type Sighting struct {
	Path   string
	SeenAt time.Time
}

// Placement is a file or directory the executor produced for a record.
type Placement struct {
	Action    string
	Path      string
	CreatedAt time.Time
}

// Capability is a browser extension registered without execution rights.
type Capability struct {
	Hash         string
	Browser      string
	Name         string
	Path         string
	RegisteredAt time.Time
}

// Delivery statuses.
const (
	DeliveryAcked  = "acked"
	DeliveryNacked = "nacked"
)

// Delivery is the per-(hash, target) broadcast state.
type Delivery struct {
	Hash      string
	Target    string
	Status    string
	Attempts  int
	LastError string
	UpdatedAt time.Time
}

// Publish request kinds.
const (
	PublishKindPublish = "publish"
	PublishKindAccount = "account"
)

// AccountRequest records one account-creation hand-off made for a marker.
type AccountRequest struct {
	ID         string
	Dir        string
	MarkerHash string
	Platform   string
	Status     string
	ExternalID string
	Error      string
	CreatedAt  time.Time
}

// PublishRequest records one hand-off to the publishing collaborator.
type PublishRequest struct {
	ID         string
	Hash       string
	Platform   string
	Kind       string
	Status     string
	ExternalID string
	Error      string
	CreatedAt  time.Time
}

// ErrorEntry is one row of the append-only error log.
type ErrorEntry struct {
	ID      int64
	Time    time.Time
	Path    string
	Hash    string
	Kind    string
	Message string
}

// Entry is a record with everything the knowledge store knows about it.
type Entry struct {
	Record       Record
	Sightings    []Sighting
	Placements   []Placement
	Deliveries   []Delivery
	Publications []PublishRequest
}

// Classification is the subset of classifier output persisted on a record.
type Classification struct {
	Category   string
	ActionHint string
	Risk       string
}

// ClaimOutcome is the deduplication decision for a hashed file.
type ClaimOutcome int

const (
	// ClaimAdmitted means the caller owns the record and must process it.
	ClaimAdmitted ClaimOutcome = iota
	// ClaimSkipped means the content is already terminal.
	ClaimSkipped
	// ClaimInFlight means another worker of this run holds the record.
	ClaimInFlight
	// ClaimInterrupted means a previous run left the record executing; it
	// has now been marked failed.
	ClaimInterrupted
)

func (o ClaimOutcome) String() string {
	switch o {
	case ClaimAdmitted:
		return "admit"
	case ClaimSkipped:
		return "skip"
	case ClaimInFlight:
		return "already_claimed"
	case ClaimInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// ClaimRequest carries what the deduplicator knows about a hashed file.
type ClaimRequest struct {
	Hash       string
	Path       string
	Size       int64
	Owner      string
	OriginHash string
	Depth      int
}
