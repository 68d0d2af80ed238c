package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"hopper/internal/config"
	"hopper/internal/fileutil"
	"hopper/internal/ledger"
	"hopper/internal/logging"
)

// Request statuses stored in publish_requests.
const (
	StatusSubmitted = "submitted"
	StatusRejected  = "rejected"
	StatusFailed    = "failed"
)

// Publisher is the publishing collaborator. Implementations return an
// external id that identifies the hand-off on their side.
type Publisher interface {
	Publish(ctx context.Context, req Request) (string, error)
	RequestAccount(ctx context.Context, req Request) (string, error)
}

// Request is one hand-off for a completed record.
type Request struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Platform   string    `json:"platform"`
	Hash       string    `json:"hash"`
	Name       string    `json:"name"`
	Category   string    `json:"category,omitempty"`
	Placements []string  `json:"placements,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Outbox writes requests as JSON files under <dir>/<platform>/<id>.json
// for an external publisher to pick up.
type Outbox struct {
	dir string
}

// NewOutbox returns an outbox rooted at dir.
func NewOutbox(dir string) *Outbox {
	return &Outbox{dir: dir}
}

// Publish writes a publish request and returns its id.
func (o *Outbox) Publish(ctx context.Context, req Request) (string, error) {
	return o.write(ctx, req)
}

// RequestAccount writes an account-creation request and returns its id.
func (o *Outbox) RequestAccount(ctx context.Context, req Request) (string, error) {
	return o.write(ctx, req)
}

func (o *Outbox) write(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode publish request: %w", err)
	}
	path := filepath.Join(o.dir, fileutil.SanitizeSegment(req.Platform), req.ID+".json")
	if err := fileutil.WriteFileAtomic(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write outbox: %w", err)
	}
	return req.ID, nil
}

// Dispatcher hands completed records to a Publisher and stores receipts.
type Dispatcher struct {
	store     *ledger.Store
	publisher Publisher
	platforms []string
	logger    *slog.Logger
}

// New builds a dispatcher over the configured outbox.
func New(cfg *config.Config, store *ledger.Store, logger *slog.Logger) *Dispatcher {
	return NewWithPublisher(cfg, store, NewOutbox(cfg.Publish.OutboxDir), logger)
}

// NewWithPublisher uses an explicit publisher.
func NewWithPublisher(cfg *config.Config, store *ledger.Store, publisher Publisher, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		platforms: slices.Clone(cfg.Publish.Platforms),
		logger:    logging.NewComponentLogger(logger, "publish"),
	}
}

// Dispatch forwards a completed record to every publish platform. Unknown
// platforms are rejected and recorded without calling the publisher. A
// publisher error is stored on the receipt and does not stop the remaining
// platforms.
func (d *Dispatcher) Dispatch(ctx context.Context, rec *ledger.Record, publishTo []string) error {
	if rec == nil || rec.Status != ledger.StatusCompleted || len(publishTo) == 0 {
		return nil
	}
	placements, err := d.store.Placements(ctx, rec.Hash)
	if err != nil {
		return err
	}
	paths := make([]string, 0, len(placements))
	for _, p := range placements {
		paths = append(paths, p.Path)
	}

	persist := context.WithoutCancel(ctx)
	for _, platform := range publishTo {
		req := Request{
			ID:         uuid.NewString(),
			Kind:       ledger.PublishKindPublish,
			Platform:   normalizePlatform(platform),
			Hash:       rec.Hash,
			Name:       filepath.Base(rec.FirstPath),
			Category:   rec.Category,
			Placements: paths,
			CreatedAt:  time.Now().UTC(),
		}
		status, externalID, errText := d.handOff(ctx, req)
		if err := d.store.RecordPublish(persist, ledger.PublishRequest{
			ID:         req.ID,
			Hash:       rec.Hash,
			Platform:   req.Platform,
			Kind:       req.Kind,
			Status:     status,
			ExternalID: externalID,
			Error:      errText,
		}); err != nil {
			return err
		}
	}
	return nil
}

// RequestAccounts asks for an account on each platform named by the marker
// with content hash markerHash in dir. A marker asks once per platform; a
// repeated call for the same marker is a no-op.
func (d *Dispatcher) RequestAccounts(ctx context.Context, dir, markerHash string, platforms []string) error {
	persist := context.WithoutCancel(ctx)
	for _, platform := range platforms {
		platform = normalizePlatform(platform)
		done, err := d.store.HasAccountRequest(ctx, dir, markerHash, platform)
		if err != nil {
			return err
		}
		if done {
			continue
		}
		req := Request{
			ID:        uuid.NewString(),
			Kind:      ledger.PublishKindAccount,
			Platform:  platform,
			Hash:      markerHash,
			Name:      filepath.Base(dir),
			CreatedAt: time.Now().UTC(),
		}
		status, externalID, errText := d.handOff(ctx, req)
		if _, err := d.store.RecordAccountRequest(persist, ledger.AccountRequest{
			ID:         req.ID,
			Dir:        dir,
			MarkerHash: markerHash,
			Platform:   platform,
			Status:     status,
			ExternalID: externalID,
			Error:      errText,
		}); err != nil {
			return err
		}
	}
	return nil
}

// handOff calls the publisher for req and returns the receipt fields.
func (d *Dispatcher) handOff(ctx context.Context, req Request) (status, externalID, errText string) {
	if !slices.Contains(d.platforms, req.Platform) {
		d.logger.Warn("publish platform not configured",
			logging.Hash(req.Hash),
			logging.String("platform", req.Platform),
			logging.String("kind", req.Kind),
			logging.String(logging.FieldEventType, "publish_rejected"),
		)
		return StatusRejected, "", fmt.Sprintf("platform %q is not configured", req.Platform)
	}

	var err error
	if req.Kind == ledger.PublishKindAccount {
		externalID, err = d.publisher.RequestAccount(ctx, req)
	} else {
		externalID, err = d.publisher.Publish(ctx, req)
	}
	if err != nil {
		logging.WarnWithContext(d.logger, "publish hand-off failed", "publish_failed",
			logging.Hash(req.Hash),
			logging.String("platform", req.Platform),
			logging.String("kind", req.Kind),
			logging.Error(err),
			logging.String(logging.FieldImpact, "nothing is sent to the platform"),
		)
		return StatusFailed, "", err.Error()
	}
	d.logger.Info("publish request submitted",
		logging.Hash(req.Hash),
		logging.String("platform", req.Platform),
		logging.String("kind", req.Kind),
		logging.String("external_id", externalID),
	)
	return StatusSubmitted, externalID, ""
}

func normalizePlatform(platform string) string {
	return strings.ToLower(strings.TrimSpace(platform))
}
