package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"hopper/internal/config"
	"hopper/internal/ledger"
	"hopper/internal/logging"
)

// Delta is what a subscriber receives for one terminal record.
type Delta struct {
	Hash          string     `json:"hash"`
	Name          string     `json:"name"`
	Path          string     `json:"path"`
	Size          int64      `json:"size"`
	Category      string     `json:"category,omitempty"`
	Risk          string     `json:"risk,omitempty"`
	Status        string     `json:"status"`
	Outcome       string     `json:"outcome,omitempty"`
	FailureKind   string     `json:"failure_kind,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	OriginHash    string     `json:"origin_hash,omitempty"`
	Placements    []string   `json:"placements,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Report lists which targets acked or nacked one broadcast.
type Report struct {
	Acked  []string
	Nacked []string
}

// Broadcaster fans terminal records out to sync targets.
type Broadcaster struct {
	store       *ledger.Store
	targets     map[string]Target
	enabled     []string
	timeout     time.Duration
	maxAttempts int
	logger      *slog.Logger
}

// New builds a broadcaster over the configured, enabled targets.
func New(cfg *config.Config, store *ledger.Store, logger *slog.Logger) (*Broadcaster, error) {
	targets, err := BuildTargets(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithTargets(cfg, store, targets, logger), nil
}

// NewWithTargets uses explicit targets, keeping only the enabled ones.
func NewWithTargets(cfg *config.Config, store *ledger.Store, targets map[string]Target, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = logging.NewNop()
	}
	enabled := make([]string, 0, len(cfg.Sync.Enabled))
	for _, name := range cfg.Sync.Enabled {
		if _, ok := targets[name]; ok {
			enabled = append(enabled, name)
		}
	}
	return &Broadcaster{
		store:       store,
		targets:     targets,
		enabled:     enabled,
		timeout:     time.Duration(cfg.Sync.TimeoutSeconds) * time.Second,
		maxAttempts: cfg.Sync.MaxAttempts,
		logger:      logging.NewComponentLogger(logger, "broadcast"),
	}
}

// Broadcast delivers rec to each of its sync targets that is enabled. A
// record whose targets were never resolved goes to every enabled target; a
// resolved empty list goes nowhere. Targets are independent: one nack never
// holds up another.
func (b *Broadcaster) Broadcast(ctx context.Context, rec *ledger.Record) (Report, error) {
	if rec == nil || !rec.Status.IsTerminal() {
		return Report{}, fmt.Errorf("broadcast: record is not terminal")
	}
	names := b.selectTargets(rec)
	if len(names) == 0 {
		return Report{}, nil
	}
	delta, err := b.delta(ctx, rec)
	if err != nil {
		return Report{}, err
	}
	return b.deliver(ctx, delta, names)
}

// RetryPending redelivers nacked deliveries that still have attempts left.
func (b *Broadcaster) RetryPending(ctx context.Context) (Report, error) {
	pending, err := b.store.PendingDeliveries(ctx, b.maxAttempts)
	if err != nil {
		return Report{}, err
	}
	byHash := make(map[string][]string)
	var order []string
	for _, d := range pending {
		if _, ok := b.targets[d.Target]; !ok || !slices.Contains(b.enabled, d.Target) {
			continue
		}
		if _, seen := byHash[d.Hash]; !seen {
			order = append(order, d.Hash)
		}
		byHash[d.Hash] = append(byHash[d.Hash], d.Target)
	}

	var total Report
	for _, hash := range order {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		rec, err := b.store.Get(ctx, hash)
		if err != nil {
			b.logger.Warn("pending delivery for missing record", logging.Hash(hash), logging.Error(err))
			continue
		}
		delta, err := b.delta(ctx, rec)
		if err != nil {
			return total, err
		}
		report, err := b.deliver(ctx, delta, byHash[hash])
		if err != nil {
			return total, err
		}
		total.Acked = append(total.Acked, report.Acked...)
		total.Nacked = append(total.Nacked, report.Nacked...)
	}
	return total, nil
}

func (b *Broadcaster) deliver(ctx context.Context, delta Delta, names []string) (Report, error) {
	var (
		mu     sync.Mutex
		report Report
	)
	persist := context.WithoutCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		target := b.targets[name]
		g.Go(func() error {
			tctx := gctx
			if b.timeout > 0 {
				var cancel context.CancelFunc
				tctx, cancel = context.WithTimeout(gctx, b.timeout)
				defer cancel()
			}
			deliveryErr := target.Deliver(tctx, delta)
			if err := b.store.RecordDelivery(persist, delta.Hash, name, deliveryErr); err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if deliveryErr != nil {
				report.Nacked = append(report.Nacked, name)
				logging.WarnWithContext(b.logger, "sync delivery nacked", "sync_nack",
					logging.Hash(delta.Hash),
					logging.String(logging.FieldTarget, name),
					logging.Error(deliveryErr),
					logging.String(logging.FieldImpact, "delivery retried on a later scan"),
					logging.String(logging.FieldErrorHint, "check the target is reachable"),
				)
				return nil
			}
			report.Acked = append(report.Acked, name)
			b.logger.Debug("sync delivery acked", logging.Hash(delta.Hash), logging.String(logging.FieldTarget, name))
			return nil
		})
	}
	err := g.Wait()
	sort.Strings(report.Acked)
	sort.Strings(report.Nacked)
	return report, err
}

func (b *Broadcaster) selectTargets(rec *ledger.Record) []string {
	if !rec.SyncResolved {
		return slices.Clone(b.enabled)
	}
	out := make([]string, 0, len(rec.SyncTargets))
	for _, name := range rec.SyncTargets {
		if slices.Contains(b.enabled, name) && !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	return out
}

func (b *Broadcaster) delta(ctx context.Context, rec *ledger.Record) (Delta, error) {
	placements, err := b.store.Placements(ctx, rec.Hash)
	if err != nil {
		return Delta{}, err
	}
	paths := make([]string, 0, len(placements))
	for _, p := range placements {
		paths = append(paths, p.Path)
	}
	return Delta{
		Hash:          rec.Hash,
		Name:          filepath.Base(rec.FirstPath),
		Path:          rec.FirstPath,
		Size:          rec.Size,
		Category:      rec.Category,
		Risk:          rec.Risk,
		Status:        string(rec.Status),
		Outcome:       rec.Outcome,
		FailureKind:   rec.FailureKind,
		FailureReason: rec.FailureReason,
		OriginHash:    rec.OriginHash,
		Placements:    paths,
		CompletedAt:   rec.CompletedAt,
	}, nil
}
