package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"hopper/internal/ledger"
	"hopper/internal/logging"
	"hopper/internal/notifications"
)

// Run drives the scan, pattern and sync retry schedules until ctx is
// cancelled. Scans run one at a time on this goroutine; early scan requests
// that arrive while a scan is running are coalesced into a single
// follow-up. Pattern snapshots and sync redelivery run on their own
// goroutines so a long scan never delays them.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("pipeline already running")
	}
	p.running = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	if n, err := p.store.RecoverInterrupted(ctx, p.owner); err != nil {
		return err
	} else if n > 0 {
		logging.WarnWithContext(p.logger, "records interrupted by a previous run marked failed", "records_interrupted",
			logging.Int("count", n),
			logging.String(logging.FieldImpact, "side effects of those records are unknown"),
			logging.String(logging.FieldErrorHint, "inspect with 'hopper records --status failed' and invalidate to retry"),
		)
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	wg.Go(func() {
		every(ctx, p.cfg.PatternInterval(), func() {
			if _, err := p.Patterns(ctx); err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Warn("pattern snapshot failed", logging.Error(err))
			}
		})
	})
	wg.Go(func() {
		every(ctx, p.cfg.ErrorRetryInterval(), func() { p.retrySync(ctx) })
	})

	scanTicker := time.NewTicker(p.cfg.ScanInterval())
	defer scanTicker.Stop()

	p.runTick(ctx, "startup")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-scanTicker.C:
			p.runTick(ctx, "interval")
		case reason := <-p.triggers:
			p.runTick(ctx, reason)
			scanTicker.Reset(p.cfg.ScanInterval())
		}
	}
}

// every calls fn each interval until ctx is done.
func every(ctx context.Context, interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// retrySync redelivers nacked sync deliveries between scans. A running scan
// retries them itself when it finishes, so the attempt is skipped then.
func (p *Pipeline) retrySync(ctx context.Context) {
	if !p.tickMu.TryLock() {
		return
	}
	defer p.tickMu.Unlock()
	report, err := p.broadcaster.RetryPending(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.logger.Warn("sync retry failed", logging.Error(err))
		}
		return
	}
	if len(report.Acked)+len(report.Nacked) > 0 {
		p.logger.Info("sync retry finished",
			logging.String(logging.FieldEventType, "sync_retry"),
			logging.Int("acked", len(report.Acked)),
			logging.Int("nacked", len(report.Nacked)),
		)
	}
}

func (p *Pipeline) runTick(ctx context.Context, reason string) {
	if ctx.Err() != nil {
		return
	}
	if _, err := p.Tick(ctx, reason); err != nil {
		logging.ErrorWithContext(p.logger, "scan failed", "scan_failed",
			logging.String("reason", reason),
			logging.Error(err),
			logging.String(logging.FieldImpact, "next scan retries"),
		)
	}
}

// Patterns stores a statistics snapshot of the ledger.
func (p *Pipeline) Patterns(ctx context.Context) (ledger.Snapshot, error) {
	snap, err := p.store.ComputeSnapshot(ctx)
	if err != nil {
		return ledger.Snapshot{}, err
	}
	if err := p.store.SaveSnapshot(context.WithoutCancel(ctx), snap); err != nil {
		return ledger.Snapshot{}, err
	}
	p.logger.Info("pattern snapshot stored",
		logging.String(logging.FieldEventType, "pattern_snapshot"),
		logging.Int("total", snap.Total),
		logging.Int("blocked", snap.Blocked),
		logging.Float64("failure_rate", snap.FailureRate),
		logging.Int("pending_sync", snap.PendingSync),
	)
	p.notify(ctx, notifications.EventPatternSnapshot, notifications.Payload{"total": snap.Total})
	return snap, nil
}
