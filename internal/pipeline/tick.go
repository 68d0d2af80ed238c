package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"hopper/internal/classify"
	"hopper/internal/dedup"
	"hopper/internal/executor"
	"hopper/internal/instruction"
	"hopper/internal/ledger"
	"hopper/internal/logging"
	"hopper/internal/notifications"
	"hopper/internal/planner"
	"hopper/internal/scanner"
	"hopper/internal/services"
)

type item struct {
	path         string
	depth        int
	origin       string
	instructions *instruction.Plan
}

// tick carries the per-scan state shared by workers.
type tick struct {
	id     string
	work   context.Context
	group  *errgroup.Group
	scope  *instruction.Scope
	counts counters
	logger *slog.Logger
}

// Tick runs one scan: walk the roots, apply markers, and push every file
// through dedup, classification, planning and execution on the worker pool.
// Cancelling ctx stops dispatch at once; work already running gets
// workflow.shutdown_grace to finish before it is cancelled too.
func (p *Pipeline) Tick(ctx context.Context, reason string) (Summary, error) {
	p.tickMu.Lock()
	defer p.tickMu.Unlock()

	id := uuid.NewString()
	ctx = services.WithTick(ctx, id)
	summary := Summary{TickID: id, Reason: reason, StartedAt: time.Now()}
	logger := logging.WithContext(ctx, p.logger)

	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	stopGrace := context.AfterFunc(ctx, func() {
		timer := time.NewTimer(p.cfg.ShutdownGrace())
		defer timer.Stop()
		select {
		case <-timer.C:
			logger.Warn("shutdown grace elapsed; abandoning in-flight work",
				logging.String(logging.FieldEventType, "shutdown_grace_elapsed"),
			)
			cancelWork()
		case <-workCtx.Done():
		}
	})
	defer stopGrace()

	group := new(errgroup.Group)
	group.SetLimit(max(1, p.cfg.Workflow.Workers))
	t := &tick{id: id, work: workCtx, group: group, scope: instruction.NewScope(), logger: logger}

	stats, walkErr := p.scanner.Walk(ctx, func(batch scanner.Batch) error {
		if batch.Marker != "" {
			p.applyMarker(ctx, t, batch)
		}
		governing := t.scope.Governing(batch.Dir)
		for _, path := range batch.Files {
			if err := ctx.Err(); err != nil {
				return err
			}
			it := item{path: path, instructions: governing}
			group.Go(func() error {
				p.process(t, it)
				return nil
			})
		}
		return nil
	})
	_ = group.Wait()

	t.counts.fill(&summary)
	summary.Cycles = stats.Cycles
	summary.Duration = time.Since(summary.StartedAt)
	if walkErr != nil && !errors.Is(walkErr, context.Canceled) {
		p.notify(ctx, notifications.EventError, notifications.Payload{"context": "scan", "error": walkErr})
	}
	if ctx.Err() != nil {
		summary.Aborted = true
	}
	p.setLast(summary)
	p.logSummary(logger, summary)

	if !summary.Aborted {
		p.afterTick(ctx, logger)
	}
	p.notify(ctx, notifications.EventTickSummary, notifications.Payload{
		"tick":      id,
		"seen":      summary.Seen,
		"processed": summary.Processed,
		"failed":    summary.Failed,
		"blocked":   summary.Blocked,
	})
	if walkErr != nil && errors.Is(walkErr, context.Canceled) {
		return summary, nil
	}
	return summary, walkErr
}

func (p *Pipeline) applyMarker(ctx context.Context, t *tick, batch scanner.Batch) {
	plan, fresh, err := p.interpreter.Apply(ctx, batch.Dir, batch.Marker)
	if err != nil {
		logging.WarnWithContext(t.logger, "instruction marker not applied", "marker_failed",
			logging.String(logging.FieldDir, batch.Dir),
			logging.Path(batch.Marker),
			logging.Error(err),
			logging.String(logging.FieldImpact, "directory falls back to its parent's instructions"),
			logging.String(logging.FieldErrorHint, "check the marker file is readable"),
		)
		_ = p.store.AppendError(context.WithoutCancel(ctx), ledger.ErrorEntry{
			Path:    batch.Marker,
			Kind:    string(services.KindOf(err)),
			Message: err.Error(),
		})
		return
	}
	t.scope.Set(batch.Dir, plan)
	if !fresh {
		return
	}
	t.counts.markers.Add(1)
	if len(plan.AccountTargets) > 0 {
		if err := p.dispatcher.RequestAccounts(ctx, plan.Dir, plan.MarkerHash, plan.AccountTargets); err != nil {
			t.logger.Warn("account requests not recorded",
				logging.String(logging.FieldDir, batch.Dir),
				logging.Error(err),
			)
		}
	}
}

// process takes one file from dedup to a terminal state. Errors are
// contained here; a failing file never stops the others.
func (p *Pipeline) process(t *tick, it item) {
	ctx := t.work
	persist := context.WithoutCancel(ctx)
	t.counts.seen.Add(1)
	logger := t.logger.With(logging.Path(it.path))

	res, err := p.dedup.Check(ctx, dedup.Candidate{Path: it.path, OriginHash: it.origin, Depth: it.depth})
	if err != nil {
		t.counts.failed.Add(1)
		logging.ErrorWithContext(logger, "dedup check failed", "dedup_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "file retried next scan"),
			logging.String(logging.FieldErrorHint, "check ledger database access"),
		)
		return
	}
	ctx = services.WithHash(ctx, res.Hash)
	logger = logger.With(logging.Hash(res.Hash))

	switch {
	case res.Unreadable && res.Record == nil:
		t.counts.failed.Add(1)
		p.resolveSync(persist, logger, res.Hash, it.instructions)
		p.finish(ctx, logger, res.Hash, nil)
		return
	case res.Outcome == ledger.ClaimSkipped:
		t.counts.skipped.Add(1)
		return
	case res.Outcome == ledger.ClaimInFlight:
		t.counts.inFlight.Add(1)
		return
	case res.Outcome == ledger.ClaimInterrupted:
		t.counts.failed.Add(1)
		p.finish(ctx, logger, res.Hash, nil)
		return
	}

	signals, err := classify.Inspect(it.path, p.cfg.Safety.HostOS)
	if err != nil {
		if !errors.Is(err, services.ErrUnsupportedFormat) {
			p.failEarly(persist, logger, t, it, res.Hash, err)
			return
		}
		name := filepath.Base(it.path)
		signals = classify.Signals{Name: name, Ext: classify.ExtOf(name), Size: res.Size, HostOS: p.cfg.Safety.HostOS}
	}
	result := classify.Classify(signals)
	if err := p.store.MarkClassified(persist, res.Hash, ledger.Classification{
		Category:   string(result.Category),
		ActionHint: string(result.Hint),
		Risk:       string(result.Risk),
	}); err != nil {
		p.failEarly(persist, logger, t, it, res.Hash, err)
		return
	}

	plan := p.planner.Build(planner.Input{
		Name:           signals.Name,
		Classification: result,
		Depth:          it.depth,
		Instructions:   it.instructions,
	})
	raw, err := planner.Encode(plan)
	if err == nil {
		err = p.store.MarkPlanned(persist, res.Hash, raw, plan.SyncTargets)
	}
	if err != nil {
		p.failEarly(persist, logger, t, it, res.Hash, err)
		return
	}
	logger.Debug("plan built",
		logging.String("category", string(result.Category)),
		logging.String("plan", plan.String()),
	)
	if plan.IsBlocked() {
		t.counts.blocked.Add(1)
		for _, b := range plan.Blocked {
			logger.Info("action blocked",
				logging.String(logging.FieldEventType, "unsafe_action_blocked"),
				logging.String(logging.FieldAction, string(b.Kind)),
				logging.String("reason", b.Reason),
			)
			p.notify(ctx, notifications.EventUnsafeBlocked, notifications.Payload{
				"action": string(b.Kind),
				"file":   signals.Name,
				"reason": b.Reason,
			})
		}
	}

	if ctx.Err() != nil {
		// Planned but never started; the next run reclaims it.
		return
	}
	out := p.executor.Run(ctx, executor.Request{
		Hash:      res.Hash,
		Path:      it.path,
		Depth:     it.depth,
		Structure: signals.Structure,
		Plan:      plan,
	})
	if out.Status == ledger.StatusFailed {
		t.counts.failed.Add(1)
	} else {
		t.counts.processed.Add(1)
	}
	p.finish(ctx, logger, res.Hash, &plan)

	for _, member := range out.Members {
		t.counts.members.Add(1)
		next := item{path: member.Path, depth: member.Depth, origin: member.OriginHash, instructions: it.instructions}
		if ctx.Err() != nil {
			return
		}
		if !t.group.TryGo(func() error {
			p.process(t, next)
			return nil
		}) {
			p.process(t, next)
		}
	}
}

func (p *Pipeline) failEarly(ctx context.Context, logger *slog.Logger, t *tick, it item, hash string, cause error) {
	t.counts.failed.Add(1)
	kind := services.KindOf(cause)
	logging.ErrorWithContext(logger, "file failed before execution", "file_failed",
		logging.String("failure_kind", string(kind)),
		logging.Error(cause),
		logging.String(logging.FieldImpact, "record marked failed; other files continue"),
	)
	if err := p.store.MarkFailed(ctx, hash, it.path, string(kind), fmt.Sprintf("%s: %v", kind, cause)); err != nil {
		logger.Error("mark failed", logging.Error(err))
		return
	}
	p.resolveSync(ctx, logger, hash, it.instructions)
	p.finish(ctx, logger, hash, nil)
}

// resolveSync stores the governing sync targets of a record that never
// reached planning, so a marker's sync restriction also covers failures.
func (p *Pipeline) resolveSync(ctx context.Context, logger *slog.Logger, hash string, instr *instruction.Plan) {
	if err := p.store.SetSyncTargets(ctx, hash, p.planner.SyncTargets(instr)); err != nil {
		logger.Warn("sync targets not stored", logging.Error(err),
			logging.String(logging.FieldImpact, "failure is delivered to every enabled target"))
	}
}

// finish broadcasts a terminal record and hands completed ones to the
// publishing collaborator.
func (p *Pipeline) finish(ctx context.Context, logger *slog.Logger, hash string, plan *planner.Plan) {
	persist := context.WithoutCancel(ctx)
	rec, err := p.store.Get(persist, hash)
	if err != nil {
		logger.Warn("terminal record unavailable for broadcast", logging.Error(err))
		return
	}
	if !rec.Status.IsTerminal() {
		return
	}
	if _, err := p.broadcaster.Broadcast(ctx, rec); err != nil {
		logger.Warn("broadcast failed", logging.Error(err), logging.String(logging.FieldImpact, "deliveries retried next scan"))
	}
	if plan == nil {
		return
	}
	if err := p.dispatcher.Dispatch(ctx, rec, plan.PublishTargets); err != nil {
		logger.Warn("publish dispatch failed", logging.Error(err))
	}
}

// afterTick retries nacked deliveries and trims the error log.
func (p *Pipeline) afterTick(ctx context.Context, logger *slog.Logger) {
	if report, err := p.broadcaster.RetryPending(ctx); err != nil {
		logger.Warn("sync retry failed", logging.Error(err))
	} else if len(report.Acked)+len(report.Nacked) > 0 {
		logger.Info("sync retry finished",
			logging.Int("acked", len(report.Acked)),
			logging.Int("nacked", len(report.Nacked)),
		)
	}
	if removed, err := p.store.TrimErrors(ctx, p.cfg.Workflow.ErrorLogRetainLimit); err != nil {
		logger.Warn("error log trim failed", logging.Error(err))
	} else if removed > 0 {
		logger.Debug("error log trimmed", logging.Int64("removed", removed))
	}
}

func (p *Pipeline) logSummary(logger *slog.Logger, s Summary) {
	attrs := []any{
		logging.String(logging.FieldEventType, "tick_summary"),
		logging.String("reason", s.Reason),
		logging.Int("seen", s.Seen),
		logging.Int("processed", s.Processed),
		logging.Int("skipped_duplicate", s.SkippedDuplicate),
		logging.Int("in_flight", s.InFlight),
		logging.Int("blocked", s.Blocked),
		logging.Int("failed", s.Failed),
		logging.Duration("elapsed", s.Duration),
	}
	if s.Members > 0 {
		attrs = append(attrs, logging.Int("members", s.Members))
	}
	if s.Aborted {
		attrs = append(attrs, logging.Bool("aborted", true))
	}
	if s.Failed > 0 {
		logger.Warn("scan finished with failures", attrs...)
		return
	}
	logger.Info("scan finished", attrs...)
}

func (p *Pipeline) notify(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Publish(ctx, event, payload); err != nil {
		if errors.Is(err, context.Canceled) {
			p.logger.Debug("shutting down, notification not sent", logging.String("event", string(event)))
			return
		}
		p.logger.Debug("notification failed", logging.String("event", string(event)), logging.Error(err))
	}
}
