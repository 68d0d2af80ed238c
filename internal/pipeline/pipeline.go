package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"hopper/internal/broadcast"
	"hopper/internal/config"
	"hopper/internal/dedup"
	"hopper/internal/executor"
	"hopper/internal/instruction"
	"hopper/internal/ledger"
	"hopper/internal/logging"
	"hopper/internal/notifications"
	"hopper/internal/planner"
	"hopper/internal/publish"
	"hopper/internal/scanner"
)

// Broadcaster delivers terminal records to sync targets.
type Broadcaster interface {
	Broadcast(ctx context.Context, rec *ledger.Record) (broadcast.Report, error)
	RetryPending(ctx context.Context) (broadcast.Report, error)
}

// Dispatcher hands completed records and marker account requests to the
// publishing collaborator.
type Dispatcher interface {
	Dispatch(ctx context.Context, rec *ledger.Record, publishTo []string) error
	RequestAccounts(ctx context.Context, dir, markerHash string, platforms []string) error
}

// Pipeline owns one daemon run's component graph and schedules.
type Pipeline struct {
	cfg         *config.Config
	store       *ledger.Store
	owner       string
	scanner     *scanner.Scanner
	dedup       *dedup.Deduplicator
	interpreter *instruction.Interpreter
	planner     *planner.Planner
	executor    *executor.Executor
	broadcaster Broadcaster
	dispatcher  Dispatcher
	notifier    notifications.Service
	logger      *slog.Logger

	triggers chan string
	tickMu   sync.Mutex

	mu      sync.RWMutex
	last    *Summary
	running bool
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithNotifier overrides the notification service.
func WithNotifier(n notifications.Service) Option {
	return func(p *Pipeline) { p.notifier = n }
}

// WithBroadcaster overrides the sync broadcaster.
func WithBroadcaster(b Broadcaster) Option {
	return func(p *Pipeline) { p.broadcaster = b }
}

// WithDispatcher overrides the publishing dispatcher.
func WithDispatcher(d Dispatcher) Option {
	return func(p *Pipeline) { p.dispatcher = d }
}

// New wires the pipeline for a run identified by owner.
func New(cfg *config.Config, store *ledger.Store, owner string, logger *slog.Logger, opts ...Option) (*Pipeline, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	p := &Pipeline{
		cfg:         cfg,
		store:       store,
		owner:       owner,
		scanner:     scanner.New(cfg, logger),
		dedup:       dedup.New(store, owner, cfg.Workflow.HashChunkKiB, logger),
		interpreter: instruction.New(cfg, store, logger),
		planner:     planner.New(cfg),
		executor:    executor.New(cfg, store, logger),
		notifier:    notifications.NewService(cfg),
		logger:      logging.NewComponentLogger(logger, "pipeline"),
		triggers:    make(chan string, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.broadcaster == nil {
		b, err := broadcast.New(cfg, store, logger)
		if err != nil {
			return nil, err
		}
		p.broadcaster = b
	}
	if p.dispatcher == nil {
		p.dispatcher = publish.New(cfg, store, logger)
	}
	return p, nil
}

// Owner returns the run id used for ledger claims.
func (p *Pipeline) Owner() string {
	return p.owner
}

// LastSummary returns the most recent tick summary, if any.
func (p *Pipeline) LastSummary() (Summary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return Summary{}, false
	}
	return *p.last, true
}

// Running reports whether Run is active.
func (p *Pipeline) Running() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// RequestScan asks Run for an early scan. Requests made while one is
// already pending are coalesced.
func (p *Pipeline) RequestScan(reason string) bool {
	select {
	case p.triggers <- reason:
		return true
	default:
		return false
	}
}

func (p *Pipeline) setLast(s Summary) {
	p.mu.Lock()
	p.last = &s
	p.mu.Unlock()
}
