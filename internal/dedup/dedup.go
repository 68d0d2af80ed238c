// Package dedup hashes files and decides, through the ledger's atomic claim,
// whether their content is new, already handled, or in flight.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"hopper/internal/fileutil"
	"hopper/internal/ledger"
	"hopper/internal/logging"
	"hopper/internal/services"
)

// Deduplicator identifies files by content and claims them in the ledger.
type Deduplicator struct {
	store     *ledger.Store
	owner     string
	chunkSize int
	logger    *slog.Logger
}

// New constructs a Deduplicator. owner is the current daemon run id and
// chunkKiB the hashing buffer size.
func New(store *ledger.Store, owner string, chunkKiB int, logger *slog.Logger) *Deduplicator {
	if chunkKiB <= 0 {
		chunkKiB = 64
	}
	return &Deduplicator{
		store:     store,
		owner:     owner,
		chunkSize: chunkKiB << 10,
		logger:    logging.NewComponentLogger(logger, "dedup"),
	}
}

// Owner returns the run id used for claims.
func (d *Deduplicator) Owner() string {
	return d.owner
}

// Candidate is a file offered for deduplication.
type Candidate struct {
	Path       string
	OriginHash string
	Depth      int
}

// Result is the deduplication decision for one file.
type Result struct {
	Outcome ledger.ClaimOutcome
	Hash    string
	Size    int64
	Record  *ledger.Record
	// Unreadable is set when hashing failed now or on an earlier scan.
	Unreadable bool
}

// UnreadableKey returns the ledger identity used for a file that could not
// be read.
func UnreadableKey(path string) string {
	return ledger.UnreadablePrefix + fileutil.HashString(path)
}

// Check hashes the candidate and claims it. Read failures are recorded as a
// terminal failed record and reported through Result, not as an error; the
// returned error is reserved for ledger failures.
func (d *Deduplicator) Check(ctx context.Context, c Candidate) (Result, error) {
	key := UnreadableKey(c.Path)
	if record, err := d.store.Get(ctx, key); err == nil {
		return Result{Outcome: ledger.ClaimSkipped, Hash: key, Record: record, Unreadable: true}, nil
	} else if !errors.Is(err, ledger.ErrNotFound) {
		return Result{}, err
	}

	hash, size, err := fileutil.HashFile(c.Path, d.chunkSize)
	if err != nil {
		ioErr := services.Wrap(services.ErrIO, "dedup", "hash", c.Path, err)
		logging.WarnWithContext(d.logger, "file unreadable; recorded as failed", "file_unreadable",
			logging.Path(c.Path),
			logging.Error(ioErr),
			logging.String(logging.FieldErrorHint, "check file permissions, then run 'hopper invalidate' on the record"),
			logging.String(logging.FieldImpact, "file is not processed until invalidated"),
		)
		if recErr := d.store.RecordUnreadable(ctx, key, c.Path, d.owner, ioErr.Error()); recErr != nil {
			return Result{}, fmt.Errorf("record unreadable file: %w", recErr)
		}
		return Result{Outcome: ledger.ClaimSkipped, Hash: key, Unreadable: true}, nil
	}

	outcome, record, err := d.store.Claim(ctx, ledger.ClaimRequest{
		Hash:       hash,
		Path:       c.Path,
		Size:       size,
		Owner:      d.owner,
		OriginHash: c.OriginHash,
		Depth:      c.Depth,
	})
	if err != nil {
		return Result{}, err
	}
	d.logger.Debug("dedup decision",
		logging.Hash(hash),
		logging.Path(c.Path),
		logging.String("decision", outcome.String()),
	)
	return Result{Outcome: outcome, Hash: hash, Size: size, Record: record}, nil
}
