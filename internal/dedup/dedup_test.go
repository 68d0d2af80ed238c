package dedup_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"hopper/internal/dedup"
	"hopper/internal/ledger"
	"hopper/internal/logging"
	"hopper/internal/testsupport"
)

func TestIdenticalContentCollapsesToOneRecord(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	d := dedup.New(store, "run-1", 4, logging.NewNop())
	ctx := context.Background()

	root := testsupport.Root(cfg)
	first := filepath.Join(root, "a", "report.pdf")
	second := filepath.Join(root, "b", "report-copy.pdf")
	testsupport.WriteText(t, first, "%PDF-1.4 same bytes")
	testsupport.WriteText(t, second, "%PDF-1.4 same bytes")

	r1, err := d.Check(ctx, dedup.Candidate{Path: first})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if r1.Outcome != ledger.ClaimAdmitted {
		t.Fatalf("first outcome = %s", r1.Outcome)
	}
	r2, err := d.Check(ctx, dedup.Candidate{Path: second})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if r2.Hash != r1.Hash {
		t.Fatalf("hash differs for identical content")
	}
	if r2.Outcome != ledger.ClaimInFlight {
		t.Fatalf("second outcome = %s, want already_claimed", r2.Outcome)
	}
	records, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 1 || records[0].FirstPath != first {
		t.Fatalf("unexpected records %+v", records)
	}
}

func TestUnreadableFileIsRecordedOnce(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root can read files without permission bits")
	}
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	d := dedup.New(store, "run-1", 64, logging.NewNop())
	ctx := context.Background()

	path := filepath.Join(testsupport.Root(cfg), "locked.bin")
	testsupport.WriteText(t, path, "secret")
	if err := os.Chmod(path, 0o000); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(path, 0o644) })

	for i := 0; i < 2; i++ {
		res, err := d.Check(ctx, dedup.Candidate{Path: path})
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if !res.Unreadable || res.Outcome != ledger.ClaimSkipped {
			t.Fatalf("attempt %d: unexpected result %+v", i, res)
		}
	}
	record, err := store.Get(ctx, dedup.UnreadableKey(path))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if record.Status != ledger.StatusFailed {
		t.Fatalf("unexpected status %s", record.Status)
	}
	entries, _ := store.ListErrors(ctx, 10)
	if len(entries) != 1 {
		t.Fatalf("expected one error log row, got %d", len(entries))
	}
}

func TestMissingFileIsUnreadable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	d := dedup.New(store, "run-1", 64, logging.NewNop())

	res, err := d.Check(context.Background(), dedup.Candidate{Path: filepath.Join(testsupport.Root(cfg), "gone")})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !res.Unreadable {
		t.Fatalf("expected unreadable result, got %+v", res)
	}
}
