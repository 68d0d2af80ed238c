package publish_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hopper/internal/ledger"
	"hopper/internal/logging"
	"hopper/internal/publish"
	"hopper/internal/testsupport"
)

func completedRecord(t *testing.T, store *ledger.Store) *ledger.Record {
	t.Helper()
	ctx := context.Background()
	hash := strings.Repeat("a", 64)
	if _, _, err := store.Claim(ctx, ledger.ClaimRequest{Hash: hash, Path: "/inbox/book/manuscript.md", Size: 10, Owner: "test"}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	steps := []func() error{
		func() error {
			return store.MarkClassified(ctx, hash, ledger.Classification{Category: "unknown", ActionHint: "convert", Risk: "low"})
		},
		func() error { return store.MarkPlanned(ctx, hash, `{}`, nil) },
		func() error { return store.MarkExecuting(ctx, hash) },
		func() error { return store.AddPlacement(ctx, hash, "organize", "/library/documents/misc/manuscript.md") },
		func() error { return store.MarkCompleted(ctx, hash, ledger.OutcomeDone) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("prepare record: %v", err)
		}
	}
	rec, err := store.Get(ctx, hash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return rec
}

func TestOutboxWritesRequestsAndReceipts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	rec := completedRecord(t, store)
	dispatcher := publish.New(cfg, store, logging.NewNop())

	if err := dispatcher.Dispatch(context.Background(), rec, []string{"amazon_kdp", " Audible "}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	receipts, err := store.PublishRequests(context.Background(), rec.Hash)
	if err != nil {
		t.Fatalf("PublishRequests: %v", err)
	}
	if len(receipts) != 2 {
		t.Fatalf("expected 2 receipts, got %d", len(receipts))
	}
	for _, receipt := range receipts {
		if receipt.Status != publish.StatusSubmitted || receipt.ExternalID != receipt.ID {
			t.Fatalf("unexpected receipt %+v", receipt)
		}
		path := filepath.Join(cfg.Publish.OutboxDir, receipt.Platform, receipt.ID+".json")
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read outbox request: %v", err)
		}
		var req publish.Request
		if err := json.Unmarshal(data, &req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Hash != rec.Hash || req.Kind != receipt.Kind || req.Name != "manuscript.md" {
			t.Fatalf("unexpected request %+v", req)
		}
		if len(req.Placements) != 1 {
			t.Fatalf("expected placement in request, got %v", req.Placements)
		}
	}
}

func TestUnknownPlatformIsRejected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	rec := completedRecord(t, store)
	dispatcher := publish.New(cfg, store, logging.NewNop())

	if err := dispatcher.Dispatch(context.Background(), rec, []string{"myspace"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	receipts, err := store.PublishRequests(context.Background(), rec.Hash)
	if err != nil {
		t.Fatalf("PublishRequests: %v", err)
	}
	if len(receipts) != 1 || receipts[0].Status != publish.StatusRejected {
		t.Fatalf("expected rejected receipt, got %+v", receipts)
	}
	if _, err := os.Stat(filepath.Join(cfg.Publish.OutboxDir, "myspace")); !os.IsNotExist(err) {
		t.Fatalf("expected no outbox dir for rejected platform, stat err=%v", err)
	}
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, publish.Request) (string, error) {
	return "", errors.New("quota exceeded")
}

func (failingPublisher) RequestAccount(context.Context, publish.Request) (string, error) {
	return "acct-1", nil
}

func TestPublisherErrorIsStored(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	rec := completedRecord(t, store)
	dispatcher := publish.NewWithPublisher(cfg, store, failingPublisher{}, logging.NewNop())
	ctx := context.Background()

	if err := dispatcher.Dispatch(ctx, rec, []string{"youtube", "github"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	receipts, err := store.PublishRequests(ctx, rec.Hash)
	if err != nil {
		t.Fatalf("PublishRequests: %v", err)
	}
	if len(receipts) != 2 {
		t.Fatalf("expected a receipt per platform, got %+v", receipts)
	}
	for _, got := range receipts {
		if got.Status != publish.StatusFailed || got.Error != "quota exceeded" {
			t.Fatalf("unexpected publish receipt %+v", got)
		}
	}

	if err := dispatcher.RequestAccounts(ctx, "/inbox/channel", strings.Repeat("c", 64), []string{"spotify"}); err != nil {
		t.Fatalf("RequestAccounts: %v", err)
	}
	accounts, err := store.AccountRequests(ctx, "/inbox/channel")
	if err != nil {
		t.Fatalf("AccountRequests: %v", err)
	}
	if len(accounts) != 1 || accounts[0].Status != publish.StatusSubmitted || accounts[0].ExternalID != "acct-1" {
		t.Fatalf("unexpected account receipts %+v", accounts)
	}
}

func TestRequestAccountsOncePerMarker(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	dispatcher := publish.New(cfg, store, logging.NewNop())
	ctx := context.Background()
	dir := "/inbox/channel"
	first := strings.Repeat("d", 64)

	for range 3 {
		if err := dispatcher.RequestAccounts(ctx, dir, first, []string{"YouTube", "myspace"}); err != nil {
			t.Fatalf("RequestAccounts: %v", err)
		}
	}
	accounts, err := store.AccountRequests(ctx, dir)
	if err != nil {
		t.Fatalf("AccountRequests: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("expected one request per platform, got %+v", accounts)
	}
	byPlatform := map[string]ledger.AccountRequest{}
	for _, a := range accounts {
		byPlatform[a.Platform] = a
	}
	youtube := byPlatform["youtube"]
	if youtube.Status != publish.StatusSubmitted || youtube.MarkerHash != first {
		t.Fatalf("unexpected youtube request %+v", youtube)
	}
	if _, err := os.Stat(filepath.Join(cfg.Publish.OutboxDir, "youtube", youtube.ID+".json")); err != nil {
		t.Fatalf("expected outbox request: %v", err)
	}
	if got := byPlatform["myspace"]; got.Status != publish.StatusRejected {
		t.Fatalf("expected unknown platform rejected, got %+v", got)
	}

	if err := dispatcher.RequestAccounts(ctx, dir, strings.Repeat("e", 64), []string{"youtube"}); err != nil {
		t.Fatalf("RequestAccounts: %v", err)
	}
	accounts, err = store.AccountRequests(ctx, dir)
	if err != nil {
		t.Fatalf("AccountRequests: %v", err)
	}
	if len(accounts) != 3 {
		t.Fatalf("expected an edited marker to ask again, got %d requests", len(accounts))
	}
}

func TestDispatchIgnoresFailedRecords(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	dispatcher := publish.New(cfg, store, logging.NewNop())
	rec := &ledger.Record{Hash: strings.Repeat("b", 64), Status: ledger.StatusFailed}
	if err := dispatcher.Dispatch(context.Background(), rec, []string{"github"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	receipts, err := store.PublishRequests(context.Background(), rec.Hash)
	if err != nil {
		t.Fatalf("PublishRequests: %v", err)
	}
	if len(receipts) != 0 {
		t.Fatalf("expected no receipts, got %+v", receipts)
	}
}
