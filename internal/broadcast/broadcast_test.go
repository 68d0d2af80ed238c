package broadcast_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"testing"

	"hopper/internal/broadcast"
	"hopper/internal/config"
	"hopper/internal/ledger"
	"hopper/internal/logging"
	"hopper/internal/testsupport"
)

func hashOf(c byte) string {
	return strings.Repeat(string(c), 64)
}

// completeRecord walks a fresh record to completed with the given targets.
func completeRecord(t *testing.T, store *ledger.Store, hash string, targets []string) *ledger.Record {
	t.Helper()
	ctx := context.Background()
	if _, _, err := store.Claim(ctx, ledger.ClaimRequest{Hash: hash, Path: "/inbox/report.json", Size: 12, Owner: "test"}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.MarkClassified(ctx, hash, ledger.Classification{Category: "structured_data", ActionHint: "organize", Risk: "low"}); err != nil {
		t.Fatalf("classified: %v", err)
	}
	if err := store.MarkPlanned(ctx, hash, `{"actions":[]}`, targets); err != nil {
		t.Fatalf("planned: %v", err)
	}
	if err := store.MarkExecuting(ctx, hash); err != nil {
		t.Fatalf("executing: %v", err)
	}
	if err := store.AddPlacement(ctx, hash, "organize", "/library/configs/system/report.json"); err != nil {
		t.Fatalf("placement: %v", err)
	}
	if err := store.MarkCompleted(ctx, hash, ledger.OutcomeDone); err != nil {
		t.Fatalf("completed: %v", err)
	}
	rec, err := store.Get(ctx, hash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return rec
}

type fakeTarget struct {
	name  string
	err   error
	calls atomic.Int32
}

func (f *fakeTarget) Name() string { return f.name }

func (f *fakeTarget) Deliver(context.Context, broadcast.Delta) error {
	f.calls.Add(1)
	return f.err
}

func TestDirectoryTargetsReceiveDelta(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	b, err := broadcast.New(cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := completeRecord(t, store, hashOf('a'), cfg.Sync.Enabled)

	report, err := b.Broadcast(context.Background(), rec)
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if len(report.Acked) != 3 || len(report.Nacked) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}

	for _, target := range cfg.Sync.Targets {
		data, err := os.ReadFile(filepath.Join(target.Path, rec.Hash+".json"))
		if err != nil {
			t.Fatalf("read delta for %s: %v", target.Name, err)
		}
		var delta broadcast.Delta
		if err := json.Unmarshal(data, &delta); err != nil {
			t.Fatalf("decode delta: %v", err)
		}
		if delta.Hash != rec.Hash || delta.Outcome != ledger.OutcomeDone || delta.Name != "report.json" {
			t.Fatalf("unexpected delta %+v", delta)
		}
		if len(delta.Placements) != 1 || delta.Placements[0] != "/library/configs/system/report.json" {
			t.Fatalf("unexpected placements %v", delta.Placements)
		}
	}

	deliveries, err := store.Deliveries(context.Background(), rec.Hash)
	if err != nil {
		t.Fatalf("Deliveries: %v", err)
	}
	for _, d := range deliveries {
		if d.Status != ledger.DeliveryAcked || d.Attempts != 1 {
			t.Fatalf("unexpected delivery %+v", d)
		}
	}
}

func TestBroadcastOnlyPlannedTargets(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	pages := &fakeTarget{name: "pages"}
	codespaces := &fakeTarget{name: "codespaces"}
	extension := &fakeTarget{name: "extension"}
	b := broadcast.NewWithTargets(cfg, store, map[string]broadcast.Target{
		"pages": pages, "codespaces": codespaces, "extension": extension,
	}, logging.NewNop())

	rec := completeRecord(t, store, hashOf('b'), []string{"pages"})
	report, err := b.Broadcast(context.Background(), rec)
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if len(report.Acked) != 1 || report.Acked[0] != "pages" {
		t.Fatalf("expected only pages to ack, got %+v", report)
	}
	if codespaces.calls.Load() != 0 || extension.calls.Load() != 0 {
		t.Fatal("targets outside the plan were called")
	}
}

func TestFailingWebhookDoesNotBlockOthers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Sync.Targets = append(cfg.Sync.Targets, config.SyncTarget{Name: "hook", Type: config.SyncTypeWebhook, URL: server.URL})
	cfg.Sync.Enabled = []string{"pages", "hook"}
	store := testsupport.MustOpenStore(t, cfg)
	b, err := broadcast.New(cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rec := completeRecord(t, store, hashOf('c'), []string{"pages", "hook"})
	report, err := b.Broadcast(context.Background(), rec)
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if len(report.Acked) != 1 || report.Acked[0] != "pages" {
		t.Fatalf("expected pages ack, got %+v", report)
	}
	if len(report.Nacked) != 1 || report.Nacked[0] != "hook" {
		t.Fatalf("expected hook nack, got %+v", report)
	}

	deliveries, err := store.Deliveries(context.Background(), rec.Hash)
	if err != nil {
		t.Fatalf("Deliveries: %v", err)
	}
	var hook ledger.Delivery
	for _, d := range deliveries {
		if d.Target == "hook" {
			hook = d
		}
	}
	if hook.Status != ledger.DeliveryNacked || !strings.Contains(hook.LastError, "503") {
		t.Fatalf("unexpected hook delivery %+v", hook)
	}
}

func TestWebhookPostsJSON(t *testing.T) {
	var got broadcast.Delta
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Sync.Targets = []config.SyncTarget{{Name: "hook", Type: config.SyncTypeWebhook, URL: server.URL}}
	cfg.Sync.Enabled = []string{"hook"}
	store := testsupport.MustOpenStore(t, cfg)
	b, err := broadcast.New(cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := completeRecord(t, store, hashOf('d'), []string{"hook"})
	report, err := b.Broadcast(context.Background(), rec)
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if len(report.Acked) != 1 {
		t.Fatalf("expected ack, got %+v", report)
	}
	if got.Hash != rec.Hash || got.Category != "structured_data" {
		t.Fatalf("unexpected posted delta %+v", got)
	}
}

func TestRetryPendingStopsAtMaxAttempts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Sync.MaxAttempts = 3
	store := testsupport.MustOpenStore(t, cfg)
	flaky := &fakeTarget{name: "pages", err: errors.New("unreachable")}
	b := broadcast.NewWithTargets(cfg, store, map[string]broadcast.Target{"pages": flaky}, logging.NewNop())
	ctx := context.Background()

	rec := completeRecord(t, store, hashOf('e'), []string{"pages"})
	if _, err := b.Broadcast(ctx, rec); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := b.RetryPending(ctx); err != nil {
			t.Fatalf("RetryPending: %v", err)
		}
	}
	if calls := flaky.calls.Load(); calls != 3 {
		t.Fatalf("expected 3 delivery attempts, got %d", calls)
	}

	flaky.err = nil
	cfg.Sync.MaxAttempts = 10
	b = broadcast.NewWithTargets(cfg, store, map[string]broadcast.Target{"pages": flaky}, logging.NewNop())
	report, err := b.RetryPending(ctx)
	if err != nil {
		t.Fatalf("RetryPending: %v", err)
	}
	if len(report.Acked) != 1 {
		t.Fatalf("expected retry to ack, got %+v", report)
	}
	pending, err := store.PendingDeliveries(ctx, 10)
	if err != nil {
		t.Fatalf("PendingDeliveries: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending deliveries, got %v", pending)
	}
}

func TestBroadcastRejectsNonTerminalRecord(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	b, err := broadcast.New(cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := b.Broadcast(context.Background(), &ledger.Record{Hash: hashOf('f'), Status: ledger.StatusPlanned}); err == nil {
		t.Fatal("expected error for planned record")
	}
}

func TestBroadcastTargetSelection(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, store *ledger.Store, hash string) *ledger.Record
		want    []string
	}{
		{
			name: "resolved to no target",
			prepare: func(t *testing.T, store *ledger.Store, hash string) *ledger.Record {
				return completeRecord(t, store, hash, nil)
			},
		},
		{
			name: "failed before planning without resolution",
			prepare: func(t *testing.T, store *ledger.Store, hash string) *ledger.Record {
				return failedRecord(t, store, hash, nil)
			},
			want: []string{"codespaces", "extension", "pages"},
		},
		{
			name: "failed before planning under a marker",
			prepare: func(t *testing.T, store *ledger.Store, hash string) *ledger.Record {
				return failedRecord(t, store, hash, []string{"pages"})
			},
			want: []string{"pages"},
		},
		{
			name: "failed before planning with an empty marker list",
			prepare: func(t *testing.T, store *ledger.Store, hash string) *ledger.Record {
				return failedRecord(t, store, hash, []string{})
			},
		},
	}
	for i, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testsupport.NewConfig(t)
			store := testsupport.MustOpenStore(t, cfg)
			targets := map[string]broadcast.Target{}
			for _, name := range cfg.Sync.Enabled {
				targets[name] = &fakeTarget{name: name}
			}
			b := broadcast.NewWithTargets(cfg, store, targets, logging.NewNop())

			rec := tc.prepare(t, store, hashOf(byte('1'+i)))
			report, err := b.Broadcast(context.Background(), rec)
			if err != nil {
				t.Fatalf("Broadcast: %v", err)
			}
			slices.Sort(report.Acked)
			if strings.Join(report.Acked, ",") != strings.Join(tc.want, ",") {
				t.Fatalf("acked %v, want %v", report.Acked, tc.want)
			}
			deliveries, err := store.Deliveries(context.Background(), rec.Hash)
			if err != nil {
				t.Fatalf("Deliveries: %v", err)
			}
			if len(deliveries) != len(tc.want) {
				t.Fatalf("expected %d deliveries, got %+v", len(tc.want), deliveries)
			}
		})
	}
}

// failedRecord fails a fresh record before planning. A non-nil targets is
// stored the way a governing marker's sync list is.
func failedRecord(t *testing.T, store *ledger.Store, hash string, targets []string) *ledger.Record {
	t.Helper()
	ctx := context.Background()
	if _, _, err := store.Claim(ctx, ledger.ClaimRequest{Hash: hash, Path: "/inbox/broken.bin", Size: 4, Owner: "test"}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.MarkFailed(ctx, hash, "", "io", "io: read failed"); err != nil {
		t.Fatalf("failed: %v", err)
	}
	if targets != nil {
		if err := store.SetSyncTargets(ctx, hash, targets); err != nil {
			t.Fatalf("SetSyncTargets: %v", err)
		}
	}
	rec, err := store.Get(ctx, hash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return rec
}
