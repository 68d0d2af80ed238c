package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"hopper/internal/config"
	"hopper/internal/fileutil"
	"hopper/internal/notifications"
)

// Target is a named subscriber. A nil error from Deliver is an ack.
type Target interface {
	Name() string
	Deliver(ctx context.Context, delta Delta) error
}

// BuildTargets constructs the configured targets keyed by name.
func BuildTargets(cfg *config.Config) (map[string]Target, error) {
	targets := make(map[string]Target, len(cfg.Sync.Targets))
	for _, def := range cfg.Sync.Targets {
		switch def.Type {
		case config.SyncTypeDirectory:
			targets[def.Name] = &directoryTarget{name: def.Name, dir: def.Path}
		case config.SyncTypeWebhook:
			targets[def.Name] = &webhookTarget{name: def.Name, url: def.URL, client: &http.Client{}}
		case config.SyncTypeNtfy:
			targets[def.Name] = &ntfyTarget{name: def.Name, svc: notifications.NewNtfy(def.URL, cfg.Notifications)}
		default:
			return nil, fmt.Errorf("sync target %q: unknown type %q", def.Name, def.Type)
		}
	}
	return targets, nil
}

type directoryTarget struct {
	name string
	dir  string
}

func (t *directoryTarget) Name() string { return t.name }

// Deliver writes <dir>/<hash>.json atomically. Redelivery overwrites the
// same file, so subscribers dedupe by hash for free.
func (t *directoryTarget) Deliver(ctx context.Context, delta Delta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(delta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode delta: %w", err)
	}
	path := filepath.Join(t.dir, fileutil.SanitizeSegment(delta.Hash)+".json")
	return fileutil.WriteFileAtomic(path, append(data, '\n'), 0o644)
}

type webhookTarget struct {
	name   string
	url    string
	client *http.Client
}

func (t *webhookTarget) Name() string { return t.name }

func (t *webhookTarget) Deliver(ctx context.Context, delta Delta) error {
	data, err := json.Marshal(delta)
	if err != nil {
		return fmt.Errorf("encode delta: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Hopper-Hash", delta.Hash)
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type ntfyTarget struct {
	name string
	svc  notifications.Service
}

func (t *ntfyTarget) Name() string { return t.name }

func (t *ntfyTarget) Deliver(ctx context.Context, delta Delta) error {
	return t.svc.Publish(ctx, notifications.EventRecordCompleted, notifications.Payload{
		"file":     delta.Name,
		"category": delta.Category,
		"outcome":  delta.Outcome,
	})
}
