package services_test

import (
	"context"
	"testing"

	"hopper/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithHash(ctx, "abc123")
	ctx = services.WithAction(ctx, "organize")
	ctx = services.WithTick(ctx, "tick-1")
	ctx = services.WithRequestID(ctx, "req-123")

	if hash, ok := services.HashFromContext(ctx); !ok || hash != "abc123" {
		t.Fatalf("unexpected hash: %v %v", hash, ok)
	}
	if action, ok := services.ActionFromContext(ctx); !ok || action != "organize" {
		t.Fatalf("unexpected action: %v %v", action, ok)
	}
	if tick, ok := services.TickFromContext(ctx); !ok || tick != "tick-1" {
		t.Fatalf("unexpected tick: %v %v", tick, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithAction(ctx, "")
	ctx = services.WithHash(ctx, "")
	if _, ok := services.ActionFromContext(ctx); ok {
		t.Fatal("expected no action value")
	}
	if _, ok := services.HashFromContext(ctx); ok {
		t.Fatal("expected no hash value")
	}
}
