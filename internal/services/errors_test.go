package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"hopper/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExecutionFailure, "executor", "install", "exit status 1", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExecutionFailure) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"executor", "install", "exit status 1"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    services.Kind
		failure bool
	}{
		{"nil", nil, services.KindNone, false},
		{"io", services.Wrap(services.ErrIO, "dedup", "hash", "", errors.New("eio")), services.KindIO, true},
		{"timeout marker", services.Wrap(services.ErrExecutionTimeout, "executor", "install", "", nil), services.KindExecutionTimeout, true},
		{"deadline", fmt.Errorf("run: %w", context.DeadlineExceeded), services.KindExecutionTimeout, true},
		{"unsupported", services.Wrap(services.ErrUnsupportedFormat, "executor", "extract", ".rar", nil), services.KindUnsupportedFormat, true},
		{"conflict", services.Wrap(services.ErrConflict, "executor", "organize", "", nil), services.KindConflict, false},
		{"blocked", services.Wrap(services.ErrUnsafeActionBlocked, "planner", "install", "", nil), services.KindUnsafeActionBlocked, false},
		{"plain", errors.New("other"), services.KindExecutionFailure, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := services.KindOf(tc.err)
			if got != tc.want {
				t.Fatalf("KindOf = %q, want %q", got, tc.want)
			}
			if got.IsFailure() != tc.failure {
				t.Fatalf("IsFailure = %v, want %v", got.IsFailure(), tc.failure)
			}
		})
	}
}
