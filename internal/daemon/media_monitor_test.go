package daemon

import (
	"context"
	"testing"

	"github.com/pilebones/go-udev/netlink"
)

func TestNewMediaMonitor(t *testing.T) {
	t.Run("nil trigger returns nil", func(t *testing.T) {
		if m := newMediaMonitor(nil, nil); m != nil {
			t.Error("expected nil monitor for nil trigger")
		}
	})

	t.Run("trigger creates monitor", func(t *testing.T) {
		m := newMediaMonitor(nil, func(string) {})
		if m == nil {
			t.Fatal("expected non-nil monitor")
		}
		if m.Running() {
			t.Error("expected unstarted monitor to report not running")
		}
	})
}

func TestMediaMonitorNilSafety(t *testing.T) {
	var m *mediaMonitor
	if m.Running() {
		t.Error("expected Running() to return false for nil monitor")
	}
	m.Stop()
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start on nil monitor should return nil, got: %v", err)
	}
}

func TestMediaMonitorStopIdempotency(t *testing.T) {
	m := newMediaMonitor(nil, func(string) {})
	m.Stop()
	m.Stop()
	if m.Running() {
		t.Error("expected Running() to return false after Stop on unstarted monitor")
	}
}

func TestBuildMatcher(t *testing.T) {
	matcher := buildMatcher()
	if matcher == nil {
		t.Fatal("expected non-nil matcher")
	}

	cases := []struct {
		name  string
		event netlink.UEvent
		want  bool
	}{
		{
			name: "partition added",
			event: netlink.UEvent{Action: netlink.ADD, Env: map[string]string{
				"SUBSYSTEM": "block", "DEVTYPE": "partition",
			}},
			want: true,
		},
		{
			name: "partition changed",
			event: netlink.UEvent{Action: netlink.CHANGE, Env: map[string]string{
				"SUBSYSTEM": "block", "DEVTYPE": "partition",
			}},
			want: true,
		},
		{
			name: "whole disk",
			event: netlink.UEvent{Action: netlink.ADD, Env: map[string]string{
				"SUBSYSTEM": "block", "DEVTYPE": "disk",
			}},
			want: false,
		},
		{
			name: "partition removed",
			event: netlink.UEvent{Action: netlink.REMOVE, Env: map[string]string{
				"SUBSYSTEM": "block", "DEVTYPE": "partition",
			}},
			want: false,
		},
		{
			name: "usb subsystem",
			event: netlink.UEvent{Action: netlink.ADD, Env: map[string]string{
				"SUBSYSTEM": "usb",
			}},
			want: false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := matcher.Evaluate(tc.event); got != tc.want {
				t.Fatalf("Evaluate = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestHandleEvent(t *testing.T) {
	t.Run("ignores event without device name", func(t *testing.T) {
		var reasons []string
		m := newMediaMonitor(nil, func(r string) { reasons = append(reasons, r) })
		m.handleEvent(netlink.UEvent{Action: netlink.ADD, Env: map[string]string{}})
		if len(reasons) != 0 {
			t.Errorf("trigger should not fire without a device, got %v", reasons)
		}
	})

	t.Run("triggers with DEVNAME", func(t *testing.T) {
		var reasons []string
		m := newMediaMonitor(nil, func(r string) { reasons = append(reasons, r) })
		m.handleEvent(netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"DEVNAME": "sdb1"}})
		if len(reasons) != 1 || reasons[0] != "media: /dev/sdb1" {
			t.Errorf("unexpected trigger reasons %v", reasons)
		}
	})

	t.Run("extracts device from DEVPATH when DEVNAME missing", func(t *testing.T) {
		var reasons []string
		m := newMediaMonitor(nil, func(r string) { reasons = append(reasons, r) })
		m.handleEvent(netlink.UEvent{Action: netlink.ADD, Env: map[string]string{
			"DEVPATH": "/devices/pci0000:00/0000:00:14.0/usb2/2-1/block/sdb/sdb1",
		}})
		if len(reasons) != 1 || reasons[0] != "media: /dev/sdb1" {
			t.Errorf("unexpected trigger reasons %v", reasons)
		}
	})
}
