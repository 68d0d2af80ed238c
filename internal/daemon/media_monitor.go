package daemon

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"hopper/internal/logging"
)

// mediaMonitor listens for udev netlink events and requests a scan when a
// block partition appears, so files on newly attached media that are
// mounted under a root are picked up without waiting for the interval.
type mediaMonitor struct {
	logger  *slog.Logger
	trigger func(reason string)

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	done    chan struct{}
	running bool
}

func newMediaMonitor(logger *slog.Logger, trigger func(reason string)) *mediaMonitor {
	if trigger == nil {
		return nil
	}
	return &mediaMonitor{
		logger:  logging.NewComponentLogger(logger, "media-monitor"),
		trigger: trigger,
	}
}

// Start begins listening for udev netlink events. A missing netlink socket
// is not fatal; interval scans still run.
func (m *mediaMonitor) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		m.logger.Warn("failed to connect to netlink socket; media scans rely on the interval",
			logging.Error(err),
			logging.String(logging.FieldEventType, "netlink_connect_failed"),
			logging.String(logging.FieldErrorHint, "ensure the daemon may open netlink sockets"),
			logging.String(logging.FieldImpact, "new media waits for the next interval scan"),
		)
		return nil
	}

	m.conn = conn
	m.quit = make(chan struct{})
	m.done = make(chan struct{})
	m.running = true

	go m.monitorLoop(ctx, conn, m.quit, m.done)

	m.logger.Info("media monitor started",
		logging.String(logging.FieldEventType, "media_monitor_started"),
	)
	return nil
}

// Stop shuts down the monitor and waits for its loop to exit.
func (m *mediaMonitor) Stop() {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	close(m.quit)
	<-m.done
	m.quit = nil
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.running = false

	m.logger.Info("media monitor stopped",
		logging.String(logging.FieldEventType, "media_monitor_stopped"),
	)
}

// Running reports whether the monitor is active.
func (m *mediaMonitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *mediaMonitor) monitorLoop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, buildMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			m.handleEvent(uevent)
		case err := <-errs:
			m.logger.Warn("netlink monitor error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "netlink_monitor_error"),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "media detection may be affected"),
			)
		}
	}
}

// buildMatcher matches partitions being added or changed:
// SUBSYSTEM=block, DEVTYPE=partition, ACTION=add|change.
func buildMatcher() netlink.Matcher {
	action := "add|change"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "block",
			"DEVTYPE":   "partition",
		},
	})
	return rules
}

func (m *mediaMonitor) handleEvent(uevent netlink.UEvent) {
	devname := deviceName(uevent)
	if devname == "" {
		m.logger.Debug("ignoring event without device name",
			logging.String("action", string(uevent.Action)),
			logging.String("kobj", uevent.KObj),
		)
		return
	}
	m.logger.Info("media detected via netlink",
		logging.String(logging.FieldEventType, "media_detected"),
		logging.String("device", devname),
		logging.String("action", string(uevent.Action)),
	)
	m.trigger("media: " + devname)
}

// deviceName gets the device path from a uevent.
func deviceName(uevent netlink.UEvent) string {
	if devname := uevent.Env["DEVNAME"]; devname != "" {
		if !strings.HasPrefix(devname, "/") {
			return "/dev/" + devname
		}
		return devname
	}

	// Fall back to DEVPATH (e.g. /devices/pci.../block/sdb/sdb1).
	devpath := uevent.Env["DEVPATH"]
	if devpath == "" {
		return ""
	}
	parts := strings.Split(devpath, "/")
	return "/dev/" + parts[len(parts)-1]
}
