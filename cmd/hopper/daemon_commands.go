package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"hopper/internal/daemonctl"
	"hopper/internal/ipc"
	"hopper/internal/ledger"
	"hopper/internal/preflight"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the hopper daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}
			result, err := daemonctl.EnsureStarted(ctx.socketPath(), exe, ctx.launchOptions(), startWaitTimeout)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), describeStart(result))
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the hopper daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := daemonctl.StopAndTerminate(ctx.socketPath(), stopGracePeriod)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(cmd.OutOrStdout(), "Daemon not running")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), describeStop(result))
			return nil
		},
	}

	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Stop the daemon if it is running, then start it again",
		RunE: func(cmd *cobra.Command, args []string) error {
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}
			result, err := daemonctl.Restart(ctx.socketPath(), exe, ctx.launchOptions(), stopGracePeriod, startWaitTimeout)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if result.WasRunning {
				fmt.Fprintln(out, describeStop(result.Stop))
			}
			fmt.Fprintln(out, describeStart(result.Start))
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, path, and ledger status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			var status *ipc.StatusResponse
			client, dialErr := ctx.dialClient()
			if dialErr == nil {
				defer client.Close()
				resp, err := client.Status()
				if err != nil {
					return err
				}
				status = resp
			}

			printSection(out, "System Status", colorize)
			for _, line := range daemonLines(status, dialErr, colorize) {
				fmt.Fprintln(out, line)
			}
			fmt.Fprintln(out)

			printSection(out, "Dependencies", colorize)
			for _, line := range dependencyLines(preflight.CheckSystemDeps(cfg), colorize) {
				fmt.Fprintln(out, line)
			}
			fmt.Fprintln(out)

			printSection(out, "Paths", colorize)
			for _, result := range preflight.RunAll(cmd.Context(), cfg) {
				kind := statusOK
				if !result.Passed {
					kind = statusError
				}
				fmt.Fprintln(out, renderStatusLine(result.Name, kind, result.Detail, colorize))
			}
			fmt.Fprintln(out)

			printSection(out, "Records", colorize)
			if status == nil {
				fmt.Fprintln(out, "Daemon not running; record counts unavailable")
				return nil
			}
			rows := buildCountRows(status.Counts)
			if len(rows) == 0 {
				fmt.Fprintln(out, "Ledger is empty")
				return nil
			}
			fmt.Fprint(out, renderTable([]column{col("Status"), num("Count")}, rows))
			return nil
		},
	}

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Ask the daemon to scan now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Scan("cli")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), capitalize(resp.Message))
				return nil
			})
		},
	}

	testNotifyCmd := &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TestNotification()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), capitalize(resp.Message))
				return nil
			})
		},
	}

	return []*cobra.Command{startCmd, stopCmd, restartCmd, statusCmd, scanCmd, testNotifyCmd}
}

const (
	startWaitTimeout = 10 * time.Second
	stopGracePeriod  = 15 * time.Second
)

func describeStart(result daemonctl.StartResult) string {
	if result.State == daemonctl.StartStateAlreadyRunning {
		return fmt.Sprintf("Daemon already running (pid %d)", result.PID)
	}
	return fmt.Sprintf("Daemon started (pid %d)", result.PID)
}

func describeStop(result daemonctl.StopResult) string {
	switch {
	case result.ForcedKill:
		return fmt.Sprintf("Daemon did not stop in time; killed pid %d", result.PID)
	case result.StopAcknowledged:
		return "Daemon stopped"
	default:
		return "Stop request sent"
	}
}

func daemonLines(status *ipc.StatusResponse, dialErr error, colorize bool) []string {
	if status == nil {
		detail := "Not running"
		if dialErr != nil {
			detail = "Not running (" + dialErr.Error() + ")"
		}
		return []string{renderStatusLine("Daemon", statusWarn, detail, colorize)}
	}

	var lines []string
	if status.Running {
		detail := fmt.Sprintf("Running (pid %d)", status.PID)
		if started, err := time.Parse(time.RFC3339, status.StartedAt); err == nil {
			detail += ", started " + humanize.Time(started)
		}
		lines = append(lines, renderStatusLine("Daemon", statusOK, detail, colorize))
	} else {
		lines = append(lines, renderStatusLine("Daemon", statusWarn, "Stopped", colorize))
	}
	lines = append(lines,
		renderStatusLine("Filesystem watcher", boolKind(status.Watching), yesNo(status.Watching), colorize),
		renderStatusLine("Media monitor", boolKind(status.MediaMonitor), yesNo(status.MediaMonitor), colorize),
	)
	if tick := status.LastTick; tick != nil {
		kind := statusOK
		if tick.Failed > 0 || tick.Aborted {
			kind = statusWarn
		}
		detail := fmt.Sprintf("%s: %d seen, %d processed, %d failed, %d blocked",
			humanize.Time(tick.StartedAt), tick.Seen, tick.Processed, tick.Failed, tick.Blocked)
		lines = append(lines, renderStatusLine("Last scan", kind, detail, colorize))
	} else {
		lines = append(lines, renderStatusLine("Last scan", statusInfo, "none yet", colorize))
	}
	if status.LastError != "" {
		lines = append(lines, renderStatusLine("Last error", statusError, status.LastError, colorize))
	}
	lines = append(lines,
		renderStatusLine("Ledger", statusInfo, status.LedgerPath, colorize),
		renderStatusLine("Log", statusInfo, status.LogPath, colorize),
	)
	return lines
}

func dependencyLines(deps []preflight.Status, colorize bool) []string {
	lines := make([]string, 0, len(deps))
	for _, dep := range deps {
		if dep.Available {
			lines = append(lines, renderStatusLine(dep.Name, statusOK, fmt.Sprintf("Ready (command: %s)", dep.Command), colorize))
			continue
		}
		kind := statusError
		if dep.Optional {
			kind = statusWarn
		}
		detail := dep.Detail
		if dep.Description != "" {
			detail = fmt.Sprintf("%s; %s", detail, dep.Description)
		}
		lines = append(lines, renderStatusLine(dep.Name, kind, detail, colorize))
	}
	return lines
}

func buildCountRows(counts map[string]int) [][]string {
	order := make(map[string]int)
	for i, s := range ledger.AllStatuses {
		order[string(s)] = i
	}
	keys := make([]string, 0, len(counts))
	for k, v := range counts {
		if v > 0 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return order[keys[i]] < order[keys[j]] })
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, strconv.Itoa(counts[k])})
	}
	return rows
}

func boolKind(v bool) statusKind {
	if v {
		return statusOK
	}
	return statusInfo
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func printKV(out io.Writer, label, value string) {
	fmt.Fprintf(out, "%-14s %s\n", label+":", value)
}
