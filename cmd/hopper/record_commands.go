package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"hopper/internal/ipc"
)

func newRecordCommands(ctx *commandContext) []*cobra.Command {
	var statuses []string
	var recordsJSON bool
	recordsCmd := &cobra.Command{
		Use:   "records",
		Short: "List ledger records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Records(normalizeStatuses(statuses))
				if err != nil {
					return err
				}
				if recordsJSON {
					return writeJSON(cmd, resp.Records)
				}
				out := cmd.OutOrStdout()
				if len(resp.Records) == 0 {
					fmt.Fprintln(out, "No records")
					return nil
				}
				fmt.Fprint(out, renderTable(
					[]column{col("Hash"), col("Status"), col("Category"), num("Size"), col("Path"), col("Updated")},
					recordRows(resp.Records),
				))
				return nil
			})
		},
	}
	recordsCmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable)")
	recordsCmd.Flags().BoolVar(&recordsJSON, "json", false, "Output JSON")

	var showJSON bool
	showCmd := &cobra.Command{
		Use:   "show <hash>",
		Short: "Show everything known about one record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Show(args[0])
				if err != nil {
					return err
				}
				if showJSON {
					return writeJSON(cmd, resp.Entry)
				}
				renderEntry(cmd.OutOrStdout(), resp.Entry)
				return nil
			})
		},
	}
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Output JSON")

	var limit int
	errorsCmd := &cobra.Command{
		Use:   "errors",
		Short: "List the newest error log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Errors(limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(resp.Errors) == 0 {
					fmt.Fprintln(out, "No errors recorded")
					return nil
				}
				rows := make([][]string, 0, len(resp.Errors))
				for _, e := range resp.Errors {
					rows = append(rows, []string{relativeTime(e.Time), e.Kind, e.Path, e.Message})
				}
				fmt.Fprint(out, renderTable([]column{col("When"), col("Kind"), col("Path"), col("Message")}, rows))
				return nil
			})
		},
	}
	errorsCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum entries to show")

	invalidateCmd := &cobra.Command{
		Use:   "invalidate <hash>",
		Short: "Forget a record so its content is processed again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash := strings.TrimSpace(args[0])
			if hash == "" {
				return errors.New("hash is required")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.Invalidate(hash); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Invalidated %s\n", shortHash(hash))
				return nil
			})
		},
	}

	return []*cobra.Command{recordsCmd, showCmd, errorsCmd, invalidateCmd}
}

func normalizeStatuses(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func recordRows(records []ipc.Record) [][]string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		status := r.Status
		if r.Outcome != "" && r.Outcome != "done" {
			status += " (" + r.Outcome + ")"
		}
		rows = append(rows, []string{
			shortHash(r.Hash),
			status,
			dash(r.Category),
			humanize.IBytes(uint64(max(r.Size, 0))),
			r.Path,
			relativeTime(r.UpdatedAt),
		})
	}
	return rows
}

func renderEntry(out io.Writer, entry ipc.Entry) {
	r := entry.Record
	printKV(out, "Hash", r.Hash)
	printKV(out, "Status", r.Status)
	printKV(out, "Path", r.Path)
	printKV(out, "Size", humanize.IBytes(uint64(max(r.Size, 0))))
	printKV(out, "Category", dash(r.Category))
	printKV(out, "Action", dash(r.ActionHint))
	printKV(out, "Risk", dash(r.Risk))
	if r.Outcome != "" {
		printKV(out, "Outcome", r.Outcome)
	}
	if r.FailureKind != "" {
		printKV(out, "Failure", fmt.Sprintf("%s: %s", r.FailureKind, r.FailureReason))
	}
	if r.OriginHash != "" {
		printKV(out, "Extracted from", shortHash(r.OriginHash))
	}
	printKV(out, "Depth", strconv.Itoa(r.Depth))
	printKV(out, "First seen", relativeTime(r.CreatedAt))
	if r.CompletedAt != "" {
		printKV(out, "Completed", relativeTime(r.CompletedAt))
	}
	if entry.Plan != "" {
		printKV(out, "Plan", entry.Plan)
	}

	if len(entry.Sightings) > 0 {
		fmt.Fprintln(out, "\nSightings:")
		rows := make([][]string, 0, len(entry.Sightings))
		for _, s := range entry.Sightings {
			rows = append(rows, []string{s.Path, relativeTime(s.SeenAt)})
		}
		fmt.Fprint(out, renderTable([]column{col("Path"), col("Seen")}, rows))
	}
	if len(entry.Placements) > 0 {
		fmt.Fprintln(out, "\nPlacements:")
		rows := make([][]string, 0, len(entry.Placements))
		for _, p := range entry.Placements {
			rows = append(rows, []string{p.Action, p.Path})
		}
		fmt.Fprint(out, renderTable([]column{col("Action"), col("Path")}, rows))
	}
	if len(entry.Deliveries) > 0 {
		fmt.Fprintln(out, "\nSync:")
		rows := make([][]string, 0, len(entry.Deliveries))
		for _, d := range entry.Deliveries {
			rows = append(rows, []string{d.Target, d.Status, strconv.Itoa(d.Attempts), dash(d.LastError)})
		}
		fmt.Fprint(out, renderTable([]column{col("Target"), col("Status"), num("Attempts"), col("Last error")}, rows))
	}
	if len(entry.Publications) > 0 {
		fmt.Fprintln(out, "\nPublishing:")
		rows := make([][]string, 0, len(entry.Publications))
		for _, p := range entry.Publications {
			rows = append(rows, []string{p.Platform, p.Kind, p.Status, dash(p.ExternalID), dash(p.Error)})
		}
		fmt.Fprint(out, renderTable([]column{col("Platform"), col("Kind"), col("Status"), col("External ID"), col("Error")}, rows))
	}
}

func relativeTime(value string) string {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return dash(value)
	}
	return humanize.Time(t)
}

func dash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
