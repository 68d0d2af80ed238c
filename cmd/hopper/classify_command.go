package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"hopper/internal/classify"
	"hopper/internal/config"
	"hopper/internal/planner"
	"hopper/internal/services"
)

type classification struct {
	Path     string `json:"path"`
	Category string `json:"category"`
	Hint     string `json:"action_hint"`
	Risk     string `json:"risk"`
	Bucket   string `json:"bucket"`
	Plan     string `json:"plan"`
	Blocked  string `json:"blocked,omitempty"`
	Error    string `json:"error,omitempty"`
}

func newClassifyCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "classify <path>...",
		Short: "Classify files and show the plan hopper would build, without touching them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := make([]classification, 0, len(args))
			for _, arg := range args {
				results = append(results, classifyPath(cfg, arg))
			}
			if asJSON {
				return writeJSON(cmd, results)
			}
			rows := make([][]string, 0, len(results))
			for _, r := range results {
				if r.Error != "" {
					rows = append(rows, []string{r.Path, "-", "-", "-", "-", r.Error})
					continue
				}
				plan := r.Plan
				if r.Blocked != "" {
					plan += " blocked: " + r.Blocked
				}
				rows = append(rows, []string{r.Path, r.Category, r.Hint, r.Risk, r.Bucket, plan})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(
				[]column{col("Path"), col("Category"), col("Action"), col("Risk"), col("Bucket"), col("Plan")}, rows))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func classifyPath(cfg *config.Config, raw string) classification {
	path, err := config.ExpandPath(strings.TrimSpace(raw))
	if err != nil {
		return classification{Path: raw, Error: err.Error()}
	}
	signals, err := classify.Inspect(path, cfg.Safety.HostOS)
	if errors.Is(err, services.ErrUnsupportedFormat) {
		name := filepath.Base(path)
		signals = classify.Signals{Name: name, Ext: classify.ExtOf(name), HostOS: cfg.Safety.HostOS}
	} else if err != nil {
		return classification{Path: raw, Error: err.Error()}
	}
	result := classify.Classify(signals)
	plan := planner.New(cfg).Build(planner.Input{Name: signals.Name, Classification: result})

	blocked := make([]string, 0, len(plan.Blocked))
	for _, b := range plan.Blocked {
		blocked = append(blocked, fmt.Sprintf("%s (%s)", b.Kind, b.Reason))
	}
	return classification{
		Path:     raw,
		Category: string(result.Category),
		Hint:     string(result.Hint),
		Risk:     string(result.Risk),
		Bucket:   result.Bucket,
		Plan:     plan.String(),
		Blocked:  strings.Join(blocked, "; "),
	}
}
