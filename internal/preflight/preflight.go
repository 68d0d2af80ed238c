package preflight

import (
	"context"
	"fmt"
	"strings"

	"hopper/internal/classify"
	"hopper/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Checks are only run when the corresponding feature is enabled.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	for _, root := range cfg.Paths.Roots {
		results = append(results, CheckRootAccess(fmt.Sprintf("Root %s", root), root))
	}
	results = append(results, CheckDirectoryAccess("State directory", cfg.Paths.StateDir))
	results = append(results, CheckDirectoryAccess("Library directory", cfg.Paths.LibraryDir))

	if len(cfg.Sync.Enabled) > 0 {
		enabled := make(map[string]struct{}, len(cfg.Sync.Enabled))
		for _, name := range cfg.Sync.Enabled {
			enabled[name] = struct{}{}
		}
		for _, target := range cfg.Sync.Targets {
			if _, ok := enabled[target.Name]; !ok {
				continue
			}
			switch target.Type {
			case config.SyncTypeDirectory:
				results = append(results, CheckDirectoryAccess("Sync target "+target.Name, target.Path))
			case config.SyncTypeWebhook, config.SyncTypeNtfy:
				results = append(results, CheckEndpoint(ctx, "Sync target "+target.Name, target.URL))
			}
		}
	}

	if strings.TrimSpace(cfg.Notifications.NtfyTopic) != "" {
		results = append(results, CheckEndpoint(ctx, "ntfy", cfg.Notifications.NtfyTopic))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

// CheckSystemDeps evaluates the external tools the configured actions use.
// The daemon logs them at startup and the CLI status command renders them.
func CheckSystemDeps(cfg *config.Config) []Status {
	requirements := []Requirement{
		{
			Name:        "7-Zip",
			Command:     cfg.Extract.SevenZipPath,
			Description: "Extracts .7z and .rar archives",
			Optional:    true,
		},
	}
	if cfg.Safety.AllowUnattendedInstall {
		for _, tool := range classify.InstallerTools(cfg.Safety.HostOS) {
			requirements = append(requirements, Requirement{
				Name:        tool,
				Command:     tool,
				Description: "Runs unattended installs on " + cfg.Safety.HostOS,
				Optional:    true,
			})
		}
	}
	return CheckBinaries(requirements)
}
