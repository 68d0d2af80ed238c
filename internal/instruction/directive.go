package instruction

import (
	"slices"
	"strings"

	"golang.org/x/text/cases"
)

// Operation is a directory-wide operation requested by a marker.
type Operation string

const (
	OpInstallation    Operation = "installation"
	OpConversion      Operation = "conversion"
	OpModification    Operation = "modification"
	OpPublishing      Operation = "publishing"
	OpAccountCreation Operation = "account_creation"
)

// Plan is the parsed content of one marker file. It governs every file
// recursively under Dir unless a nested directory carries its own marker.
type Plan struct {
	Dir            string      `json:"dir"`
	MarkerPath     string      `json:"marker_path"`
	MarkerHash     string      `json:"marker_hash"`
	Operations     []Operation `json:"operations"`
	Modifications  []string    `json:"modifications,omitempty"`
	PublishTargets []string    `json:"publish_targets,omitempty"`
	AccountTargets []string    `json:"account_targets,omitempty"`
	SyncTargets    []string    `json:"sync_targets"`
	SyncExplicit   bool        `json:"sync_explicit,omitempty"`
	Categories     []string    `json:"categories,omitempty"`
	CustomCommands []string    `json:"custom_commands,omitempty"`
	FileList       []string    `json:"file_list,omitempty"`
	Ignored        int         `json:"ignored,omitempty"`
}

// Has reports whether the plan requests op.
func (p *Plan) Has(op Operation) bool {
	if p == nil {
		return false
	}
	return slices.Contains(p.Operations, op)
}

// Category returns the last category directive, which wins when several are
// given.
func (p *Plan) Category() string {
	if p == nil || len(p.Categories) == 0 {
		return ""
	}
	return p.Categories[len(p.Categories)-1]
}

// ParseOptions supplies the defaults a marker is parsed against.
type ParseOptions struct {
	// DefaultSync is used when the marker names no sync target.
	DefaultSync []string
	// Platforms are recognized in free-form publish lines without a colon.
	Platforms []string
}

// folded applies Unicode case folding. A Caser keeps state, so each call
// gets its own.
func folded(s string) string {
	return cases.Fold().String(s)
}

// Parse reads marker text line by line. Blank lines and lines starting with
// '#' are skipped; lines outside the known keyword families are counted in
// Ignored and otherwise dropped.
func Parse(text string, opts ParseOptions) Plan {
	plan := Plan{}
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(strings.TrimSuffix(raw, "\r"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, hasValue := strings.Cut(line, ":")
		key = strings.Join(strings.Fields(folded(key)), " ")
		value = strings.TrimSpace(value)
		if !applyLine(&plan, line, key, value, hasValue, opts) {
			plan.Ignored++
		}
	}
	if !plan.SyncExplicit {
		plan.SyncTargets = slices.Clone(opts.DefaultSync)
	}
	return plan
}

func applyLine(plan *Plan, line, key, value string, hasValue bool, opts ParseOptions) bool {
	word := firstWord(key)
	switch {
	case word == "install" || word == "installation":
		plan.addOp(OpInstallation)
	case word == "convert" || word == "conversion":
		plan.addOp(OpConversion)
	case word == "modify" || word == "change":
		plan.addOp(OpModification)
		plan.Modifications = append(plan.Modifications, line)
	case key == "create account" || strings.HasPrefix(key, "create account "):
		targets := platformsFrom(key, value, hasValue, opts.Platforms)
		if len(targets) == 0 {
			return false
		}
		plan.AccountTargets = appendUnique(plan.AccountTargets, targets...)
		plan.addOp(OpAccountCreation)
	case word == "publish":
		targets := platformsFrom(key, value, hasValue, opts.Platforms)
		if len(targets) == 0 {
			return false
		}
		plan.PublishTargets = appendUnique(plan.PublishTargets, targets...)
		plan.addOp(OpPublishing)
	case key == "sync" && hasValue:
		names := splitList(value)
		if len(names) == 0 {
			return false
		}
		plan.SyncTargets = appendUnique(plan.SyncTargets, names...)
		plan.SyncExplicit = true
	case key == "category" && hasValue && value != "":
		plan.Categories = append(plan.Categories, value)
	case key == "command" && hasValue && value != "":
		plan.CustomCommands = append(plan.CustomCommands, value)
	default:
		return false
	}
	return true
}

func (p *Plan) addOp(op Operation) {
	if !slices.Contains(p.Operations, op) {
		p.Operations = append(p.Operations, op)
	}
}

func platformsFrom(key, value string, hasValue bool, known []string) []string {
	if hasValue {
		return splitList(value)
	}
	var out []string
	for _, platform := range known {
		if strings.Contains(key, platform) {
			out = append(out, platform)
		}
	}
	return out
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		name := strings.Join(strings.Fields(folded(part)), "_")
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		if !slices.Contains(dst, v) {
			dst = append(dst, v)
		}
	}
	return dst
}

func firstWord(key string) string {
	word, _, _ := strings.Cut(key, " ")
	return word
}

// IsMarker reports whether name is the marker file name, compared with
// Unicode case folding.
func IsMarker(name, markerName string) bool {
	return folded(name) == folded(markerName)
}
