package planner

import (
	"slices"

	"hopper/internal/classify"
	"hopper/internal/config"
	"hopper/internal/fileutil"
	"hopper/internal/instruction"
)

// Block reasons.
const (
	ReasonHostIncompatible = "installer platform does not match host"
	ReasonNoUnattendedForm = "installer has no non-interactive form"
	ReasonNotConfirmed     = "unattended install not confirmed by marker or configuration"
	ReasonScriptNeverRun   = "scripts are never executed"
)

// Input is everything the planner merges.
type Input struct {
	Name           string
	Classification classify.Result
	Depth          int
	Instructions   *instruction.Plan
}

// Planner builds safety-gated plans from classification and instructions.
type Planner struct {
	cfg *config.Config
}

// New constructs a planner bound to configuration.
func New(cfg *config.Config) *Planner {
	return &Planner{cfg: cfg}
}

// Build returns the ordered plan for one file. It never fails: anything the
// gate refuses is downgraded and noted in Blocked.
func (p *Planner) Build(in Input) Plan {
	c := in.Classification
	instr := in.Instructions
	plan := Plan{SyncTargets: p.SyncTargets(instr)}
	if instr != nil {
		plan.PublishTargets = slices.Clone(instr.PublishTargets)
		plan.MarkerDir = instr.Dir
	}

	bucket := c.Bucket
	if name := instr.Category(); name != "" {
		bucket = "categories/" + fileutil.SanitizeSegment(name)
	}

	hint := c.Hint
	if !p.categoryEnabled(c.Category) {
		hint = classify.HintOrganize
	}

	switch hint {
	case classify.HintExtract:
		if in.Depth >= p.cfg.Extract.MaxDepth {
			break
		}
		plan.Actions = append(plan.Actions, Action{
			Kind:   ActionExtract,
			Target: "extracted",
			Params: map[string]string{"format": c.Format},
		})
	case classify.HintInstall:
		if reason := p.installGate(in.Name, c, instr); reason != "" {
			plan.Blocked = append(plan.Blocked, BlockedAction{Kind: ActionInstall, Reason: reason})
			break
		}
		plan.Actions = append(plan.Actions, Action{
			Kind:   ActionInstall,
			Target: bucket,
			Params: map[string]string{"ext": classify.ExtOf(in.Name)},
		})
	case classify.HintIntegrate:
		browser := "chrome"
		if len(c.Platforms) > 0 {
			browser = c.Platforms[0]
		}
		plan.Actions = append(plan.Actions, Action{
			Kind:   ActionIntegrate,
			Target: bucket,
			Params: map[string]string{"browser": browser},
		})
	case classify.HintConvertMetadata:
		plan.Actions = append(plan.Actions, Action{Kind: ActionConvertMetadata, Target: bucket})
	case classify.HintConvert:
		plan.Actions = append(plan.Actions, Action{Kind: ActionConvert, Target: "converted/metadata"})
	case classify.HintOrganize:
	}

	// A directive may ask for what the classifier already refused.
	if instr.Has(instruction.OpInstallation) && hint != classify.HintInstall && p.categoryEnabled(c.Category) {
		switch c.Category {
		case classify.CategoryInstaller:
			plan.Blocked = append(plan.Blocked, BlockedAction{Kind: ActionInstall, Reason: ReasonHostIncompatible})
		case classify.CategoryScript:
			plan.Blocked = append(plan.Blocked, BlockedAction{Kind: ActionInstall, Reason: ReasonScriptNeverRun})
		}
	}

	if instr.Has(instruction.OpConversion) && !plan.has(ActionConvert) && !plan.has(ActionConvertMetadata) && c.Category != classify.CategoryCredential {
		plan.Actions = append([]Action{{Kind: ActionConvert, Target: "converted/metadata"}}, plan.Actions...)
	}

	if !plan.places() {
		plan.Actions = append(plan.Actions, Action{Kind: ActionOrganize, Target: bucket})
	}
	return plan
}

func (p *Planner) installGate(name string, c classify.Result, instr *instruction.Plan) string {
	if !c.HostCompatible {
		return ReasonHostIncompatible
	}
	rule, ok := classify.LookupInstaller(classify.ExtOf(name))
	if !ok || !rule.Unattended {
		return ReasonNoUnattendedForm
	}
	if !instr.Has(instruction.OpInstallation) && !p.cfg.Safety.AllowUnattendedInstall {
		return ReasonNotConfirmed
	}
	return ""
}

// SyncTargets resolves which enabled targets receive records governed by
// instr. A nil plan selects every enabled target.
func (p *Planner) SyncTargets(instr *instruction.Plan) []string {
	requested := p.cfg.Sync.Enabled
	if instr != nil {
		requested = instr.SyncTargets
	}
	out := make([]string, 0, len(requested))
	for _, name := range requested {
		if slices.Contains(p.cfg.Sync.Enabled, name) && !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	return out
}

func (p *Planner) categoryEnabled(c classify.Category) bool {
	cats := p.cfg.Categories
	switch c {
	case classify.CategoryArchive:
		return cats.Archive
	case classify.CategoryInstaller:
		return cats.Installer
	case classify.CategoryBrowserExtension:
		return cats.BrowserExtension
	case classify.CategoryNativeLibrary:
		return cats.NativeLibrary
	case classify.CategoryScript:
		return cats.Script
	case classify.CategoryCredential:
		return cats.Credential
	case classify.CategoryMobileApp:
		return cats.MobileApp
	case classify.CategoryStructuredData:
		return cats.StructuredData
	case classify.CategoryUnknown:
		return cats.Unknown
	default:
		return false
	}
}

func (p Plan) has(kind Kind) bool {
	for _, a := range p.Actions {
		if a.Kind == kind {
			return true
		}
	}
	return false
}

func (p Plan) places() bool {
	for _, a := range p.Actions {
		if a.Kind.Places() {
			return true
		}
	}
	return false
}
