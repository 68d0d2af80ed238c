package planner

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind names an executor action.
type Kind string

const (
	ActionExtract         Kind = "extract"
	ActionInstall         Kind = "install"
	ActionConvert         Kind = "convert"
	ActionConvertMetadata Kind = "convert_metadata"
	ActionOrganize        Kind = "organize"
	ActionIntegrate       Kind = "integrate"
)

// Places reports whether the action leaves the file somewhere final. A plan
// without a placing action gets an implicit organize.
func (k Kind) Places() bool {
	switch k {
	case ActionExtract, ActionInstall, ActionIntegrate, ActionConvertMetadata, ActionOrganize:
		return true
	case ActionConvert:
		return false
	default:
		return false
	}
}

// Action is one step of a plan. Target is relative to the library.
type Action struct {
	Kind   Kind              `json:"kind"`
	Target string            `json:"target_location"`
	Params map[string]string `json:"params,omitempty"`
}

// BlockedAction notes an action the safety gate refused.
type BlockedAction struct {
	Kind   Kind   `json:"kind"`
	Reason string `json:"reason"`
}

// Plan is the ordered action list for one record.
type Plan struct {
	Actions        []Action        `json:"actions"`
	Blocked        []BlockedAction `json:"blocked,omitempty"`
	SyncTargets    []string        `json:"sync_targets"`
	PublishTargets []string        `json:"publish_targets,omitempty"`
	MarkerDir      string          `json:"marker_dir,omitempty"`
}

// Kinds lists the action kinds in order.
func (p Plan) Kinds() []Kind {
	out := make([]Kind, 0, len(p.Actions))
	for _, a := range p.Actions {
		out = append(out, a.Kind)
	}
	return out
}

// IsBlocked reports whether the safety gate downgraded anything.
func (p Plan) IsBlocked() bool {
	return len(p.Blocked) > 0
}

// String renders the plan compactly for logs.
func (p Plan) String() string {
	parts := make([]string, 0, len(p.Actions))
	for _, a := range p.Actions {
		parts = append(parts, string(a.Kind))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Encode serializes a plan for the ledger.
func Encode(p Plan) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode plan: %w", err)
	}
	return string(data), nil
}

// Decode parses a plan stored by Encode.
func Decode(raw string) (Plan, error) {
	var p Plan
	if strings.TrimSpace(raw) == "" {
		return p, fmt.Errorf("decode plan: empty")
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return p, fmt.Errorf("decode plan: %w", err)
	}
	return p, nil
}
