// Package planner merges a classification with the governing instruction
// plan into an ordered, safety-gated action plan.
//
// Unattended install needs three things: a host-compatible installer, a
// non-interactive invocation for its format, and confirmation from the
// marker's install directive or safety.allow_unattended_install. Anything
// short of that is downgraded to organize and noted in Plan.Blocked. Every
// plan ends with a placing action.
package planner
