// Package logging assembles structured slog loggers for the hopper daemon and
// CLI.
//
// It owns the console and JSON handlers, per-run log files with a stable
// hopper.log pointer, and retention pruning. ContextFields lifts the content
// hash, action, tick, and correlation identifiers that the pipeline stores on
// context.Context into log attributes, so executor and broadcaster code does
// not need to thread them by hand.
package logging
