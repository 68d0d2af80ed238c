// Package daemon coordinates the long-running hopper process.
//
// It owns the single-instance flock, runs the pipeline's scan and pattern
// schedules, and feeds early scan requests from the filesystem watcher and
// the udev media monitor. Maintenance helpers used by the IPC surface
// (records, errors, invalidation) live here too.
package daemon
