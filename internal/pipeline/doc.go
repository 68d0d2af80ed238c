// Package pipeline schedules scans and drives each file through the
// component graph: scanner, dedup, instruction interpreter, classifier,
// planner, executor, then broadcast and publishing.
//
// A directory's marker is applied on the walking goroutine before any of
// the directory's files is handed to the worker pool, so instructions
// always govern their siblings. Archive members come back from the
// executor and re-enter at dedup with their depth and origin.
package pipeline
