// Package executor runs action plans against admitted records.
//
// Run walks a record from planned through executing to completed or failed.
// Every action runs under a hard timeout; filesystem mutations hold a lock on
// their destination directory; originals are always copied, never moved.
// Extract returns the produced members so the caller can scan them as new
// candidates one level deeper.
package executor
