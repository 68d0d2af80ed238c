// Package broadcast delivers terminal records to named sync targets.
//
// Delivery is at-least-once: every ack or nack is stored per (hash, target)
// and nacked deliveries are retried on later scans until sync.max_attempts.
// Subscribers are expected to dedupe by hash.
package broadcast
