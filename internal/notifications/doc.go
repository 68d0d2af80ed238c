// Package notifications delivers pipeline events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and degrades to a no-op when notifications are disabled. Tick
// summaries are only sent when a scan recorded failures.
//
// All pipeline code depends only on the Service interface.
package notifications
