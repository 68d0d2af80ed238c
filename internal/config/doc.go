// Package config loads, normalizes, and validates hopper configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// HOPPER_ROOTS. The Config type centralizes every knob the daemon and CLI
// need: watched roots, the organized library, scan schedules, safety gates,
// and downstream sync targets.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
