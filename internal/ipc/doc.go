// Package ipc exposes the daemon over JSON-RPC on a Unix socket and ships
// the matching client used by the CLI.
//
// It owns socket lifecycle management, request/response types, and the
// conversion of ledger records into wire representations. Reuse these types
// when adding endpoints so the protocol stays stable.
package ipc
