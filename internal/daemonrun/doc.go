// Package daemonrun wires the long-running hopper process: logging, the
// ledger, the pipeline, the daemon, and its IPC socket.
package daemonrun
