// Command hopper runs the download-folder daemon and talks to it.
//
// "hopper daemon" runs the process in the foreground. Every other command
// either dials the daemon over its unix socket (status, records, show,
// errors, invalidate, scan, stop, test-notify) or works offline from the
// configuration alone (classify, config, mcp).
package main
