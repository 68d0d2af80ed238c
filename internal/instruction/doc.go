// Package instruction parses per-directory marker files into plans that
// govern every file beneath the directory.
//
// A marker is applied once per content hash: the parsed plan is stored in the
// ledger and later scans reuse it. Custom commands are confined to a
// workspace under the library and never start a process.
package instruction
