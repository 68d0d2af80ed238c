// Package preflight provides readiness checks for the filesystem paths,
// sync endpoints, and external tools hopper depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll and CheckSystemDeps at startup and logs every
//     failure as a warning; scans still run.
//   - The CLI "hopper status" command renders the same results.
//
// Each check is gated by its config toggle. Disabled features are skipped.
package preflight
