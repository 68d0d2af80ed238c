// Package mcpserver exposes the ledger to a content-generation collaborator
// over the Model Context Protocol.
//
// Each tool follows the same shape:
//   - a struct holding the ledger store, injected via constructor
//   - Definition() returns the mcp.Tool schema
//   - Handle() reads the ledger and returns a text result
//
// The tools are read-only. The collaborator reworks files out of band and
// drops the results back into a watched root, where they are processed like
// any other new content.
package mcpserver
