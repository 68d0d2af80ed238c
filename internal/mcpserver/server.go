package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"

	"hopper/internal/ledger"
)

// New creates the MCP server with every ledger tool registered.
func New(store *ledger.Store, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"hopper",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	listTool := NewListModifiableTool(store)
	s.AddTool(listTool.Definition(), listTool.Handle)

	entryTool := NewGetEntryTool(store)
	s.AddTool(entryTool.Definition(), entryTool.Handle)

	errorsTool := NewListErrorsTool(store)
	s.AddTool(errorsTool.Definition(), errorsTool.Handle)

	return s
}

// Serve runs the server over stdin/stdout until the client disconnects.
func Serve(store *ledger.Store, version string) error {
	return server.ServeStdio(New(store, version))
}

const instructions = `Hopper files new downloads into a library and records each one in a ledger.
Use list_modifiable_entries to find files you may rework, get_entry for the
details of one file, and list_errors to see what failed. Write reworked files
into a watched root; hopper picks them up on its next scan.`
