package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mark3labs/mcp-go/mcp"

	"hopper/internal/classify"
	"hopper/internal/ipc"
	"hopper/internal/ledger"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// intArg extracts an integer argument from a tool request, returning
// defaultVal if the key is missing or not a number (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return min(limit, maxListLimit)
}

// ListModifiableTool handles the list_modifiable_entries tool.
type ListModifiableTool struct {
	store *ledger.Store
}

// NewListModifiableTool creates a ListModifiableTool.
func NewListModifiableTool(store *ledger.Store) *ListModifiableTool {
	return &ListModifiableTool{store: store}
}

// Definition returns the MCP tool definition for list_modifiable_entries.
func (t *ListModifiableTool) Definition() mcp.Tool {
	return mcp.NewTool("list_modifiable_entries",
		mcp.WithDescription(
			"List completed files whose category may be reworked: "+
				strings.Join(classify.ModifiableCategories(), ", ")+". Newest first.",
		),
		mcp.WithString("category",
			mcp.Description("Restrict to one modifiable category"),
		),
		mcp.WithNumber("limit",
			mcp.Description(fmt.Sprintf("Maximum entries to return (default %d, max %d)", defaultListLimit, maxListLimit)),
		),
	)
}

// Handle processes the list_modifiable_entries tool call.
func (t *ListModifiableTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	categories := classify.ModifiableCategories()
	if raw := req.GetString("category", ""); raw != "" {
		category, err := classify.ParseCategory(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if !category.Modifiable() {
			return mcp.NewToolResultError(fmt.Sprintf("category %q is not modifiable", category)), nil
		}
		categories = []string{string(category)}
	}

	records, err := t.store.ListModifiable(ctx, categories)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list entries: %v", err)), nil
	}
	limit := clampLimit(intArg(req, "limit", defaultListLimit))
	total := len(records)
	if len(records) > limit {
		records = records[:limit]
	}
	if total == 0 {
		return mcp.NewToolResultText("No modifiable entries."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Modifiable entries (%d of %d)\n\n", len(records), total)
	for _, r := range records {
		fmt.Fprintf(&sb, "- `%s` **%s** (%s, %s)\n", r.Hash, r.FirstPath, r.Category, humanize.IBytes(uint64(max(r.Size, 0))))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// GetEntryTool handles the get_entry tool.
type GetEntryTool struct {
	store *ledger.Store
}

// NewGetEntryTool creates a GetEntryTool.
func NewGetEntryTool(store *ledger.Store) *GetEntryTool {
	return &GetEntryTool{store: store}
}

// Definition returns the MCP tool definition for get_entry.
func (t *GetEntryTool) Definition() mcp.Tool {
	return mcp.NewTool("get_entry",
		mcp.WithDescription(
			"Return everything known about one file as JSON: its record, governing plan, "+
				"paths it was seen at, placements in the library, sync deliveries and publishing receipts.",
		),
		mcp.WithString("hash",
			mcp.Required(),
			mcp.Description("Content hash as listed by list_modifiable_entries"),
		),
	)
}

// Handle processes the get_entry tool call.
func (t *GetEntryTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	hash := strings.TrimSpace(req.GetString("hash", ""))
	if hash == "" {
		return mcp.NewToolResultError("hash is required"), nil
	}
	entry, err := t.store.Describe(ctx, hash)
	if errors.Is(err, ledger.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("no entry for %s", hash)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load entry: %v", err)), nil
	}
	data, err := json.MarshalIndent(ipc.FromEntry(entry), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode entry: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ListErrorsTool handles the list_errors tool.
type ListErrorsTool struct {
	store *ledger.Store
}

// NewListErrorsTool creates a ListErrorsTool.
func NewListErrorsTool(store *ledger.Store) *ListErrorsTool {
	return &ListErrorsTool{store: store}
}

// Definition returns the MCP tool definition for list_errors.
func (t *ListErrorsTool) Definition() mcp.Tool {
	return mcp.NewTool("list_errors",
		mcp.WithDescription("List the newest processing errors with their kind and path."),
		mcp.WithNumber("limit",
			mcp.Description(fmt.Sprintf("Maximum errors to return (default %d, max %d)", defaultListLimit, maxListLimit)),
		),
	)
}

// Handle processes the list_errors tool call.
func (t *ListErrorsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := t.store.ListErrors(ctx, clampLimit(intArg(req, "limit", defaultListLimit)))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list errors: %v", err)), nil
	}
	if len(entries) == 0 {
		return mcp.NewToolResultText("No errors recorded."), nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Errors (%d)\n\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(&sb, "- %s [%s] %s: %s\n", e.Time.UTC().Format("2006-01-02 15:04:05"), e.Kind, e.Path, e.Message)
	}
	return mcp.NewToolResultText(sb.String()), nil
}
