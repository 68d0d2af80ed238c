package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"hopper/internal/ledger"
	"hopper/internal/mcpserver"
)

func newMCPCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the ledger to a content generator over MCP (stdio)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := ledger.Open(cfg)
			if err != nil {
				return fmt.Errorf("open ledger: %w", err)
			}
			defer store.Close()
			return mcpserver.Serve(store, version)
		},
	}
}
