package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/comigor/genieq/internal/logger"
	"github.com/comigor/genieq/pkg/tools"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve ask_data, list_spaces and session_history as MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		logToStderr()
		a, err := newApp(cfg, nil, logger.L)
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.manager.Start(cmd.Context()); err != nil {
			return err
		}
		defer a.manager.Shutdown(context.Background())

		tm := tools.NewToolManager(logger.L)
		tools.RegisterDataTools(tm, a.manager, a.backend)
		return tm.ServeStdio("genieq", Version)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
