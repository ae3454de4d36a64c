package main

import (
	"github.com/spf13/cobra"

	"github.com/comigor/genieq/internal/logger"
)

var spacesCmd = &cobra.Command{
	Use:   "spaces",
	Short: "List the spaces the backend can query",
	RunE: func(cmd *cobra.Command, args []string) error {
		logToStderr()
		b, err := newBackend(cfg, logger.L)
		if err != nil {
			return err
		}
		if c, ok := b.(interface{ Close() error }); ok {
			defer c.Close()
		}
		spaces, err := b.ListSpaces(cmd.Context())
		if err != nil {
			return err
		}
		return printSpaces(spaces)
	},
}

func init() {
	rootCmd.AddCommand(spacesCmd)
}
