package main

import (
	"context"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/comigor/genieq/internal/logger"
)

var askSession string

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask one question and print the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logToStderr()
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
		defer cancel()

		a, err := newApp(cfg, nil, logger.L)
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.manager.Start(ctx); err != nil {
			return err
		}
		defer a.manager.Shutdown(context.Background())

		spinner, _ := pterm.DefaultSpinner.Start("Asking...")
		resp, err := a.manager.Ask(ctx, askSession, strings.Join(args, " "))
		if err != nil {
			spinner.Fail(err.Error())
			return err
		}
		spinner.Success("Answered in session " + resp.SessionID)
		printResponse(resp)
		return nil
	},
}

func init() {
	askCmd.Flags().StringVar(&askSession, "session", "", "session id to continue")
	rootCmd.AddCommand(askCmd)
}
