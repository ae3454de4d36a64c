package main

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/comigor/genieq/internal/logger"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Ask questions interactively within one session",
	RunE: func(cmd *cobra.Command, args []string) error {
		logToStderr()
		ctx := cmd.Context()

		a, err := newApp(cfg, nil, logger.L)
		if err != nil {
			return err
		}
		defer a.Close()
		if err := a.manager.Start(ctx); err != nil {
			return err
		}
		defer a.manager.Shutdown(context.Background())

		line := liner.NewLiner()
		defer line.Close()
		line.SetCtrlCAborts(true)

		histPath := chatHistoryPath()
		if f, err := os.Open(histPath); err == nil {
			_, _ = line.ReadHistory(f)
			f.Close()
		}
		defer func() {
			if histPath == "" {
				return
			}
			if f, err := os.Create(histPath); err == nil {
				_, _ = line.WriteHistory(f)
				f.Close()
			}
		}()

		sessionID := a.manager.NewSession()
		pterm.Info.Printfln("Session %s. Type /new for a fresh session, /quit to leave.", sessionID)
		for {
			input, err := line.Prompt("genieq> ")
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			input = strings.TrimSpace(input)
			switch input {
			case "":
				continue
			case "/quit", "/exit":
				return nil
			case "/new":
				sessionID = a.manager.NewSession()
				pterm.Info.Printfln("Session %s", sessionID)
				continue
			}
			line.AppendHistory(input)

			spinner, _ := pterm.DefaultSpinner.WithRemoveWhenDone(true).Start("Thinking...")
			resp, err := a.manager.Ask(ctx, sessionID, input)
			spinner.Stop()
			if err != nil {
				pterm.Error.Println(err.Error())
				continue
			}
			printResponse(resp)
		}
	},
}

func chatHistoryPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	dir = filepath.Join(dir, "genieq")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ""
	}
	return filepath.Join(dir, "chat_history")
}

func init() {
	rootCmd.AddCommand(chatCmd)
}
