package main

import (
	"os"

	"github.com/pterm/pterm"

	"github.com/comigor/genieq/internal/logger"
	"github.com/comigor/genieq/internal/remote"
	"github.com/comigor/genieq/internal/report"
)

// logToStderr keeps stdout for answers and protocol traffic.
func logToStderr() {
	logger.SetOutput(os.Stderr)
}

func printResponse(resp report.Response) {
	if resp.Query != "" {
		pterm.DefaultSection.Println("Query")
		pterm.Println(resp.Query)
	}
	switch {
	case resp.Failed():
		pterm.Error.Println(resp.Error)
	case resp.Table != "":
		pterm.DefaultSection.Printfln("Result (%d rows)", resp.RowCount)
		pterm.Println(resp.Table)
	case resp.Description != "":
		pterm.Info.Println(resp.Description)
	}
}

func printSpaces(spaces []remote.Space) error {
	if len(spaces) == 0 {
		pterm.Warning.Println("No spaces found")
		return nil
	}
	data := pterm.TableData{{"ID", "Title", "Description"}}
	for _, s := range spaces {
		data = append(data, []string{s.ID, s.Title, s.Description})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
