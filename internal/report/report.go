// Package report renders raw column/row results into aligned text tables and
// the combined answer returned to callers.
package report

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/comigor/genieq/internal/remote"
)

// Delimiter separates columns in a rendered row.
const Delimiter = " | "

// NullText is how a missing value is rendered.
const NullText = "NULL"

// Response is the terminal artifact handed to the caller.
type Response struct {
	SessionID      string        `json:"session_id,omitempty"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Query          string        `json:"query,omitempty"`
	Description    string        `json:"description,omitempty"`
	Table          string        `json:"table,omitempty"`
	Error          string        `json:"error,omitempty"`
	Status         remote.Status `json:"status,omitempty"`
	RowCount       int           `json:"row_count"`
}

// Failed reports whether the result carried an error instead of a table.
func (r Response) Failed() bool { return r.Error != "" }

// String concatenates the generated query, a blank line, and the table (or
// the error description). A reply without a query renders its text alone.
func (r Response) String() string {
	body := r.Table
	if r.Failed() {
		body = "Error: " + r.Error
	}
	if body == "" {
		body = r.Description
	}
	if r.Query == "" {
		return body
	}
	return r.Query + "\n\n" + body
}

// Format renders result under the generated query.
func Format(generatedQuery string, result remote.ResultSet) Response {
	resp := Response{Query: generatedQuery, Status: result.Status}
	switch result.Status {
	case remote.StatusFailed:
		resp.Error = result.Error
		if resp.Error == "" {
			resp.Error = "query execution failed"
		}
		return resp
	case remote.StatusPending:
		resp.Error = "query result is not ready"
		return resp
	}

	columns := result.ColumnNames()
	if len(columns) == 0 && len(result.Rows) > 0 {
		for i := range result.Rows[0] {
			columns = append(columns, fmt.Sprintf("Column_%d", i+1))
		}
	}

	rows := make([][]string, len(result.Rows))
	for i, row := range result.Rows {
		cells := make([]string, len(columns))
		for j := range columns {
			if j < len(row) {
				cells[j] = Stringify(row[j])
			}
		}
		rows[i] = cells
	}

	resp.Table = Table(columns, rows)
	resp.RowCount = len(rows)
	return resp
}

// Text builds a response for an answer that carried no query result.
func Text(reply remote.Reply) Response {
	text := reply.Text
	if text == "" {
		text = reply.Description
	}
	return Response{ConversationID: reply.ConversationID, Query: reply.QueryText, Description: text, Status: remote.StatusSucceeded}
}

// Stringify renders a scalar exactly as delivered.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return NullText
	case string:
		return x
	case json.Number:
		return x.String()
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// Table lays out header and rows with each column as wide as its widest
// cell, values centered, and a dashed rule under the header.
func Table(columns []string, rows [][]string) string {
	if len(columns) == 0 {
		return ""
	}

	widths := make([]int, len(columns))
	for i, c := range columns {
		widths[i] = runewidth.StringWidth(c)
	}
	for _, row := range rows {
		for i := range columns {
			if i < len(row) {
				widths[i] = max(widths[i], runewidth.StringWidth(row[i]))
			}
		}
	}

	header := renderRow(columns, widths)
	lines := make([]string, 0, len(rows)+2)
	lines = append(lines, header, strings.Repeat("-", runewidth.StringWidth(header)))
	for _, row := range rows {
		lines = append(lines, renderRow(row, widths))
	}
	return strings.Join(lines, "\n")
}

func renderRow(cells []string, widths []int) string {
	parts := make([]string, len(widths))
	for i, w := range widths {
		var cell string
		if i < len(cells) {
			cell = cells[i]
		}
		parts[i] = center(cell, w)
	}
	return strings.Join(parts, Delimiter)
}

// center pads s to width, putting the odd space on the right.
func center(s string, width int) string {
	pad := width - runewidth.StringWidth(s)
	if pad <= 0 {
		return s
	}
	left := pad / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", pad-left)
}
