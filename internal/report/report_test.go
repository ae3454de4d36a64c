package report

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/comigor/genieq/internal/remote"
)

const productQuery = "SELECT ProductName, SUM(Value) AS TotalValue FROM sales GROUP BY ProductName"

func productResult() remote.ResultSet {
	return remote.ResultSet{
		Status:  remote.StatusSucceeded,
		Columns: []remote.Column{{Name: "ProductName", Type: "STRING"}, {Name: "TotalValue", Type: "DECIMAL"}},
		Rows: [][]any{
			{"Quinoa & Kale Bowl", "2271.50"},
			{"Vegan Pizza", "2197.25"},
		},
	}
}

func TestFormat_ProductTable(t *testing.T) {
	resp := Format(productQuery, productResult())

	want := strings.Join([]string{
		"   ProductName     | TotalValue",
		"-------------------------------",
		"Quinoa & Kale Bowl |  2271.50  ",
		"   Vegan Pizza     |  2197.25  ",
	}, "\n")
	require.Equal(t, want, resp.Table)
	require.Equal(t, 2, resp.RowCount)
	require.False(t, resp.Failed())
	require.Equal(t, productQuery+"\n\n"+want, resp.String())

	lines := strings.Split(resp.Table, "\n")
	for _, l := range lines[2:] {
		require.Equal(t, len(lines[0]), len(l), "rows align with the header")
		require.Equal(t, strings.Index(lines[0], Delimiter), strings.Index(l, Delimiter))
	}
}

func TestFormat_EmptyRows(t *testing.T) {
	rs := productResult()
	rs.Rows = nil

	resp := Format("SELECT 1", rs)
	require.False(t, resp.Failed())
	require.Equal(t, "ProductName | TotalValue\n------------------------", resp.Table)
	require.Zero(t, resp.RowCount)
}

func TestFormat_FailedStatus(t *testing.T) {
	resp := Format("SELECT nope", remote.ResultSet{Status: remote.StatusFailed, Error: "[UNRESOLVED_COLUMN] nope"})
	require.True(t, resp.Failed())
	require.Empty(t, resp.Table)
	require.Equal(t, "SELECT nope\n\nError: [UNRESOLVED_COLUMN] nope", resp.String())

	resp = Format("SELECT nope", remote.ResultSet{Status: remote.StatusFailed})
	require.Equal(t, "query execution failed", resp.Error)
}

func TestFormat_PendingStatus(t *testing.T) {
	resp := Format("SELECT 1", remote.ResultSet{Status: remote.StatusPending})
	require.True(t, resp.Failed())
}

func TestFormat_LosslessCells(t *testing.T) {
	rs := remote.ResultSet{
		Status:  remote.StatusSucceeded,
		Columns: []remote.Column{{Name: "a"}, {Name: "b"}, {Name: "c"}, {Name: "d"}},
		Rows:    [][]any{{json.Number("0.1000"), nil, 42, []byte("raw")}},
	}
	resp := Format("q", rs)
	lines := strings.Split(resp.Table, "\n")
	require.Equal(t, "0.1000 | NULL | 42 | raw", lines[2])
}

func TestFormat_GeneratesColumnNamesWithoutSchema(t *testing.T) {
	rs := remote.ResultSet{Status: remote.StatusSucceeded, Rows: [][]any{{"x", "y"}}}
	resp := Format("q", rs)
	require.True(t, strings.HasPrefix(resp.Table, "Column_1 | Column_2\n"))
}

func TestFormat_ShortRowsArePadded(t *testing.T) {
	rs := remote.ResultSet{
		Status:  remote.StatusSucceeded,
		Columns: []remote.Column{{Name: "a"}, {Name: "b"}},
		Rows:    [][]any{{"only"}},
	}
	lines := strings.Split(Format("q", rs).Table, "\n")
	require.Equal(t, "only |  ", lines[2])
}

func TestTable_WideRunes(t *testing.T) {
	got := Table([]string{"名前"}, [][]string{{"ab"}})
	require.Equal(t, "名前\n----\n ab ", got)
}

func TestTable_NoColumns(t *testing.T) {
	require.Empty(t, Table(nil, nil))
}

func TestText(t *testing.T) {
	resp := Text(remote.Reply{ConversationID: "c1", Text: "I can only answer questions about sales."})
	require.Equal(t, "I can only answer questions about sales.", resp.String())
	require.Equal(t, "c1", resp.ConversationID)
}
