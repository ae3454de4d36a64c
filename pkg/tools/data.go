package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/comigor/genieq/internal/history"
	"github.com/comigor/genieq/internal/remote"
	"github.com/comigor/genieq/internal/report"
)

// Asker is the part of the conversation manager the data tools use.
type Asker interface {
	Ask(ctx context.Context, sessionID, message string) (report.Response, error)
	History(ctx context.Context, sessionID string) ([]history.Message, error)
}

// AskTool queues a natural-language question and returns the formatted answer.
type AskTool struct {
	Asker Asker
}

func (t *AskTool) Name() string { return "ask_data" }

func (t *AskTool) Definition() mcp.Tool {
	return mcp.NewTool(t.Name(),
		mcp.WithDescription("Ask a natural-language question about the data. Returns the generated SQL and the result table. Pass session_id to continue a conversation."),
		mcp.WithString("question", mcp.Required(), mcp.Description("The question to answer")),
		mcp.WithString("session_id", mcp.Description("Session to continue; omitted starts a new one")),
	)
}

func (t *AskTool) Run(ctx context.Context, args map[string]any) (string, error) {
	question := stringArg(args, "question")
	if strings.TrimSpace(question) == "" {
		return "", errors.New("question is required")
	}
	resp, err := t.Asker.Ask(ctx, stringArg(args, "session_id"), question)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("session_id: %s\n\n%s", resp.SessionID, resp.String()), nil
}

// SpacesTool lists the spaces the backend can query.
type SpacesTool struct {
	Lister remote.SpaceLister
}

func (t *SpacesTool) Name() string { return "list_spaces" }

func (t *SpacesTool) Definition() mcp.Tool {
	return mcp.NewTool(t.Name(), mcp.WithDescription("List the data spaces available for questions."))
}

func (t *SpacesTool) Run(ctx context.Context, _ map[string]any) (string, error) {
	spaces, err := t.Lister.ListSpaces(ctx)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(spaces)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// HistoryTool returns the recorded turns of a session.
type HistoryTool struct {
	Asker Asker
}

func (t *HistoryTool) Name() string { return "session_history" }

func (t *HistoryTool) Definition() mcp.Tool {
	return mcp.NewTool(t.Name(),
		mcp.WithDescription("Show the questions and answers recorded in a session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to inspect")),
	)
}

func (t *HistoryTool) Run(ctx context.Context, args map[string]any) (string, error) {
	id := stringArg(args, "session_id")
	if id == "" {
		return "", errors.New("session_id is required")
	}
	msgs, err := t.Asker.History(ctx, id)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for i, m := range msgs {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%s] %s:\n%s", m.CreatedAt.Format("2006-01-02 15:04:05"), m.Role, m.Content)
	}
	return sb.String(), nil
}

// RegisterDataTools registers ask_data, session_history and, when lister is
// not nil, list_spaces.
func RegisterDataTools(m *ToolManager, asker Asker, lister remote.SpaceLister) {
	m.RegisterTool(&AskTool{Asker: asker})
	m.RegisterTool(&HistoryTool{Asker: asker})
	if lister != nil {
		m.RegisterTool(&SpacesTool{Lister: lister})
	}
}
