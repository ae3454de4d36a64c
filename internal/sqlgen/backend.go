// Package sqlgen is a local stand-in for Genie: a chat model turns questions
// into SQL and the queries run against a SQLite database.
package sqlgen

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"github.com/comigor/genieq/internal/llm"
	"github.com/comigor/genieq/internal/logger"
	"github.com/comigor/genieq/internal/remote"
)

const systemPrompt = `You translate questions about a SQLite database into a single read-only SQL query.
Answer with the query in a sql code block followed by one short sentence describing it.
If the question cannot be answered from the schema, reply with a short explanation and no query.

Schema:
%s`

type turn struct {
	question string
	answer   string
}

type conversation struct {
	turns   []turn
	queries map[string]string // attachment id -> SQL
}

// Backend implements remote.Client and remote.SpaceLister.
type Backend struct {
	db     *sql.DB
	name   string
	llm    llm.Client
	model  string
	logger *slog.Logger

	mu            sync.Mutex
	conversations map[string]*conversation
}

var (
	_ remote.Client      = (*Backend)(nil)
	_ remote.SpaceLister = (*Backend)(nil)
)

// Open opens the SQLite database at path in query-only mode.
func Open(path string, client llm.Client, model string, log *slog.Logger) (*Backend, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=query_only(1)&_pragma=busy_timeout(10000)")
	if err != nil {
		return nil, fmt.Errorf("open local database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open local database: %w", err)
	}
	b := New(db, client, model, log)
	b.name = filepath.Base(path)
	b.logger.Info("local SQL backend ready", "path", path, "model", model)
	return b, nil
}

// New wraps an open database.
func New(db *sql.DB, client llm.Client, model string, log *slog.Logger) *Backend {
	return &Backend{
		db:            db,
		name:          "local",
		llm:           client,
		model:         model,
		logger:        logger.Or(log),
		conversations: make(map[string]*conversation),
	}
}

func (b *Backend) Close() error { return b.db.Close() }

// ListSpaces reports the database as the only space.
func (b *Backend) ListSpaces(context.Context) ([]remote.Space, error) {
	return []remote.Space{{ID: "local", Title: b.name, Description: "local SQLite database"}}, nil
}

// Schema returns the CREATE statements of every user table.
func (b *Backend) Schema(ctx context.Context) (string, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT sql FROM sqlite_master WHERE type IN ('table','view') AND name NOT LIKE 'sqlite_%' AND sql IS NOT NULL ORDER BY name;`)
	if err != nil {
		return "", fmt.Errorf("read schema: %w", err)
	}
	defer rows.Close()

	var stmts []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return "", fmt.Errorf("read schema: %w", err)
		}
		stmts = append(stmts, s+";")
	}
	return strings.Join(stmts, "\n"), rows.Err()
}

// StartOrContinue asks the model for a query answering message, given the
// schema and the earlier turns of the conversation. A new conversation is
// only kept once the model answered.
func (b *Backend) StartOrContinue(ctx context.Context, conversationID, message string) (remote.Reply, error) {
	const op = "generate_sql"
	schema, err := b.Schema(ctx)
	if err != nil {
		return remote.Reply{}, remote.Other(op, err)
	}

	b.mu.Lock()
	conv, ok := b.conversations[conversationID]
	if !ok && conversationID != "" {
		b.mu.Unlock()
		return remote.Reply{}, remote.Other(op, fmt.Errorf("unknown conversation %s", conversationID))
	}
	var prior []turn
	if ok {
		prior = append(prior, conv.turns...)
	}
	b.mu.Unlock()

	msgs := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(systemPrompt, schema)}}
	for _, t := range prior {
		msgs = append(msgs,
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: t.question},
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: t.answer})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: message})

	resp, err := b.llm.CreateChatCompletion(ctx, openai.ChatCompletionRequest{Model: b.model, Messages: msgs})
	if err != nil {
		b.logger.Debug("chat completion failed", "conversation_id", conversationID, "error", err)
		return remote.Reply{ConversationID: conversationID}, llm.AsRemote(op, err)
	}
	if len(resp.Choices) == 0 {
		return remote.Reply{ConversationID: conversationID}, remote.Other(op, fmt.Errorf("model returned no choices"))
	}
	answer := resp.Choices[0].Message.Content
	query, description := ExtractSQL(answer)

	messageID := uuid.NewString()
	b.mu.Lock()
	if !ok {
		conversationID = uuid.NewString()
		conv = &conversation{queries: make(map[string]string)}
		b.conversations[conversationID] = conv
	}
	reply := remote.Reply{ConversationID: conversationID}
	conv.turns = append(conv.turns, turn{question: message, answer: answer})
	if query != "" {
		attachmentID := uuid.NewString()
		conv.queries[attachmentID] = query
		reply.QueryText = query
		reply.Description = description
		reply.Handle = remote.Handle{ConversationID: conversationID, MessageID: messageID, AttachmentID: attachmentID}
	} else {
		reply.Text = strings.TrimSpace(answer)
	}
	b.mu.Unlock()
	return reply, nil
}

// FetchResult runs the query behind h. Statements that are not read-only
// queries and execution errors yield a failed result, not an error.
func (b *Backend) FetchResult(ctx context.Context, h remote.Handle) (remote.ResultSet, error) {
	const op = "run_query"
	b.mu.Lock()
	var query string
	var ok bool
	if conv := b.conversations[h.ConversationID]; conv != nil {
		query, ok = conv.queries[h.AttachmentID]
	}
	b.mu.Unlock()
	if !ok {
		return remote.ResultSet{}, remote.Other(op, fmt.Errorf("no query for attachment %s", h.AttachmentID))
	}

	if !LooksLikeQuery(query) {
		return remote.ResultSet{Status: remote.StatusFailed, Error: "only single read-only SELECT statements are executed"}, nil
	}

	rows, err := b.db.QueryContext(ctx, query)
	if err != nil {
		return remote.ResultSet{Status: remote.StatusFailed, Error: err.Error()}, nil
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return remote.ResultSet{Status: remote.StatusFailed, Error: err.Error()}, nil
	}
	rs := remote.ResultSet{Status: remote.StatusSucceeded, Columns: make([]remote.Column, len(types))}
	for i, ct := range types {
		rs.Columns[i] = remote.Column{Name: ct.Name(), Type: ct.DatabaseTypeName()}
	}

	for rows.Next() {
		vals := make([]any, len(types))
		ptrs := make([]any, len(types))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return remote.ResultSet{Status: remote.StatusFailed, Error: err.Error()}, nil
		}
		for i, v := range vals {
			if raw, isBytes := v.([]byte); isBytes {
				vals[i] = string(raw)
			}
		}
		rs.Rows = append(rs.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return remote.ResultSet{Status: remote.StatusFailed, Error: err.Error()}, nil
	}
	return rs, nil
}
