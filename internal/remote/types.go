// Package remote defines the two-step conversational query protocol the
// request workers drive, the closed set of remote failure variants, and the
// executor that retries rate-limited calls.
package remote

import "context"

// Status is the execution state of a query result.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Handle identifies a query result produced by the first protocol step.
type Handle struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	AttachmentID   string `json:"attachment_id,omitempty"`
}

// HasResult reports whether the handle points at a fetchable result set.
// Text-only answers carry no attachment.
func (h Handle) HasResult() bool {
	return h.ConversationID != "" && h.MessageID != "" && h.AttachmentID != ""
}

// Reply is what StartOrContinue returns.
type Reply struct {
	ConversationID string `json:"conversation_id"`
	QueryText      string `json:"query,omitempty"`
	Description    string `json:"description,omitempty"`
	Text           string `json:"text,omitempty"`
	Handle         Handle `json:"handle"`
}

// Column describes one result column.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// ResultSet is a raw tabular result. Rows hold the scalar values exactly as
// the remote service delivered them.
type ResultSet struct {
	StatementID string   `json:"statement_id,omitempty"`
	Status      Status   `json:"status"`
	Error       string   `json:"error,omitempty"`
	Columns     []Column `json:"columns"`
	Rows        [][]any  `json:"rows"`
}

// ColumnNames returns the column names in order.
func (rs ResultSet) ColumnNames() []string {
	names := make([]string, len(rs.Columns))
	for i, c := range rs.Columns {
		names[i] = c.Name
	}
	return names
}

// Space is a queryable Genie space.
type Space struct {
	ID          string `json:"space_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Client is the remote collaborator. Implementations must report rate
// limiting as an *Error of KindRateLimited.
type Client interface {
	// StartOrContinue opens a conversation when conversationID is empty,
	// otherwise posts message into it, and waits for the generated answer.
	StartOrContinue(ctx context.Context, conversationID, message string) (Reply, error)

	// FetchResult retrieves the result set a previous reply points at.
	FetchResult(ctx context.Context, h Handle) (ResultSet, error)
}

// SpaceLister is implemented by backends that can enumerate spaces.
type SpaceLister interface {
	ListSpaces(ctx context.Context) ([]Space, error)
}
