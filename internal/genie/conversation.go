package genie

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/comigor/genieq/internal/remote"
)

// StartOrContinue posts message to Genie, opening a conversation when
// conversationID is empty, and polls until the answer is ready.
//
// Only the initiating POST surfaces a rate-limit error. Rate limiting while
// polling is waited out and never causes the message to be posted again.
func (c *Client) StartOrContinue(ctx context.Context, conversationID, content string) (remote.Reply, error) {
	space, err := c.SpaceID(ctx)
	if err != nil {
		return remote.Reply{}, err
	}

	var msg message
	body := createMessageRequest{Content: content}
	if conversationID == "" {
		var resp startConversationResponse
		path := fmt.Sprintf("%s/%s/start-conversation", apiPrefix, url.PathEscape(space))
		if err := c.do(ctx, "start_conversation", http.MethodPost, path, nil, body, &resp); err != nil {
			return remote.Reply{}, err
		}
		if resp.Message != nil {
			msg = *resp.Message
		}
		if msg.ConversationID == "" {
			msg.ConversationID = resp.ConversationID
		}
		if msg.ConversationID == "" && resp.Conversation != nil {
			msg.ConversationID = resp.Conversation.ID
		}
		if msg.ID == "" {
			msg.ID = resp.MessageID
		}
		c.logger.Debug("genie conversation started", "conversation_id", msg.ConversationID, "message_id", msg.ID)
	} else {
		path := fmt.Sprintf("%s/%s/conversations/%s/messages", apiPrefix, url.PathEscape(space), url.PathEscape(conversationID))
		if err := c.do(ctx, "create_message", http.MethodPost, path, nil, body, &msg); err != nil {
			return remote.Reply{}, err
		}
		if msg.ConversationID == "" {
			msg.ConversationID = conversationID
		}
	}
	if msg.ConversationID == "" || msg.ID == "" {
		return remote.Reply{}, remote.Other("create_message", errors.New("response carried no conversation or message id"))
	}

	done, err := c.waitMessage(ctx, space, msg)
	if err != nil {
		return remote.Reply{ConversationID: msg.ConversationID}, err
	}
	return toReply(done), nil
}

func (c *Client) waitMessage(ctx context.Context, space string, msg message) (message, error) {
	const op = "get_message"
	path := fmt.Sprintf("%s/%s/conversations/%s/messages/%s",
		apiPrefix, url.PathEscape(space), url.PathEscape(msg.ConversationID), url.PathEscape(msg.ID))
	deadline := c.now().Add(c.pollTimeout)

	for {
		switch msg.Status {
		case stateCompleted:
			return msg, nil
		case stateFailed, stateCancelled, stateQueryResultExpired:
			reason := strings.ToLower(msg.Status)
			if msg.Error != nil && msg.Error.Error != "" {
				reason += ": " + msg.Error.Error
			}
			return msg, remote.Other(op, fmt.Errorf("message %s %s", msg.ID, reason))
		}

		if !c.now().Before(deadline) {
			return msg, remote.Other(op, fmt.Errorf("message %s not completed after %s (status %s)", msg.ID, c.pollTimeout, msg.Status))
		}
		if err := remote.SleepContext(ctx, c.pollInterval); err != nil {
			return msg, remote.Other(op, err)
		}

		var next message
		err := c.do(ctx, op, http.MethodGet, path, nil, nil, &next)
		switch {
		case err == nil:
			msg = next
		case remote.IsRateLimited(err):
			var re *remote.Error
			if errors.As(err, &re) && re.RetryAfter > 0 {
				c.logger.Debug("genie poll rate limited", "message_id", msg.ID, "retry_after", re.RetryAfter.String())
				if err := remote.SleepContext(ctx, re.RetryAfter); err != nil {
					return msg, remote.Other(op, err)
				}
			}
		default:
			return msg, err
		}
	}
}

// toReply picks the first query attachment as the result handle and joins
// any text attachments.
func toReply(msg message) remote.Reply {
	reply := remote.Reply{ConversationID: msg.ConversationID}
	var texts []string
	for _, a := range msg.Attachments {
		if a.Text != nil && a.Text.Content != "" {
			texts = append(texts, a.Text.Content)
		}
		if a.Query != nil && reply.Handle.AttachmentID == "" {
			reply.QueryText = a.Query.Query
			reply.Description = a.Query.Description
			if reply.Description == "" {
				reply.Description = a.Query.Title
			}
			reply.Handle = remote.Handle{ConversationID: msg.ConversationID, MessageID: msg.ID, AttachmentID: a.AttachmentID}
		}
	}
	reply.Text = strings.Join(texts, "\n")
	return reply
}

// FetchResult downloads the query result behind h, polling while the
// statement is still executing. A result still pending at the poll timeout is
// returned with StatusPending.
func (c *Client) FetchResult(ctx context.Context, h remote.Handle) (remote.ResultSet, error) {
	const op = "get_query_result"
	if !h.HasResult() {
		return remote.ResultSet{}, remote.Other(op, errors.New("handle has no attachment"))
	}
	space, err := c.SpaceID(ctx)
	if err != nil {
		return remote.ResultSet{}, err
	}
	path := fmt.Sprintf("%s/%s/conversations/%s/messages/%s/attachments/%s/query-result",
		apiPrefix, url.PathEscape(space), url.PathEscape(h.ConversationID), url.PathEscape(h.MessageID), url.PathEscape(h.AttachmentID))
	deadline := c.now().Add(c.pollTimeout)

	for {
		var resp queryResultResponse
		if err := c.do(ctx, op, http.MethodGet, path, nil, nil, &resp); err != nil {
			return remote.ResultSet{}, err
		}
		rs := toResultSet(resp.StatementResponse)
		if rs.Status != remote.StatusPending || !c.now().Before(deadline) {
			return rs, nil
		}
		if err := remote.SleepContext(ctx, c.pollInterval); err != nil {
			return rs, remote.Other(op, err)
		}
	}
}

func toResultSet(sr statementResponse) remote.ResultSet {
	rs := remote.ResultSet{StatementID: sr.StatementID}
	switch sr.Status.State {
	case statementSucceeded:
		rs.Status = remote.StatusSucceeded
	case statementPending, statementRunning, "":
		rs.Status = remote.StatusPending
	default:
		rs.Status = remote.StatusFailed
		rs.Error = "statement " + strings.ToLower(sr.Status.State)
		if sr.Status.Error != nil && sr.Status.Error.Message != "" {
			rs.Error = sr.Status.Error.Message
		}
		return rs
	}
	for _, col := range sr.Manifest.Schema.Columns {
		rs.Columns = append(rs.Columns, remote.Column{Name: col.Name, Type: col.TypeName})
	}
	rs.Rows = sr.Result.DataArray
	return rs
}
