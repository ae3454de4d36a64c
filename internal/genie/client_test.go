package genie

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/comigor/genieq/internal/config"
	"github.com/comigor/genieq/internal/remote"
)

const space = "space-1"

type fakeGenie struct {
	t     *testing.T
	mux   *http.ServeMux
	posts atomic.Int32
	polls atomic.Int32
}

func newFakeGenie(t *testing.T) (*fakeGenie, *httptest.Server) {
	f := &fakeGenie{t: t, mux: http.NewServeMux()}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		f.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func completedMessage(conv, id string) map[string]any {
	return map[string]any{
		"id":              id,
		"conversation_id": conv,
		"status":          "COMPLETED",
		"attachments": []map[string]any{
			{"attachment_id": "att-1", "query": map[string]any{
				"query":       "SELECT ProductName, TotalValue FROM sales",
				"description": "Total sales per product",
			}},
		},
	}
}

func newClient(srv *httptest.Server, spaceID string) *Client {
	return New(config.GenieConfig{
		Host:         srv.URL,
		Token:        "tok",
		SpaceID:      spaceID,
		PollInterval: time.Millisecond,
		PollTimeout:  time.Second,
		HTTPTimeout:  5 * time.Second,
	})
}

func (f *fakeGenie) handleStart() {
	f.mux.HandleFunc("POST /api/2.0/genie/spaces/space-1/start-conversation", func(w http.ResponseWriter, r *http.Request) {
		f.posts.Add(1)
		var body createMessageRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(f.t, "top products?", body.Content)
		writeJSON(w, map[string]any{
			"conversation_id": "conv-1",
			"message_id":      "msg-1",
			"message":         map[string]any{"id": "msg-1", "conversation_id": "conv-1", "status": "IN_PROGRESS"},
		})
	})
}

func (f *fakeGenie) handlePoll(statuses ...int) {
	f.mux.HandleFunc("GET /api/2.0/genie/spaces/space-1/conversations/conv-1/messages/msg-1", func(w http.ResponseWriter, r *http.Request) {
		n := int(f.polls.Add(1))
		if n <= len(statuses) && statuses[n-1] != 0 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(statuses[n-1])
			return
		}
		if n == 1 {
			writeJSON(w, map[string]any{"id": "msg-1", "conversation_id": "conv-1", "status": "EXECUTING_QUERY"})
			return
		}
		writeJSON(w, completedMessage("conv-1", "msg-1"))
	})
}

func TestStartOrContinue_NewConversation(t *testing.T) {
	f, srv := newFakeGenie(t)
	f.handleStart()
	f.handlePoll()

	reply, err := newClient(srv, space).StartOrContinue(t.Context(), "", "top products?")
	require.NoError(t, err)
	require.Equal(t, "conv-1", reply.ConversationID)
	require.Equal(t, "SELECT ProductName, TotalValue FROM sales", reply.QueryText)
	require.Equal(t, "Total sales per product", reply.Description)
	require.Equal(t, remote.Handle{ConversationID: "conv-1", MessageID: "msg-1", AttachmentID: "att-1"}, reply.Handle)
	require.Equal(t, int32(2), f.polls.Load())
}

func TestStartOrContinue_ExistingConversation(t *testing.T) {
	f, srv := newFakeGenie(t)
	f.mux.HandleFunc("POST /api/2.0/genie/spaces/space-1/conversations/conv-1/messages", func(w http.ResponseWriter, r *http.Request) {
		f.posts.Add(1)
		writeJSON(w, map[string]any{"id": "msg-1", "conversation_id": "conv-1", "status": "SUBMITTED"})
	})
	f.handlePoll()

	reply, err := newClient(srv, space).StartOrContinue(t.Context(), "conv-1", "and by region?")
	require.NoError(t, err)
	require.True(t, reply.Handle.HasResult())
	require.Equal(t, int32(1), f.posts.Load())
}

func TestStartOrContinue_RateLimitedPost(t *testing.T) {
	f, srv := newFakeGenie(t)
	f.mux.HandleFunc("POST /api/2.0/genie/spaces/space-1/start-conversation", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		writeJSON(w, map[string]any{"error_code": "RESOURCE_EXHAUSTED", "message": "slow down"})
	})

	_, err := newClient(srv, space).StartOrContinue(t.Context(), "", "top products?")
	require.True(t, remote.IsRateLimited(err))
	var re *remote.Error
	require.ErrorAs(t, err, &re)
	require.Equal(t, 3*time.Second, re.RetryAfter)
	require.Equal(t, http.StatusTooManyRequests, re.StatusCode)
	require.Equal(t, "RESOURCE_EXHAUSTED: slow down", re.Message)
}

func TestStartOrContinue_PollRateLimitIsAbsorbed(t *testing.T) {
	f, srv := newFakeGenie(t)
	f.handleStart()
	f.handlePoll(http.StatusTooManyRequests, http.StatusTooManyRequests)

	reply, err := newClient(srv, space).StartOrContinue(t.Context(), "", "top products?")
	require.NoError(t, err)
	require.True(t, reply.Handle.HasResult())
	require.Equal(t, int32(1), f.posts.Load(), "the message is posted once")
	require.Equal(t, int32(3), f.polls.Load())
}

func TestStartOrContinue_OtherError(t *testing.T) {
	f, srv := newFakeGenie(t)
	f.mux.HandleFunc("POST /api/2.0/genie/spaces/space-1/start-conversation", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		writeJSON(w, map[string]any{"error_code": "PERMISSION_DENIED", "message": "not the owner"})
	})

	_, err := newClient(srv, space).StartOrContinue(t.Context(), "", "top products?")
	require.Equal(t, remote.KindOther, remote.Classify(err))
	var re *remote.Error
	require.ErrorAs(t, err, &re)
	require.Equal(t, http.StatusForbidden, re.StatusCode)
	require.Contains(t, err.Error(), "not the owner")
}

func TestStartOrContinue_FailedMessage(t *testing.T) {
	f, srv := newFakeGenie(t)
	f.handleStart()
	f.mux.HandleFunc("GET /api/2.0/genie/spaces/space-1/conversations/conv-1/messages/msg-1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"id": "msg-1", "conversation_id": "conv-1", "status": "FAILED",
			"error": map[string]any{"error": "warehouse stopped"}})
	})

	reply, err := newClient(srv, space).StartOrContinue(t.Context(), "", "top products?")
	require.Equal(t, remote.KindOther, remote.Classify(err))
	require.Contains(t, err.Error(), "warehouse stopped")
	require.Equal(t, "conv-1", reply.ConversationID)
}

func TestStartOrContinue_PollTimeout(t *testing.T) {
	f, srv := newFakeGenie(t)
	f.handleStart()
	f.mux.HandleFunc("GET /api/2.0/genie/spaces/space-1/conversations/conv-1/messages/msg-1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"id": "msg-1", "conversation_id": "conv-1", "status": "ASKING_AI"})
	})
	c := newClient(srv, space)
	c.pollTimeout = 20 * time.Millisecond

	_, err := c.StartOrContinue(t.Context(), "", "top products?")
	require.ErrorContains(t, err, "not completed")
}

func TestStartOrContinue_TextOnlyAnswer(t *testing.T) {
	f, srv := newFakeGenie(t)
	f.handleStart()
	f.mux.HandleFunc("GET /api/2.0/genie/spaces/space-1/conversations/conv-1/messages/msg-1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"id": "msg-1", "conversation_id": "conv-1", "status": "COMPLETED",
			"attachments": []map[string]any{{"attachment_id": "t1", "text": map[string]any{"content": "Please rephrase."}}}})
	})

	reply, err := newClient(srv, space).StartOrContinue(t.Context(), "", "top products?")
	require.NoError(t, err)
	require.False(t, reply.Handle.HasResult())
	require.Equal(t, "Please rephrase.", reply.Text)
}

func TestFetchResult(t *testing.T) {
	f, srv := newFakeGenie(t)
	var calls atomic.Int32
	f.mux.HandleFunc("GET /api/2.0/genie/spaces/space-1/conversations/conv-1/messages/msg-1/attachments/att-1/query-result", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeJSON(w, map[string]any{"statement_response": map[string]any{"status": map[string]any{"state": "RUNNING"}}})
			return
		}
		_, _ = w.Write([]byte(`{"statement_response": {
			"statement_id": "st-1",
			"status": {"state": "SUCCEEDED"},
			"manifest": {"schema": {"columns": [
				{"name": "ProductName", "type_name": "STRING", "position": 0},
				{"name": "TotalValue", "type_name": "DECIMAL", "position": 1}]}},
			"result": {"data_array": [["Quinoa & Kale Bowl", "2271.50"], ["Vegan Pizza", null]]}}}`))
	})

	h := remote.Handle{ConversationID: "conv-1", MessageID: "msg-1", AttachmentID: "att-1"}
	rs, err := newClient(srv, space).FetchResult(t.Context(), h)
	require.NoError(t, err)
	require.Equal(t, remote.StatusSucceeded, rs.Status)
	require.Equal(t, "st-1", rs.StatementID)
	require.Equal(t, []remote.Column{{Name: "ProductName", Type: "STRING"}, {Name: "TotalValue", Type: "DECIMAL"}}, rs.Columns)
	require.Equal(t, [][]any{{"Quinoa & Kale Bowl", "2271.50"}, {"Vegan Pizza", nil}}, rs.Rows)
	require.Equal(t, int32(2), calls.Load())
}

func TestFetchResult_FailedStatement(t *testing.T) {
	f, srv := newFakeGenie(t)
	f.mux.HandleFunc("GET /api/2.0/genie/spaces/space-1/conversations/conv-1/messages/msg-1/attachments/att-1/query-result", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"statement_response": map[string]any{"status": map[string]any{
			"state": "FAILED", "error": map[string]any{"message": "[TABLE_OR_VIEW_NOT_FOUND] sales"}}}})
	})

	rs, err := newClient(srv, space).FetchResult(t.Context(), remote.Handle{ConversationID: "conv-1", MessageID: "msg-1", AttachmentID: "att-1"})
	require.NoError(t, err)
	require.Equal(t, remote.StatusFailed, rs.Status)
	require.Equal(t, "[TABLE_OR_VIEW_NOT_FOUND] sales", rs.Error)
}

func TestFetchResult_NoAttachment(t *testing.T) {
	_, srv := newFakeGenie(t)
	_, err := newClient(srv, space).FetchResult(t.Context(), remote.Handle{ConversationID: "c", MessageID: "m"})
	require.Error(t, err)
}

func TestSpaceID_DefaultsToFirstListed(t *testing.T) {
	f, srv := newFakeGenie(t)
	var lists atomic.Int32
	f.mux.HandleFunc("GET /api/2.0/genie/spaces", func(w http.ResponseWriter, r *http.Request) {
		lists.Add(1)
		if r.URL.Query().Get("page_token") == "" {
			writeJSON(w, map[string]any{"spaces": []map[string]any{{"space_id": "space-1", "title": "Sales"}}, "next_page_token": "p2"})
			return
		}
		writeJSON(w, map[string]any{"spaces": []map[string]any{{"space_id": "space-2", "title": "Ops", "description": "ops data"}}})
	})

	c := newClient(srv, "")
	spaces, err := c.ListSpaces(t.Context())
	require.NoError(t, err)
	require.Equal(t, []remote.Space{{ID: "space-1", Title: "Sales"}, {ID: "space-2", Title: "Ops", Description: "ops data"}}, spaces)

	id, err := c.SpaceID(t.Context())
	require.NoError(t, err)
	require.Equal(t, "space-1", id)
	_, err = c.SpaceID(t.Context())
	require.NoError(t, err)
	require.Equal(t, int32(4), lists.Load(), "the default space is cached")
}

func TestSpaceID_NoSpaces(t *testing.T) {
	f, srv := newFakeGenie(t)
	f.mux.HandleFunc("GET /api/2.0/genie/spaces", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"spaces": []any{}})
	})
	_, err := newClient(srv, "").SpaceID(t.Context())
	require.ErrorContains(t, err, "no Genie spaces")
}

func TestNew_Defaults(t *testing.T) {
	c := New(config.GenieConfig{Host: "adb-1.azuredatabricks.net/", RequestsPerSecond: 5})
	require.Equal(t, "https://adb-1.azuredatabricks.net", c.host)
	require.Equal(t, time.Second, c.pollInterval)
	require.NotNil(t, c.limiter)
	require.Equal(t, 1, c.limiter.Burst())
}
