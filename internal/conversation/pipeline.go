// Package conversation drives the two-step remote protocol for each request
// and exposes the session-oriented API the outer surfaces use.
package conversation

import (
	"context"
	"log/slog"

	"github.com/comigor/genieq/internal/history"
	"github.com/comigor/genieq/internal/logger"
	"github.com/comigor/genieq/internal/remote"
	"github.com/comigor/genieq/internal/report"
	"github.com/comigor/genieq/internal/session"
)

// Step names used in errors, logs and metrics.
const (
	StepStartOrContinue = "start_or_continue"
	StepFetchResult     = "fetch_result"
)

// Pipeline runs one exchange inside a held session: ask the remote service,
// fetch the result it points at, and format the answer. Each remote step is
// retried independently.
type Pipeline struct {
	client remote.Client
	exec   *remote.Executor
	logger *slog.Logger
}

// NewPipeline wires client through exec.
func NewPipeline(client remote.Client, exec *remote.Executor, log *slog.Logger) *Pipeline {
	return &Pipeline{client: client, exec: exec, logger: logger.Or(log)}
}

// Process implements queue.Processor.
func (p *Pipeline) Process(ctx context.Context, lease *session.Lease, message string) (report.Response, error) {
	sid := lease.SessionID()
	// History writes outlive cancellation like the remote calls do.
	hctx := context.WithoutCancel(ctx)
	if err := lease.Record(hctx, history.RoleUser, message); err != nil {
		p.logger.Warn("failed to record user message", "session_id", sid, "error", err)
	}

	reply, err := remote.Do(ctx, p.exec, StepStartOrContinue, func(ctx context.Context) (remote.Reply, error) {
		r, err := p.client.StartOrContinue(ctx, lease.RemoteID(), message)
		// A conversation created by a failed call is still the one to continue.
		if r.ConversationID != "" {
			lease.SetRemoteID(r.ConversationID)
		}
		return r, err
	})
	if err != nil {
		return report.Response{SessionID: sid, ConversationID: lease.RemoteID()}, err
	}

	var resp report.Response
	if reply.Handle.HasResult() {
		rs, err := remote.Do(ctx, p.exec, StepFetchResult, func(ctx context.Context) (remote.ResultSet, error) {
			return p.client.FetchResult(ctx, reply.Handle)
		})
		if err != nil {
			return report.Response{SessionID: sid, ConversationID: lease.RemoteID(), Query: reply.QueryText}, err
		}
		resp = report.Format(reply.QueryText, rs)
		resp.Description = reply.Description
	} else {
		resp = report.Text(reply)
	}
	resp.SessionID = sid
	resp.ConversationID = lease.RemoteID()

	if resp.Failed() {
		p.logger.Info("query returned an error", "session_id", sid, "error", resp.Error)
	}
	if err := lease.Record(hctx, history.RoleAssistant, resp.String()); err != nil {
		p.logger.Warn("failed to record assistant message", "session_id", sid, "error", err)
	}
	return resp, nil
}
