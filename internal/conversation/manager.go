package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/comigor/genieq/internal/history"
	"github.com/comigor/genieq/internal/logger"
	"github.com/comigor/genieq/internal/metrics"
	"github.com/comigor/genieq/internal/queue"
	"github.com/comigor/genieq/internal/remote"
	"github.com/comigor/genieq/internal/report"
	"github.com/comigor/genieq/internal/session"
)

var (
	// ErrUnknownSession is returned for a session id with neither state nor history.
	ErrUnknownSession = errors.New("unknown session")
	// ErrEmptyMessage rejects blank questions before they reach the queue.
	ErrEmptyMessage = errors.New("message is empty")
)

// Options configures a Manager.
type Options struct {
	Queue queue.Config
	// SessionTTL evicts sessions idle this long. Zero disables eviction.
	SessionTTL      time.Duration
	JanitorSchedule string
	Store           history.Store
	Metrics         *metrics.Metrics
	Logger          *slog.Logger
}

// Stats combines queue counters with the number of live sessions.
type Stats struct {
	queue.Stats
	Sessions int `json:"sessions"`
}

// Manager is the entry point for asking questions within sessions.
type Manager struct {
	registry *session.Registry
	queue    *queue.Queue
	pipeline *Pipeline
	opts     Options
	logger   *slog.Logger

	stopJanitor func()
}

// NewManager builds a manager whose workers call client through exec.
// Call Start before submitting.
func NewManager(client remote.Client, exec *remote.Executor, opts Options) *Manager {
	log := logger.Or(opts.Logger)
	registry := session.NewRegistry(session.WithStore(opts.Store), session.WithLogger(log))
	pipeline := NewPipeline(client, exec, log)
	return &Manager{
		registry: registry,
		queue:    queue.New(opts.Queue, registry, pipeline, queue.WithMetrics(opts.Metrics), queue.WithLogger(log)),
		pipeline: pipeline,
		opts:     opts,
		logger:   log,
	}
}

// Start launches the workers and, when a TTL is set, the idle-session janitor.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.queue.Start(ctx); err != nil {
		return err
	}
	if m.opts.SessionTTL > 0 {
		schedule := m.opts.JanitorSchedule
		if schedule == "" {
			schedule = "@every 1m"
		}
		stop, err := m.registry.StartJanitor(schedule, m.opts.SessionTTL, nil)
		if err != nil {
			return err
		}
		m.stopJanitor = stop
	}
	return nil
}

// Shutdown drains the queue and stops the janitor.
func (m *Manager) Shutdown(ctx context.Context) error {
	err := m.queue.Drain(ctx)
	if m.stopJanitor != nil {
		m.stopJanitor()
		m.stopJanitor = nil
	}
	return err
}

// NewSession registers a fresh session and returns its id.
func (m *Manager) NewSession() string {
	id := uuid.NewString()
	m.registry.Ensure(id)
	return id
}

// Submit queues message for sessionID, creating a session when the id is empty.
func (m *Manager) Submit(sessionID, message string) (*queue.Future, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}
	if sessionID == "" {
		sessionID = m.NewSession()
	}
	return m.queue.Submit(sessionID, message)
}

// Ask submits message and waits for the answer. When ctx ends first the
// request is cancelled.
func (m *Manager) Ask(ctx context.Context, sessionID, message string) (report.Response, error) {
	f, err := m.Submit(sessionID, message)
	if err != nil {
		return report.Response{SessionID: sessionID}, err
	}
	resp, err := f.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		f.Cancel()
		resp.SessionID = f.SessionID()
	}
	return resp, err
}

// AskImmediate runs message on the caller's goroutine, bypassing the queue
// but still serialized with everything else in the session.
func (m *Manager) AskImmediate(ctx context.Context, sessionID, message string) (report.Response, error) {
	if strings.TrimSpace(message) == "" {
		return report.Response{SessionID: sessionID}, ErrEmptyMessage
	}
	if sessionID == "" {
		sessionID = m.NewSession()
	}
	var resp report.Response
	err := m.registry.With(ctx, sessionID, func(l *session.Lease) error {
		var err error
		resp, err = m.pipeline.Process(ctx, l, message)
		return err
	})
	if resp.SessionID == "" {
		resp.SessionID = sessionID
	}
	return resp, err
}

// History returns the recorded messages of sessionID.
func (m *Manager) History(ctx context.Context, sessionID string) ([]history.Message, error) {
	msgs, err := m.registry.History(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", sessionID, err)
	}
	if len(msgs) == 0 {
		if _, ok := m.registry.Snapshot(sessionID); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
		}
	}
	return msgs, nil
}

// DeleteSession forgets sessionID and its history. Requests still queued for
// it fail with queue.ErrCancelled. A request already running finishes, but
// nothing it produces is written back to the session.
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	if _, ok := m.registry.Snapshot(sessionID); !ok {
		msgs, err := m.registry.History(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("load history for %s: %w", sessionID, err)
		}
		if len(msgs) == 0 {
			return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
		}
	}
	cancelled := m.queue.CancelSession(sessionID)
	if err := m.registry.Forget(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	m.logger.Info("session deleted", "session_id", sessionID, "cancelled", cancelled)
	return nil
}

// Sessions lists live sessions.
func (m *Manager) Sessions() []session.Info { return m.registry.List() }

// Stats reports queue counters and the session count.
func (m *Manager) Stats() Stats {
	return Stats{Stats: m.queue.Stats(), Sessions: len(m.registry.IDs())}
}
