// Package queue admits conversation requests into a bounded FIFO and runs them
// on a fixed pool of workers, never more than one at a time per session.
package queue

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/comigor/genieq/internal/logger"
	"github.com/comigor/genieq/internal/metrics"
	"github.com/comigor/genieq/internal/remote"
	"github.com/comigor/genieq/internal/report"
	"github.com/comigor/genieq/internal/session"
)

var (
	// ErrQueueFull is returned by Submit when maxQueueSize requests are already pending.
	ErrQueueFull = errors.New("request queue is full")
	// ErrShuttingDown is returned for submissions after Drain began and for
	// requests still queued when a drain deadline expires.
	ErrShuttingDown = errors.New("request queue is shutting down")
	// ErrCancelled resolves a request whose future was cancelled.
	ErrCancelled = errors.New("request cancelled")
)

// Processor runs one request while its session is held.
type Processor interface {
	Process(ctx context.Context, lease *session.Lease, message string) (report.Response, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, lease *session.Lease, message string) (report.Response, error)

func (f ProcessorFunc) Process(ctx context.Context, lease *session.Lease, message string) (report.Response, error) {
	return f(ctx, lease, message)
}

// Config sizes the queue.
type Config struct {
	MaxQueueSize int
	Workers      int
	// SessionWaitTimeout fails a request still pending this long after
	// submission. Zero disables it.
	SessionWaitTimeout time.Duration
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Pending   int    `json:"pending"`
	Running   int    `json:"running"`
	Submitted uint64 `json:"submitted"`
	Succeeded uint64 `json:"succeeded"`
	Failed    uint64 `json:"failed"`
	Rejected  uint64 `json:"rejected"`
	Workers   int    `json:"workers"`
}

// Queue owns the pending list; the session registry owns the per-session locks.
type Queue struct {
	cfg      Config
	proc     Processor
	registry *session.Registry
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	cond     *sync.Cond
	pending  *list.List
	running  int
	closed   bool
	stopping bool
	stats    Stats
	group    *errgroup.Group
	runCtx   context.Context
}

// Option configures a Queue.
type Option func(*Queue)

// WithMetrics reports queue activity to m. Nil disables metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(q *Queue) { q.metrics = m } }

// WithLogger sets the queue's logger.
func WithLogger(l *slog.Logger) Option { return func(q *Queue) { q.logger = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(q *Queue) { q.now = now } }

// New builds a stopped queue. Call Start to launch the workers.
func New(cfg Config, registry *session.Registry, proc Processor, opts ...Option) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 1
	}
	q := &Queue{
		cfg:      cfg,
		proc:     proc,
		registry: registry,
		now:      time.Now,
		pending:  list.New(),
	}
	for _, o := range opts {
		o(q)
	}
	q.logger = logger.Or(q.logger)
	q.cond = sync.NewCond(&q.mu)
	q.stats.Workers = cfg.Workers

	registry.OnRelease(func(string) { q.wake() })
	return q
}

func (q *Queue) wake() {
	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Start launches the workers. Cancelling ctx stops the queue abruptly:
// pending requests fail with ErrShuttingDown and running ones see a
// cancelled context.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.group != nil {
		return errors.New("queue already started")
	}
	if q.closed {
		return ErrShuttingDown
	}

	g, gctx := errgroup.WithContext(ctx)
	q.group, q.runCtx = g, gctx
	for i := 0; i < q.cfg.Workers; i++ {
		worker := i
		g.Go(func() error { return q.work(worker) })
	}
	if q.cfg.SessionWaitTimeout > 0 {
		g.Go(func() error { return q.expireLoop(gctx) })
	}
	context.AfterFunc(gctx, func() {
		q.mu.Lock()
		if !q.stopping {
			q.logger.Warn("queue context cancelled, stopping")
		}
		q.closed, q.stopping = true, true
		q.flushLocked(ErrShuttingDown)
		q.cond.Broadcast()
		q.mu.Unlock()
	})

	q.logger.Info("request queue started", "workers", q.cfg.Workers, "max_queue_size", q.cfg.MaxQueueSize)
	return nil
}

// Submit admits a request for sessionID. It never blocks: a full queue
// yields ErrQueueFull and leaves the pending list untouched.
func (q *Queue) Submit(sessionID, message string) (*Future, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.rejectLocked()
		return nil, ErrShuttingDown
	}
	if n := q.pending.Len(); n >= q.cfg.MaxQueueSize {
		q.rejectLocked()
		q.logger.Warn("queue full, rejecting request", "session_id", sessionID, "pending", n)
		return nil, fmt.Errorf("%w (%d pending)", ErrQueueFull, n)
	}

	r := newRequest(uuid.NewString(), sessionID, message, q.now())
	r.elem = q.pending.PushBack(r)
	q.registry.Reserve(sessionID)
	q.stats.Submitted++
	q.metrics.Enqueued()
	q.cond.Signal()
	q.logger.Debug("request queued", "request_id", r.id, "session_id", sessionID, "pending", q.pending.Len())
	return &Future{r: r, q: q}, nil
}

func (q *Queue) rejectLocked() {
	q.stats.Rejected++
	q.metrics.Rejected()
}

// Stats returns current counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Pending = q.pending.Len()
	s.Running = q.running
	return s
}

func (q *Queue) work(worker int) error {
	for {
		q.mu.Lock()
		r, lease := q.nextLocked()
		for r == nil {
			if q.stopping && q.pending.Len() == 0 {
				q.mu.Unlock()
				q.logger.Debug("worker exiting", "worker", worker)
				return nil
			}
			q.cond.Wait()
			r, lease = q.nextLocked()
		}

		now := q.now()
		if err := r.claim(now); err != nil {
			// Unreachable while every transition holds q.mu.
			q.mu.Unlock()
			lease.Release()
			return err
		}
		ctx, cancel := context.WithCancel(q.runCtx)
		r.cancelRun = cancel
		q.running++
		q.metrics.Claimed(now.Sub(r.submittedAt))
		q.mu.Unlock()

		q.logger.Debug("request claimed", "request_id", r.id, "session_id", r.sessionID, "worker", worker)
		q.run(ctx, r, lease)
		cancel()
	}
}

// nextLocked removes and returns the oldest pending request whose session
// could be taken, with its lease. Sessions whose oldest request is blocked
// are skipped as a whole so per-session order holds. Once the Start context
// is done nothing is claimed and whatever is pending fails.
func (q *Queue) nextLocked() (*request, *session.Lease) {
	if q.runCtx.Err() != nil {
		q.closed, q.stopping = true, true
		q.flushLocked(ErrShuttingDown)
		return nil, nil
	}
	q.expireLocked()
	var blocked map[string]bool
	for e := q.pending.Front(); e != nil; e = e.Next() {
		r := e.Value.(*request)
		if blocked[r.sessionID] {
			continue
		}
		lease, ok := q.registry.TryAcquire(r.sessionID)
		if !ok {
			if blocked == nil {
				blocked = make(map[string]bool)
			}
			blocked[r.sessionID] = true
			continue
		}
		q.removeLocked(r)
		return r, lease
	}
	return nil, nil
}

// removeLocked takes r off the pending list and drops its session reservation.
func (q *Queue) removeLocked(r *request) {
	q.pending.Remove(r.elem)
	r.elem = nil
	q.registry.Unreserve(r.sessionID)
}

func (q *Queue) run(ctx context.Context, r *request, lease *session.Lease) {
	defer lease.Release()

	resp, err := q.process(remote.ContextWithAttempts(ctx, &r.attempts), lease, r.message)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.running--
	took := q.now().Sub(r.claimedAt)

	outcome := metrics.OutcomeSucceeded
	switch {
	case r.cancelled:
		outcome = metrics.OutcomeCancelled
		err = r.fail(ErrCancelled)
		q.stats.Failed++
	case err != nil:
		outcome = metrics.OutcomeFailed
		q.logger.Warn("request failed", "request_id", r.id, "session_id", r.sessionID, "attempts", r.attempts.Load(), "error", err)
		err = r.fail(err)
		q.stats.Failed++
	default:
		q.logger.Info("request completed", "request_id", r.id, "session_id", r.sessionID, "attempts", r.attempts.Load(), "took", took.String())
		err = r.succeed(resp)
		q.stats.Succeeded++
	}
	if err != nil {
		q.logger.Error("request transition failed", "request_id", r.id, "error", err)
	}
	q.metrics.Finished(outcome, took)
	q.cond.Broadcast()
}

func (q *Queue) process(ctx context.Context, lease *session.Lease, message string) (resp report.Response, err error) {
	defer func() {
		if p := recover(); p != nil {
			q.logger.Error("processor panicked", "session_id", lease.SessionID(), "panic", p)
			err = fmt.Errorf("processor panic: %v", p)
		}
	}()
	return q.proc.Process(ctx, lease, message)
}

func (q *Queue) cancel(r *request) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch r.state() {
	case StateQueued:
		q.cancelQueuedLocked(r)
		return true
	case StateRunning:
		if !r.cancelled {
			r.cancelled = true
			r.cancelRun()
			q.logger.Debug("running request cancelled", "request_id", r.id, "session_id", r.sessionID)
		}
		return true
	default:
		return false
	}
}

func (q *Queue) cancelQueuedLocked(r *request) {
	q.removeLocked(r)
	if err := r.fail(ErrCancelled); err != nil {
		q.logger.Error("request transition failed", "request_id", r.id, "error", err)
	}
	q.stats.Failed++
	q.metrics.Dropped(metrics.OutcomeCancelled)
	q.logger.Debug("queued request cancelled", "request_id", r.id, "session_id", r.sessionID)
}

// CancelSession fails every request still queued for sessionID with
// ErrCancelled and returns how many there were. A running request is left alone.
func (q *Queue) CancelSession(sessionID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for e := q.pending.Front(); e != nil; {
		next := e.Next()
		if r := e.Value.(*request); r.sessionID == sessionID {
			q.cancelQueuedLocked(r)
			n++
		}
		e = next
	}
	if n > 0 {
		q.cond.Broadcast()
	}
	return n
}

// expireLocked fails pending requests that outlived SessionWaitTimeout.
func (q *Queue) expireLocked() {
	if q.cfg.SessionWaitTimeout <= 0 {
		return
	}
	cutoff := q.now().Add(-q.cfg.SessionWaitTimeout)
	for e := q.pending.Front(); e != nil; {
		next := e.Next()
		r := e.Value.(*request)
		if r.submittedAt.Before(cutoff) {
			q.removeLocked(r)
			cause := fmt.Errorf("%w %s after %s", session.ErrSessionTimeout, r.sessionID, q.cfg.SessionWaitTimeout)
			if err := r.fail(cause); err != nil {
				q.logger.Error("request transition failed", "request_id", r.id, "error", err)
			}
			q.stats.Failed++
			q.metrics.Dropped(metrics.OutcomeFailed)
			q.logger.Warn("request timed out waiting for session", "request_id", r.id, "session_id", r.sessionID)
		}
		e = next
	}
}

func (q *Queue) expireLoop(ctx context.Context) error {
	interval := q.cfg.SessionWaitTimeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		q.mu.Lock()
		q.expireLocked()
		done := q.stopping && q.pending.Len() == 0 && q.running == 0
		q.cond.Broadcast()
		q.mu.Unlock()
		if done {
			return nil
		}
	}
}

func (q *Queue) flushLocked(cause error) {
	for e := q.pending.Front(); e != nil; {
		next := e.Next()
		r := e.Value.(*request)
		q.removeLocked(r)
		if err := r.fail(cause); err != nil {
			q.logger.Error("request transition failed", "request_id", r.id, "error", err)
		}
		q.stats.Failed++
		q.metrics.Dropped(metrics.OutcomeFailed)
		e = next
	}
}

// Drain stops admission, lets every admitted request finish and stops the
// workers. If ctx ends first, requests still pending fail with
// ErrShuttingDown; running ones are still awaited.
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	q.closed, q.stopping = true, true
	g := q.group
	if g == nil {
		q.flushLocked(ErrShuttingDown)
		q.mu.Unlock()
		return nil
	}
	q.logger.Info("draining request queue", "pending", q.pending.Len(), "running", q.running)
	q.cond.Broadcast()
	q.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		q.logger.Info("request queue drained")
		return err
	case <-ctx.Done():
	}

	q.mu.Lock()
	dropped := q.pending.Len()
	q.flushLocked(ErrShuttingDown)
	q.cond.Broadcast()
	q.mu.Unlock()
	q.logger.Warn("drain deadline reached, dropped pending requests", "dropped", dropped)

	if err := <-done; err != nil {
		return err
	}
	return fmt.Errorf("drain: %w", ctx.Err())
}
