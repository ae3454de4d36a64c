package queue

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/comigor/genieq/internal/report"
)

// State is a request lifecycle state.
type State string

const (
	StateQueued    State = "Queued"
	StateRunning   State = "Running"
	StateSucceeded State = "Succeeded"
	StateFailed    State = "Failed"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool { return s == StateSucceeded || s == StateFailed }

type trigger string

const (
	triggerClaim   trigger = "Claim"
	triggerSucceed trigger = "Succeed"
	triggerFail    trigger = "Fail"
)

// request is owned by the queue until it is claimed, then by the claiming
// worker. Every transition is fired with Queue.mu held.
type request struct {
	id          string
	sessionID   string
	message     string
	submittedAt time.Time
	claimedAt   time.Time
	attempts    atomic.Int64

	fsm       *stateless.StateMachine
	elem      *list.Element
	cancelRun context.CancelFunc
	cancelled bool

	done chan struct{}
	resp report.Response
	err  error
}

func newRequest(id, sessionID, message string, now time.Time) *request {
	r := &request{
		id:          id,
		sessionID:   sessionID,
		message:     message,
		submittedAt: now,
		done:        make(chan struct{}),
	}

	sm := stateless.NewStateMachine(StateQueued)
	sm.Configure(StateQueued).
		Permit(triggerClaim, StateRunning).
		Permit(triggerFail, StateFailed)

	sm.Configure(StateRunning).
		OnEntry(func(_ context.Context, args ...any) error {
			if len(args) > 0 {
				if t, ok := args[0].(time.Time); ok {
					r.claimedAt = t
				}
			}
			return nil
		}).
		Permit(triggerSucceed, StateSucceeded).
		Permit(triggerFail, StateFailed)

	sm.Configure(StateSucceeded).
		OnEntry(func(_ context.Context, args ...any) error {
			resp, _ := args[0].(report.Response)
			r.resolve(resp, nil)
			return nil
		})

	sm.Configure(StateFailed).
		OnEntry(func(_ context.Context, args ...any) error {
			err, _ := args[0].(error)
			if err == nil {
				err = errors.New("request failed")
			}
			r.resolve(report.Response{SessionID: r.sessionID}, err)
			return nil
		})

	r.fsm = sm
	return r
}

func (r *request) resolve(resp report.Response, err error) {
	r.resp, r.err = resp, err
	close(r.done)
}

func (r *request) state() State { return r.fsm.MustState().(State) }

func (r *request) claim(now time.Time) error {
	if err := r.fsm.Fire(triggerClaim, now); err != nil {
		return fmt.Errorf("claim request %s: %w", r.id, err)
	}
	return nil
}

func (r *request) succeed(resp report.Response) error {
	if err := r.fsm.Fire(triggerSucceed, resp); err != nil {
		return fmt.Errorf("complete request %s: %w", r.id, err)
	}
	return nil
}

func (r *request) fail(cause error) error {
	if err := r.fsm.Fire(triggerFail, cause); err != nil {
		return fmt.Errorf("fail request %s: %w", r.id, err)
	}
	return nil
}

// Future is the caller's handle on a submitted request.
type Future struct {
	r *request
	q *Queue
}

// ID returns the request id.
func (f *Future) ID() string { return f.r.id }

// SessionID returns the session the request was submitted to.
func (f *Future) SessionID() string { return f.r.sessionID }

// Done is closed once the request reaches a terminal state.
func (f *Future) Done() <-chan struct{} { return f.r.done }

// Status returns the current lifecycle state.
func (f *Future) Status() State {
	f.q.mu.Lock()
	defer f.q.mu.Unlock()
	return f.r.state()
}

// Attempts returns how many remote calls the request has made so far.
func (f *Future) Attempts() int { return int(f.r.attempts.Load()) }

// Wait blocks until the request resolves or ctx ends. A ctx ending does not
// cancel the request.
func (f *Future) Wait(ctx context.Context) (report.Response, error) {
	select {
	case <-f.r.done:
		return f.r.resp, f.r.err
	case <-ctx.Done():
		return report.Response{}, ctx.Err()
	}
}

// Cancel withdraws the request. A queued request is removed at once; a
// running one is asked to stop and its result is discarded. Cancel reports
// false when the request had already resolved.
func (f *Future) Cancel() bool { return f.q.cancel(f.r) }
