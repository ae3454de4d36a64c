// Package session tracks conversation sessions and guarantees that at most one
// operation runs inside a session at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/comigor/genieq/internal/history"
	"github.com/comigor/genieq/internal/logger"
)

// ErrSessionTimeout is returned when waiting for a session's lock outlasts the caller's deadline.
var ErrSessionTimeout = errors.New("timed out waiting for session")

type session struct {
	id         string
	remoteID   string
	createdAt  time.Time
	lastActive time.Time
	messages   int

	busy     bool
	waiters  []chan struct{}
	reserved int
	evict    bool

	// gen is bumped by Forget; leases taken before that stop writing.
	gen      uint64
	recordMu sync.Mutex
}

// Info is a point-in-time view of a session.
type Info struct {
	ID         string    `json:"session_id"`
	RemoteID   string    `json:"conversation_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
	Messages   int       `json:"messages"`
	Busy       bool      `json:"busy"`
	Waiting    int       `json:"waiting"`
	Queued     int       `json:"queued"`
}

// Registry owns every session and its lock.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*session
	hooks    []func(sessionID string)

	store  history.Store
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithStore sets where session history is written. Defaults to memory.
func WithStore(s history.Store) Option { return func(r *Registry) { r.store = s } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

// WithLogger sets the registry's logger.
func WithLogger(l *slog.Logger) Option { return func(r *Registry) { r.logger = l } }

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{sessions: make(map[string]*session), now: time.Now}
	for _, o := range opts {
		o(r)
	}
	if r.store == nil {
		r.store = history.NewMemory()
	}
	r.logger = logger.Or(r.logger)
	return r
}

// OnRelease registers fn to run whenever a session becomes free. fn runs
// without any registry lock held.
func (r *Registry) OnRelease(fn func(sessionID string)) {
	r.mu.Lock()
	r.hooks = append(r.hooks, fn)
	r.mu.Unlock()
}

func (r *Registry) getOrCreateLocked(id string) *session {
	s, ok := r.sessions[id]
	if !ok {
		now := r.now()
		s = &session{id: id, createdAt: now, lastActive: now}
		r.sessions[id] = s
		r.logger.Debug("session created", "session_id", id)
	}
	return s
}

// Acquire blocks until the caller holds id's lock, creating the session on
// first use. Waiters are served in arrival order. When ctx ends first the
// result wraps ErrSessionTimeout and the context error.
func (r *Registry) Acquire(ctx context.Context, id string) (*Lease, error) {
	r.mu.Lock()
	s := r.getOrCreateLocked(id)
	if !s.busy && len(s.waiters) == 0 {
		s.busy = true
		l := r.leaseLocked(s)
		r.mu.Unlock()
		return l, nil
	}
	ch := make(chan struct{})
	s.waiters = append(s.waiters, ch)
	// A Forget while waiting makes the lease stale.
	gen := s.gen
	r.mu.Unlock()

	select {
	case <-ch:
		return &Lease{r: r, s: s, gen: gen}, nil
	case <-ctx.Done():
	}

	r.mu.Lock()
	removed := removeWaiter(s, ch)
	r.mu.Unlock()
	if !removed {
		// The lock was handed over while we were giving up; pass it on.
		r.release(s)
	}
	return nil, fmt.Errorf("%w %s: %w", ErrSessionTimeout, id, ctx.Err())
}

// Ensure registers id without locking it and returns its snapshot.
func (r *Registry) Ensure(id string) Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getOrCreateLocked(id).info()
}

// TryAcquire takes id's lock only if it is free and nobody is waiting for it.
func (r *Registry) TryAcquire(id string) (*Lease, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.getOrCreateLocked(id)
	if s.busy || len(s.waiters) > 0 {
		return nil, false
	}
	s.busy = true
	return r.leaseLocked(s), true
}

// Reserve notes that a request for id is waiting in a queue, creating the
// session if needed. Reserved sessions are never evicted. Each Reserve must
// be paired with one Unreserve.
func (r *Registry) Reserve(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.getOrCreateLocked(id)
	s.reserved++
	s.evict = false
	s.lastActive = r.now()
}

// Unreserve drops one reservation taken by Reserve. A session marked for
// eviction goes once nothing holds, awaits or reserves it.
func (r *Registry) Unreserve(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return
	}
	if s.reserved > 0 {
		s.reserved--
	}
	if s.evict && !s.busy && len(s.waiters) == 0 && s.reserved == 0 {
		delete(r.sessions, id)
		r.logger.Debug("session evicted after last reservation", "session_id", id)
	}
}

// With runs fn while holding id's lock and releases it on every exit path.
func (r *Registry) With(ctx context.Context, id string, fn func(*Lease) error) error {
	l, err := r.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer l.Release()
	return fn(l)
}

// Busy reports whether id is currently held.
func (r *Registry) Busy(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return ok && s.busy
}

func (r *Registry) release(s *session) {
	r.mu.Lock()
	s.lastActive = r.now()
	if len(s.waiters) > 0 {
		next := s.waiters[0]
		s.waiters = s.waiters[1:]
		close(next)
		r.mu.Unlock()
		return
	}
	s.busy = false
	if s.evict && s.reserved == 0 {
		delete(r.sessions, s.id)
		r.logger.Debug("session evicted on release", "session_id", s.id)
	}
	hooks := slices.Clone(r.hooks)
	r.mu.Unlock()

	for _, h := range hooks {
		h(s.id)
	}
}

func removeWaiter(s *session, ch chan struct{}) bool {
	for i, w := range s.waiters {
		if w == ch {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// Snapshot returns a view of id.
func (r *Registry) Snapshot(id string) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Info{}, false
	}
	return s.info(), true
}

// List returns snapshots of all sessions ordered by creation time.
func (r *Registry) List() []Info {
	r.mu.Lock()
	out := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.info())
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *session) info() Info {
	return Info{
		ID:         s.id,
		RemoteID:   s.remoteID,
		CreatedAt:  s.createdAt,
		LastActive: s.lastActive,
		Messages:   s.messages,
		Busy:       s.busy,
		Waiting:    len(s.waiters),
		Queued:     s.reserved,
	}
}

// IDs returns the ids of all known sessions, sorted.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Evict drops id. A session that is held, awaited or reserved is dropped
// once the last of those ends; Evict then returns false.
func (r *Registry) Evict(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	return r.evictLocked(s)
}

func (r *Registry) evictLocked(s *session) bool {
	if s.busy || len(s.waiters) > 0 || s.reserved > 0 {
		s.evict = true
		return false
	}
	delete(r.sessions, s.id)
	return true
}

// EvictIdle drops every free, unreserved session inactive for at least ttl
// and returns their ids.
func (r *Registry) EvictIdle(ttl time.Duration) []string {
	cutoff := r.now().Add(-ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	var evicted []string
	for id, s := range r.sessions {
		if s.busy || len(s.waiters) > 0 || s.reserved > 0 || s.lastActive.After(cutoff) {
			continue
		}
		delete(r.sessions, id)
		evicted = append(evicted, id)
	}
	sort.Strings(evicted)
	return evicted
}

// History returns the stored messages of id.
func (r *Registry) History(ctx context.Context, id string) ([]history.Message, error) {
	return r.store.List(ctx, id)
}

// Forget evicts id and deletes its history. A lease still holding id keeps
// running but can no longer write history or bind a conversation.
func (r *Registry) Forget(ctx context.Context, id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		s.gen++
		s.remoteID, s.messages = "", 0
		r.evictLocked(s)
	}
	r.mu.Unlock()

	if ok {
		// Waits out a Record that passed its generation check before the bump.
		s.recordMu.Lock()
		defer s.recordMu.Unlock()
	}
	return r.store.Delete(ctx, id)
}

// StartJanitor evicts idle sessions on the cron schedule (e.g. "@every 1m")
// and passes the evicted ids to onEvict. The returned func stops it.
func (r *Registry) StartJanitor(schedule string, ttl time.Duration, onEvict func(ids []string)) (func(), error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ids := r.EvictIdle(ttl)
		if len(ids) == 0 {
			return
		}
		r.logger.Info("evicted idle sessions", "count", len(ids), "ttl", ttl.String())
		if onEvict != nil {
			onEvict(ids)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("session janitor schedule %q: %w", schedule, err)
	}
	c.Start()
	r.logger.Info("session janitor started", "schedule", schedule, "ttl", ttl.String())
	return func() { <-c.Stop().Done() }, nil
}
