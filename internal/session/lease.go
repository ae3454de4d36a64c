package session

import (
	"context"
	"sync"

	"github.com/comigor/genieq/internal/history"
)

// Lease is exclusive ownership of one session. Release it exactly once;
// extra calls are no-ops.
type Lease struct {
	r    *Registry
	s    *session
	gen  uint64
	once sync.Once
}

func (r *Registry) leaseLocked(s *session) *Lease {
	return &Lease{r: r, s: s, gen: s.gen}
}

// SessionID returns the held session's id.
func (l *Lease) SessionID() string { return l.s.id }

// RemoteID returns the remote conversation id bound to the session, empty
// before the first exchange.
func (l *Lease) RemoteID() string {
	l.r.mu.Lock()
	defer l.r.mu.Unlock()
	return l.s.remoteID
}

// SetRemoteID binds the remote conversation id. It is a no-op once the
// session was forgotten.
func (l *Lease) SetRemoteID(id string) {
	l.r.mu.Lock()
	if l.gen == l.s.gen {
		l.s.remoteID = id
	}
	l.r.mu.Unlock()
}

// Forgotten reports whether the session was deleted while this lease held it.
func (l *Lease) Forgotten() bool {
	l.r.mu.Lock()
	defer l.r.mu.Unlock()
	return l.gen != l.s.gen
}

// Record appends a message to the session history. Messages of a forgotten
// session are dropped.
func (l *Lease) Record(ctx context.Context, role, content string) error {
	l.s.recordMu.Lock()
	defer l.s.recordMu.Unlock()
	if l.Forgotten() {
		return nil
	}
	msg := history.Message{SessionID: l.s.id, Role: role, Content: content, CreatedAt: l.r.now()}
	if err := l.r.store.Save(ctx, msg); err != nil {
		return err
	}
	l.r.mu.Lock()
	if l.gen == l.s.gen {
		l.s.messages++
	}
	l.r.mu.Unlock()
	return nil
}

// Release frees the session or hands it to the next waiter.
func (l *Lease) Release() {
	l.once.Do(func() { l.r.release(l.s) })
}
