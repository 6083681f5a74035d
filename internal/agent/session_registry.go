package agent

import (
	"context"
	"sync"
)

type sessionHandle struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// SessionRegistry owns the cancellation handle of every running loop. There
// is at most one loop per session: Begin aborts the previous owner and waits
// for it to release before handing out a new context.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*sessionHandle
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*sessionHandle)}
}

// Begin claims sessionID. Any loop already running for it is aborted with
// ErrAborted and Begin waits until that loop has released, or until ctx is
// done. The returned release must be called exactly once when the loop exits.
func (r *SessionRegistry) Begin(ctx context.Context, sessionID string) (context.Context, func(), error) {
	for {
		r.mu.Lock()
		prev := r.sessions[sessionID]
		if prev == nil {
			loopCtx, cancel := context.WithCancelCause(ctx)
			h := &sessionHandle{cancel: cancel, done: make(chan struct{})}
			r.sessions[sessionID] = h
			r.mu.Unlock()
			return loopCtx, r.releaser(sessionID, h), nil
		}
		r.mu.Unlock()

		prev.cancel(ErrAborted)
		select {
		case <-prev.done:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
}

func (r *SessionRegistry) releaser(sessionID string, h *sessionHandle) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			if r.sessions[sessionID] == h {
				delete(r.sessions, sessionID)
			}
			r.mu.Unlock()
			h.cancel(nil)
			close(h.done)
		})
	}
}

// Abort cancels the loop running for sessionID. It reports whether one was
// running.
func (r *SessionRegistry) Abort(sessionID string) bool {
	r.mu.Lock()
	h := r.sessions[sessionID]
	r.mu.Unlock()
	if h == nil {
		return false
	}
	h.cancel(ErrAborted)
	return true
}

// Active reports whether a loop currently owns sessionID.
func (r *SessionRegistry) Active(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[sessionID]
	return ok
}

// Count returns the number of running loops.
func (r *SessionRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
