package cancel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"walktour/pkg/store"
)

// ErrCancelled is the cause attached to contexts of cancelled sessions.
// It matches context.Canceled so backends treat it as non-retryable.
var ErrCancelled = fmt.Errorf("session cancelled: %w", context.Canceled)

const keyPrefix = "cancel:"

// Key returns the state-store key of a session's cancel flag.
func Key(sessionID string) string { return keyPrefix + sessionID }

// Signal is a cooperative cancellation flag per session. Flags set in this
// process take effect immediately; flags written to the state store by
// another process are picked up by polling.
type Signal struct {
	st   store.StateStore
	poll time.Duration

	mu      sync.Mutex
	flags   map[string]bool
	waiters map[string]*waiter
}

// waiter is closed on Cancel and shared by every Watch of one session.
type waiter struct {
	ch   chan struct{}
	refs int
}

// New creates a Signal. st may be nil for a process-local signal.
func New(st store.StateStore, poll time.Duration) *Signal {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	return &Signal{
		st:      st,
		poll:    poll,
		flags:   make(map[string]bool),
		waiters: make(map[string]*waiter),
	}
}

// Cancel raises the flag for sessionID.
func (s *Signal) Cancel(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	s.flags[sessionID] = true
	if w, ok := s.waiters[sessionID]; ok {
		close(w.ch)
		delete(s.waiters, sessionID)
	}
	s.mu.Unlock()

	slog.Info("Cancel: session flagged", "session", sessionID)
	if s.st == nil {
		return nil
	}
	if err := s.st.SetState(ctx, Key(sessionID), time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("cancel: persist flag %s: %w", sessionID, err)
	}
	return nil
}

// Clear lowers the flag so the session can be rerun.
func (s *Signal) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.flags, sessionID)
	s.mu.Unlock()

	if s.st == nil {
		return nil
	}
	return s.st.DeleteState(ctx, Key(sessionID))
}

// IsCancelled reports whether the flag is raised.
func (s *Signal) IsCancelled(ctx context.Context, sessionID string) bool {
	s.mu.Lock()
	flagged := s.flags[sessionID]
	s.mu.Unlock()
	if flagged {
		return true
	}
	if s.st == nil {
		return false
	}
	_, found := s.st.GetState(ctx, Key(sessionID))
	return found
}

// Check returns ErrCancelled if the session was cancelled, either by flag or
// through a context derived from Watch.
func (s *Signal) Check(ctx context.Context, sessionID string) error {
	if ctx.Err() != nil {
		if errors.Is(context.Cause(ctx), ErrCancelled) {
			return ErrCancelled
		}
	}
	if s.IsCancelled(ctx, sessionID) {
		return ErrCancelled
	}
	return nil
}

// Watch derives a context that is cancelled with cause ErrCancelled once the
// session's flag is raised. stop releases the watcher.
func (s *Signal) Watch(parent context.Context, sessionID string) (ctx context.Context, stop func()) {
	ctx, cancel := context.WithCancelCause(parent)

	s.mu.Lock()
	w, ok := s.waiters[sessionID]
	if !ok {
		w = &waiter{ch: make(chan struct{})}
		s.waiters[sessionID] = w
	}
	w.refs++
	ch := w.ch
	s.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	go func() {
		t := time.NewTicker(s.poll)
		defer t.Stop()
		for {
			if s.IsCancelled(ctx, sessionID) {
				cancel(ErrCancelled)
				return
			}
			select {
			case <-ch:
				cancel(ErrCancelled)
				return
			case <-t.C:
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	return ctx, func() {
		once.Do(func() {
			close(done)
			cancel(nil)
			s.release(sessionID, w)
		})
	}
}

// release drops one reference to w and forgets it with the last one.
func (s *Signal) release(sessionID string, w *waiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.refs--
	if w.refs <= 0 && s.waiters[sessionID] == w {
		delete(s.waiters, sessionID)
	}
}
