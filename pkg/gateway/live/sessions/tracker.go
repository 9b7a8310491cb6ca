// Package sessions tracks the live connections currently attached to the
// gateway so shutdown can cancel them and operators can count them.
package sessions

import (
	"context"
	"sync"
)

// Handle is the tracker's grip on one live connection.
type Handle struct {
	Cancel func()
	Notify func(event any) error
}

type Tracker struct {
	mu      sync.Mutex
	entries map[string]*trackedConn
	wg      sync.WaitGroup
}

type trackedConn struct {
	handle Handle
	once   sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{
		entries: make(map[string]*trackedConn),
	}
}

// Register adds a connection under its session id. A second registration
// for the same id evicts the first: the old connection is unregistered and
// canceled, matching one-live-connection-per-session semantics.
func (t *Tracker) Register(sessionID string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}

	entry := &trackedConn{handle: h}

	t.mu.Lock()
	if t.entries == nil {
		t.entries = make(map[string]*trackedConn)
	}
	old := t.entries[sessionID]
	t.entries[sessionID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.unregister(sessionID, old)
		if old.handle.Cancel != nil {
			old.handle.Cancel()
		}
	}

	return func() { t.unregister(sessionID, entry) }
}

func (t *Tracker) unregister(sessionID string, entry *trackedConn) {
	if t == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		t.mu.Lock()
		if t.entries != nil && t.entries[sessionID] == entry {
			delete(t.entries, sessionID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Broadcast delivers an event to every tracked connection.
func (t *Tracker) Broadcast(event any) (sent int) {
	if t == nil {
		return 0
	}

	var notifies []func(event any) error
	t.mu.Lock()
	for _, entry := range t.entries {
		if entry == nil || entry.handle.Notify == nil {
			continue
		}
		notifies = append(notifies, entry.handle.Notify)
	}
	t.mu.Unlock()

	for _, notify := range notifies {
		if notify(event) == nil {
			sent++
		}
	}
	return sent
}

// CancelAll asks every tracked connection to stop.
func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}

	var cancels []func()
	t.mu.Lock()
	for _, entry := range t.entries {
		if entry == nil || entry.handle.Cancel == nil {
			continue
		}
		cancels = append(cancels, entry.handle.Cancel)
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered connection has unregistered, or until
// ctx is done. It reports whether the drain completed.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	if ctx == nil {
		t.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
