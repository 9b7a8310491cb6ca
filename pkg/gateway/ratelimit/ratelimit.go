package ratelimit

import (
	"context"
	"sync"
	"time"
)

type Config struct {
	MaxRequests int
	Window      time.Duration

	// Operational bounds for the in-memory map (single-process only).
	MaxEntries    int
	SweepInterval time.Duration

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Limiter is a per-key sliding-window rate limiter. The admission decision
// looks only at request timestamps inside the trailing window, independent
// of clock-aligned buckets.
type Limiter struct {
	cfg Config
	now func() time.Time

	mu sync.Mutex
	m  map[string]*entry
}

type entry struct {
	// stamps holds the retained request instants, oldest first. After any
	// Allow or Remaining call every retained stamp is inside the window.
	stamps []time.Time
}

func New(cfg Config) *Limiter {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 100
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		cfg: cfg,
		now: now,
		m:   make(map[string]*entry),
	}
}

// Allow reports whether a request for key is admitted, recording the request
// instant when it is. A denied request consumes no quota. Prune, count, and
// record happen as one atomic unit per call.
func (l *Limiter) Allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.m[key]
	if !ok {
		if len(l.m) >= l.cfg.MaxEntries {
			l.sweepLocked(now)
			// If still too big, drop one arbitrary entry (bounded memory
			// beats perfect fairness).
			if len(l.m) >= l.cfg.MaxEntries {
				for k := range l.m {
					delete(l.m, k)
					break
				}
			}
		}
		e = &entry{}
		l.m[key] = e
	}

	e.prune(now, l.cfg.Window)
	if len(e.stamps) >= l.cfg.MaxRequests {
		return false
	}
	e.stamps = append(e.stamps, now)
	return true
}

// Remaining returns the quota left for key in the current window, floored at
// zero. It prunes expired stamps but never records a request.
func (l *Limiter) Remaining(key string) int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.m[key]
	if !ok {
		return l.cfg.MaxRequests
	}
	e.prune(now, l.cfg.Window)
	rem := l.cfg.MaxRequests - len(e.stamps)
	if rem < 0 {
		rem = 0
	}
	return rem
}

// Reset drops all recorded state for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.m, key)
}

// Sweep garbage-collects keys whose newest stamp is older than twice the
// window, bounding growth from one-off or abandoned clients.
func (l *Limiter) Sweep() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweepLocked(now)
}

func (l *Limiter) sweepLocked(now time.Time) {
	cutoff := now.Add(-2 * l.cfg.Window)
	for k, e := range l.m {
		if len(e.stamps) == 0 || e.stamps[len(e.stamps)-1].Before(cutoff) {
			delete(l.m, k)
		}
	}
}

// SweepLoop runs Sweep on the configured interval until ctx is canceled.
func (l *Limiter) SweepLoop(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

func (e *entry) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	keep := e.stamps[:0]
	for _, ts := range e.stamps {
		if ts.After(cutoff) {
			keep = append(keep, ts)
		}
	}
	e.stamps = keep
}
