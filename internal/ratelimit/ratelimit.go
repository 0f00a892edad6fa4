package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Class names a quota. Counters for different classes never interact.
type Class string

const (
	ClassRead  Class = "read"
	ClassWrite Class = "write"
)

// Policy is a quota: at most MaxRequests per Window for each client.
type Policy struct {
	Class       Class
	MaxRequests int
	Window      time.Duration
}

var (
	// WritePolicy guards mutating endpoints.
	WritePolicy = Policy{Class: ClassWrite, MaxRequests: 20, Window: 15 * time.Minute}
	// ReadPolicy guards read-only endpoints.
	ReadPolicy = Policy{Class: ClassRead, MaxRequests: 200, Window: 15 * time.Minute}
)

// CustomPolicy returns an ad-hoc policy. Its class encodes the quota so two
// different ad-hoc quotas never share a counter.
func CustomPolicy(max int, window time.Duration) Policy {
	return Policy{
		Class:       Class(fmt.Sprintf("custom:%d/%s", max, window)),
		MaxRequests: max,
		Window:      window,
	}
}

// Result is the outcome of one admission check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetTime time.Time
}

const DefaultSweepInterval = 5 * time.Minute

type entryKey struct {
	class Class
	key   ClientKey
}

type entry struct {
	count     int
	resetTime time.Time
	// denied is set on the first denial in this window so OnFirstDenied
	// fires once per entry lifetime
	denied bool
}

// Limiter holds the counter registry and its background sweep.
type Limiter struct {
	mu        sync.Mutex
	entries   map[entryKey]*entry
	saturated bool

	now           func() time.Time
	sweepInterval time.Duration
	// maxEntries caps the registry, 0 means unbounded
	maxEntries int

	OnDenied      func(key ClientKey, p Policy)
	OnFirstDenied func(key ClientKey, p Policy, res Result)
	OnCapacity    func(size int)
	OnSweep       func(removed, remaining int)

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

type Option func(*Limiter)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithSweepInterval sets how often expired entries are removed.
func WithSweepInterval(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.sweepInterval = d
		}
	}
}

// WithMaxEntries bounds the registry. New clients arriving while it is full
// are denied without being stored; clients already tracked are unaffected.
func WithMaxEntries(n int) Option {
	return func(l *Limiter) { l.maxEntries = n }
}

// WithOnDenied sets a callback for every denied check, used for counters.
func WithOnDenied(fn func(key ClientKey, p Policy)) Option {
	return func(l *Limiter) { l.OnDenied = fn }
}

// WithOnFirstDenied sets a callback for the first denial of each window,
// used for logging offenders once instead of once per request.
func WithOnFirstDenied(fn func(key ClientKey, p Policy, res Result)) Option {
	return func(l *Limiter) { l.OnFirstDenied = fn }
}

// WithOnCapacity sets a callback for when the registry first fills up.
// It fires again only after the registry has drained below the cap.
func WithOnCapacity(fn func(size int)) Option {
	return func(l *Limiter) { l.OnCapacity = fn }
}

// WithOnSweep sets a callback invoked after each background sweep.
func WithOnSweep(fn func(removed, remaining int)) Option {
	return func(l *Limiter) { l.OnSweep = fn }
}

// New creates a Limiter and starts its sweep goroutine. The goroutine stops
// when ctx is cancelled or Close is called.
func New(ctx context.Context, opts ...Option) *Limiter {
	l := &Limiter{
		entries:       make(map[entryKey]*entry),
		now:           time.Now,
		sweepInterval: DefaultSweepInterval,
		done:          make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	ctx, l.cancel = context.WithCancel(ctx)
	go l.sweepLoop(ctx)
	return l
}

// Check counts one request from key against p and reports whether it is
// admitted. It never blocks on anything but the registry lock.
func (l *Limiter) Check(key ClientKey, p Policy) Result {
	now := l.now()
	res := Result{Limit: p.MaxRequests}
	k := entryKey{class: p.Class, key: key}

	var firstDenial, capacityHit bool
	var size int

	l.mu.Lock()
	e, ok := l.entries[k]
	switch {
	case ok && now.Before(e.resetTime):
		e.count++
		res.ResetTime = e.resetTime
		if e.count > p.MaxRequests {
			firstDenial = !e.denied
			e.denied = true
		} else {
			res.Allowed = true
			res.Remaining = p.MaxRequests - e.count
		}
	case !ok && l.full(now):
		// not stored, so the client gets a fresh window once there is room
		res.ResetTime = now.Add(p.Window)
		capacityHit = !l.saturated
		l.saturated = true
		size = len(l.entries)
	default:
		// absent or expired: replace, never merge
		l.entries[k] = &entry{count: 1, resetTime: now.Add(p.Window)}
		res.ResetTime = now.Add(p.Window)
		if p.MaxRequests >= 1 {
			res.Allowed = true
			res.Remaining = p.MaxRequests - 1
		} else {
			l.entries[k].denied = true
			firstDenial = true
		}
	}
	l.mu.Unlock()

	// hooks run without the lock, they may log or touch metrics
	if capacityHit && l.OnCapacity != nil {
		l.OnCapacity(size)
	}
	if !res.Allowed {
		if firstDenial && l.OnFirstDenied != nil {
			l.OnFirstDenied(key, p, res)
		}
		if l.OnDenied != nil {
			l.OnDenied(key, p)
		}
	}
	return res
}

// full reports whether a new key can be stored. When the cap is reached it
// first drops expired entries. Caller holds mu.
func (l *Limiter) full(now time.Time) bool {
	if l.maxEntries <= 0 || len(l.entries) < l.maxEntries {
		return false
	}
	l.sweepLocked(now)
	return len(l.entries) >= l.maxEntries
}

// CheckRateLimit checks the request identified by h against an ad-hoc quota.
func (l *Limiter) CheckRateLimit(h Headers, max int, window time.Duration) Result {
	return l.Check(KeyFor(h), CustomPolicy(max, window))
}

// CheckWriteRateLimit applies WritePolicy, 20 requests per 15 minutes.
func (l *Limiter) CheckWriteRateLimit(h Headers) Result {
	return l.Check(KeyFor(h), WritePolicy)
}

// CheckReadRateLimit applies ReadPolicy, 200 requests per 15 minutes.
func (l *Limiter) CheckReadRateLimit(h Headers) Result {
	return l.Check(KeyFor(h), ReadPolicy)
}

// Sweep deletes every entry whose window ended at or before now and returns
// how many were removed. Admission never depends on it.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sweepLocked(now)
}

func (l *Limiter) sweepLocked(now time.Time) int {
	removed := 0
	for k, e := range l.entries {
		if !e.resetTime.After(now) {
			delete(l.entries, k)
			removed++
		}
	}
	if l.maxEntries <= 0 || len(l.entries) < l.maxEntries {
		l.saturated = false
	}
	return removed
}

// Len returns the number of tracked entries, expired ones included until swept.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Close stops the sweep goroutine and waits for it to exit. Safe to call
// more than once. The registry stays usable.
func (l *Limiter) Close() {
	l.closeOnce.Do(l.cancel)
	<-l.done
}

func (l *Limiter) sweepLoop(ctx context.Context) {
	defer close(l.done)
	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := l.Sweep(l.now())
			if l.OnSweep != nil {
				l.OnSweep(removed, l.Len())
			}
		}
	}
}
