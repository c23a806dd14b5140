// internal/governor/window.go
package governor

import (
	"context"
	"sync"
	"time"

	"github.com/xkilldash9x/ghostwire/internal/apperr"
	"github.com/xkilldash9x/ghostwire/internal/clock"
	"github.com/xkilldash9x/ghostwire/internal/config"
)

// Window is the limit for one scope: at most Max admissions within Size.
type Window struct {
	Size time.Duration
	Max  int
}

// record holds the admission instants for one (scope,key) pair, oldest first.
type record struct {
	mu         sync.Mutex
	timestamps []time.Time
	// removed is set, under mu, once the record has been swept from the map.
	removed bool
}

// prune drops every timestamp at or before now-window. Afterwards
// now - oldest < window holds for the remaining entries.
func (r *record) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(r.timestamps) && !r.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		r.timestamps = append(r.timestamps[:0], r.timestamps[i:]...)
	}
}

// retryAfter estimates how long until the window frees one slot.
func (r *record) retryAfter(now time.Time, w Window) time.Duration {
	if len(r.timestamps) < w.Max {
		return 0
	}
	// The slot frees when the oldest entry that keeps the record full ages out.
	d := r.timestamps[len(r.timestamps)-w.Max].Add(w.Size).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// SlidingWindowLimiter counts admissions within a trailing interval per
// (scope,key). Each record carries its own lock; the map lock is held only to
// find or create a record.
type SlidingWindowLimiter struct {
	windows map[Scope]Window
	clock   clock.Clock

	// sweepEvery is the longest window. Records idle that long are empty.
	sweepEvery time.Duration

	mu        sync.Mutex
	records   map[scopeKey]*record
	lastSweep time.Time
}

// NewSlidingWindowLimiter builds a limiter from the per-scope windows.
func NewSlidingWindowLimiter(cfg config.RateLimitConfig, clk clock.Clock) (*SlidingWindowLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.Real{}
	}
	toWindow := func(w config.WindowConfig) Window { return Window{Size: w.Window, Max: w.MaxRequests} }
	l := &SlidingWindowLimiter{
		windows: map[Scope]Window{
			ScopeGlobal:  toWindow(cfg.Global),
			ScopeDomain:  toWindow(cfg.Domain),
			ScopeIP:      toWindow(cfg.IP),
			ScopeSession: toWindow(cfg.Session),
		},
		clock:     clk,
		records:   make(map[scopeKey]*record),
		lastSweep: clk.Now(),
	}
	for _, w := range l.windows {
		l.sweepEvery = max(l.sweepEvery, w.Size)
	}
	return l, nil
}

func (l *SlidingWindowLimiter) record(sk scopeKey) *record {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now := l.clock.Now(); now.Sub(l.lastSweep) >= l.sweepEvery {
		l.sweepLocked(now)
		l.lastSweep = now
	}
	r, ok := l.records[sk]
	if !ok {
		r = &record{}
		l.records[sk] = r
	}
	return r
}

// sweepLocked drops records with nothing left inside their window, so keys
// that stop being used (finished sessions, one-off domains) do not
// accumulate. l.mu must be held.
func (l *SlidingWindowLimiter) sweepLocked(now time.Time) {
	for sk, r := range l.records {
		r.mu.Lock()
		r.prune(now, l.windows[sk.scope].Size)
		if len(r.timestamps) == 0 {
			r.removed = true
			delete(l.records, sk)
		}
		r.mu.Unlock()
	}
}

// Len returns the number of tracked (scope,key) records.
func (l *SlidingWindowLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Admit prunes the record for (scope,key) and, if it has capacity, records
// now and returns true.
func (l *SlidingWindowLimiter) Admit(scope Scope, key string) bool {
	_, denial := l.admitAll([]scopeKey{{scope, key}})
	return denial == nil
}

// RetryAfter reports how long until (scope,key) can admit again. Zero means
// it has capacity now.
func (l *SlidingWindowLimiter) RetryAfter(scope Scope, key string) time.Duration {
	r := l.record(scopeKey{scope, key})
	w := l.windows[scope]
	now := l.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(now, w.Size)
	return r.retryAfter(now, w)
}

// Count returns the number of admissions currently inside the window.
func (l *SlidingWindowLimiter) Count(scope Scope, key string) int {
	r := l.record(scopeKey{scope, key})
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(l.clock.Now(), l.windows[scope].Size)
	return len(r.timestamps)
}

// Wait blocks until (scope,key) admits, sleeping for the computed
// oldest+window-now each time it is full. It returns ctx.Err() on cancellation.
func (l *SlidingWindowLimiter) Wait(ctx context.Context, scope Scope, key string) error {
	for {
		if l.Admit(scope, key) {
			return nil
		}
		if err := l.clock.Sleep(ctx, l.RetryAfter(scope, key)); err != nil {
			return err
		}
	}
}

// admitAll admits every pair or none and returns the instant recorded.
// Records are locked in the order given, which callers keep identical to
// Scopes, so two admissions never deadlock. On denial it returns the first
// full scope wrapped as a rate limit error.
func (l *SlidingWindowLimiter) admitAll(pairs []scopeKey) (time.Time, *apperr.Error) {
	for {
		recs := make([]*record, len(pairs))
		for i, sk := range pairs {
			recs[i] = l.record(sk)
		}
		at, denial, swept := l.admitLocked(pairs, recs)
		if !swept {
			return at, denial
		}
	}
}

// admitLocked reports swept when one of recs left the map after it was
// looked up; the caller then retries with fresh records.
func (l *SlidingWindowLimiter) admitLocked(pairs []scopeKey, recs []*record) (time.Time, *apperr.Error, bool) {
	for _, r := range recs {
		r.mu.Lock()
	}
	defer func() {
		for _, r := range recs {
			r.mu.Unlock()
		}
	}()
	for _, r := range recs {
		if r.removed {
			return time.Time{}, nil, true
		}
	}

	now := l.clock.Now()
	for i, sk := range pairs {
		w := l.windows[sk.scope]
		recs[i].prune(now, w.Size)
		if len(recs[i].timestamps) >= w.Max {
			e := apperr.Newf(apperr.KindRateLimit, "governor.admit",
				"%d requests within %s", len(recs[i].timestamps), w.Size).WithScope(string(sk.scope), sk.key)
			e.RetryAfter = recs[i].retryAfter(now, w)
			return time.Time{}, e, false
		}
	}
	for _, r := range recs {
		r.timestamps = append(r.timestamps, now)
	}
	return now, nil, false
}

// release takes back an admission recorded at at, for a request that was
// refused further along the gate.
func (l *SlidingWindowLimiter) release(pairs []scopeKey, at time.Time) {
	for _, sk := range pairs {
		l.mu.Lock()
		r, ok := l.records[sk]
		l.mu.Unlock()
		if !ok {
			continue
		}
		r.mu.Lock()
		for i := len(r.timestamps) - 1; i >= 0; i-- {
			if r.timestamps[i].Equal(at) {
				r.timestamps = append(r.timestamps[:i], r.timestamps[i+1:]...)
				break
			}
		}
		r.mu.Unlock()
	}
}

// Reset drops every record.
func (l *SlidingWindowLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.records {
		r.mu.Lock()
		r.removed = true
		r.mu.Unlock()
	}
	l.records = make(map[scopeKey]*record)
}
