package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is what request handlers consume, satisfied by SlidingWindow and RedisWindow
type Limiter interface {
	// Allow reports whether id may proceed under the bound policy, and records it if so
	Allow(ctx context.Context, id string) bool
	// Window is the policy window, handlers use it for Retry-After
	Window() time.Duration
}

// clientWindow is one identifier's admitted timestamps in unix seconds, oldest first
type clientWindow struct {
	stamps []int64
	// windowSecs from the last check, sweep needs it to judge staleness
	windowSecs int64
	// denied is set on the first rejection of a streak and cleared on the next admit
	denied bool
}

// SlidingWindow is an in-memory per-identifier sliding window limiter
type SlidingWindow struct {
	mu      sync.Mutex
	windows map[string]*clientWindow

	cfg config
}

// New builds a SlidingWindow. The policy from WithPolicy (default 5 per hour)
// is used by Allow; CheckLimit takes its own.
func New(opts ...Option) (*SlidingWindow, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &SlidingWindow{
		windows: make(map[string]*clientWindow),
		cfg:     cfg,
	}, nil
}

// CheckLimit admits and records one request for identifier if fewer than
// maxRequests were admitted in the last windowSecs seconds. A timestamp t is
// outside the window once now-t >= windowSecs. Rejections are not recorded.
//
// Non-positive maxRequests or windowSecs reject without touching state.
func (l *SlidingWindow) CheckLimit(identifier string, maxRequests, windowSecs int) bool {
	if maxRequests <= 0 || windowSecs <= 0 {
		return false
	}
	now := l.cfg.clock.Now().Unix()
	win := int64(windowSecs)

	l.mu.Lock()
	w, ok := l.windows[identifier]
	if !ok {
		w = &clientWindow{}
		l.windows[identifier] = w
	}
	w.windowSecs = win

	// a clock stepping backwards must not break ordering
	if n := len(w.stamps); n > 0 && now < w.stamps[n-1] {
		now = w.stamps[n-1]
	}
	w.prune(now, win)

	if len(w.stamps) >= maxRequests {
		first := !w.denied
		w.denied = true
		l.mu.Unlock()

		// hooks may log or touch metrics, never under the lock
		if first && l.cfg.onFirstDenied != nil {
			l.cfg.onFirstDenied(identifier)
		}
		if l.cfg.onDenied != nil {
			l.cfg.onDenied(identifier)
		}
		return false
	}

	w.stamps = append(w.stamps, now)
	w.denied = false
	l.mu.Unlock()
	return true
}

// prune drops the leading stamps that fell out of the window, compacting in place
func (w *clientWindow) prune(now, windowSecs int64) {
	i := 0
	for i < len(w.stamps) && now-w.stamps[i] >= windowSecs {
		i++
	}
	if i == 0 {
		return
	}
	n := copy(w.stamps, w.stamps[i:])
	w.stamps = w.stamps[:n]
}

// Allow runs CheckLimit with the policy bound at construction
func (l *SlidingWindow) Allow(_ context.Context, id string) bool {
	return l.CheckLimit(id, l.cfg.maxRequests, l.cfg.windowSecs)
}

func (l *SlidingWindow) Window() time.Duration {
	return time.Duration(l.cfg.windowSecs) * time.Second
}

// Keys is the number of identifiers currently tracked
func (l *SlidingWindow) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Snapshot returns a copy of identifier's recorded timestamps, nil if unknown
func (l *SlidingWindow) Snapshot(identifier string) []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[identifier]
	if !ok {
		return nil
	}
	out := make([]int64, len(w.stamps))
	copy(out, w.stamps)
	return out
}

// Sweep evicts identifiers whose every timestamp is outside their window as of now.
// Returns how many were removed.
func (l *SlidingWindow) Sweep(now time.Time) int {
	ts := now.Unix()
	removed := 0

	l.mu.Lock()
	defer l.mu.Unlock()
	for id, w := range l.windows {
		n := len(w.stamps)
		if n == 0 || ts-w.stamps[n-1] >= w.windowSecs {
			delete(l.windows, id)
			removed++
		}
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done. Blocks, run it in a goroutine.
func (l *SlidingWindow) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep(l.cfg.clock.Now())
		}
	}
}
