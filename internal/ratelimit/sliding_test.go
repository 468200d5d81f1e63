package ratelimit

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var epoch = time.Unix(0, 0)

// newTestWindow returns a limiter on a manual clock sitting at unix 0
func newTestWindow(t *testing.T, opts ...Option) (*SlidingWindow, *ManualClock) {
	t.Helper()
	clk := NewManualClock(epoch)
	l, err := New(append([]Option{WithClock(clk)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l, clk
}

func at(clk *ManualClock, sec int64) { clk.Set(time.Unix(sec, 0)) }

func wantStamps(t *testing.T, l *SlidingWindow, id string, want ...int64) {
	t.Helper()
	got := l.Snapshot(id)
	if len(want) == 0 && len(got) == 0 {
		return
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("window[%s] = %v, want %v", id, got, want)
	}
}

// the five walkthrough cases, max 3 per 60s unless noted

func TestCheckLimit_Scenario_FillWindow(t *testing.T) {
	l, clk := newTestWindow(t)
	for i := int64(0); i < 3; i++ {
		at(clk, i)
		if !l.CheckLimit("1.2.3.4", 3, 60) {
			t.Fatalf("call at t=%d should be admitted", i)
		}
	}
	wantStamps(t, l, "1.2.3.4", 0, 1, 2)
}

func TestCheckLimit_Scenario_FourthRejected(t *testing.T) {
	l, clk := newTestWindow(t)
	for i := int64(0); i < 3; i++ {
		at(clk, i)
		l.CheckLimit("1.2.3.4", 3, 60)
	}
	at(clk, 3)
	if l.CheckLimit("1.2.3.4", 3, 60) {
		t.Fatal("fourth call at t=3 should be rejected")
	}
	wantStamps(t, l, "1.2.3.4", 0, 1, 2)
}

func TestCheckLimit_Scenario_AfterWindow(t *testing.T) {
	l, clk := newTestWindow(t)
	for i := int64(0); i < 3; i++ {
		at(clk, i)
		l.CheckLimit("1.2.3.4", 3, 60)
	}
	at(clk, 3)
	l.CheckLimit("1.2.3.4", 3, 60)

	// 61-0 and 61-1 are >= 60, 61-2 is not
	at(clk, 61)
	if !l.CheckLimit("1.2.3.4", 3, 60) {
		t.Fatal("call at t=61 should be admitted once the oldest stamps age out")
	}
	wantStamps(t, l, "1.2.3.4", 2, 61)

	at(clk, 200)
	if !l.CheckLimit("1.2.3.4", 3, 60) {
		t.Fatal("call at t=200 should be admitted")
	}
	wantStamps(t, l, "1.2.3.4", 200)
}

func TestCheckLimit_Scenario_OtherIdentifierIndependent(t *testing.T) {
	l, clk := newTestWindow(t)
	for i := int64(0); i < 3; i++ {
		at(clk, i)
		l.CheckLimit("1.2.3.4", 3, 60)
	}
	at(clk, 3)
	if l.CheckLimit("1.2.3.4", 3, 60) {
		t.Fatal("1.2.3.4 should be limited")
	}
	if !l.CheckLimit("5.6.7.8", 3, 60) {
		t.Fatal("5.6.7.8 first request should be admitted")
	}
	wantStamps(t, l, "5.6.7.8", 3)
}

func TestCheckLimit_Scenario_OnePerSecondBoundary(t *testing.T) {
	l, clk := newTestWindow(t)
	at(clk, 0)
	if !l.CheckLimit("k", 1, 1) {
		t.Fatal("t=0 should be admitted")
	}
	if l.CheckLimit("k", 1, 1) {
		t.Fatal("second call in the same second should be rejected")
	}
	at(clk, 1)
	if !l.CheckLimit("k", 1, 1) {
		t.Fatal("t=1 should be admitted, 1-0 >= 1 is stale")
	}
	wantStamps(t, l, "k", 1)
}

// properties

func TestCheckLimit_AdmitUnderLimitAddsOne(t *testing.T) {
	l, clk := newTestWindow(t)
	for i := 0; i < 10; i++ {
		at(clk, int64(i))
		before := len(l.Snapshot("a"))
		if !l.CheckLimit("a", 10, 3600) {
			t.Fatalf("call %d should be admitted", i)
		}
		if after := len(l.Snapshot("a")); after != before+1 {
			t.Fatalf("count went %d -> %d, want +1", before, after)
		}
	}
}

func TestCheckLimit_RejectAtLimitLeavesWindow(t *testing.T) {
	l, clk := newTestWindow(t)
	for i := int64(0); i < 5; i++ {
		at(clk, i*10)
		l.CheckLimit("a", 5, 3600)
	}
	before := l.Snapshot("a")
	at(clk, 100)
	if l.CheckLimit("a", 5, 3600) {
		t.Fatal("sixth call should be rejected")
	}
	if !reflect.DeepEqual(before, l.Snapshot("a")) {
		t.Fatalf("rejection changed the window: %v -> %v", before, l.Snapshot("a"))
	}
}

func TestCheckLimit_ExpiryBoundaryInclusive(t *testing.T) {
	l, clk := newTestWindow(t)
	at(clk, 100)
	l.CheckLimit("a", 1, 30)

	at(clk, 129)
	if l.CheckLimit("a", 1, 30) {
		t.Fatal("t0+window-1 should still count the original entry")
	}
	at(clk, 130)
	if !l.CheckLimit("a", 1, 30) {
		t.Fatal("t0+window should no longer count the original entry")
	}
}

func TestCheckLimit_OldestAgesOutOneAtATime(t *testing.T) {
	l, clk := newTestWindow(t)
	for _, ts := range []int64{0, 10, 20} {
		at(clk, ts)
		l.CheckLimit("a", 3, 60)
	}
	at(clk, 60)
	if !l.CheckLimit("a", 3, 60) {
		t.Fatal("t=60 frees exactly the t=0 slot")
	}
	if l.CheckLimit("a", 3, 60) {
		t.Fatal("only one slot should have been freed")
	}
	wantStamps(t, l, "a", 10, 20, 60)
}

func TestCheckLimit_IdentifiersIndependent(t *testing.T) {
	l, clk := newTestWindow(t)
	for i := 0; i < 4; i++ {
		l.CheckLimit("a", 2, 60)
	}
	at(clk, 1)
	for i := 0; i < 2; i++ {
		if !l.CheckLimit("b", 2, 60) {
			t.Fatalf("b call %d should be admitted regardless of a", i)
		}
	}
	wantStamps(t, l, "a", 0, 0)
	wantStamps(t, l, "b", 1, 1)
}

func TestCheckLimit_RepeatedRejectionsDoNotGrow(t *testing.T) {
	l, _ := newTestWindow(t)
	for i := 0; i < 3; i++ {
		l.CheckLimit("a", 3, 60)
	}
	for i := 0; i < 50; i++ {
		if l.CheckLimit("a", 3, 60) {
			t.Fatalf("rejection %d admitted", i)
		}
	}
	if n := len(l.Snapshot("a")); n != 3 {
		t.Fatalf("count = %d, want 3", n)
	}
}

func TestCheckLimit_SameSecondNotDeduped(t *testing.T) {
	l, _ := newTestWindow(t)
	l.CheckLimit("a", 5, 60)
	l.CheckLimit("a", 5, 60)
	wantStamps(t, l, "a", 0, 0)
}

func TestCheckLimit_NonPositivePolicyRejects(t *testing.T) {
	l, _ := newTestWindow(t)
	cases := []struct{ max, win int }{{0, 60}, {-1, 60}, {3, 0}, {3, -5}}
	for _, c := range cases {
		if l.CheckLimit("a", c.max, c.win) {
			t.Fatalf("CheckLimit(max=%d, window=%d) should reject", c.max, c.win)
		}
	}
	if l.Keys() != 0 {
		t.Fatalf("invalid calls should not create state, keys = %d", l.Keys())
	}
}

func TestCheckLimit_ClockBackwardsKeepsOrder(t *testing.T) {
	l, clk := newTestWindow(t)
	at(clk, 50)
	l.CheckLimit("a", 5, 60)
	at(clk, 40)
	l.CheckLimit("a", 5, 60)

	got := l.Snapshot("a")
	for i := 1; i < len(got); i++ {
		if got[i] < got[i-1] {
			t.Fatalf("timestamps decreased: %v", got)
		}
	}
}

func TestCheckLimit_WallClockTruncatesToSeconds(t *testing.T) {
	l, clk := newTestWindow(t)
	clk.Set(time.Unix(10, int64(900*time.Millisecond)))
	l.CheckLimit("a", 5, 60)
	wantStamps(t, l, "a", 10)
}

func TestCheckLimit_ConcurrentExactlyMax(t *testing.T) {
	l, _ := newTestWindow(t)
	const limit = 7

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.CheckLimit("hot", limit, 60) {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if admitted.Load() != limit {
		t.Fatalf("admitted = %d, want %d", admitted.Load(), limit)
	}
	if n := len(l.Snapshot("hot")); n != limit {
		t.Fatalf("stored = %d, want %d", n, limit)
	}
}

func TestCheckLimit_ConcurrentManyKeys(t *testing.T) {
	l, _ := newTestWindow(t)

	var wg sync.WaitGroup
	for k := 0; k < 20; k++ {
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(k int) {
				defer wg.Done()
				l.CheckLimit(fmt.Sprintf("10.0.0.%d", k), 3, 60)
			}(k)
		}
	}
	wg.Wait()

	if l.Keys() != 20 {
		t.Fatalf("keys = %d, want 20", l.Keys())
	}
	for k := 0; k < 20; k++ {
		if n := len(l.Snapshot(fmt.Sprintf("10.0.0.%d", k))); n != 3 {
			t.Fatalf("key %d stored %d, want 3", k, n)
		}
	}
}

// policy binding and construction

func TestNew_Defaults(t *testing.T) {
	l, err := New()
	if err != nil {
		t.Fatal(err)
	}
	if l.Window() != time.Hour {
		t.Fatalf("Window() = %v, want 1h", l.Window())
	}
}

func TestNew_RejectsInvalidPolicy(t *testing.T) {
	if _, err := New(WithPolicy(0, 60)); err == nil {
		t.Fatal("max 0 should be rejected")
	}
	if _, err := New(WithPolicy(3, 0)); err == nil {
		t.Fatal("window 0 should be rejected")
	}
}

func TestAllow_UsesBoundPolicy(t *testing.T) {
	l, clk := newTestWindow(t, WithPolicy(2, 10))
	ctx := context.Background()

	if !l.Allow(ctx, "a") || !l.Allow(ctx, "a") {
		t.Fatal("first two should pass")
	}
	if l.Allow(ctx, "a") {
		t.Fatal("third should be limited")
	}
	clk.Advance(10 * time.Second)
	if !l.Allow(ctx, "a") {
		t.Fatal("window elapsed, should pass")
	}
	if l.Window() != 10*time.Second {
		t.Fatalf("Window() = %v", l.Window())
	}
}

func TestLimiterInterface(t *testing.T) {
	var _ Limiter = (*SlidingWindow)(nil)
	var _ Limiter = (*RedisWindow)(nil)
}

// hooks

func TestOnDenied_EveryRejection(t *testing.T) {
	var denied atomic.Int64
	l, _ := newTestWindow(t, WithOnDenied(func(string) { denied.Add(1) }))

	l.CheckLimit("a", 1, 60)
	for i := 0; i < 5; i++ {
		l.CheckLimit("a", 1, 60)
	}
	if denied.Load() != 5 {
		t.Fatalf("OnDenied fired %d times, want 5", denied.Load())
	}
}

func TestOnFirstDenied_OncePerStreak(t *testing.T) {
	var mu sync.Mutex
	var firsts []string
	l, clk := newTestWindow(t, WithOnFirstDenied(func(id string) {
		mu.Lock()
		firsts = append(firsts, id)
		mu.Unlock()
	}))

	l.CheckLimit("a", 1, 60)
	l.CheckLimit("a", 1, 60)
	l.CheckLimit("a", 1, 60)
	if len(firsts) != 1 {
		t.Fatalf("first streak: fired %d times, want 1", len(firsts))
	}

	// admit re-arms
	at(clk, 60)
	if !l.CheckLimit("a", 1, 60) {
		t.Fatal("should be admitted after the window")
	}
	l.CheckLimit("a", 1, 60)
	if len(firsts) != 2 {
		t.Fatalf("second streak: fired %d times total, want 2", len(firsts))
	}
}

func TestOnFirstDenied_PerIdentifier(t *testing.T) {
	var count atomic.Int64
	l, _ := newTestWindow(t, WithOnFirstDenied(func(string) { count.Add(1) }))

	for _, id := range []string{"a", "b", "c"} {
		l.CheckLimit(id, 1, 60)
		l.CheckLimit(id, 1, 60)
		l.CheckLimit(id, 1, 60)
	}
	if count.Load() != 3 {
		t.Fatalf("fired %d times, want 3", count.Load())
	}
}

func TestHooks_CanReenterLimiter(t *testing.T) {
	var l *SlidingWindow
	l, _ = newTestWindow(t, WithOnDenied(func(string) { _ = l.Keys() }))

	done := make(chan struct{})
	go func() {
		l.CheckLimit("a", 1, 60)
		l.CheckLimit("a", 1, 60)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hook deadlocked, hooks must run outside the lock")
	}
}

func TestNilHooks_NoPanic(t *testing.T) {
	l, _ := newTestWindow(t)
	l.CheckLimit("a", 1, 60)
	l.CheckLimit("a", 1, 60)
}

// sweep

func TestSnapshot_UnknownAndCopy(t *testing.T) {
	l, _ := newTestWindow(t)
	if l.Snapshot("nobody") != nil {
		t.Fatal("unknown identifier should snapshot to nil")
	}
	l.CheckLimit("a", 3, 60)
	s := l.Snapshot("a")
	s[0] = 999
	wantStamps(t, l, "a", 0)
}

func TestSweep_RemovesOnlyStale(t *testing.T) {
	l, clk := newTestWindow(t)
	at(clk, 0)
	l.CheckLimit("old", 3, 60)
	at(clk, 50)
	l.CheckLimit("fresh", 3, 60)

	if n := l.Sweep(time.Unix(60, 0)); n != 1 {
		t.Fatalf("Sweep removed %d, want 1", n)
	}
	if l.Snapshot("old") != nil {
		t.Fatal("old should be evicted")
	}
	wantStamps(t, l, "fresh", 50)
}

func TestSweep_RemovesEmptyWindows(t *testing.T) {
	l, _ := newTestWindow(t)
	// not reachable through CheckLimit, but Sweep must not trip over it
	l.mu.Lock()
	l.windows["empty"] = &clientWindow{windowSecs: 60}
	l.mu.Unlock()

	if n := l.Sweep(epoch); n != 1 {
		t.Fatalf("Sweep removed %d, want 1", n)
	}
}

func TestNoSweep_KeysPersist(t *testing.T) {
	l, clk := newTestWindow(t)
	l.CheckLimit("a", 3, 60)
	at(clk, 100000)
	l.CheckLimit("b", 3, 60)
	if l.Keys() != 2 {
		t.Fatalf("keys = %d, stale keys stay unless swept", l.Keys())
	}
}

func TestRunSweeper_EvictsAndStops(t *testing.T) {
	l, clk := newTestWindow(t)
	l.CheckLimit("a", 3, 1)
	at(clk, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.RunSweeper(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for l.Keys() != 0 {
		select {
		case <-deadline:
			t.Fatal("sweeper never evicted the stale key")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunSweeper did not return after cancel")
	}
}

func TestRunSweeper_ZeroIntervalReturns(t *testing.T) {
	l, _ := newTestWindow(t)
	done := make(chan struct{})
	go func() {
		l.RunSweeper(context.Background(), 0)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("zero interval should return immediately")
	}
}
