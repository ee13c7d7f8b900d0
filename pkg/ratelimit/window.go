// Package ratelimit implements a sliding-window admission limiter.
//
// The window records the instant of every admitted action and allows at most
// Capacity actions within any trailing Window. Timestamps that fall out of
// the window are purged lazily, before each admission decision.
//
// Thread Safety: All methods are safe for concurrent access. Purge, check
// and record happen under one mutex.
package ratelimit

import (
	"sync"
	"time"
)

// Clock returns the current instant. Tests substitute a fake.
type Clock func() time.Time

// SlidingWindow bounds actions to Capacity per trailing Window.
type SlidingWindow struct {
	mu       sync.Mutex
	capacity int
	window   time.Duration
	now      Clock

	// timestamps holds admitted instants, oldest first.
	timestamps []time.Time
}

// New creates a limiter admitting capacity actions per window.
//
// Parameters:
//   - capacity: Maximum actions per window (default: 1 if <= 0)
//   - window: Trailing interval (default: 1 minute if <= 0)
func New(capacity int, window time.Duration) *SlidingWindow {
	return NewWithClock(capacity, window, time.Now)
}

// NewWithClock is New with an injected clock.
func NewWithClock(capacity int, window time.Duration, clock Clock) *SlidingWindow {
	if capacity <= 0 {
		capacity = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	if clock == nil {
		clock = time.Now
	}
	return &SlidingWindow{
		capacity:   capacity,
		window:     window,
		timestamps: make([]time.Time, 0, capacity),
		now:        clock,
	}
}

// purge drops timestamps at or beyond the window edge. Caller holds mu.
func (w *SlidingWindow) purge(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.timestamps) && !w.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.timestamps = append(w.timestamps[:0], w.timestamps[i:]...)
	}
}

// CanProceed reports whether another action would be admitted now. It
// mutates nothing beyond the purge.
func (w *SlidingWindow) CanProceed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.purge(w.now())
	return len(w.timestamps) < w.capacity
}

// Record appends the current instant. Call only after an action was
// actually admitted.
func (w *SlidingWindow) Record() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.timestamps = append(w.timestamps, w.now())
}

// TryAcquire purges, checks and records in one step.
//
// Returns:
//   - true if the action was admitted and recorded
//   - false if the window is full
func (w *SlidingWindow) TryAcquire() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.purge(now)
	if len(w.timestamps) >= w.capacity {
		return false
	}
	w.timestamps = append(w.timestamps, now)
	return true
}

// WaitTime returns zero when an action is admissible, otherwise how long
// until the oldest retained timestamp leaves the window. Never negative.
func (w *SlidingWindow) WaitTime() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.purge(now)
	if len(w.timestamps) < w.capacity {
		return 0
	}

	// Admission needs the window to shed len-capacity+1 entries.
	oldest := w.timestamps[len(w.timestamps)-w.capacity]
	wait := oldest.Add(w.window).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// SetCapacity changes the limit. Already recorded timestamps are kept.
func (w *SlidingWindow) SetCapacity(capacity int) {
	if capacity <= 0 {
		return
	}
	w.mu.Lock()
	w.capacity = capacity
	w.mu.Unlock()
}

func (w *SlidingWindow) Capacity() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.capacity
}

func (w *SlidingWindow) Window() time.Duration {
	return w.window
}

// Len returns the number of timestamps inside the window.
func (w *SlidingWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.purge(w.now())
	return len(w.timestamps)
}
