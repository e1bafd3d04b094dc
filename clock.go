// clock.go
package main

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts time so tests can pin the day boundary and skip pacing
// delays.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock implements Clock using the actual time.
type RealClock struct{}

// Now returns the current local time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// Sleep blocks for d or until the context is cancelled.
func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MockClock implements Clock for testing purposes. Sleeps return
// immediately, advance the mocked time, and are recorded in call order.
type MockClock struct {
	mu          sync.Mutex
	currentTime time.Time
	sleeps      []time.Duration
}

// NewMockClock returns a MockClock pinned at start.
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{currentTime: start}
}

// Now returns the mocked current time.
func (mc *MockClock) Now() time.Time {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.currentTime
}

// Sleep records the requested duration and advances the mocked time.
func (mc *MockClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.sleeps = append(mc.sleeps, d)
	mc.currentTime = mc.currentTime.Add(d)
	return nil
}

// Advance moves the current time forward by the specified duration.
func (mc *MockClock) Advance(d time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.currentTime = mc.currentTime.Add(d)
}

// Sleeps returns the recorded sleep durations in call order.
func (mc *MockClock) Sleeps() []time.Duration {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	out := make([]time.Duration, len(mc.sleeps))
	copy(out, mc.sleeps)
	return out
}
