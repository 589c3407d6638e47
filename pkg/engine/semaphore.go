package engine

import (
	"context"
)

// semaphore is a context-aware counting semaphore. It bounds in-flight
// provider calls within a phase; phase barriers provide the cross-phase
// ordering, so nothing here needs to be fair.
type semaphore struct {
	slots chan struct{}
}

// newSemaphore creates a semaphore with the given width. Width is clamped to
// at least one slot.
func newSemaphore(width int) *semaphore {
	if width < 1 {
		width = 1
	}
	return &semaphore{slots: make(chan struct{}, width)}
}

// Acquire blocks until a slot is free or the context is cancelled.
func (s *semaphore) Acquire(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot. Calling Release without a matching Acquire is a
// programming error and panics.
func (s *semaphore) Release() {
	select {
	case <-s.slots:
	default:
		panic("engine: semaphore released without acquire")
	}
}
