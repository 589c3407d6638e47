package engine

import (
	"context"
	"testing"
	"time"
)

func TestSemaphoreClampsWidth(t *testing.T) {
	sem := newSemaphore(0)
	if err := sem.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire on clamped semaphore: %v", err)
	}
	sem.Release()
}

func TestSemaphoreBoundsConcurrency(t *testing.T) {
	sem := newSemaphore(2)
	ctx := context.Background()

	if err := sem.Acquire(ctx); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := sem.Acquire(ctx); err != nil {
		t.Fatalf("second acquire: %v", err)
	}

	// Third acquire must block until a slot frees.
	acquired := make(chan struct{})
	go func() {
		if err := sem.Acquire(ctx); err == nil {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("third acquire succeeded with no free slot")
	case <-time.After(20 * time.Millisecond):
	}

	sem.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("third acquire did not proceed after release")
	}
}

func TestSemaphoreAcquireHonorsCancellation(t *testing.T) {
	sem := newSemaphore(1)
	if err := sem.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sem.Acquire(ctx); err == nil {
		t.Fatal("expected an error acquiring with a cancelled context")
	}
}

func TestSemaphoreReleaseWithoutAcquirePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic")
		}
	}()
	newSemaphore(1).Release()
}
