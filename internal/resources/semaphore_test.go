package resources

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSemaphoreAcquireRelease(t *testing.T) {
	s := NewSemaphore(2)
	ctx := context.Background()

	if err := s.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	if s.Acquired() != 2 {
		t.Errorf("Acquired() = %d, want 2", s.Acquired())
	}
	if s.TryAcquire() {
		t.Error("TryAcquire succeeded on a full semaphore")
	}

	s.Release()
	s.Release()
	if s.Acquired() != 0 {
		t.Errorf("Acquired() = %d after releases, want 0", s.Acquired())
	}
	if s.Violations() != 0 {
		t.Errorf("Violations() = %d, want 0", s.Violations())
	}
}

func TestSemaphoreNeverExceedsMax(t *testing.T) {
	const limit = 3
	s := NewSemaphore(limit)

	var (
		mu      sync.Mutex
		current int
		peak    int
		wg      sync.WaitGroup
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Acquire(context.Background()); err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			current++
			peak = max(peak, current)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			current--
			mu.Unlock()
			s.Release()
		}()
	}
	wg.Wait()

	if peak > limit {
		t.Errorf("peak concurrency %d exceeded max %d", peak, limit)
	}
	if s.Acquired() != 0 || s.Waiting() != 0 {
		t.Errorf("semaphore not idle: %s", s)
	}
}

func TestSemaphoreFIFO(t *testing.T) {
	s := NewSemaphore(1)
	if err := s.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	const waiters = 10
	order := make(chan int, waiters)
	for i := 0; i < waiters; i++ {
		go func(i int) {
			if err := s.Acquire(context.Background()); err != nil {
				t.Error(err)
				return
			}
			order <- i
			s.Release()
		}(i)
		// Enqueue strictly one at a time so the arrival order is known.
		waitFor(t, func() bool { return s.Waiting() == i+1 })
	}

	s.Release()
	for want := 0; want < waiters; want++ {
		if got := <-order; got != want {
			t.Fatalf("waiter %d granted at position %d", got, want)
		}
	}
}

func TestSemaphoreCancelledAcquire(t *testing.T) {
	s := NewSemaphore(1)
	if err := s.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Acquire(ctx) }()
	waitFor(t, func() bool { return s.Waiting() == 1 })

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire error = %v, want context.Canceled", err)
	}
	if s.Waiting() != 0 {
		t.Errorf("cancelled waiter still queued")
	}

	s.Release()
	if s.Acquired() != 0 {
		t.Errorf("cancelled Acquire consumed a permit: %s", s)
	}
}

func TestSemaphoreDoubleRelease(t *testing.T) {
	s := NewSemaphore(1)
	if err := s.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.Release()
	s.Release()

	if s.Acquired() != 0 {
		t.Errorf("Acquired() = %d, want 0", s.Acquired())
	}
	if s.Violations() != 1 {
		t.Errorf("Violations() = %d, want 1", s.Violations())
	}

	// The extra release must not have created a spare permit.
	if err := s.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.TryAcquire() {
		t.Error("unmatched release inflated capacity")
	}
}

func TestSemaphoreSetMax(t *testing.T) {
	s := NewSemaphore(1)
	if err := s.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Acquire(context.Background()); err != nil {
				t.Error(err)
			}
		}()
	}
	waitFor(t, func() bool { return s.Waiting() == 3 })

	s.SetMax(4)
	wg.Wait()
	if s.Acquired() != 4 || s.Waiting() != 0 {
		t.Errorf("after SetMax(4): %s", s)
	}

	// Shrinking keeps held permits; new grants wait until below the new max.
	s.SetMax(2)
	s.Release()
	s.Release()
	if s.TryAcquire() {
		t.Error("TryAcquire succeeded while at the reduced max")
	}
	s.Release()
	if !s.TryAcquire() {
		t.Error("TryAcquire failed below the reduced max")
	}
}

func TestSemaphorePurge(t *testing.T) {
	s := NewSemaphore(1)
	if err := s.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	const waiters = 4
	errc := make(chan error, waiters)
	for i := 0; i < waiters; i++ {
		go func() { errc <- s.Acquire(context.Background()) }()
	}
	waitFor(t, func() bool { return s.Waiting() == waiters })

	if n := s.Purge(); n != waiters {
		t.Errorf("Purge() = %d, want %d", n, waiters)
	}
	for i := 0; i < waiters; i++ {
		if err := <-errc; !errors.Is(err, ErrPurged) {
			t.Errorf("waiter error = %v, want ErrPurged", err)
		}
	}
	if s.Acquired() != 0 {
		t.Errorf("Acquired() = %d after purge, want 0", s.Acquired())
	}
	if err := s.Acquire(context.Background()); err != nil {
		t.Errorf("Acquire after purge failed: %v", err)
	}
}

func TestSemaphoreAsMutex(t *testing.T) {
	s := NewSemaphore(1)
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Acquire(context.Background()); err != nil {
				t.Error(err)
				return
			}
			counter++
			s.Release()
		}()
	}
	wg.Wait()
	if counter != 100 {
		t.Errorf("counter = %d, want 100", counter)
	}
}

func TestSemaphoreReserveOrder(t *testing.T) {
	s := NewSemaphore(1)
	ctx := context.Background()
	if err := s.Acquire(ctx); err != nil {
		t.Fatal(err)
	}

	// Reservations are granted in Reserve order even when Wait is called
	// in the opposite order.
	first := s.Reserve()
	second := s.Reserve()
	if s.Waiting() != 2 {
		t.Fatalf("Waiting() = %d, want 2", s.Waiting())
	}

	got := make(chan string, 2)
	go func() {
		if err := second.Wait(ctx); err == nil {
			got <- "second"
			s.Release()
		}
	}()
	time.Sleep(10 * time.Millisecond)
	go func() {
		if err := first.Wait(ctx); err == nil {
			got <- "first"
			s.Release()
		}
	}()

	s.Release()
	for _, want := range []string{"first", "second"} {
		select {
		case name := <-got:
			if name != want {
				t.Fatalf("granted %s, want %s", name, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%s reservation never granted", want)
		}
	}
	waitFor(t, func() bool { return s.Acquired() == 0 })
}

func TestSemaphoreReserveImmediate(t *testing.T) {
	s := NewSemaphore(1)
	r := s.Reserve()
	if s.Acquired() != 1 || s.Waiting() != 0 {
		t.Fatalf("after Reserve: acquired %d waiting %d, want 1 and 0", s.Acquired(), s.Waiting())
	}
	if err := r.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	s.Release()
}

func TestSemaphoreReserveCancelled(t *testing.T) {
	tests := []struct {
		name    string
		granted bool // permit freed before the wait is abandoned
	}{
		{"queued", false},
		{"granted", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSemaphore(1)
			if err := s.Acquire(context.Background()); err != nil {
				t.Fatal(err)
			}
			r := s.Reserve()
			if tt.granted {
				s.Release()
			}

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			err := r.Wait(ctx)
			if tt.granted {
				// Either outcome is valid; an abandoned grant must be handed back.
				if err == nil {
					s.Release()
				}
			} else if !errors.Is(err, context.Canceled) {
				t.Fatalf("Wait = %v, want context.Canceled", err)
			} else {
				s.Release()
			}

			if s.Acquired() != 0 || s.Waiting() != 0 {
				t.Errorf("acquired %d waiting %d, want 0 and 0", s.Acquired(), s.Waiting())
			}
			if s.Violations() != 0 {
				t.Errorf("Violations() = %d, want 0", s.Violations())
			}
		})
	}
}

func TestSemaphoreReservePurged(t *testing.T) {
	s := NewSemaphore(1)
	if err := s.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	r := s.Reserve()
	if n := s.Purge(); n != 1 {
		t.Fatalf("Purge() = %d, want 1", n)
	}
	if err := r.Wait(context.Background()); !errors.Is(err, ErrPurged) {
		t.Fatalf("Wait = %v, want ErrPurged", err)
	}
}
