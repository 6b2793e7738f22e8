package resources

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrPurged is returned to every waiter rejected by Purge.
var ErrPurged = errors.New("semaphore purged")

// Semaphore is a FIFO-fair counting lock. A released permit is handed
// directly to the longest-waiting Acquire, so later arrivals can never
// overtake earlier ones. With a max of 1 it serves as a mutex.
type Semaphore struct {
	mu         sync.Mutex
	max        int
	acquired   int
	waiters    list.List // of *waiter
	violations int
}

type waiter struct {
	// ready receives nil when the permit is granted or ErrPurged.
	ready chan error
}

// NewSemaphore creates a semaphore with max permits. Values below 1 are
// raised to 1.
func NewSemaphore(max int) *Semaphore {
	if max < 1 {
		max = 1
	}
	return &Semaphore{max: max}
}

// Acquire blocks until a permit is granted, ctx is done, or the semaphore is
// purged. A cancelled Acquire never consumes a permit.
func (s *Semaphore) Acquire(ctx context.Context) error {
	return s.Reserve().Wait(ctx)
}

// Reservation is a place in the semaphore's queue, taken without blocking.
type Reservation struct {
	s    *Semaphore
	w    *waiter
	elem *list.Element // nil when the permit was granted immediately
}

// Reserve takes a place in line and returns at once. The permit is granted
// in Reserve order, not in the order Wait is later called, so a caller can
// queue synchronously and wait from another goroutine.
func (s *Semaphore) Reserve() *Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &Reservation{s: s, w: &waiter{ready: make(chan error, 1)}}
	if s.acquired < s.max && s.waiters.Len() == 0 {
		s.acquired++
		r.w.ready <- nil
		return r
	}
	r.elem = s.waiters.PushBack(r.w)
	return r
}

// Wait blocks until the reserved permit is granted, ctx is done, or the
// semaphore is purged. If ctx ends first the place in line is given up and
// no permit is consumed. Wait must be called exactly once.
func (r *Reservation) Wait(ctx context.Context) error {
	select {
	case err := <-r.w.ready:
		return err
	case <-ctx.Done():
	}

	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case err := <-r.w.ready:
		// Granted while we were giving up: hand the permit on.
		if err == nil && s.acquired > 0 {
			s.acquired--
			s.grantLocked()
		}
	default:
		s.waiters.Remove(r.elem)
	}
	return ctx.Err()
}

// TryAcquire takes a permit only if one is free and nobody is waiting.
func (s *Semaphore) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acquired < s.max && s.waiters.Len() == 0 {
		s.acquired++
		return true
	}
	return false
}

// Release returns a permit. If waiters exist the permit goes straight to the
// one at the head of the queue. A Release with no matching Acquire is
// ignored and counted in Violations.
func (s *Semaphore) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acquired == 0 {
		s.violations++
		return
	}
	s.acquired--
	s.grantLocked()
}

// SetMax changes the capacity and grants queued waiters that now fit.
// Shrinking below the number of held permits does not revoke them; new
// grants resume once enough are released.
func (s *Semaphore) SetMax(n int) {
	if n < 1 {
		n = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.max = n
	s.grantLocked()
}

// Purge rejects every waiting Acquire with ErrPurged and resets the acquired
// count to zero. It returns the number of rejected waiters. Permits held at
// the time of the purge are forgotten; releasing them afterwards counts as a
// violation.
func (s *Semaphore) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.waiters.Len()
	for e := s.waiters.Front(); e != nil; e = e.Next() {
		e.Value.(*waiter).ready <- ErrPurged
	}
	s.waiters.Init()
	s.acquired = 0
	return n
}

// grantLocked hands free permits to waiters in FIFO order. Caller holds mu.
func (s *Semaphore) grantLocked() {
	for s.acquired < s.max {
		front := s.waiters.Front()
		if front == nil {
			return
		}
		s.waiters.Remove(front)
		s.acquired++
		front.Value.(*waiter).ready <- nil
	}
}

// Acquired returns the number of permits currently held.
func (s *Semaphore) Acquired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired
}

// Waiting returns the number of queued Acquire calls.
func (s *Semaphore) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiters.Len()
}

// Max returns the current capacity.
func (s *Semaphore) Max() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.max
}

// Violations returns how many unmatched Release calls were ignored.
func (s *Semaphore) Violations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.violations
}

func (s *Semaphore) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("%d/%d (waiting %d)", s.acquired, s.max, s.waiters.Len())
}
