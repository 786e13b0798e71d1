// Package sched holds the scheduling primitives shared by the tunnel,
// stream and datagram managers: state waiters, retry/backoff timing and
// a supervised-goroutine group for per-interface read loops.
package sched

import "sync"

// Waiter lets goroutines block on a state transition without holding
// the state's lock while they wait. Call Wait() while still holding the
// lock that guards the state, release the lock, then select on the
// returned channel; WakeAll fires it once the state actually changes
// (spec.md §5/§9: tunnel and stream FSMs wake blocked callers only
// after the transition has committed).
type Waiter struct {
	mu      sync.Mutex
	waiters []chan struct{}
}

// Wait registers a new one-shot wake channel.
func (w *Waiter) Wait() <-chan struct{} {
	ch := make(chan struct{})
	w.mu.Lock()
	w.waiters = append(w.waiters, ch)
	w.mu.Unlock()
	return ch
}

// WakeAll closes every channel registered since the last WakeAll,
// releasing every waiter currently blocked on one.
func (w *Waiter) WakeAll() {
	w.mu.Lock()
	waiters := w.waiters
	w.waiters = nil
	w.mu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}
