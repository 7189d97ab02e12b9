// ABOUTME: Routes inbound keyed events to receivers suspended on the same key.
// ABOUTME: Events are handed off exactly once and never queued for absent keys.

package spool

import (
	"context"
	"errors"
	"sync"
)

// ErrKeyBusy is returned by Wait when another receiver is already suspended
// on the same key.
var ErrKeyBusy = errors.New("key already has a waiting receiver")

// Spool matches events against receivers by string key. A receiver suspends
// in Wait; the next Dispatch for its key wakes it with the event. Dispatch
// reports whether anyone took the event, and for keys nobody is serving it
// stores nothing, so the caller can decide what an unhandled event means.
//
// Open and Close bracket the window between deciding to serve a key and the
// first Wait for it. While a key is open, one event may arrive early and is
// buffered for the next Wait instead of being reported unhandled.
//
// All methods are safe for concurrent use.
type Spool[V any] struct {
	mu      sync.Mutex
	waiters map[string]chan V
	open    map[string]*pending[V]
}

type pending[V any] struct {
	value V
	full  bool
}

// New returns an empty spool.
func New[V any]() *Spool[V] {
	return &Spool[V]{
		waiters: make(map[string]chan V),
		open:    make(map[string]*pending[V]),
	}
}

// Wait suspends until an event for key is dispatched and returns it. If the
// key is open and an event was buffered, Wait returns it without suspending.
// At most one receiver may wait per key; a second concurrent Wait returns
// ErrKeyBusy. Cancelling ctx abandons the wait and frees the key.
func (s *Spool[V]) Wait(ctx context.Context, key string) (V, error) {
	var zero V

	s.mu.Lock()
	if p, ok := s.open[key]; ok && p.full {
		v := p.value
		p.value = zero
		p.full = false
		s.mu.Unlock()
		return v, nil
	}
	if _, ok := s.waiters[key]; ok {
		s.mu.Unlock()
		return zero, ErrKeyBusy
	}
	ch := make(chan V, 1)
	s.waiters[key] = ch
	s.mu.Unlock()

	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		s.mu.Lock()
		// A new receiver may have registered under this key if a
		// dispatch already consumed our channel; only remove our own.
		if s.waiters[key] == ch {
			delete(s.waiters, key)
		}
		s.mu.Unlock()
		// Dispatch may have delivered between cancellation and the
		// lock above; prefer the event so it is not lost.
		select {
		case v := <-ch:
			return v, nil
		default:
		}
		return zero, ctx.Err()
	}
}

// Dispatch offers v to the receiver waiting on key and reports whether it
// was taken. If no receiver is waiting but the key is open with room in its
// buffer, the event is held for the next Wait and Dispatch reports true.
// Otherwise the event is dropped and Dispatch reports false; nothing is ever
// queued for a key nobody serves.
func (s *Spool[V]) Dispatch(key string, v V) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch, ok := s.waiters[key]; ok {
		delete(s.waiters, key)
		ch <- v // buffered; never blocks
		return true
	}
	if p, ok := s.open[key]; ok && !p.full {
		p.value = v
		p.full = true
		return true
	}
	return false
}

// Open marks key as served before its first Wait, closing the gap where an
// event could arrive for a receiver that is still starting up. It reports
// false if the key is already open, letting exactly one caller win the right
// to serve it.
func (s *Spool[V]) Open(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.open[key]; ok {
		return false
	}
	s.open[key] = &pending[V]{}
	return true
}

// Close releases an open key, discarding any buffered event.
func (s *Spool[V]) Close(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.open, key)
}
