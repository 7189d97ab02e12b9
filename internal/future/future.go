// ABOUTME: Registry of single-use tokens that each resolve to exactly one value.
// ABOUTME: Producers put a value by token; consumers suspend until it arrives.

package future

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
)

var (
	// ErrUnknownToken is returned by Put when the token was never issued.
	ErrUnknownToken = errors.New("unknown token")

	// ErrConsumed is returned when the token's single value has already
	// been assigned or claimed.
	ErrConsumed = errors.New("token already used")

	// ErrTokenBusy is returned by Get when another consumer is already
	// suspended on the same token.
	ErrTokenBusy = errors.New("token already has a waiting consumer")
)

// Registry hands out opaque tokens and later matches each one to a single
// value. A token is a rendezvous between one producer and one consumer:
// whichever side arrives first waits for the other, and the value crosses
// over exactly once. Tokens are single-use; once claimed they stay burned.
//
// All methods are safe for concurrent use.
type Registry[V any] struct {
	mu    sync.Mutex
	slots map[string]*slot[V]
}

type slot[V any] struct {
	value    V
	stored   bool
	consumed bool
	waiter   chan V // non-nil while a Get is suspended
}

// NewRegistry returns an empty registry.
func NewRegistry[V any]() *Registry[V] {
	return &Registry[V]{slots: make(map[string]*slot[V])}
}

// Issue registers a fresh token and returns it. Tokens carry 128 bits of
// entropy and are hex-encoded, so they are safe to embed in URLs.
func (r *Registry[V]) Issue() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)

	r.mu.Lock()
	r.slots[token] = &slot[V]{}
	r.mu.Unlock()

	return token, nil
}

// Has reports whether token refers to a live slot: registered and not yet
// claimed. Consumed tokens report false, so single-use URLs stop resolving
// once the value has been delivered.
func (r *Registry[V]) Has(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[token]
	return ok && !s.consumed
}

// Get claims the value for token, suspending until a producer stores one.
// If the value is already present Get returns it immediately; the producer
// and consumer may therefore arrive in either order. Get registers the token
// if it has never been seen.
//
// A second Get after the value was claimed returns ErrConsumed, and a Get
// while another consumer is suspended returns ErrTokenBusy. Cancelling ctx
// abandons the wait and leaves the slot intact for a later retry.
func (r *Registry[V]) Get(ctx context.Context, token string) (V, error) {
	var zero V

	r.mu.Lock()
	s, ok := r.slots[token]
	if !ok {
		s = &slot[V]{}
		r.slots[token] = s
	}
	if s.consumed {
		r.mu.Unlock()
		return zero, ErrConsumed
	}
	if s.stored {
		v := s.value
		s.value = zero
		s.stored = false
		s.consumed = true
		r.mu.Unlock()
		return v, nil
	}
	if s.waiter != nil {
		r.mu.Unlock()
		return zero, ErrTokenBusy
	}
	ch := make(chan V, 1)
	s.waiter = ch
	r.mu.Unlock()

	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		r.mu.Lock()
		s.waiter = nil
		r.mu.Unlock()
		// Put may have resolved the slot between cancellation and the
		// lock above; prefer the value so it is not lost.
		select {
		case v := <-ch:
			return v, nil
		default:
		}
		return zero, ctx.Err()
	}
}

// Put stores v as the single value for token, waking the consumer if one is
// suspended. It returns ErrUnknownToken for tokens that were never issued
// and ErrConsumed when the token already resolved.
func (r *Registry[V]) Put(token string, v V) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[token]
	if !ok {
		return ErrUnknownToken
	}
	if s.consumed || s.stored {
		return ErrConsumed
	}
	if s.waiter != nil {
		s.waiter <- v
		s.waiter = nil
		s.consumed = true
		return nil
	}
	s.value = v
	s.stored = true
	return nil
}
