// ABOUTME: Tests for keyed event hand-off between dispatchers and receivers.
// ABOUTME: Covers exactly-once delivery, unhandled events, and open-key buffering.

package spool

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpool_DispatchWakesWaiter(t *testing.T) {
	s := New[string]()

	done := make(chan string, 1)
	go func() {
		v, err := s.Wait(t.Context(), "slack|U123")
		if err == nil {
			done <- v
		}
	}()
	time.Sleep(20 * time.Millisecond)

	assert.True(t, s.Dispatch("slack|U123", "hello"))

	select {
	case v := <-done:
		assert.Equal(t, "hello", v)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSpool_DispatchWithoutWaiterIsUnhandled(t *testing.T) {
	s := New[string]()

	assert.False(t, s.Dispatch("slack|U123", "orphan"))

	// The orphan must not have been queued: a later Wait sees nothing.
	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()
	_, err := s.Wait(ctx, "slack|U123")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSpool_SecondWaiterRejected(t *testing.T) {
	s := New[string]()

	started := make(chan struct{})
	go func() {
		close(started)
		_, _ = s.Wait(t.Context(), "matrix|@bob")
	}()
	<-started
	time.Sleep(20 * time.Millisecond)

	_, err := s.Wait(t.Context(), "matrix|@bob")
	assert.ErrorIs(t, err, ErrKeyBusy)

	s.Dispatch("matrix|@bob", "unblock")
}

func TestSpool_KeysAreIndependent(t *testing.T) {
	s := New[string]()

	aliceDone := make(chan string, 1)
	go func() {
		v, err := s.Wait(t.Context(), "slack|alice")
		if err == nil {
			aliceDone <- v
		}
	}()
	time.Sleep(20 * time.Millisecond)

	// An event for a different key leaves alice suspended.
	assert.False(t, s.Dispatch("slack|bob", "for bob"))

	select {
	case <-aliceDone:
		t.Fatal("alice received an event for bob's key")
	case <-time.After(100 * time.Millisecond):
	}

	assert.True(t, s.Dispatch("slack|alice", "for alice"))
	select {
	case v := <-aliceDone:
		assert.Equal(t, "for alice", v)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for alice's event")
	}
}

func TestSpool_CancelledWaitFreesKey(t *testing.T) {
	s := New[string]()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Wait(ctx, "terminal|local")
	assert.ErrorIs(t, err, context.Canceled)

	// The key is free again: a fresh Wait is accepted and served.
	done := make(chan string, 1)
	go func() {
		v, err := s.Wait(t.Context(), "terminal|local")
		if err == nil {
			done <- v
		}
	}()
	time.Sleep(20 * time.Millisecond)

	assert.True(t, s.Dispatch("terminal|local", "second round"))
	select {
	case v := <-done:
		assert.Equal(t, "second round", v)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSpool_OpenBuffersOneEarlyEvent(t *testing.T) {
	s := New[string]()

	require.True(t, s.Open("slack|U123"))

	// No receiver yet, but the open key holds one event.
	assert.True(t, s.Dispatch("slack|U123", "early"))

	v, err := s.Wait(t.Context(), "slack|U123")
	require.NoError(t, err)
	assert.Equal(t, "early", v)

	// The buffer has room again after being drained.
	assert.True(t, s.Dispatch("slack|U123", "next"))
	v, err = s.Wait(t.Context(), "slack|U123")
	require.NoError(t, err)
	assert.Equal(t, "next", v)

	s.Close("slack|U123")
}

func TestSpool_OpenBufferHoldsAtMostOne(t *testing.T) {
	s := New[string]()

	require.True(t, s.Open("slack|U123"))
	defer s.Close("slack|U123")

	assert.True(t, s.Dispatch("slack|U123", "first"))
	assert.False(t, s.Dispatch("slack|U123", "second"), "a full buffer must reject further events")

	v, err := s.Wait(t.Context(), "slack|U123")
	require.NoError(t, err)
	assert.Equal(t, "first", v)
}

func TestSpool_OpenIsExclusive(t *testing.T) {
	s := New[string]()

	assert.True(t, s.Open("matrix|@bob"))
	assert.False(t, s.Open("matrix|@bob"), "only one caller may win an open key")

	s.Close("matrix|@bob")
	assert.True(t, s.Open("matrix|@bob"))
	s.Close("matrix|@bob")
}

func TestSpool_CloseDiscardsBufferedEvent(t *testing.T) {
	s := New[string]()

	require.True(t, s.Open("slack|U123"))
	require.True(t, s.Dispatch("slack|U123", "doomed"))
	s.Close("slack|U123")

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()
	_, err := s.Wait(ctx, "slack|U123")
	assert.ErrorIs(t, err, context.DeadlineExceeded, "buffered event should be gone after Close")
}

func TestSpool_WaiterTakesPriorityOverBuffer(t *testing.T) {
	s := New[string]()

	require.True(t, s.Open("slack|U123"))
	defer s.Close("slack|U123")

	done := make(chan string, 1)
	go func() {
		v, err := s.Wait(t.Context(), "slack|U123")
		if err == nil {
			done <- v
		}
	}()
	time.Sleep(20 * time.Millisecond)

	assert.True(t, s.Dispatch("slack|U123", "direct"))
	select {
	case v := <-done:
		assert.Equal(t, "direct", v)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	// The buffer was bypassed, so it still has room.
	assert.True(t, s.Dispatch("slack|U123", "buffered"))
	v, err := s.Wait(t.Context(), "slack|U123")
	require.NoError(t, err)
	assert.Equal(t, "buffered", v)
}

func TestSpool_ConcurrentHandOffsAreExactlyOnce(t *testing.T) {
	s := New[int]()

	const keys = 100
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]int)
	)
	for i := range keys {
		key := fmt.Sprintf("slack|user-%d", i)
		wg.Add(2)
		go func() {
			defer wg.Done()
			v, err := s.Wait(t.Context(), key)
			if err != nil {
				t.Errorf("wait %s: %v", key, err)
				return
			}
			mu.Lock()
			results[key] = v
			mu.Unlock()
		}()
		go func() {
			defer wg.Done()
			// Retry until the receiver has registered; an unhandled
			// dispatch is dropped, never queued.
			for !s.Dispatch(key, i) {
				time.Sleep(time.Millisecond)
			}
		}()
	}
	wg.Wait()

	require.Len(t, results, keys)
	for i := range keys {
		assert.Equal(t, i, results[fmt.Sprintf("slack|user-%d", i)])
	}
}
