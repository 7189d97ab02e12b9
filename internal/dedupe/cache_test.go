// ABOUTME: Tests for the dedupe cache's TTL, capacity, and atomicity behavior.
// ABOUTME: Covers first-seen vs retry outcomes, expiry, eviction, and races.

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeen_FirstTimeIsNew(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Close()

	assert.False(t, c.Seen("slack|Ev123"), "first delivery must not be a duplicate")
	assert.True(t, c.Seen("slack|Ev123"), "retry within TTL must be a duplicate")
}

func TestSeen_DistinctKeysAreIndependent(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Close()

	assert.False(t, c.Seen("slack|Ev1"))
	assert.False(t, c.Seen("matrix|$ev2"))
	assert.True(t, c.Seen("slack|Ev1"))
	assert.True(t, c.Seen("matrix|$ev2"))
}

func TestSeen_ExpiredKeyIsNewAgain(t *testing.T) {
	c := New(20*time.Millisecond, 100)
	defer c.Close()

	require.False(t, c.Seen("slack|Ev1"))
	time.Sleep(40 * time.Millisecond)

	assert.False(t, c.Seen("slack|Ev1"), "expired entry must read as new")
}

func TestSeen_CapacityEvictsOldest(t *testing.T) {
	c := New(time.Minute, 3)
	defer c.Close()

	c.Seen("a")
	c.Seen("b")
	c.Seen("c")
	// Inserting a fourth key evicts "a", the oldest.
	c.Seen("d")

	assert.Equal(t, 3, c.Len())
	assert.False(t, c.Seen("a"), "evicted key must read as new")
	assert.True(t, c.Seen("b"))
}

func TestSeen_RetryRefreshesPosition(t *testing.T) {
	c := New(time.Minute, 3)
	defer c.Close()

	c.Seen("a")
	c.Seen("b")
	c.Seen("c")
	// Touching "a" moves it to the back, so "b" is now the eviction victim.
	c.Seen("a")
	c.Seen("d")

	assert.True(t, c.Seen("a"), "refreshed key must survive eviction")
	assert.False(t, c.Seen("b"), "oldest untouched key must be evicted")
}

func TestSeen_ConcurrentDeliveriesAgreeOnOneWinner(t *testing.T) {
	c := New(time.Minute, 1000)
	defer c.Close()

	const goroutines = 32
	var wg sync.WaitGroup
	fresh := make(chan struct{}, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.Seen("contested") {
				fresh <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(fresh)

	assert.Len(t, fresh, 1, "exactly one delivery may win")
}

func TestRemoveExpired_SweepsOnlyStaleEntries(t *testing.T) {
	c := New(30*time.Millisecond, 100)
	defer c.Close()

	c.Seen("stale")
	time.Sleep(40 * time.Millisecond)
	c.Seen("fresh")

	c.removeExpired()

	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Seen("fresh"))
}

func TestClose_IsIdempotent(t *testing.T) {
	c := New(time.Minute, 10)
	c.Close()
	c.Close() // must not panic
}

func TestSeen_ManyKeysStayUnderCap(t *testing.T) {
	c := New(time.Minute, 50)
	defer c.Close()

	for i := 0; i < 500; i++ {
		c.Seen(fmt.Sprintf("key-%d", i))
	}

	assert.LessOrEqual(t, c.Len(), 50)
}
