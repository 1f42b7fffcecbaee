package inflight

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRejectsOverlap(t *testing.T) {
	g := New()

	release, err := g.Acquire("task-1")
	require.NoError(t, err)
	assert.True(t, g.busy("task-1"))

	_, err = g.Acquire("task-1")
	assert.ErrorIs(t, err, ErrBusy)

	other, err := g.Acquire("task-2")
	require.NoError(t, err, "different ids do not block each other")
	other()

	release()
	assert.False(t, g.busy("task-1"))

	again, err := g.Acquire("task-1")
	require.NoError(t, err)
	again()
}

func TestReleaseIsIdempotent(t *testing.T) {
	g := New()
	first, err := g.Acquire("x")
	require.NoError(t, err)
	first()

	second, err := g.Acquire("x")
	require.NoError(t, err)

	first() // stale release must not free the second holder
	assert.True(t, g.busy("x"))
	second()
	assert.Equal(t, 0, g.Len())
}

func TestDoPropagatesError(t *testing.T) {
	g := New()
	boom := errors.New("boom")
	err := g.Do("x", func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, g.busy("x"))
}

func TestConcurrentDoAdmitsOneAtATime(t *testing.T) {
	g := New()
	var running, maxRunning, rejected int32
	start := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := g.Do("same", func() error {
				n := atomic.AddInt32(&running, 1)
				for {
					m := atomic.LoadInt32(&maxRunning)
					if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
						break
					}
				}
				atomic.AddInt32(&running, -1)
				return nil
			})
			if errors.Is(err, ErrBusy) {
				atomic.AddInt32(&rejected, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), maxRunning)
	assert.Equal(t, 0, g.Len())
}
