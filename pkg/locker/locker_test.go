package locker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryDoSkipsWhileBusy(t *testing.T) {
	reg := NewRegistry()
	l := reg.Get("open_close_position")

	var runs atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ran, err := l.TryDo(context.Background(), func(context.Context) error {
			runs.Add(1)
			close(entered)
			<-release
			return nil
		})
		assert.True(t, ran)
		assert.NoError(t, err)
	}()

	<-entered
	ran, err := l.TryDo(context.Background(), func(context.Context) error {
		runs.Add(1)
		return nil
	})
	require.NoError(t, err)
	assert.False(t, ran)
	assert.True(t, l.Busy())

	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), runs.Load())
	assert.False(t, l.Busy())
}

func TestDoSerializes(t *testing.T) {
	l := NewRegistry().Get("window")
	var (
		inside atomic.Int32
		max    atomic.Int32
		wg     sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Do(context.Background(), func(context.Context) error {
				n := inside.Add(1)
				if n > max.Load() {
					max.Store(n)
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), max.Load())
}

func TestDoHonorsContext(t *testing.T) {
	l := NewRegistry().Get("x")
	release := make(chan struct{})
	go func() {
		_ = l.Do(context.Background(), func(context.Context) error { <-release; return nil })
	}()
	require.Eventually(t, l.Busy, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Do(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestRegistryLifecycle(t *testing.T) {
	reg := NewRegistry()
	a := reg.Get("a")
	assert.Same(t, a, reg.Get("a"))
	reg.Get("b")
	assert.Equal(t, 2, reg.Len())
	reg.Remove("a")
	assert.Equal(t, 1, reg.Len())
	assert.NotSame(t, a, reg.Get("a"))
}
