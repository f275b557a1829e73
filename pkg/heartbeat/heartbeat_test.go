package heartbeat

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEveryStops(t *testing.T) {
	var n atomic.Int32
	h := Every(context.Background(), 5*time.Millisecond, func(context.Context) { n.Add(1) })

	assert.Eventually(t, func() bool { return n.Load() >= 3 }, time.Second, time.Millisecond)
	h.Stop()
	stopped := n.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, n.Load())
	h.Stop()
}

func TestEveryFollowsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := Every(ctx, time.Hour, func(context.Context) {})
	cancel()
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("timer did not stop after context cancel")
	}
}
