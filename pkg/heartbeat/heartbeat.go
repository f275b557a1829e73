// Package heartbeat provides a repeating timer with an explicit stop handle.
package heartbeat

import (
	"context"
	"sync"
	"time"
)

// Handle controls a running repeating timer.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Every calls fn every interval until ctx is canceled or Stop is called.
// fn never runs concurrently with itself; a slow fn delays the next tick.
func Every(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
	return h
}

// Stop cancels the timer and waits until the goroutine has exited.
// After Stop returns fn will not be called again. Safe to call twice.
func (h *Handle) Stop() {
	h.once.Do(h.cancel)
	<-h.done
}

// Done is closed once the timer has stopped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}
