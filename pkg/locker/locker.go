// Package locker serializes named classes of operations.
//
// A Registry is created at process start and handed to the components that
// need it. Lockers are added on first use and removed explicitly (for example
// when an account logs out).
package locker

import (
	"context"
	"sync"
)

// Locker is a named mutual-exclusion section.
type Locker struct {
	name string
	sem  chan struct{}
}

func newLocker(name string) *Locker {
	return &Locker{name: name, sem: make(chan struct{}, 1)}
}

func (l *Locker) Name() string { return l.name }

// Do waits for the section, runs fn and releases it. Waiting is abandoned
// when ctx is done.
func (l *Locker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.sem }()
	return fn(ctx)
}

// TryDo runs fn only if the section is free. A call that finds it busy is
// dropped, not queued; ran reports which happened.
func (l *Locker) TryDo(ctx context.Context, fn func(ctx context.Context) error) (ran bool, err error) {
	select {
	case l.sem <- struct{}{}:
	default:
		return false, nil
	}
	defer func() { <-l.sem }()
	return true, fn(ctx)
}

// Busy reports whether the section is currently held.
func (l *Locker) Busy() bool {
	return len(l.sem) > 0
}

type Registry struct {
	mu      sync.Mutex
	lockers map[string]*Locker
}

func NewRegistry() *Registry {
	return &Registry{lockers: make(map[string]*Locker)}
}

// Get returns the locker called name, creating it on first use.
func (r *Registry) Get(name string) *Locker {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lockers[name]
	if !ok {
		l = newLocker(name)
		r.lockers[name] = l
	}
	return l
}

// Remove drops the locker called name. Holders keep their reference.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.lockers, name)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lockers)
}
