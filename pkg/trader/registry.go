package trader

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gregtusar/tradecore/pkg/gateway"
	"github.com/sirupsen/logrus"
)

// Factory builds the venue adapter for one Config. cb is the full observer
// chain; the adapter delivers every callback to it.
type Factory func(ctx context.Context, cfg Config, cb gateway.Callbacks, logger *logrus.Logger) (gateway.Gateway, error)

// Registry maps platform names to factories. Build one at startup and pass
// it to New.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(platform string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[platform]; exists {
		return fmt.Errorf("platform %s already registered", platform)
	}
	r.factories[platform] = f
	return nil
}

func (r *Registry) Lookup(platform string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[platform]
	if !ok {
		return nil, fmt.Errorf("%w: no gateway for platform %s", gateway.ErrParamMiss, platform)
	}
	return f, nil
}

func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for p := range r.factories {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
