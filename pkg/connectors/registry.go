package connectors

import (
	"sync"

	"github.com/sipeed/gatewaybridge/pkg/model"
)

// Registry looks up a Connector by platform. Registration happens once at
// startup in cmd/gateway; lookups happen on the Router's hot path, so reads
// are served from a plain map under an RWMutex rather than sync.Map (the
// write:read ratio here is the opposite of what sync.Map is tuned for).
type Registry struct {
	mu         sync.RWMutex
	connectors map[model.Platform]Connector
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{connectors: make(map[model.Platform]Connector)}
}

// Register adds or replaces the Connector for its own Platform().
func (r *Registry) Register(c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[c.Platform()] = c
}

// Get returns the Connector for platform, or false if none is registered.
func (r *Registry) Get(platform model.Platform) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[platform]
	return c, ok
}
