// Package router maps event kinds to the agents subscribed to them.
package router

import (
	"sync"

	"go-agent-coordinator/internal/core"
)

// Router holds an ordered agent list per event kind. Registering the same
// agent twice under one kind is allowed and makes it run twice per event;
// avoiding that is the caller's job.
type Router struct {
	mu     sync.RWMutex
	routes map[core.Kind][]core.Agent
}

// New returns an empty router.
func New() *Router {
	return &Router{routes: make(map[core.Kind][]core.Agent)}
}

// AddRoute subscribes agent to kind.
func (r *Router) AddRoute(kind core.Kind, agent core.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[kind] = append(r.routes[kind], agent)
}

// AddRoutes subscribes agent to every kind given.
func (r *Router) AddRoutes(agent core.Agent, kinds ...core.Kind) {
	for _, k := range kinds {
		r.AddRoute(k, agent)
	}
}

// Route returns the agents for ev's kind in registration order. No
// subscribers yields an empty slice, not an error.
func (r *Router) Route(ev core.Event) []core.Agent {
	return r.Agents(ev.Kind())
}

// Agents returns a copy of the agents registered under kind.
func (r *Router) Agents(kind core.Kind) []core.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agents := r.routes[kind]
	out := make([]core.Agent, len(agents))
	copy(out, agents)
	return out
}

// Kinds lists every kind with at least one subscriber.
func (r *Router) Kinds() []core.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]core.Kind, 0, len(r.routes))
	for k := range r.routes {
		kinds = append(kinds, k)
	}
	return kinds
}
