// Package meta keeps the set of live agents and wires them onto a router
// from configuration.
package meta

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go-agent-coordinator/internal/config"
	"go-agent-coordinator/internal/core"
	"go-agent-coordinator/internal/router"
)

var (
	ErrDuplicateAgent = errors.New("agent already registered")
	ErrUnknownAgent   = errors.New("unknown agent")
)

// Factory creates agents of various kinds.
type Factory interface {
	Create(ctx context.Context, id, kind string) (core.Agent, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, id, kind string) (core.Agent, error)

func (f FactoryFunc) Create(ctx context.Context, id, kind string) (core.Agent, error) {
	return f(ctx, id, kind)
}

// Registry manages the agents of one coordinator.
type Registry struct {
	mu      sync.RWMutex
	agents  map[string]core.Agent
	factory Factory
	logger  *slog.Logger
}

// NewRegistry returns an empty registry. factory may be nil when agents are
// only added with Register.
func NewRegistry(f Factory, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		agents:  make(map[string]core.Agent),
		factory: f,
		logger:  logger.With("component", "registry"),
	}
}

// Register adds an already built agent under its own ID.
func (r *Registry) Register(a core.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[a.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAgent, a.ID())
	}
	r.agents[a.ID()] = a
	r.logger.Debug("agent registered", "agent", a.ID())
	return nil
}

// SpawnAgent creates an agent through the factory and registers it.
func (r *Registry) SpawnAgent(ctx context.Context, id, kind string) (core.Agent, error) {
	if r.factory == nil {
		return nil, fmt.Errorf("spawn %s: no factory configured", id)
	}
	a, err := r.factory.Create(ctx, id, kind)
	if err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	if a.ID() != id {
		return nil, fmt.Errorf("create agent: factory returned %q for %q", a.ID(), id)
	}
	if err := r.Register(a); err != nil {
		return nil, err
	}
	return a, nil
}

// Agent looks an agent up by id.
func (r *Registry) Agent(id string) (core.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	return a, ok
}

// AgentIDs returns the registered identifiers, sorted.
func (r *Registry) AgentIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Wire subscribes registered agents to kinds as described by routes. Every
// id is resolved before the router is touched, so a bad route leaves rt
// unchanged.
func (r *Registry) Wire(rt *router.Router, routes []config.Route) error {
	type binding struct {
		kind  core.Kind
		agent core.Agent
	}
	var bindings []binding
	var missing []string

	r.mu.RLock()
	for _, route := range routes {
		for _, id := range route.Agents {
			a, ok := r.agents[id]
			if !ok {
				missing = append(missing, id)
				continue
			}
			bindings = append(bindings, binding{core.Kind(route.Kind), a})
		}
	}
	r.mu.RUnlock()

	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrUnknownAgent, missing)
	}
	for _, b := range bindings {
		rt.AddRoute(b.kind, b.agent)
	}
	r.logger.Info("routes wired", "routes", len(routes), "bindings", len(bindings))
	return nil
}
