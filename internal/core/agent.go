package core

import "context"

// Agent is a unit of behaviour: it receives one event and may produce any
// number of follow-up events. Receive may block on I/O and must honour ctx.
type Agent interface {
	ID() string
	Receive(ctx context.Context, ev Event) ([]Event, error)
}

// AgentFunc adapts a plain function to the Agent interface.
type AgentFunc struct {
	Name string
	Fn   func(ctx context.Context, ev Event) ([]Event, error)
}

func (a AgentFunc) ID() string { return a.Name }

func (a AgentFunc) Receive(ctx context.Context, ev Event) ([]Event, error) {
	return a.Fn(ctx, ev)
}

// NewAgentFunc returns an Agent named id that runs fn.
func NewAgentFunc(id string, fn func(ctx context.Context, ev Event) ([]Event, error)) Agent {
	return AgentFunc{Name: id, Fn: fn}
}
