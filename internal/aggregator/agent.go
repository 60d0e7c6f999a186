package aggregator

import (
	"context"

	"go-agent-coordinator/internal/core"
)

// ProcessFunc handles a released batch and returns follow-up events.
type ProcessFunc func(ctx context.Context, batch []core.Event) ([]core.Event, error)

// Agent exposes an Aggregator as a core.Agent. Route every required kind to
// it; process runs once per released batch.
type Agent struct {
	id      string
	agg     *Aggregator
	process ProcessFunc
}

func NewAgent(id string, agg *Aggregator, process ProcessFunc) *Agent {
	return &Agent{id: id, agg: agg, process: process}
}

func (a *Agent) ID() string { return a.id }

// Aggregator returns the underlying collector, e.g. to wait on it.
func (a *Agent) Aggregator() *Aggregator { return a.agg }

// Kinds is the set of kinds the agent should be routed.
func (a *Agent) Kinds() []core.Kind { return a.agg.Required() }

func (a *Agent) Receive(ctx context.Context, ev core.Event) ([]core.Event, error) {
	batch, err := a.agg.Capture(ctx, ev)
	if err != nil {
		return nil, err
	}
	if batch == nil || a.process == nil {
		return nil, nil
	}
	return a.process(ctx, batch)
}
