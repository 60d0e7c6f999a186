package core

import (
	"errors"
	"fmt"
)

var (
	// ErrCorrelationConflict is returned when an event already carries a
	// different correlation id.
	ErrCorrelationConflict = errors.New("correlation id already assigned")
	// ErrMissingCorrelation is returned by components that key state by
	// correlation id when the event has none.
	ErrMissingCorrelation = errors.New("event has no correlation id")
	// ErrAgentPanic marks an AgentError produced from a recovered panic.
	ErrAgentPanic = errors.New("agent panicked")
)

// AgentError reports that one agent failed to process one event. It is
// recovered locally by the dispatcher and never stops the loop.
type AgentError struct {
	AgentID string
	Kind    Kind
	EventID string
	Err     error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent %s on %s (%s): %v", e.AgentID, e.Kind, e.EventID, e.Err)
}

func (e *AgentError) Unwrap() error { return e.Err }

// NewAgentError wraps err with the agent and event that produced it.
func NewAgentError(agentID string, ev Event, err error) *AgentError {
	return &AgentError{AgentID: agentID, Kind: ev.Kind(), EventID: ev.ID(), Err: err}
}
