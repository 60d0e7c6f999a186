// Package fsm provides a finite state machine agent that tracks one state
// per correlation id, so each workflow run advances independently.
package fsm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go-agent-coordinator/internal/core"
)

// State represents a state identifier.
type State string

// Transition moves a run from one state to another when an event of kind
// On arrives. Action may emit follow-up events; if it fails the run stays
// in From.
type Transition struct {
	From   State
	On     core.Kind
	To     State
	Action func(ctx context.Context, ev core.Event) ([]core.Event, error)
}

// StateActions groups callbacks for a state lifecycle.
type StateActions struct {
	OnEnter func(ctx context.Context, ev core.Event) error
	OnExit  func(ctx context.Context, ev core.Event) error
}

type Option func(*Machine)

func WithLogger(l *slog.Logger) Option { return func(m *Machine) { m.logger = l } }

// WithFinal marks states after which a run is forgotten.
func WithFinal(states ...State) Option {
	return func(m *Machine) {
		for _, s := range states {
			m.final[s] = true
		}
	}
}

// Machine is a core.Agent.
type Machine struct {
	id           string
	initial      State
	transitions  map[State]map[core.Kind]Transition
	stateActions map[State]StateActions
	final        map[State]bool

	mu     sync.Mutex
	runs   map[string]State
	logger *slog.Logger
}

// NewMachine creates a machine whose runs start in initial.
func NewMachine(id string, initial State, opts ...Option) *Machine {
	m := &Machine{
		id:           id,
		initial:      initial,
		transitions:  make(map[State]map[core.Kind]Transition),
		stateActions: make(map[State]StateActions),
		final:        make(map[State]bool),
		runs:         make(map[string]State),
	}
	for _, o := range opts {
		o(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("agent", id)
	return m
}

func (m *Machine) ID() string { return m.id }

// AddTransition registers a transition. Call before the machine receives
// events.
func (m *Machine) AddTransition(t Transition) {
	if _, ok := m.transitions[t.From]; !ok {
		m.transitions[t.From] = make(map[core.Kind]Transition)
	}
	m.transitions[t.From][t.On] = t
}

// AddStateActions sets callbacks for a state.
func (m *Machine) AddStateActions(s State, actions StateActions) { m.stateActions[s] = actions }

// Kinds lists every kind some transition reacts to, for routing.
func (m *Machine) Kinds() []core.Kind {
	seen := map[core.Kind]bool{}
	var kinds []core.Kind
	for _, byKind := range m.transitions {
		for k := range byKind {
			if !seen[k] {
				seen[k] = true
				kinds = append(kinds, k)
			}
		}
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// ValidateTransitions checks that every state with actions is reachable
// and that no transition has an empty endpoint.
func (m *Machine) ValidateTransitions() error {
	reachable := map[State]bool{m.initial: true}
	for from, byKind := range m.transitions {
		for _, t := range byKind {
			if from == "" || t.To == "" {
				return fmt.Errorf("invalid transition %s -%s-> %s", t.From, t.On, t.To)
			}
			reachable[t.To] = true
		}
		reachable[from] = true
	}
	for s := range m.stateActions {
		if !reachable[s] {
			return fmt.Errorf("state %s unreachable", s)
		}
	}
	return nil
}

// Receive advances the run identified by ev's correlation id. Events with
// no matching transition from the current state are ignored.
func (m *Machine) Receive(ctx context.Context, ev core.Event) ([]core.Event, error) {
	if !ev.HasCorrelationID() {
		return nil, fmt.Errorf("fsm %s: %w", m.id, core.ErrMissingCorrelation)
	}
	run := ev.CorrelationID()

	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.runs[run]
	if !ok {
		cur = m.initial
	}
	t, ok := m.transitions[cur][ev.Kind()]
	if !ok {
		m.logger.Debug("no transition", "state", string(cur), "event", ev.String())
		return nil, nil
	}

	if act, ok := m.stateActions[cur]; ok && act.OnExit != nil {
		if err := act.OnExit(ctx, ev); err != nil {
			m.logger.Warn("exit action failed", "state", string(cur), "error", err)
		}
	}
	var out []core.Event
	if t.Action != nil {
		var err error
		if out, err = t.Action(ctx, ev); err != nil {
			return nil, fmt.Errorf("transition %s -%s-> %s: %w", cur, t.On, t.To, err)
		}
	}
	if m.final[t.To] {
		delete(m.runs, run)
	} else {
		m.runs[run] = t.To
	}
	m.logger.Debug("transition", "run", run, "from", string(cur), "to", string(t.To))
	if act, ok := m.stateActions[t.To]; ok && act.OnEnter != nil {
		if err := act.OnEnter(ctx, ev); err != nil {
			m.logger.Warn("enter action failed", "state", string(t.To), "error", err)
		}
	}
	return out, nil
}

// State returns the current state of a run. Unknown and finished runs
// report the initial state.
func (m *Machine) State(correlationID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.runs[correlationID]; ok {
		return s
	}
	return m.initial
}

// Runs reports how many runs are in progress.
func (m *Machine) Runs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}
