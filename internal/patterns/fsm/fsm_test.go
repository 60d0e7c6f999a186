package fsm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-agent-coordinator/internal/core"
)

const (
	kindStart  core.Kind = "order.placed"
	kindPaid   core.Kind = "order.paid"
	kindShip   core.Kind = "order.shipped"
	kindNotify core.Kind = "order.notify"
)

func orderMachine(opts ...Option) *Machine {
	m := NewMachine("orders", "new", opts...)
	m.AddTransition(Transition{From: "new", On: kindStart, To: "awaiting_payment"})
	m.AddTransition(Transition{From: "awaiting_payment", On: kindPaid, To: "paid",
		Action: func(_ context.Context, ev core.Event) ([]core.Event, error) {
			return []core.Event{core.NewEvent(kindNotify, "orders", "paid")}, nil
		}})
	m.AddTransition(Transition{From: "paid", On: kindShip, To: "done"})
	return m
}

func send(t *testing.T, m *Machine, kind core.Kind, run string) []core.Event {
	t.Helper()
	out, err := m.Receive(context.Background(), core.NewCorrelatedEvent(kind, "test", run, nil))
	require.NoError(t, err)
	return out
}

func TestRunsAdvanceIndependently(t *testing.T) {
	m := orderMachine()
	send(t, m, kindStart, "r1")
	send(t, m, kindStart, "r2")
	out := send(t, m, kindPaid, "r1")

	require.Len(t, out, 1)
	assert.Equal(t, kindNotify, out[0].Kind())
	assert.Equal(t, State("paid"), m.State("r1"))
	assert.Equal(t, State("awaiting_payment"), m.State("r2"))
	assert.Equal(t, 2, m.Runs())
}

func TestUnmatchedEventIsIgnored(t *testing.T) {
	m := orderMachine()
	out := send(t, m, kindShip, "r1")
	assert.Nil(t, out)
	assert.Equal(t, State("new"), m.State("r1"))
	assert.Zero(t, m.Runs())
}

func TestFinalStateForgetsRun(t *testing.T) {
	m := orderMachine(WithFinal("done"))
	send(t, m, kindStart, "r1")
	send(t, m, kindPaid, "r1")
	send(t, m, kindShip, "r1")
	assert.Zero(t, m.Runs())
}

func TestFailedActionKeepsState(t *testing.T) {
	m := NewMachine("m", "a")
	boom := errors.New("boom")
	m.AddTransition(Transition{From: "a", On: kindStart, To: "b",
		Action: func(context.Context, core.Event) ([]core.Event, error) { return nil, boom }})

	_, err := m.Receive(context.Background(), core.NewCorrelatedEvent(kindStart, "test", "r1", nil))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, State("a"), m.State("r1"))
}

func TestStateActionsRun(t *testing.T) {
	m := orderMachine()
	var trail []string
	m.AddStateActions("awaiting_payment", StateActions{
		OnEnter: func(context.Context, core.Event) error { trail = append(trail, "enter"); return nil },
		OnExit:  func(context.Context, core.Event) error { trail = append(trail, "exit"); return nil },
	})
	send(t, m, kindStart, "r1")
	send(t, m, kindPaid, "r1")
	assert.Equal(t, []string{"enter", "exit"}, trail)
}

func TestMissingCorrelation(t *testing.T) {
	m := orderMachine()
	_, err := m.Receive(context.Background(), core.NewEvent(kindStart, "test", nil))
	assert.ErrorIs(t, err, core.ErrMissingCorrelation)
}

func TestKindsAndValidation(t *testing.T) {
	m := orderMachine()
	assert.Equal(t, []core.Kind{kindPaid, kindStart, kindShip}, m.Kinds())
	require.NoError(t, m.ValidateTransitions())

	m.AddStateActions("limbo", StateActions{})
	assert.Error(t, m.ValidateTransitions())
}
