// Package dispatcher drives events from a FIFO queue through the router to
// agents on a background goroutine, re-queueing whatever the agents emit.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"go-agent-coordinator/internal/core"
	"go-agent-coordinator/internal/router"
	"go-agent-coordinator/internal/tracer"
)

var (
	ErrAlreadyRunning = errors.New("dispatcher already running")
	ErrQueueTimeout   = errors.New("timed out waiting for empty queue")
)

// State of the background loop.
type State int32

const (
	StateStopped State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Stats are cumulative counters.
type Stats struct {
	Dispatched  int64
	Invocations int64
	Failures    int64
	RouteMisses int64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithLogger(l *slog.Logger) Option { return func(d *Dispatcher) { d.logger = l } }

// WithTracer sets the sink that receives dispatch records.
func WithTracer(s tracer.Sink) Option { return func(d *Dispatcher) { d.sink = s } }

// WithIDGenerator overrides how fresh correlation ids are made.
func WithIDGenerator(fn func() string) Option { return func(d *Dispatcher) { d.newID = fn } }

// WithName sets the source name used in trace records and logs.
func WithName(name string) Option { return func(d *Dispatcher) { d.name = name } }

// Dispatcher owns the work queue. Events are popped one at a time in FIFO
// order; the agents routed for one event run concurrently, and their
// follow-ups are appended to the tail of the queue once all of them have
// returned, so an event's follow-ups always run after it.
//
// Dispatch never blocks and is accepted in any state: events dispatched
// while the dispatcher is stopped stay buffered until the next Start.
type Dispatcher struct {
	router *router.Router
	logger *slog.Logger
	sink   tracer.Sink
	newID  func() string
	name   string

	mu      sync.Mutex
	queue   []core.Event
	notify  chan struct{}
	pending int           // queued plus in-flight events
	idle    chan struct{} // closed while pending == 0

	state    State
	cancel   context.CancelFunc
	loopDone chan struct{}
	inflight sync.WaitGroup

	dispatched  atomic.Int64
	invocations atomic.Int64
	failures    atomic.Int64
	misses      atomic.Int64
}

// New returns a stopped dispatcher routing through r.
func New(r *router.Router, opts ...Option) *Dispatcher {
	idle := make(chan struct{})
	close(idle)
	d := &Dispatcher{
		router: r,
		newID:  uuid.NewString,
		name:   "dispatcher",
		notify: make(chan struct{}, 1),
		idle:   idle,
	}
	for _, o := range opts {
		o(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.sink == nil {
		d.sink = tracer.Null{}
	}
	d.logger = d.logger.With("component", d.name)
	return d
}

// Start launches the background loop. Agents are invoked with a context
// derived from ctx that keeps its values but is not cancelled by Stop.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateStopped {
		return fmt.Errorf("%w (state %s)", ErrAlreadyRunning, d.state)
	}
	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.loopDone = make(chan struct{})
	d.state = StateRunning
	go d.run(loopCtx, context.WithoutCancel(ctx), d.loopDone)
	d.logger.Info("dispatcher started", "queued", len(d.queue))
	return nil
}

// Stop asks the loop to finish and waits until it has exited and every
// in-flight agent call has returned, or until ctx is done. Queued events
// that were not popped yet remain buffered.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.state == StateStopped {
		d.mu.Unlock()
		return nil
	}
	d.state = StateStopping
	d.cancel()
	done := d.loopDone
	d.mu.Unlock()

	select {
	case <-done:
		d.logger.Info("dispatcher stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop dispatcher: %w", ctx.Err())
	}
}

// State reports the loop state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Running is shorthand for State() == StateRunning.
func (d *Dispatcher) Running() bool { return d.State() == StateRunning }

// Dispatch enqueues ev and returns immediately.
func (d *Dispatcher) Dispatch(ev core.Event) {
	d.enqueue(ev)
	d.logger.Debug("event queued", "event", ev.String())
}

// QueueLen reports events waiting to be popped (not those in flight).
func (d *Dispatcher) QueueLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Pending reports queued plus in-flight events.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// WaitForEmptyQueue blocks until no event is queued or being processed,
// returning ErrQueueTimeout once timeout elapses. A timeout <= 0 waits on
// ctx alone.
func (d *Dispatcher) WaitForEmptyQueue(ctx context.Context, timeout time.Duration) error {
	d.mu.Lock()
	idle := d.idle
	d.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-idle:
		return nil
	case <-expired:
		return fmt.Errorf("%w after %s (%d pending)", ErrQueueTimeout, timeout, d.Pending())
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Dispatched:  d.dispatched.Load(),
		Invocations: d.invocations.Load(),
		Failures:    d.failures.Load(),
		RouteMisses: d.misses.Load(),
	}
}

func (d *Dispatcher) enqueue(evs ...core.Event) {
	if len(evs) == 0 {
		return
	}
	d.mu.Lock()
	if d.pending == 0 {
		d.idle = make(chan struct{})
	}
	d.pending += len(evs)
	d.queue = append(d.queue, evs...)
	d.mu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) pop() (core.Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return core.Event{}, false
	}
	ev := d.queue[0]
	d.queue[0] = core.Event{}
	d.queue = d.queue[1:]
	return ev, true
}

// settle marks one event as fully processed.
func (d *Dispatcher) settle() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending--
	if d.pending == 0 {
		close(d.idle)
	}
}

func (d *Dispatcher) run(ctx, agentCtx context.Context, done chan struct{}) {
	defer func() {
		d.inflight.Wait()
		d.mu.Lock()
		d.state = StateStopped
		d.cancel()
		d.mu.Unlock()
		close(done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ev, ok := d.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-d.notify:
				continue
			}
		}

		if ev.IsTerminate() {
			d.logger.Info("terminate event received", "source", ev.Source())
			d.settle()
			d.mu.Lock()
			d.state = StateStopping
			d.mu.Unlock()
			return
		}
		d.process(agentCtx, ev)
	}
}

func (d *Dispatcher) process(ctx context.Context, ev core.Event) {
	if !ev.HasCorrelationID() {
		ev, _ = ev.WithCorrelationID(d.newID())
	}
	d.dispatched.Add(1)
	tracer.Emit(ctx, d.sink, d.logger, tracer.ForEvent(tracer.KindEventDispatched, d.name, ev, nil))

	agents := d.router.Route(ev)
	if len(agents) == 0 {
		d.misses.Add(1)
		d.logger.Debug("no route for event", "event", ev.String())
		tracer.Emit(ctx, d.sink, d.logger, tracer.ForEvent(tracer.KindRouteMiss, d.name, ev, nil))
		d.settle()
		return
	}

	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		d.enqueue(d.fanOut(ctx, ev, agents)...)
		d.settle()
	}()
}

// fanOut runs every agent concurrently and returns their follow-ups in
// registration order. Follow-ups without a correlation id inherit ev's.
func (d *Dispatcher) fanOut(ctx context.Context, ev core.Event, agents []core.Agent) []core.Event {
	results := make([][]core.Event, len(agents))
	var wg sync.WaitGroup
	for i, a := range agents {
		wg.Add(1)
		go func(i int, a core.Agent) {
			defer wg.Done()
			results[i] = d.invoke(ctx, a, ev)
		}(i, a)
	}
	wg.Wait()

	var out []core.Event
	for _, evs := range results {
		for _, f := range evs {
			if !f.HasCorrelationID() {
				f, _ = f.WithCorrelationID(ev.CorrelationID())
			}
			out = append(out, f)
		}
	}
	return out
}

func (d *Dispatcher) invoke(ctx context.Context, a core.Agent, ev core.Event) []core.Event {
	d.invocations.Add(1)
	tracer.Emit(ctx, d.sink, d.logger, tracer.ForEvent(tracer.KindAgentInvoked, d.name, ev, map[string]any{"agent": a.ID()}))

	out, err := safeReceive(ctx, a, ev.Isolated())
	if err != nil {
		aerr := core.NewAgentError(a.ID(), ev, err)
		d.failures.Add(1)
		d.logger.Error("agent failed", "agent", a.ID(), "event", ev.String(), "error", aerr)
		tracer.Emit(ctx, d.sink, d.logger, tracer.ForEvent(tracer.KindAgentFailed, d.name, ev, map[string]any{
			"agent": a.ID(),
			"error": err.Error(),
		}))
		return nil
	}
	return out
}

func safeReceive(ctx context.Context, a core.Agent, ev core.Event) (out []core.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%w: %v", core.ErrAgentPanic, r)
		}
	}()
	return a.Receive(ctx, ev)
}
