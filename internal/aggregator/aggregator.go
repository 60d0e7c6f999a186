// Package aggregator collects correlated events until every required kind
// has arrived, then releases them as one batch.
//
// Each correlation id moves through Open -> Released or Open -> TimedOut
// exactly once. Both transitions happen under the aggregator's lock, so a
// capture racing a timeout can never release a batch twice.
//
// A capture for an id whose collection timed out starts a fresh collection
// under the same id. A capture for an id that was released recently is
// dropped with a warning; how many released ids are remembered is bounded
// by WithReleasedHistory.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go-agent-coordinator/internal/core"
	"go-agent-coordinator/internal/tracer"
)

// ErrTimeout is returned to waiters whose collection expired.
var ErrTimeout = errors.New("aggregation timed out")

// DefaultReleasedHistory is how many released correlation ids are
// remembered unless overridden.
const DefaultReleasedHistory = 1024

type Option func(*Aggregator)

func WithLogger(l *slog.Logger) Option { return func(a *Aggregator) { a.logger = l } }

func WithTracer(s tracer.Sink) Option { return func(a *Aggregator) { a.sink = s } }

func WithName(name string) Option { return func(a *Aggregator) { a.name = name } }

// WithTimeout gives every collection a deadline counted from its first
// capture, so abandoned collections are reclaimed even when nobody waits.
// Zero disables it.
func WithTimeout(d time.Duration) Option { return func(a *Aggregator) { a.timeout = d } }

// WithReleasedHistory bounds the released-id memory. n <= 0 disables it,
// in which case a late event simply opens a new collection.
func WithReleasedHistory(n int) Option { return func(a *Aggregator) { a.historyMax = n } }

type collection struct {
	slots map[core.Kind]core.Event
	order []core.Kind
	done  chan struct{}
	batch []core.Event
	err   error
	timer *time.Timer
}

func newCollection() *collection {
	return &collection{
		slots: make(map[core.Kind]core.Event),
		done:  make(chan struct{}),
	}
}

func (c *collection) resolve(batch []core.Event, err error) {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.batch, c.err = batch, err
	close(c.done)
}

func (c *collection) events() []core.Event {
	out := make([]core.Event, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.slots[k])
	}
	return out
}

// Aggregator is safe for concurrent use.
type Aggregator struct {
	required   []core.Kind
	requiredOf map[core.Kind]struct{}
	logger     *slog.Logger
	sink       tracer.Sink
	name       string
	timeout    time.Duration
	historyMax int

	mu            sync.Mutex
	open          map[string]*collection
	released      map[string][]core.Event
	releasedOrder []string
}

// New returns an aggregator that releases once every kind in required has
// been captured for a correlation id. Duplicate kinds are collapsed.
func New(required []core.Kind, opts ...Option) *Aggregator {
	a := &Aggregator{
		requiredOf: make(map[core.Kind]struct{}, len(required)),
		name:       "aggregator",
		historyMax: DefaultReleasedHistory,
		open:       make(map[string]*collection),
		released:   make(map[string][]core.Event),
	}
	for _, k := range required {
		if _, dup := a.requiredOf[k]; dup {
			continue
		}
		a.requiredOf[k] = struct{}{}
		a.required = append(a.required, k)
	}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.sink == nil {
		a.sink = tracer.Null{}
	}
	a.logger = a.logger.With("component", a.name)
	return a
}

// Required returns the kinds a collection needs, in the order given to New.
func (a *Aggregator) Required() []core.Kind {
	return append([]core.Kind(nil), a.required...)
}

// Capture stores ev in the open collection for its correlation id. It
// returns the full batch, ordered by first arrival of each kind, on the one
// capture that completes the collection and nil otherwise. A second event
// of a kind already held replaces the first.
//
// Events of kinds that are not required are ignored. Events for an id that
// was already released are dropped and reported as late.
func (a *Aggregator) Capture(ctx context.Context, ev core.Event) ([]core.Event, error) {
	if !ev.HasCorrelationID() {
		return nil, fmt.Errorf("aggregate %s: %w", ev.Kind(), core.ErrMissingCorrelation)
	}
	if _, ok := a.requiredOf[ev.Kind()]; !ok {
		a.logger.Debug("ignoring event of unrequired kind", "event", ev.String())
		return nil, nil
	}
	id := ev.CorrelationID()

	a.mu.Lock()
	if _, done := a.released[id]; done {
		a.mu.Unlock()
		a.logger.Warn("late event for released collection dropped", "correlation_id", id, "kind", string(ev.Kind()))
		tracer.Emit(ctx, a.sink, a.logger, tracer.ForEvent(tracer.KindLateEvent, a.name, ev, nil))
		return nil, nil
	}
	c := a.collectionLocked(id)
	if _, seen := c.slots[ev.Kind()]; !seen {
		c.order = append(c.order, ev.Kind())
	}
	c.slots[ev.Kind()] = ev
	if len(c.slots) < len(a.required) {
		a.mu.Unlock()
		return nil, nil
	}

	batch := c.events()
	delete(a.open, id)
	a.rememberLocked(id, batch)
	c.resolve(batch, nil)
	a.mu.Unlock()

	a.logger.Debug("collection released", "correlation_id", id, "events", len(batch))
	tracer.Emit(ctx, a.sink, a.logger, tracer.NewRecord(tracer.KindAggregationReleased, a.name, id, map[string]any{
		"kinds": kindNames(c.order),
	}))
	return append([]core.Event(nil), batch...), nil
}

// WaitForEvents blocks until the collection for correlationID is released
// or timeout elapses. On timeout the open collection is discarded and every
// waiter on it receives ErrTimeout. If the id was released recently the
// batch is returned immediately. A timeout <= 0 waits on ctx alone;
// cancelling ctx abandons this wait without discarding the collection.
func (a *Aggregator) WaitForEvents(ctx context.Context, correlationID string, timeout time.Duration) ([]core.Event, error) {
	if correlationID == "" {
		return nil, core.ErrMissingCorrelation
	}
	a.mu.Lock()
	if batch, ok := a.released[correlationID]; ok {
		a.mu.Unlock()
		return append([]core.Event(nil), batch...), nil
	}
	c := a.collectionLocked(correlationID)
	a.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-c.done:
	case <-expired:
		a.expire(ctx, correlationID, c)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if c.err != nil {
		return nil, fmt.Errorf("correlation %s: %w", correlationID, c.err)
	}
	return append([]core.Event(nil), c.batch...), nil
}

// Pending reports how many collections are open.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.open)
}

func (a *Aggregator) collectionLocked(id string) *collection {
	if c, ok := a.open[id]; ok {
		return c
	}
	c := newCollection()
	if a.timeout > 0 {
		c.timer = time.AfterFunc(a.timeout, func() { a.expire(context.Background(), id, c) })
	}
	a.open[id] = c
	return c
}

// expire times c out unless it was already resolved.
func (a *Aggregator) expire(ctx context.Context, id string, c *collection) {
	a.mu.Lock()
	select {
	case <-c.done:
		a.mu.Unlock()
		return
	default:
	}
	if a.open[id] == c {
		delete(a.open, id)
	}
	var missing []core.Kind
	for _, k := range a.required {
		if _, ok := c.slots[k]; !ok {
			missing = append(missing, k)
		}
	}
	c.resolve(nil, ErrTimeout)
	a.mu.Unlock()

	a.logger.Warn("collection timed out", "correlation_id", id, "missing", kindNames(missing))
	tracer.Emit(ctx, a.sink, a.logger, tracer.NewRecord(tracer.KindAggregationTimeout, a.name, id, map[string]any{
		"missing": kindNames(missing),
	}))
}

func (a *Aggregator) rememberLocked(id string, batch []core.Event) {
	if a.historyMax <= 0 {
		return
	}
	a.released[id] = batch
	a.releasedOrder = append(a.releasedOrder, id)
	for len(a.releasedOrder) > a.historyMax {
		delete(a.released, a.releasedOrder[0])
		a.releasedOrder = a.releasedOrder[1:]
	}
}

func kindNames(kinds []core.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}
