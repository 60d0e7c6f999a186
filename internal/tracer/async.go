package tracer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Async decouples callers from a slow sink. Records are queued on a buffered
// channel and delivered by one goroutine; when the buffer is full the record
// is dropped and counted instead of blocking.
type Async struct {
	next    Sink
	ch      chan Record
	dropped atomic.Int64
	logger  *slog.Logger
	wg      sync.WaitGroup
	once    sync.Once
	closed  atomic.Bool
}

// NewAsync starts the delivery goroutine.
func NewAsync(next Sink, buffer int, logger *slog.Logger) *Async {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = 256
	}
	a := &Async{next: next, ch: make(chan Record, buffer), logger: logger}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Async) run() {
	defer a.wg.Done()
	for rec := range a.ch {
		Emit(context.Background(), a.next, a.logger, rec)
	}
}

func (a *Async) Record(_ context.Context, rec Record) {
	if a.closed.Load() {
		a.dropped.Add(1)
		return
	}
	defer func() {
		// send on a channel closed concurrently by Close
		if recover() != nil {
			a.dropped.Add(1)
		}
	}()
	select {
	case a.ch <- rec:
	default:
		a.dropped.Add(1)
	}
}

// Dropped reports how many records were discarded.
func (a *Async) Dropped() int64 { return a.dropped.Load() }

// Close flushes queued records and stops the goroutine.
func (a *Async) Close() {
	a.once.Do(func() {
		a.closed.Store(true)
		close(a.ch)
	})
	a.wg.Wait()
}
