// Package tracer defines the observability sink used by the coordination
// core. Recording is fire-and-forget: a sink must never block or fail the
// caller's control flow.
package tracer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"go-agent-coordinator/internal/core"
)

// RecordKind names what happened.
type RecordKind string

const (
	KindEventDispatched     RecordKind = "event_dispatched"
	KindRouteMiss           RecordKind = "route_miss"
	KindAgentInvoked        RecordKind = "agent_invoked"
	KindAgentFailed         RecordKind = "agent_failed"
	KindAggregationReleased RecordKind = "aggregation_released"
	KindAggregationTimeout  RecordKind = "aggregation_timeout"
	KindLateEvent           RecordKind = "late_event"
)

// Record is one observability entry.
type Record struct {
	ID            string         `json:"id"`
	Kind          RecordKind     `json:"kind"`
	Source        string         `json:"source"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	Time          time.Time      `json:"time"`
}

// Sink consumes records.
type Sink interface {
	Record(ctx context.Context, rec Record)
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(ulid.DefaultEntropy(), 0)
)

func newID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// NewRecord stamps a record with a sortable id and the current time.
func NewRecord(kind RecordKind, source, correlationID string, payload map[string]any) Record {
	now := time.Now().UTC()
	return Record{
		ID:            newID(now),
		Kind:          kind,
		Source:        source,
		CorrelationID: correlationID,
		Payload:       payload,
		Time:          now,
	}
}

// ForEvent builds a record describing ev.
func ForEvent(kind RecordKind, source string, ev core.Event, payload map[string]any) Record {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["event_id"] = ev.ID()
	payload["event_kind"] = string(ev.Kind())
	return NewRecord(kind, source, ev.CorrelationID(), payload)
}

// Emit hands rec to sink, swallowing panics so a faulty sink cannot take
// down the caller. A nil sink is allowed.
func Emit(ctx context.Context, sink Sink, logger *slog.Logger, rec Record) {
	if sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil && logger != nil {
			logger.Error("tracer sink panicked", "record", string(rec.Kind), "panic", r)
		}
	}()
	sink.Record(ctx, rec)
}

// Null discards everything.
type Null struct{}

func (Null) Record(context.Context, Record) {}

// Multi fans a record out to several sinks.
type Multi []Sink

func (m Multi) Record(ctx context.Context, rec Record) {
	for _, s := range m {
		Emit(ctx, s, nil, rec)
	}
}
