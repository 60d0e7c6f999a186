package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates events. Routing keys off the kind, never off the
// payload's dynamic type.
type Kind string

// KindTerminate is consumed by the dispatcher and stops its loop.
const KindTerminate Kind = "core.terminate"

// Cloner is implemented by payloads that hold mutable references. The
// dispatcher hands every agent its own clone of such payloads.
type Cloner interface {
	Clone() any
}

// Event represents a message exchanged between agents. It is a value type:
// the only field that may be filled after construction is the correlation
// id, and only through WithCorrelationID, which returns a copy.
type Event struct {
	id            string
	kind          Kind
	source        string
	correlationID string
	timestamp     time.Time
	payload       any
}

// NewEvent builds an event of the given kind emitted by source.
func NewEvent(kind Kind, source string, payload any) Event {
	return Event{
		id:        uuid.NewString(),
		kind:      kind,
		source:    source,
		timestamp: time.Now().UTC(),
		payload:   payload,
	}
}

// NewCorrelatedEvent is NewEvent with the correlation id already set.
func NewCorrelatedEvent(kind Kind, source, correlationID string, payload any) Event {
	ev := NewEvent(kind, source, payload)
	ev.correlationID = correlationID
	return ev
}

// TerminateEvent returns an event that asks the dispatcher to stop.
func TerminateEvent(source string) Event {
	return NewEvent(KindTerminate, source, nil)
}

func (e Event) ID() string { return e.id }
func (e Event) Kind() Kind { return e.kind }
func (e Event) Source() string { return e.source }
func (e Event) CorrelationID() string { return e.correlationID }
func (e Event) Timestamp() time.Time { return e.timestamp }
func (e Event) Payload() any { return e.payload }
func (e Event) HasCorrelationID() bool { return e.correlationID != "" }
func (e Event) IsTerminate() bool { return e.kind == KindTerminate }
func (e Event) String() string { return fmt.Sprintf("%s(%s from %s)", e.kind, e.correlationID, e.source) }

// WithCorrelationID returns a copy of e carrying id. Assigning the id the
// event already carries is a no-op; assigning a different one fails with
// ErrCorrelationConflict and returns e unchanged.
func (e Event) WithCorrelationID(id string) (Event, error) {
	if id == "" {
		return e, fmt.Errorf("%w: empty id", ErrCorrelationConflict)
	}
	if e.correlationID == "" {
		e.correlationID = id
		return e, nil
	}
	if e.correlationID != id {
		return e, fmt.Errorf("%w: event %s has %q, got %q", ErrCorrelationConflict, e.id, e.correlationID, id)
	}
	return e, nil
}

// Isolated returns a copy of e whose payload is cloned when it implements
// Cloner, so the receiver cannot alias state seen by another agent.
func (e Event) Isolated() Event {
	switch p := e.payload.(type) {
	case Cloner:
		e.payload = p.Clone()
	case Document:
		e.payload = p.Clone()
	}
	return e
}
