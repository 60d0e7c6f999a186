package tracer

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"go-agent-coordinator/internal/core"
)

func TestNewRecordIDsAreSortable(t *testing.T) {
	a := NewRecord(KindEventDispatched, "d", "c1", nil)
	b := NewRecord(KindEventDispatched, "d", "c1", nil)
	assert.Less(t, a.ID, b.ID)
	assert.Equal(t, "c1", a.CorrelationID)
}

func TestForEventCarriesEventFields(t *testing.T) {
	ev := core.NewCorrelatedEvent("order.placed", "shop", "c-7", nil)
	rec := ForEvent(KindAgentInvoked, "dispatcher", ev, map[string]any{"agent": "a1"})
	assert.Equal(t, "c-7", rec.CorrelationID)
	assert.Equal(t, "order.placed", rec.Payload["event_kind"])
	assert.Equal(t, ev.ID(), rec.Payload["event_id"])
	assert.Equal(t, "a1", rec.Payload["agent"])
}

func TestStoreFiltersAndBounds(t *testing.T) {
	s := NewStore(3)
	ctx := context.Background()
	s.Record(ctx, NewRecord(KindRouteMiss, "d", "a", nil))
	s.Record(ctx, NewRecord(KindAgentInvoked, "d", "a", nil))
	s.Record(ctx, NewRecord(KindAgentInvoked, "d", "b", nil))
	s.Record(ctx, NewRecord(KindAgentFailed, "d", "b", nil))

	assert.Equal(t, 3, s.Len())
	assert.Len(t, s.Records(OfKind(KindAgentInvoked)), 2)
	assert.Len(t, s.Records(ForCorrelation("b")), 2)
	assert.Empty(t, s.Records(OfKind(KindRouteMiss)), "oldest record evicted")

	s.Clear()
	assert.Zero(t, s.Len())
}

type panicSink struct{}

func (panicSink) Record(context.Context, Record) { panic("bad sink") }

func TestEmitSurvivesPanickingSink(t *testing.T) {
	assert.NotPanics(t, func() {
		Emit(context.Background(), panicSink{}, nil, NewRecord(KindRouteMiss, "d", "", nil))
		Emit(context.Background(), nil, nil, NewRecord(KindRouteMiss, "d", "", nil))
	})
	store := NewStore(0)
	Multi{panicSink{}, store}.Record(context.Background(), NewRecord(KindRouteMiss, "d", "", nil))
	assert.Equal(t, 1, store.Len())
}

type blockingSink struct {
	release chan struct{}
	mu      sync.Mutex
	got     int
}

func (b *blockingSink) Record(context.Context, Record) {
	<-b.release
	b.mu.Lock()
	b.got++
	b.mu.Unlock()
}

func TestAsyncNeverBlocks(t *testing.T) {
	slow := &blockingSink{release: make(chan struct{})}
	a := NewAsync(slow, 2, nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			a.Record(context.Background(), NewRecord(KindAgentInvoked, "d", "", nil))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a slow sink")
	}
	assert.Positive(t, a.Dropped())

	close(slow.release)
	a.Close()
	slow.mu.Lock()
	defer slow.mu.Unlock()
	assert.Equal(t, int64(10), a.Dropped()+int64(slow.got))

	a.Record(context.Background(), NewRecord(KindAgentInvoked, "d", "", nil))
	assert.Equal(t, int64(11), a.Dropped()+int64(slow.got))
}

func TestOTelSinkRecordsSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	sink := NewOTelSink(tp)
	sink.Record(context.Background(), NewRecord(KindAgentFailed, "d", "c1", map[string]any{"error": "boom"}))

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, string(KindAgentFailed), spans[0].Name)
	assert.Equal(t, "boom", spans[0].Status.Description)
}

func TestStdoutProviderWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	tp, err := NewStdoutProvider(&buf)
	require.NoError(t, err)

	NewOTelSink(tp).Record(context.Background(), NewRecord(KindRouteMiss, "d", "c1", nil))
	require.NoError(t, tp.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), string(KindRouteMiss))
}
