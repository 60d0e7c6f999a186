package eventbus

import (
	"context"
	"log/slog"

	"go-agent-coordinator/internal/tracer"
)

// Sink publishes every record to "<channel>.<record kind>", so subscribers
// can follow everything with SubscribePattern(channel + ".*") or a single
// kind with Subscribe. Publishing does network I/O; wrap the sink in
// tracer.Async before handing it to the dispatcher.
type Sink struct {
	bus     Bus
	channel string
	logger  *slog.Logger
}

func NewSink(bus Bus, channel string, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{bus: bus, channel: channel, logger: logger}
}

// Topic returns the channel a record of kind is published on.
func (s *Sink) Topic(kind tracer.RecordKind) string {
	return s.channel + "." + string(kind)
}

func (s *Sink) Record(ctx context.Context, rec tracer.Record) {
	if err := s.bus.Publish(ctx, s.Topic(rec.Kind), rec); err != nil {
		s.logger.Warn("trace publish failed", "record", rec.ID, "error", err)
	}
}
