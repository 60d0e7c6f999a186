// Package eventbus carries tracer records between processes over Redis
// pub/sub so external tools can follow a running coordinator.
package eventbus

import (
	"context"

	"go-agent-coordinator/internal/tracer"
)

// Bus defines publish/subscribe semantics for trace records.
type Bus interface {
	Publish(ctx context.Context, topic string, rec tracer.Record) error
	Subscribe(ctx context.Context, topic string) (<-chan tracer.Record, error)
	SubscribePattern(ctx context.Context, pattern string) (<-chan tracer.Record, error)
	Unsubscribe(ctx context.Context, topic string) error
	Close() error
}
