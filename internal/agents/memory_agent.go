package agents

import (
	"context"
	"fmt"

	"go-agent-coordinator/internal/core"
	"go-agent-coordinator/internal/memory"
)

// MemoryAgent merges document payloads into working memory. When
// emitKind is set it announces each merge with an event carrying the new
// version.
type MemoryAgent struct {
	id       string
	mem      *memory.WorkingMemory
	emitKind core.Kind
}

func NewMemoryAgent(id string, mem *memory.WorkingMemory, emitKind core.Kind) *MemoryAgent {
	return &MemoryAgent{id: id, mem: mem, emitKind: emitKind}
}

func (a *MemoryAgent) ID() string { return a.id }

func (a *MemoryAgent) Receive(_ context.Context, ev core.Event) ([]core.Event, error) {
	var updates core.Document
	switch p := ev.Payload().(type) {
	case core.Document:
		updates = p
	case map[string]any:
		updates = p
	case Response:
		// Snapshot is stale by the time it arrives; only the learned part
		// is merged.
		updates = p.Memory
	default:
		return nil, fmt.Errorf("memory agent %s: unsupported payload %T", a.id, p)
	}
	a.mem.Merge(updates)
	if a.emitKind == "" {
		return nil, nil
	}
	return []core.Event{
		core.NewCorrelatedEvent(a.emitKind, a.id, ev.CorrelationID(), core.Document{"version": a.mem.Version()}),
	}, nil
}
