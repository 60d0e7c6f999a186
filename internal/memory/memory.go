// Package memory provides the shared working memory agents consult and
// update while a workflow runs.
//
// Merge semantics: for every key of the update, when both the stored value
// and the new value are mappings the merge recurses; otherwise the new value
// replaces the old one. Arrays are scalars for this rule: they are replaced
// wholesale, never concatenated. A mapping may replace a scalar and vice
// versa; no type compatibility is enforced.
package memory

import (
	"log/slog"
	"sync"

	"go-agent-coordinator/internal/core"
)

// Observer is notified after each merge with the new version and a private
// snapshot of the document. It runs outside the memory lock.
type Observer func(version int64, snapshot core.Document)

// Option configures a WorkingMemory.
type Option func(*WorkingMemory)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *WorkingMemory) { m.logger = l }
}

// WithObserver registers an observer. May be given more than once.
func WithObserver(o Observer) Option {
	return func(m *WorkingMemory) { m.observers = append(m.observers, o) }
}

// WorkingMemory is a goroutine-safe document store. Reads return snapshots;
// writes go through Merge, which holds one lock for the whole merge so
// concurrent merges never interleave key by key.
type WorkingMemory struct {
	mu        sync.RWMutex
	doc       core.Document
	version   int64
	observers []Observer
	logger    *slog.Logger
}

// New creates a working memory seeded with a copy of initial.
func New(initial core.Document, opts ...Option) *WorkingMemory {
	m := &WorkingMemory{doc: initial.Clone()}
	if m.doc == nil {
		m.doc = core.Document{}
	}
	for _, o := range opts {
		o(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// Get returns a deep copy of the current document. Mutating it never
// affects the store.
func (m *WorkingMemory) Get() core.Document {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.doc.Clone()
}

// Version counts merges applied so far.
func (m *WorkingMemory) Version() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// Lookup walks path through nested mappings and returns a copy of the value.
func (m *WorkingMemory) Lookup(path ...string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var cur any = m.doc
	for _, key := range path {
		node, ok := core.AsMap(cur)
		if !ok {
			return nil, false
		}
		if cur, ok = node[key]; !ok {
			return nil, false
		}
	}
	return core.CloneValue(cur), true
}

// Merge deep-merges updates into the stored document. It always succeeds.
func (m *WorkingMemory) Merge(updates core.Document) {
	if len(updates) == 0 {
		return
	}
	m.mu.Lock()
	DeepMerge(m.doc, updates)
	m.version++
	version := m.version
	var snap core.Document
	if len(m.observers) > 0 {
		snap = m.doc.Clone()
	}
	m.mu.Unlock()

	m.logger.Debug("working memory merged", "version", version, "keys", len(updates))
	for _, o := range m.observers {
		o(version, snap.Clone())
	}
}

// DeepMerge merges src into dst in place. Values taken from src are copied
// so dst never aliases the caller's update.
func DeepMerge(dst, src core.Document) {
	for k, nv := range src {
		if newMap, ok := core.AsMap(nv); ok {
			if oldMap, ok := core.AsMap(dst[k]); ok {
				DeepMerge(oldMap, newMap)
				continue
			}
		}
		dst[k] = core.CloneValue(nv)
	}
}
