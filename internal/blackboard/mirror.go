package blackboard

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"go-agent-coordinator/internal/core"
)

var errMirrorStopped = errors.New("mirror not running")

type snapshot struct {
	version int64
	doc     core.Document
}

// Mirror copies working-memory snapshots into a Store under one key.
// Observe never blocks: snapshots are coalesced and written by a single
// background goroutine, and an older version never overwrites a newer one.
type Mirror struct {
	store  Store
	key    string
	logger *slog.Logger

	mu      sync.Mutex
	latest  *snapshot
	wake    chan struct{}
	quit    chan struct{}
	done    chan struct{}
	written atomic.Int64
}

func NewMirror(store Store, key string, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		store:  store,
		key:    key,
		logger: logger.With("component", "mirror", "key", key),
		wake:   make(chan struct{}, 1),
	}
}

// Start clears whatever a previous run left under the key and begins
// writing. Earlier state is never loaded back.
func (m *Mirror) Start(ctx context.Context) error {
	if err := m.store.Delete(ctx, m.key); err != nil {
		return err
	}
	m.mu.Lock()
	m.quit = make(chan struct{})
	m.done = make(chan struct{})
	quit, done := m.quit, m.done
	m.mu.Unlock()
	go m.loop(context.WithoutCancel(ctx), quit, done)
	return nil
}

// Observe matches memory.Observer.
func (m *Mirror) Observe(version int64, doc core.Document) {
	m.mu.Lock()
	if m.latest == nil || version > m.latest.version {
		m.latest = &snapshot{version: version, doc: doc}
	}
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Written reports the newest version stored so far.
func (m *Mirror) Written() int64 { return m.written.Load() }

// Stop ends the background writer and flushes the last pending snapshot.
func (m *Mirror) Stop(ctx context.Context) error {
	m.mu.Lock()
	quit, done := m.quit, m.done
	m.quit = nil
	m.mu.Unlock()
	if quit == nil {
		return errMirrorStopped
	}
	close(quit)
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return m.flush(ctx)
}

func (m *Mirror) loop(ctx context.Context, quit, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-quit:
			return
		case <-m.wake:
			if err := m.flush(ctx); err != nil {
				m.logger.Warn("mirror write failed", "error", err)
			}
		}
	}
}

func (m *Mirror) flush(ctx context.Context) error {
	m.mu.Lock()
	snap := m.latest
	m.latest = nil
	m.mu.Unlock()
	if snap == nil || snap.version <= m.written.Load() {
		return nil
	}
	ok, err := m.store.PutVersioned(ctx, m.key, snap.version, map[string]any(snap.doc))
	if err != nil {
		return err
	}
	if ok {
		m.written.Store(snap.version)
	}
	return nil
}
