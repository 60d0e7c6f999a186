package tracer

import (
	"context"
	"sync"
)

// Store keeps the most recent records in memory.
type Store struct {
	mu      sync.RWMutex
	records []Record
	max     int
}

// NewStore returns a store holding at most max records (0 = unbounded).
func NewStore(max int) *Store {
	return &Store{max: max}
}

func (s *Store) Record(_ context.Context, rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	if s.max > 0 && len(s.records) > s.max {
		s.records = append([]Record(nil), s.records[len(s.records)-s.max:]...)
	}
}

// Records returns the stored records accepted by filter, oldest first.
// A nil filter returns everything.
func (s *Store) Records(filter func(Record) bool) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		if filter == nil || filter(r) {
			out = append(out, r)
		}
	}
	return out
}

// OfKind is a Records filter.
func OfKind(kind RecordKind) func(Record) bool {
	return func(r Record) bool { return r.Kind == kind }
}

// ForCorrelation is a Records filter.
func ForCorrelation(id string) func(Record) bool {
	return func(r Record) bool { return r.CorrelationID == id }
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) Clear() {
	s.mu.Lock()
	s.records = nil
	s.mu.Unlock()
}
