package state

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore keeps snapshots in process memory. It is used by tests and by
// the "memory" backend, where persistence only needs to outlive one scan.
type MemoryStore[T any] struct {
	mu      sync.RWMutex
	records map[string]memoryRecord[T]
}

type memoryRecord[T any] struct {
	ref      Ref
	snapshot T
	meta     Meta
}

func NewMemoryStore[T any]() *MemoryStore[T] {
	return &MemoryStore[T]{records: map[string]memoryRecord[T]{}}
}

func (s *MemoryStore[T]) Load(_ context.Context, ref Ref) (T, Meta, bool, error) {
	var zero T
	key, err := ref.Identifier()
	if err != nil {
		return zero, Meta{}, false, err
	}

	s.mu.RLock()
	record, ok := s.records[key]
	s.mu.RUnlock()
	if !ok {
		return zero, Meta{}, false, nil
	}
	return record.snapshot, cloneMeta(record.meta), true, nil
}

func (s *MemoryStore[T]) Save(_ context.Context, ref Ref, snapshot T, meta Meta) (Meta, error) {
	key, err := ref.Identifier()
	if err != nil {
		return Meta{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, found := s.records[key]
	if err := checkETag(existing.meta, found, meta); err != nil {
		return Meta{}, err
	}
	stored := cloneMeta(meta)
	s.records[key] = memoryRecord[T]{ref: ref, snapshot: snapshot, meta: stored}
	return cloneMeta(stored), nil
}

// List returns the saved refs of namespace sorted by name.
func (s *MemoryStore[T]) List(_ context.Context, namespace string) ([]Ref, error) {
	prefix := namespaceKey(namespace) + "/"
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Ref
	for key, record := range s.records {
		if strings.HasPrefix(key, prefix) {
			out = append(out, record.ref)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
