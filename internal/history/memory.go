package history

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps history in process memory. It is lost on restart.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string]map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]map[string]string)}
}

func (s *MemoryStore) Put(_ context.Context, room, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.rooms[room]
	if !ok {
		entries = make(map[string]string)
		s.rooms[room] = entries
	}
	entries[key] = value
	return nil
}

func (s *MemoryStore) List(_ context.Context, room string, opts ListOptions) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.rooms[room]
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}

	if opts.Reverse {
		sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	} else {
		sort.Strings(keys)
	}
	if opts.Limit > 0 && len(keys) > opts.Limit {
		keys = keys[:opts.Limit]
	}

	out := make([]Entry, 0, len(keys))
	for _, key := range keys {
		out = append(out, Entry{Key: key, Value: entries[key]})
	}
	return out, nil
}

func (s *MemoryStore) DeleteAll(_ context.Context, room string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, room)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
