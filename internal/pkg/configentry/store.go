package configentry

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("config entry not found")

// Store persists config entries
type Store interface {
	List(ctx context.Context) ([]Entry, error)
	Get(ctx context.Context, id string) (Entry, error)
	Create(ctx context.Context, entry Entry) error
	Update(ctx context.Context, entry Entry) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// FindMatching returns the first stored entry for the same account
func FindMatching(ctx context.Context, store Store, data Data) (*Entry, error) {
	entries, err := store.List(ctx)
	if err != nil {
		return nil, err
	}

	for _, e := range entries {
		if e.Data.matches(data) {
			e := e
			return &e, nil
		}
	}

	return nil, nil
}

// MemoryStore keeps entries in a map, for tests and throwaway runs
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryStore(entries ...Entry) *MemoryStore {
	s := &MemoryStore{entries: make(map[string]Entry)}
	for _, e := range entries {
		s.entries[e.ID] = e
	}

	return s
}

func (s *MemoryStore) List(ctx context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})

	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return Entry{}, errors.Wrapf(ErrNotFound, "entry %s", id)
	}

	return e, nil
}

func (s *MemoryStore) Create(ctx context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[entry.ID]; ok {
		return errors.Errorf("entry %s already exists", entry.ID)
	}
	s.entries[entry.ID] = entry

	return nil
}

func (s *MemoryStore) Update(ctx context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[entry.ID]; !ok {
		return errors.Wrapf(ErrNotFound, "entry %s", entry.ID)
	}
	s.entries[entry.ID] = entry

	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return errors.Wrapf(ErrNotFound, "entry %s", id)
	}
	delete(s.entries, id)

	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
