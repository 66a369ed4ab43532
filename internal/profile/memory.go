package profile

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*Profile
	// failure, when set, is returned by every call.
	failure error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*Profile)}
}

// SetFailure makes every call fail with ErrUnavailable wrapping err. A nil
// err restores normal operation.
func (s *MemoryStore) SetFailure(err error) {
	s.mu.Lock()
	s.failure = err
	s.mu.Unlock()
}

func (s *MemoryStore) Merge(_ context.Context, id string, patch Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return unavailable("merge profile", s.failure)
	}
	doc, ok := s.docs[id]
	if !ok {
		doc = &Profile{ID: id}
		s.docs[id] = doc
	}
	doc.Apply(patch)
	return nil
}

func (s *MemoryStore) Update(_ context.Context, id string, patch Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return unavailable("update profile", s.failure)
	}
	doc, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	doc.Apply(patch)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failure != nil {
		return nil, unavailable("get profile", s.failure)
	}
	return copyProfile(s.docs[id]), nil
}

func (s *MemoryStore) List(_ context.Context) ([]*Profile, error) {
	s.mu.RLock()
	if s.failure != nil {
		s.mu.RUnlock()
		return nil, unavailable("list profiles", s.failure)
	}
	out := make([]*Profile, 0, len(s.docs))
	for _, p := range s.docs {
		out = append(out, copyProfile(p))
	}
	s.mu.RUnlock()
	sortByCreated(out)
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return unavailable("delete profile", s.failure)
	}
	delete(s.docs, id)
	return nil
}
